// Package app wires the BloodConnect services, backends and HTTP routes.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/bloodconnect/platform/internal/adapters/bloodbank/heliant"
	"github.com/bloodconnect/platform/internal/audit"
	"github.com/bloodconnect/platform/internal/contact"
	"github.com/bloodconnect/platform/internal/donation"
	"github.com/bloodconnect/platform/internal/hospital"
	"github.com/bloodconnect/platform/internal/inventory"
	"github.com/bloodconnect/platform/internal/notification"
	"github.com/bloodconnect/platform/internal/pages"
	"github.com/bloodconnect/platform/internal/realtime"
	requestapi "github.com/bloodconnect/platform/internal/request/api"
	"github.com/bloodconnect/platform/internal/request/domain"
	requestinfra "github.com/bloodconnect/platform/internal/request/infrastructure"
	"github.com/bloodconnect/platform/internal/request/workflow"
	"github.com/bloodconnect/platform/internal/shared/auth"
	"github.com/bloodconnect/platform/internal/shared/config"
	"github.com/bloodconnect/platform/internal/shared/database"
	"github.com/bloodconnect/platform/internal/shared/events"
	"github.com/bloodconnect/platform/internal/shared/logging"
	"github.com/bloodconnect/platform/internal/shared/metrics"
	secmiddleware "github.com/bloodconnect/platform/internal/shared/middleware"
	"github.com/bloodconnect/platform/internal/simulation"
	"github.com/bloodconnect/platform/internal/storage"
	"github.com/bloodconnect/platform/internal/ui"
	"github.com/bloodconnect/platform/internal/user"
)

// bridgedEvents are forwarded to WebSocket clients
var bridgedEvents = []string{"request.*", "donation.*", "inventory.*"}

// App holds all application dependencies
type App struct {
	Config  *config.Config
	Log     zerolog.Logger
	DB      *database.DB
	Redis   *redis.Client
	Bus     events.EventBus
	BusKind string

	Hospitals     *hospital.Service
	Inventory     *inventory.Service
	Requests      *workflow.Service
	Donations     *donation.Service
	Users         *user.Service
	Contact       *contact.Service
	Notifications *notification.Service
	Storage       *storage.Store
	Audit         audit.AuditRepository
	Hub           *realtime.Hub
	Dispatcher    *simulation.Dispatcher
	Heliant       *heliant.Adapter

	renderer *ui.Renderer
}

// New connects the configured backends and builds every service. Postgres
// and Redis are optional; without them the in-memory implementations are
// used.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	if cfg.Database.Enabled {
		db, err := database.New(ctx, cfg.Database, log)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, db.Pool, log); err != nil {
			db.Close()
			return nil, err
		}
		a.DB = db
	}

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			a.Close()
			return nil, fmt.Errorf("redis unavailable: %w", err)
		}
		a.Redis = client
		log.Info().Str("addr", cfg.Redis.Addr).Msg("redis connected")
	}

	bus, kind, err := events.NewEventBus(ctx, cfg.KurrentDB, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Bus = bus
	a.BusKind = kind

	renderer, err := ui.New()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.renderer = renderer

	a.build()
	return a, nil
}

func (a *App) build() {
	cfg, log := a.Config, a.Log

	var (
		hospitalRepo hospital.Repository        = hospital.NewMemoryRepository()
		requestRepo  domain.Repository          = requestinfra.NewMemoryRepository()
		donationRepo donation.Repository        = donation.NewMemoryRepository()
		userRepo     user.Repository            = user.NewMemoryRepository()
		contactRepo  contact.Repository         = contact.NewMemoryRepository()
		auditRepo    audit.AuditRepository      = audit.NewMemoryRepository()
		stockStore   inventory.Store            = inventory.NewMemoryStore()
		queue        notification.HospitalQueue = notification.NewMemoryQueue()
		kv           storage.Backend            = storage.NewMemoryBackend()
	)
	if a.DB != nil {
		hospitalRepo = hospital.NewPostgresRepository(a.DB.Pool)
		requestRepo = requestinfra.NewPostgresRepository(a.DB.Pool)
		donationRepo = donation.NewPostgresRepository(a.DB.Pool)
		userRepo = user.NewPostgresRepository(a.DB.Pool)
		contactRepo = contact.NewPostgresRepository(a.DB.Pool)
		auditRepo = audit.NewRepository(a.DB.Pool)
	}
	if a.Redis != nil {
		stockStore = inventory.NewRedisStore(a.Redis)
		queue = notification.NewRedisQueue(a.Redis)
		kv = storage.NewRedisBackend(a.Redis)
	}

	a.Hub = realtime.NewHub(logging.Component(log, "realtime"))

	a.Notifications = notification.NewService(notification.ServiceConfig{
		Workers:         cfg.Notification.Workers,
		BufferSize:      cfg.Notification.BufferSize,
		RetryAttempts:   cfg.Notification.RetryAttempts,
		RetryDelay:      cfg.Notification.RetryDelay,
		DefaultDuration: cfg.Notification.DefaultDuration,
	}, logging.Component(log, "notification"))
	a.Notifications.SetBroadcaster(a.Hub)
	a.Notifications.RegisterProvider(notification.ChannelEmail, notification.NewConsoleProvider(notification.ChannelEmail, log))
	a.Notifications.RegisterProvider(notification.ChannelSMS, notification.NewConsoleProvider(notification.ChannelSMS, log))

	a.Inventory = inventory.NewService(stockStore, a.Bus, logging.Component(log, "inventory"))
	a.Hospitals = hospital.NewService(hospitalRepo, a.Inventory, a.Bus, logging.Component(log, "hospital"))
	a.Requests = workflow.NewService(requestRepo, queue, a.Notifications, a.Hospitals, a.Inventory, a.Bus,
		logging.Component(log, "workflow"))
	a.Donations = donation.NewService(donationRepo, a.Hospitals, a.Inventory, queue, a.Notifications, a.Bus,
		logging.Component(log, "donation"))
	a.Users = user.NewService(userRepo, a.Hospitals, a.Notifications, a.Bus, logging.Component(log, "user"))
	a.Contact = contact.NewService(contactRepo, a.Notifications, a.Bus, logging.Component(log, "contact"))
	a.Storage = storage.New(kv)
	a.Audit = auditRepo
	a.Dispatcher = simulation.NewDispatcher(cfg.Simulation, a.Requests, a.Inventory, a.Hospitals, a.Donations, a.Bus, log)

	if cfg.Heliant.Enabled {
		a.Heliant = heliant.New(cfg.Heliant, a.Inventory, log)
	}
}

// Seed registers the default hospitals with random stock and the demo users
func (a *App) Seed(ctx context.Context) error {
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	if a.Config.Simulation.Seed != 0 {
		rnd = rand.New(rand.NewSource(a.Config.Simulation.Seed))
	}
	if err := a.Hospitals.SeedDefaults(ctx, rnd); err != nil {
		return err
	}
	return a.Users.SeedDemo(ctx)
}

// Start launches the background workers. They stop when ctx is cancelled.
func (a *App) Start(ctx context.Context) error {
	if err := a.Notifications.Start(ctx); err != nil {
		return err
	}

	if err := a.Audit.Initialize(ctx); err != nil {
		return err
	}
	if err := audit.NewSubscriber(a.Audit, a.Bus, a.Log).Start(ctx); err != nil {
		return err
	}

	if err := a.Hub.Bridge(ctx, a.Bus, bridgedEvents...); err != nil {
		return err
	}

	if a.Config.Simulation.Enabled {
		go func() {
			if err := a.Dispatcher.Run(ctx); err != nil && ctx.Err() == nil {
				a.Log.Error().Err(err).Msg("simulation dispatcher stopped")
			}
		}()
	}

	if a.Heliant != nil {
		if err := a.Heliant.Start(ctx); err != nil {
			a.Log.Warn().Err(err).Msg("heliant LIS sync unavailable")
			a.Heliant = nil
		}
	}
	return nil
}

// Router builds the HTTP handler
func (a *App) Router() http.Handler {
	cfg := a.Config

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(secmiddleware.RequestLogger(a.Log))
	r.Use(middleware.Recoverer)
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(metrics.Middleware)
	r.Use(secmiddleware.CORS(secmiddleware.DefaultCORSConfig(cfg.Server.CORSOrigins)))
	r.Use(auth.Middleware(cfg.Auth))

	// Health checks
	r.Get("/health", a.healthHandler)
	r.Get("/ready", a.readyHandler)
	r.Handle("/metrics", metrics.Handler())

	r.Handle("/static/*", http.StripPrefix("/static/", ui.Static()))
	r.Mount("/ws", realtime.NewHandler(a.Hub, cfg.Server.CORSOrigins).Routes())

	limiter := secmiddleware.NewIPRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limiter.Middleware)
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(secmiddleware.BodyLimit(1 << 20))

		users := user.NewHandler(a.Users, cfg.Auth)
		r.Mount("/auth", users.SessionRoutes())
		r.Mount("/users", users.Routes())

		r.Mount("/requests", requestapi.NewHandler(a.Requests).Routes())
		r.Mount("/hospitals", hospital.NewHandler(a.Hospitals).Routes())
		r.Mount("/inventory", inventory.NewHandler(a.Inventory).Routes())
		r.Mount("/donations", donation.NewHandler(a.Donations).Routes())
		r.Mount("/notifications", notification.NewHandler(a.Notifications).Routes())
		r.Mount("/storage", storage.NewHandler(a.Storage).Routes())
		r.Mount("/contact", contact.NewHandler(a.Contact).Routes())
		r.Mount("/audit", audit.NewHandler(a.Audit).Routes())

		r.Route("/simulation", func(r chi.Router) {
			r.Use(auth.RequireRoles(auth.RoleAdmin))
			r.Mount("/", simulation.NewHandler(a.Dispatcher).Routes())
		})
	})

	r.Mount("/", pages.NewHandler(pages.Deps{
		Renderer:      a.renderer,
		Hospitals:     a.Hospitals,
		Inventory:     a.Inventory,
		Requests:      a.Requests,
		Donations:     a.Donations,
		Users:         a.Users,
		Contact:       a.Contact,
		Notifications: a.Notifications,
		Log:           a.Log,
	}).Routes())

	return r
}

// Close stops workers and releases connections
func (a *App) Close() {
	if a.Heliant != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.Heliant.Stop(ctx); err != nil {
			a.Log.Warn().Err(err).Msg("heliant stop failed")
		}
		cancel()
	}
	if a.Notifications != nil {
		a.Notifications.Stop()
	}
	if a.Bus != nil {
		a.Bus.Close()
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (a *App) readyHandler(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"server": "ready"}

	check := func(name string, configured bool, probe func() error) {
		if !configured {
			checks[name] = "not configured"
			return
		}
		if err := probe(); err != nil {
			checks[name] = "not ready: " + err.Error()
			return
		}
		checks[name] = "ready"
	}

	check("database", a.DB != nil, func() error { return a.DB.Health(r.Context()) })
	check("redis", a.Redis != nil, func() error { return a.Redis.Ping(r.Context()).Err() })
	check("event_bus", a.Bus != nil, func() error { return a.Bus.Health() })
	check("heliant", a.Heliant != nil, func() error { return a.Heliant.Health(r.Context()) })

	allReady := true
	for _, status := range checks {
		if status != "ready" && status != "not configured" {
			allReady = false
			break
		}
	}

	status := http.StatusOK
	if !allReady {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
		"checks": checks,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
