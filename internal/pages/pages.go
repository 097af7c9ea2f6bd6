// Package pages serves the server rendered pages. Each handler gathers
// data from the services and hands it to the ui renderer.
package pages

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/bloodconnect/platform/internal/contact"
	"github.com/bloodconnect/platform/internal/donation"
	"github.com/bloodconnect/platform/internal/hospital"
	"github.com/bloodconnect/platform/internal/inventory"
	"github.com/bloodconnect/platform/internal/notification"
	"github.com/bloodconnect/platform/internal/request/workflow"
	"github.com/bloodconnect/platform/internal/shared/auth"
	"github.com/bloodconnect/platform/internal/ui"
	"github.com/bloodconnect/platform/internal/user"
)

// Deps are the services the pages read from
type Deps struct {
	Renderer      *ui.Renderer
	Hospitals     *hospital.Service
	Inventory     *inventory.Service
	Requests      *workflow.Service
	Donations     *donation.Service
	Users         *user.Service
	Contact       *contact.Service
	Notifications *notification.Service
	Log           zerolog.Logger
}

// Handler serves every page
type Handler struct {
	Deps
	now func() time.Time
}

// NewHandler creates the page handler
func NewHandler(deps Deps) *Handler {
	deps.Log = deps.Log.With().Str("component", "pages").Logger()
	return &Handler{Deps: deps, now: time.Now}
}

// Routes registers the pages
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.Index)
	r.Get("/contact", h.ContactPage)
	r.Post("/contact", h.SubmitContact)
	r.Get("/request-blood", h.RequestBlood)
	r.Post("/request-blood", h.SubmitRequest)

	r.Group(func(r chi.Router) {
		r.Use(requireRole(auth.RoleDonor))
		r.Get("/dashboard/donor", h.DonorDashboard)
	})
	r.Group(func(r chi.Router) {
		r.Use(requireRole(auth.RolePatient, auth.RoleDonor))
		r.Get("/dashboard/patient", h.PatientDashboard)
	})
	r.Group(func(r chi.Router) {
		r.Use(requireRole(auth.RoleHospital))
		r.Get("/dashboard/hospital", h.HospitalDashboard)
	})
	r.Group(func(r chi.Router) {
		r.Use(requireRole(auth.RoleAdmin))
		r.Get("/admin/users", h.AdminUsers)
	})

	r.Get("/fragments/toasts", h.ToastsFragment)
	r.Get("/fragments/requests/{requestID}", h.TimelineFragment)

	return r
}

// requireRole sends anonymous visitors home and answers 403 for other roles
func requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := auth.GetUser(r.Context())
			if user == nil {
				http.Redirect(w, r, "/", http.StatusSeeOther)
				return
			}
			if !user.IsAdmin() && !user.HasAnyRole(roles...) {
				http.Error(w, "this page is not available for your account", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// render writes a page with the caller's toasts and any flash toasts
func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, page ui.Page, flash ...notification.Notification) {
	user := auth.GetUser(r.Context())
	page.User = user

	var active []notification.Notification
	if user != nil && h.Notifications != nil {
		active = h.Notifications.ActiveFor(user)
	}
	page.Toasts = ui.Toasts(append(active, flash...))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.Renderer.Page(w, page); err != nil {
		h.Log.Error().Err(err).Str("page", page.Name).Msg("failed to render page")
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.Log.Error().Err(err).Str("path", r.URL.Path).Msg("page failed")
	http.Error(w, "something went wrong", http.StatusInternalServerError)
}

// flashDuration is how long a one-off page toast stays up
const flashDuration = 5 * time.Second

// flash builds a toast that is shown once without being stored
func flash(level notification.Level, message string) notification.Notification {
	return notification.Notification{ID: "flash", Level: level, Message: message, Duration: flashDuration}
}
