package inventory

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloodconnect/platform/internal/bloodtype"
	"github.com/bloodconnect/platform/internal/shared/auth"
	"github.com/bloodconnect/platform/internal/shared/events"
	"github.com/bloodconnect/platform/internal/shared/types"
)

func TestLevelFor(t *testing.T) {
	tests := []struct {
		units    int
		expected Level
	}{
		{0, LevelCritical},
		{5, LevelCritical},
		{6, LevelLow},
		{15, LevelLow},
		{16, LevelGood},
		{120, LevelGood},
	}

	for _, tt := range tests {
		if got := LevelFor(tt.units); got != tt.expected {
			t.Errorf("LevelFor(%d): expected %s, got %s", tt.units, tt.expected, got)
		}
	}
}

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client)
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  newRedisStore(t),
	}
}

func TestStore_AdjustNeverNegative(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Set(ctx, "city-general", bloodtype.ONeg, 7))

			for i := 0; i < 5; i++ {
				units, err := store.Adjust(ctx, "city-general", bloodtype.ONeg, -3)
				require.NoError(t, err)
				assert.GreaterOrEqual(t, units, 0)
			}

			units, err := store.Get(ctx, "city-general", bloodtype.ONeg)
			require.NoError(t, err)
			assert.Equal(t, 0, units)

			units, err = store.Adjust(ctx, "city-general", bloodtype.ONeg, 4)
			require.NoError(t, err)
			assert.Equal(t, 4, units)
		})
	}
}

func TestStore_ConcurrentAdjust(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Set(ctx, "st-mary", bloodtype.APos, 10))

			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _ = store.Adjust(ctx, "st-mary", bloodtype.APos, -1)
				}()
			}
			wg.Wait()

			units, err := store.Get(ctx, "st-mary", bloodtype.APos)
			require.NoError(t, err)
			assert.Equal(t, 0, units)
		})
	}
}

func TestStore_Snapshot(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.Snapshot(ctx, "nowhere")
			assert.ErrorIs(t, err, ErrUnknownHospital)

			require.NoError(t, store.Set(ctx, "regional-medical", bloodtype.ABNeg, 3))
			require.NoError(t, store.Set(ctx, "regional-medical", bloodtype.BPos, 22))

			snap, err := store.Snapshot(ctx, "regional-medical")
			require.NoError(t, err)
			assert.Equal(t, map[bloodtype.Type]int{bloodtype.ABNeg: 3, bloodtype.BPos: 22}, snap)
		})
	}
}

type capture struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capture) handler(ctx context.Context, e events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *capture) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

func newService(t *testing.T) (*Service, *capture) {
	t.Helper()
	bus := events.NewMemoryBus(zerolog.Nop())
	c := &capture{}
	require.NoError(t, bus.Subscribe(context.Background(), "inventory.*", "test", c.handler))
	return NewService(NewMemoryStore(), bus, zerolog.Nop()), c
}

func TestService_SnapshotAndAlerts(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Snapshot(ctx, "city-general")
	require.Error(t, err)

	stock := map[bloodtype.Type]int{bloodtype.APos: 40, bloodtype.ONeg: 4, bloodtype.BNeg: 12}
	require.NoError(t, svc.Seed(ctx, "city-general", stock))
	// Seeding twice keeps existing stock
	require.NoError(t, svc.Seed(ctx, "city-general", map[bloodtype.Type]int{bloodtype.APos: 1}))

	cards, err := svc.Snapshot(ctx, "city-general")
	require.NoError(t, err)
	require.Len(t, cards, 8)
	assert.Equal(t, bloodtype.APos, cards[0].BloodType)
	assert.Equal(t, 40, cards[0].Units)
	assert.Equal(t, LevelGood, cards[0].Level)

	alerts, err := svc.Alerts(ctx, "city-general")
	require.NoError(t, err)
	// O-, B- and every empty card
	assert.Len(t, alerts, 7)
}

func TestService_AdjustPublishesAlertOnLevelDrop(t *testing.T) {
	svc, c := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.Seed(ctx, "city-general", map[bloodtype.Type]int{bloodtype.ONeg: 20}))

	card, err := svc.Deduct(ctx, "city-general", bloodtype.ONeg, 2)
	require.NoError(t, err)
	assert.Equal(t, 18, card.Units)
	assert.Equal(t, []string{EventAdjusted}, c.types())

	card, err = svc.Deduct(ctx, "city-general", bloodtype.ONeg, 50)
	require.NoError(t, err)
	assert.Equal(t, 0, card.Units)
	assert.Equal(t, LevelCritical, card.Level)
	assert.Equal(t, []string{EventAdjusted, EventAdjusted, EventAlert}, c.types())

	_, err = svc.Set(ctx, "city-general", bloodtype.ONeg, -1, "")
	assert.Error(t, err)
}

func TestRandomStock(t *testing.T) {
	stock := RandomStock(rand.New(rand.NewSource(1)))
	assert.Len(t, stock, 8)
	for bt, units := range stock {
		assert.True(t, units >= 2 && units <= 47, "%s out of range: %d", bt, units)
	}
}

func TestHandler(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.Seed(ctx, "st-mary", map[bloodtype.Type]int{bloodtype.APos: 10}))

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := &auth.User{ID: types.NewID(), Role: r.Header.Get("X-Role"), HospitalID: types.ID(r.Header.Get("X-Hospital"))}
			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
		})
	})
	router.Mount("/inventory", NewHandler(svc).Routes())

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		role     string
		hospital string
		status   int
	}{
		{"read", http.MethodGet, "/inventory/st-mary", "", auth.RoleDonor, "", http.StatusOK},
		{"unknown hospital", http.MethodGet, "/inventory/nowhere", "", auth.RoleDonor, "", http.StatusNotFound},
		{"adjust own", http.MethodPost, "/inventory/st-mary/A%2B/adjust", `{"delta":-3}`, auth.RoleHospital, "st-mary", http.StatusOK},
		{"adjust other", http.MethodPost, "/inventory/st-mary/A+/adjust", `{"delta":-3}`, auth.RoleHospital, "city-general", http.StatusForbidden},
		{"donor cannot set", http.MethodPut, "/inventory/st-mary/A+", `{"units":3}`, auth.RoleDonor, "", http.StatusForbidden},
		{"bad type", http.MethodPut, "/inventory/st-mary/C+", `{"units":3}`, auth.RoleHospital, "st-mary", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("X-Role", tt.role)
			req.Header.Set("X-Hospital", tt.hospital)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	card, err := svc.Get(ctx, "st-mary", bloodtype.APos)
	require.NoError(t, err)
	assert.Equal(t, 7, card.Units)
}
