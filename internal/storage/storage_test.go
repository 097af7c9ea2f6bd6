package storage

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloodconnect/platform/internal/shared/auth"
	"github.com/bloodconnect/platform/internal/shared/errors"
)

type draft struct {
	BloodType string   `json:"bloodType"`
	Units     int      `json:"units"`
	Tags      []string `json:"tags"`
}

func backends(t *testing.T) map[string]Backend {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"redis":  NewRedisBackend(client),
	}
}

func TestStore_RoundTripAndRemove(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := New(backend)

			in := draft{BloodType: "O-", Units: 2, Tags: []string{"emergency"}}
			require.NoError(t, store.Set(ctx, "request_draft", in))

			var out draft
			require.NoError(t, store.Get(ctx, "request_draft", &out))
			assert.Equal(t, in, out)

			require.NoError(t, store.Remove(ctx, "request_draft"))
			err := store.Get(ctx, "request_draft", &out)
			if !errors.Is(err, errors.ErrNotFound) {
				t.Errorf("Expected not found after remove, got %v", err)
			}
			assert.NoError(t, store.Remove(ctx, "request_draft"), "removing twice is fine")
		})
	}
}

func TestStore_Namespacing(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	store := New(backend)

	require.NoError(t, store.Set(ctx, "theme", "dark"))
	raw, err := backend.Get(ctx, "bloodconnect_theme")
	require.NoError(t, err)
	assert.Equal(t, `"dark"`, string(raw))

	require.NoError(t, store.For("u1").Set(ctx, "theme", "light"))

	var theme string
	require.NoError(t, store.Get(ctx, "theme", &theme))
	assert.Equal(t, "dark", theme)
	require.NoError(t, store.For("u1").Get(ctx, "theme", &theme))
	assert.Equal(t, "light", theme)

	err = store.For("u2").Get(ctx, "theme", &theme)
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Expected other owners to be isolated, got %v", err)
	}
}

func TestStore_RejectsBadKeys(t *testing.T) {
	store := New(NewMemoryBackend())
	for _, key := range []string{"", "with space", "slash/key"} {
		err := store.Set(context.Background(), key, 1)
		if !errors.Is(err, errors.ErrValidation) {
			t.Errorf("Expected validation error for %q, got %v", key, err)
		}
	}
}

func TestHandler(t *testing.T) {
	store := New(NewMemoryBackend())
	r := chi.NewRouter()
	r.Mount("/storage", NewHandler(store).Routes())

	do := func(method, path, body string) *httptest.ResponseRecorder {
		return doAs(r, &auth.User{ID: "d1", Role: auth.RoleDonor}, method, path, body)
	}

	rec := do(http.MethodGet, "/storage/profile", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", rec.Body.String())

	rec = do(http.MethodPut, "/storage/profile", `{"name":"Ana"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(http.MethodGet, "/storage/profile", "")
	assert.JSONEq(t, `{"name":"Ana"}`, rec.Body.String())

	rec = do(http.MethodPut, "/storage/profile", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodDelete, "/storage/profile", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(http.MethodGet, "/storage/profile", "")
	assert.Equal(t, "null", rec.Body.String())
}

func doAs(h http.Handler, user *auth.User, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if user != nil {
		req = req.WithContext(auth.WithUser(req.Context(), user))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_KeysArePerUser(t *testing.T) {
	r := chi.NewRouter()
	r.Mount("/storage", NewHandler(New(NewMemoryBackend())).Routes())

	rec := doAs(r, nil, http.MethodPut, "/storage/bloodRequests", `[{"id":"secret"}]`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = doAs(r, nil, http.MethodGet, "/storage/bloodRequests", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	ana := &auth.User{ID: "p1", Role: auth.RolePatient}
	ben := &auth.User{ID: "p2", Role: auth.RolePatient}

	rec = doAs(r, ana, http.MethodPut, "/storage/bloodRequests", `[{"id":"secret"}]`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doAs(r, ben, http.MethodGet, "/storage/bloodRequests", "")
	assert.Equal(t, "null", rec.Body.String())
	rec = doAs(r, ana, http.MethodGet, "/storage/bloodRequests", "")
	assert.JSONEq(t, `[{"id":"secret"}]`, rec.Body.String())
}
