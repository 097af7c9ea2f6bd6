package storage

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bloodconnect/platform/internal/shared/auth"
	"github.com/bloodconnect/platform/internal/shared/errors"
)

const maxValueBytes = 64 << 10

// Handler exposes a user's store to the browser bundle
type Handler struct {
	store *Store
}

// NewHandler creates a storage handler
func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// Routes registers GET, PUT and DELETE on /{key}. Every key belongs to the
// signed in user, so anonymous callers are refused.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireRoles(auth.RoleDonor, auth.RolePatient, auth.RoleHospital, auth.RoleAdmin))
	r.Get("/{key}", h.Get)
	r.Put("/{key}", h.Set)
	r.Delete("/{key}", h.Remove)
	return r
}

func (h *Handler) scoped(r *http.Request) *Store {
	return h.store.For(auth.GetUser(r.Context()).ID.String())
}

// Get returns the stored JSON, or null when the key is missing
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	data, err := h.scoped(r).GetRaw(r.Context(), chi.URLParam(r, "key"))
	if errors.Is(err, errors.ErrNotFound) {
		data = json.RawMessage("null")
	} else if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) Set(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxValueBytes+1))
	if err != nil {
		writeError(w, errors.BadRequest("could not read body"))
		return
	}
	if len(body) > maxValueBytes {
		writeError(w, errors.BadRequest("value too large"))
		return
	}

	if err := h.scoped(r).SetRaw(r.Context(), chi.URLParam(r, "key"), body); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	if err := h.scoped(r).Remove(r.Context(), chi.URLParam(r, "key")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, err error) {
	appErr := errors.As(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.HTTPStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"error":   appErr.Message,
		"code":    appErr.Code,
		"details": appErr.Details,
	})
}
