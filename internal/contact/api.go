package contact

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bloodconnect/platform/internal/shared/auth"
	"github.com/bloodconnect/platform/internal/shared/errors"
)

// Handler provides the contact endpoints
type Handler struct {
	svc *Service
}

// NewHandler creates a contact handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes registers public submit and admin listing
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Submit)
	r.With(auth.RequireRoles(auth.RoleAdmin)).Get("/", h.List)
	return r
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var f Form
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}
	m, err := h.svc.Submit(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	messages, err := h.svc.List(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  messages,
		"total": len(messages),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	appErr := errors.As(err)
	writeJSON(w, appErr.HTTPStatus, map[string]any{
		"error":   appErr.Message,
		"code":    appErr.Code,
		"details": appErr.Details,
	})
}
