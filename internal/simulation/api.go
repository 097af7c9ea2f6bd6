package simulation

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bloodconnect/platform/internal/shared/errors"
)

// Handler exposes manual simulation triggers
type Handler struct {
	dispatcher *Dispatcher
}

// NewHandler creates a new simulation handler
func NewHandler(d *Dispatcher) *Handler {
	return &Handler{dispatcher: d}
}

// Routes registers the simulation routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.Status)
	r.Post("/respond/{requestID}", h.Respond)
	r.Post("/collect/{requestID}", h.Collect)
	r.Post("/tick", h.Tick)

	return r
}

// Status returns the dispatcher state
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dispatcher.Status())
}

// Respond makes the automatic hospital decision for one request now
func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	out, err := h.dispatcher.Respond(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if out.Lost {
		status = http.StatusConflict
	}
	writeJSON(w, status, out)
}

// Collect completes an approved request
func (h *Handler) Collect(w http.ResponseWriter, r *http.Request) {
	req, err := h.dispatcher.Collect(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// Tick runs one drift round, one offer arrival and all scheduled replies
func (h *Handler) Tick(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dispatcher.Tick(r.Context()))
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
