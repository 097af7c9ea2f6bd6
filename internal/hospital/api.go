package hospital

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bloodconnect/platform/internal/bloodtype"
	"github.com/bloodconnect/platform/internal/shared/auth"
	"github.com/bloodconnect/platform/internal/shared/errors"
	"github.com/bloodconnect/platform/internal/shared/types"
)

// Handler provides HTTP handlers for the hospital registry
type Handler struct {
	svc *Service
}

// NewHandler creates a new hospital handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes registers the hospital routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListHospitals)
	r.Get("/availability", h.SearchAvailability)
	r.With(auth.RequireRoles(auth.RoleAdmin)).Post("/", h.RegisterHospital)
	r.Get("/{hospitalID}", h.GetHospital)

	return r
}

func (h *Handler) ListHospitals(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		City:   r.URL.Query().Get("city"),
		Search: r.URL.Query().Get("search"),
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status := Status(s)
		filter.Status = &status
	}

	hospitals, err := h.svc.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  hospitals,
		"total": len(hospitals),
	})
}

func (h *Handler) GetHospital(w http.ResponseWriter, r *http.Request) {
	hospital, err := h.svc.Get(r.Context(), types.ID(chi.URLParam(r, "hospitalID")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hospital)
}

func (h *Handler) RegisterHospital(w http.ResponseWriter, r *http.Request) {
	var req RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	hospital, err := h.svc.Register(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, hospital)
}

// SearchAvailability handles GET /availability?blood_type=O-&units=2
func (h *Handler) SearchAvailability(w http.ResponseWriter, r *http.Request) {
	bt, err := bloodtype.Parse(r.URL.Query().Get("blood_type"))
	if err != nil {
		writeError(w, errors.Validation("invalid search", map[string]string{"blood_type": err.Error()}))
		return
	}

	units := 1
	if u := r.URL.Query().Get("units"); u != "" {
		units, err = strconv.Atoi(u)
		if err != nil || units <= 0 {
			writeError(w, errors.Validation("invalid search", map[string]string{"units": "units must be a positive number"}))
			return
		}
	}

	results, err := h.svc.SearchAvailability(r.Context(), bt, units)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  results,
		"total": len(results),
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
