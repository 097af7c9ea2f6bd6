package inventory

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/bloodconnect/platform/internal/bloodtype"
	"github.com/bloodconnect/platform/internal/shared/auth"
	"github.com/bloodconnect/platform/internal/shared/errors"
	"github.com/bloodconnect/platform/internal/shared/types"
)

// Handler provides HTTP handlers for hospital inventory
type Handler struct {
	svc *Service
}

// NewHandler creates a new inventory handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes registers the inventory routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/{hospitalID}", func(r chi.Router) {
		r.Get("/", h.GetInventory)
		r.Get("/alerts", h.GetAlerts)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRoles(auth.RoleHospital))
			r.Put("/{bloodType}", h.SetStock)
			r.Post("/{bloodType}/adjust", h.AdjustStock)
		})
	})

	return r
}

type SetStockRequest struct {
	Units  int    `json:"units"`
	Reason string `json:"reason,omitempty"`
}

type AdjustStockRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) GetInventory(w http.ResponseWriter, r *http.Request) {
	hospitalID := types.ID(chi.URLParam(r, "hospitalID"))

	cards, err := h.svc.Snapshot(r.Context(), hospitalID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"hospital_id": hospitalID,
		"data":        cards,
	})
}

func (h *Handler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	hospitalID := types.ID(chi.URLParam(r, "hospitalID"))

	alerts, err := h.svc.Alerts(r.Context(), hospitalID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  alerts,
		"total": len(alerts),
	})
}

func (h *Handler) SetStock(w http.ResponseWriter, r *http.Request) {
	hospitalID, bt, ok := h.target(w, r)
	if !ok {
		return
	}

	var req SetStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	card, err := h.svc.Set(r.Context(), hospitalID, bt, req.Units, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	hospitalID, bt, ok := h.target(w, r)
	if !ok {
		return
	}

	var req AdjustStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	card, err := h.svc.Adjust(r.Context(), hospitalID, bt, req.Delta, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// target parses the path and checks the caller may change this hospital's stock
func (h *Handler) target(w http.ResponseWriter, r *http.Request) (types.ID, bloodtype.Type, bool) {
	hospitalID := types.ID(chi.URLParam(r, "hospitalID"))

	user := auth.GetUser(r.Context())
	if user == nil || !user.CanActForHospital(hospitalID) {
		writeError(w, errors.Forbidden("cannot manage another hospital's inventory"))
		return "", "", false
	}

	raw, err := url.PathUnescape(chi.URLParam(r, "bloodType"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid blood type"))
		return "", "", false
	}
	bt, err := bloodtype.Parse(raw)
	if err != nil {
		writeError(w, errors.BadRequest(err.Error()))
		return "", "", false
	}
	return hospitalID, bt, true
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
