package notification

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bloodconnect/platform/internal/shared/auth"
	"github.com/bloodconnect/platform/internal/shared/errors"
)

// Handler exposes the caller's toasts and preferences
type Handler struct {
	svc *Service
}

// NewHandler creates a notification handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes registers the notification routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireRoles(auth.RoleDonor, auth.RolePatient, auth.RoleHospital))

	r.Get("/", h.List)
	r.Post("/{notificationID}/dismiss", h.Dismiss)
	r.Get("/preferences", h.GetPreferences)
	r.Put("/preferences", h.SetPreferences)
	r.With(auth.RequireRoles(auth.RoleAdmin)).Get("/stats", h.Stats)
	return r
}

// RecipientsFor lists the inboxes a user reads
func RecipientsFor(user *auth.User) []string {
	out := []string{UserRecipient(user.ID.String())}
	if user.Role == auth.RoleHospital && !user.HospitalID.IsZero() {
		out = append(out, HospitalRecipient(user.HospitalID.String()))
	}
	if user.IsAdmin() {
		out = append(out, AdminRecipient)
	}
	return out
}

// ActiveFor merges the visible toasts of every inbox the user reads
func (s *Service) ActiveFor(user *auth.User) []Notification {
	var out []Notification
	for _, recipient := range RecipientsFor(user) {
		out = append(out, s.Active(recipient)...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	active := h.svc.ActiveFor(auth.GetUser(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  active,
		"total": len(active),
	})
}

func (h *Handler) Dismiss(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "notificationID")
	for _, recipient := range RecipientsFor(auth.GetUser(r.Context())) {
		if err := h.svc.Dismiss(recipient, id); err == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeError(w, errors.NotFound("notification", id))
}

func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	writeJSON(w, http.StatusOK, h.svc.GetUserPreferences(UserRecipient(user.ID.String())))
}

func (h *Handler) SetPreferences(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	var prefs UserPreferences
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}
	if prefs.QuietHoursEnabled {
		if _, err := time.Parse("15:04", prefs.QuietHoursStart); err != nil {
			writeError(w, errors.Validation("invalid preferences", map[string]string{"quiet_hours_start": "use HH:MM"}))
			return
		}
		if _, err := time.Parse("15:04", prefs.QuietHoursEnd); err != nil {
			writeError(w, errors.Validation("invalid preferences", map[string]string{"quiet_hours_end": "use HH:MM"}))
			return
		}
	}

	prefs.UserID = UserRecipient(user.ID.String())
	h.svc.SetUserPreferences(&prefs)
	writeJSON(w, http.StatusOK, h.svc.GetUserPreferences(prefs.UserID))
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.GetStats())
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
