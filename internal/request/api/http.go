package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bloodconnect/platform/internal/request/domain"
	"github.com/bloodconnect/platform/internal/request/workflow"
	"github.com/bloodconnect/platform/internal/shared/auth"
	"github.com/bloodconnect/platform/internal/shared/errors"
	"github.com/bloodconnect/platform/internal/shared/types"
)

// Handler provides HTTP handlers for blood requests
type Handler struct {
	svc *workflow.Service
}

// NewHandler creates a new request handler
func NewHandler(svc *workflow.Service) *Handler {
	return &Handler{svc: svc}
}

// Routes registers the request routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListRequests)
	r.Post("/", h.SubmitRequest)

	r.Route("/review-queue", func(r chi.Router) {
		r.Use(auth.RequireRoles(auth.RoleHospital))
		r.Get("/", h.ReviewQueue)
		r.Post("/ack", h.AckReviewQueue)
	})

	r.Route("/{requestID}", func(r chi.Router) {
		r.Get("/", h.GetRequest)
		r.Get("/events", h.GetEvents)

		// Status transitions
		r.Post("/approve", h.transition(domain.ActionApprove))
		r.Post("/reject", h.transition(domain.ActionReject))
		r.Post("/complete", h.transition(domain.ActionComplete))
		r.Post("/cancel", h.transition(domain.ActionCancel))
	})

	return r
}

// --- Request/Response types ---

type SubmitRequest struct {
	PatientName     string   `json:"patient_name"`
	BloodType       string   `json:"blood_type"`
	Units           int      `json:"units"`
	Priority        string   `json:"priority"`
	HospitalID      types.ID `json:"hospital_id"`
	Reason          string   `json:"reason"`
	EmergencyReason string   `json:"emergency_reason,omitempty"`
	DoctorContact   string   `json:"doctor_contact,omitempty"`
}

type TransitionRequest struct {
	Reason          domain.RejectionReason `json:"reason,omitempty"`
	Notes           string                 `json:"notes,omitempty"`
	ExpectedVersion *int                   `json:"expected_version,omitempty"`
}

type AckRequest struct {
	DeliveryIDs []string `json:"delivery_ids"`
}

// --- Handlers ---

// ListRequests lists requests visible to the caller: patients see their own,
// hospital staff see those assigned to their hospital.
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, errors.Unauthorized("authentication required"))
		return
	}

	filter := domain.ListFilter{
		Search:    r.URL.Query().Get("search"),
		BloodType: r.URL.Query().Get("blood_type"),
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status := domain.Status(strings.ToUpper(s))
		filter.Status = &status
	}
	if p := r.URL.Query().Get("priority"); p != "" {
		priority := domain.Priority(strings.ToLower(p))
		filter.Priority = &priority
	}
	filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o >= 0 {
		filter.Offset = o
	}

	var requests []domain.Request
	var total int
	var err error

	switch {
	case user.Role == auth.RoleHospital:
		requests, total, err = h.svc.ListForHospital(r.Context(), user.HospitalID, filter)
	case user.IsAdmin():
		if hid := r.URL.Query().Get("hospital_id"); hid != "" {
			requests, total, err = h.svc.ListForHospital(r.Context(), types.ID(hid), filter)
		} else {
			requests, total, err = h.svc.List(r.Context(), filter)
		}
	default:
		filter.PatientID = user.ID
		requests, total, err = h.svc.List(r.Context(), filter)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  requests,
		"total": total,
	})
}

func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, errors.Unauthorized("authentication required"))
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}
	if strings.TrimSpace(req.PatientName) == "" && user.Role == auth.RolePatient {
		req.PatientName = user.Name
	}

	created, err := h.svc.Submit(r.Context(), domain.SubmitInput{
		PatientID:       user.ID,
		PatientName:     req.PatientName,
		BloodType:       req.BloodType,
		Units:           req.Units,
		Priority:        req.Priority,
		HospitalID:      req.HospitalID,
		Reason:          req.Reason,
		EmergencyReason: req.EmergencyReason,
		DoctorContact:   req.DoctorContact,
	}, workflow.ActorFor(user))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	req, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  req.Events,
		"total": len(req.Events),
	})
}

// transition returns the handler for one state machine action. The expected
// version comes from the body or an If-Match header.
func (h *Handler) transition(action domain.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := auth.GetUser(r.Context())
		if user == nil {
			writeError(w, errors.Unauthorized("authentication required"))
			return
		}

		var req TransitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			writeError(w, errors.BadRequest("invalid request body"))
			return
		}
		if req.ExpectedVersion == nil {
			if v := strings.Trim(r.Header.Get("If-Match"), `"`); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil {
					writeError(w, errors.BadRequest("If-Match must be a version number"))
					return
				}
				req.ExpectedVersion = &n
			}
		}

		updated, err := h.svc.Transition(r.Context(), chi.URLParam(r, "requestID"), workflow.Command{
			Action:          action,
			Actor:           workflow.ActorFor(user),
			Reason:          req.Reason,
			Notes:           req.Notes,
			ExpectedVersion: req.ExpectedVersion,
		})
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("ETag", strconv.Quote(strconv.Itoa(updated.Version)))
		writeJSON(w, http.StatusOK, updated)
	}
}

// ReviewQueue returns unseen hospital notifications for the caller's hospital
func (h *Handler) ReviewQueue(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	hospitalID := user.HospitalID
	if user.IsAdmin() && r.URL.Query().Get("hospital_id") != "" {
		hospitalID = types.ID(r.URL.Query().Get("hospital_id"))
	}

	count, _ := strconv.Atoi(r.URL.Query().Get("count"))
	if count <= 0 || count > 100 {
		count = 20
	}

	items, err := h.svc.ReviewQueue(r.Context(), hospitalID, user.ID.String(), count)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"hospital_id": hospitalID,
		"data":        items,
		"total":       len(items),
	})
}

func (h *Handler) AckReviewQueue(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	var req AckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}
	if len(req.DeliveryIDs) == 0 {
		writeError(w, errors.Validation("nothing to acknowledge", map[string]string{"delivery_ids": "at least one id is required"}))
		return
	}

	if err := h.svc.Acknowledge(r.Context(), user.HospitalID, req.DeliveryIDs...); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// load fetches the request and checks the caller may see it
func (h *Handler) load(w http.ResponseWriter, r *http.Request) (*domain.Request, bool) {
	id := chi.URLParam(r, "requestID")
	if !domain.ValidID(id) {
		writeError(w, errors.BadRequest("invalid request ID"))
		return nil, false
	}

	req, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return nil, false
	}

	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, errors.Unauthorized("authentication required"))
		return nil, false
	}
	if !user.IsAdmin() && user.ID != req.PatientID && !user.CanActForHospital(req.AssignedHospitalID) {
		writeError(w, errors.Forbidden("no access to this request"))
		return nil, false
	}
	return req, true
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
