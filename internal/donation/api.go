package donation

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bloodconnect/platform/internal/shared/auth"
	"github.com/bloodconnect/platform/internal/shared/errors"
	"github.com/bloodconnect/platform/internal/shared/types"
)

// Handler provides HTTP handlers for donations
type Handler struct {
	svc *Service
}

// NewHandler creates a new donation handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes registers the donation routes. Every route needs a user.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireRoles(auth.RoleDonor, auth.RoleHospital, auth.RolePatient))

	r.Route("/offers", func(r chi.Router) {
		r.Get("/", h.ListOffers)
		r.With(auth.RequireRoles(auth.RoleDonor)).Post("/", h.CreateOffer)
		r.Get("/{offerID}", h.GetOffer)
		r.With(auth.RequireRoles(auth.RoleHospital)).Put("/{offerID}/status", h.UpdateStatus)
	})

	r.Get("/eligibility", h.GetEligibility)
	r.Get("/availability", h.GetAvailability)
	r.With(auth.RequireRoles(auth.RoleDonor)).Put("/availability", h.SetAvailability)
	r.Get("/activities", h.ListActivities)

	return r
}

type CreateOfferRequest struct {
	DonorName  string   `json:"donor_name"`
	BloodType  string   `json:"blood_type"`
	HospitalID types.ID `json:"hospital_id"`
	Note       string   `json:"note,omitempty"`
}

type UpdateStatusRequest struct {
	Status        string     `json:"status"`
	ScheduledDate *time.Time `json:"scheduled_date,omitempty"`
	Note          string     `json:"note,omitempty"`
	Volume        int        `json:"volume,omitempty"`
}

type AvailabilityRequest struct {
	Available bool `json:"available"`
}

func (h *Handler) ListOffers(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	filter := OfferFilter{}
	filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if s := r.URL.Query().Get("status"); s != "" {
		status, err := ParseStatus(s)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.Status = &status
	}

	switch {
	case user.Role == auth.RoleHospital:
		filter.HospitalID = user.HospitalID
	case user.IsAdmin():
		filter.HospitalID = types.ID(r.URL.Query().Get("hospital_id"))
	default:
		filter.DonorID = user.ID
	}

	offers, err := h.svc.ListOffers(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  offers,
		"total": len(offers),
	})
}

func (h *Handler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	var req CreateOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}
	if req.DonorName == "" {
		req.DonorName = user.Name
	}

	offer, err := h.svc.CreateOffer(r.Context(), OfferInput{
		DonorID:    user.ID,
		DonorName:  req.DonorName,
		BloodType:  req.BloodType,
		HospitalID: req.HospitalID,
		Note:       req.Note,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}

func (h *Handler) GetOffer(w http.ResponseWriter, r *http.Request) {
	offer, ok := h.loadOffer(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, offer)
}

// UpdateStatus handles PUT /offers/{id}/status. Repeating a status is a no-op.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	offer, ok := h.loadOffer(w, r)
	if !ok {
		return
	}
	user := auth.GetUser(r.Context())
	if !user.CanActForHospital(offer.HospitalID) {
		writeError(w, errors.Forbidden("offer belongs to another hospital"))
		return
	}

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}
	status, err := ParseStatus(req.Status)
	if err != nil {
		writeError(w, err)
		return
	}

	change := StatusChange{Status: status, Note: req.Note, VolumeML: req.Volume}
	if req.ScheduledDate != nil {
		change.ScheduledDate = *req.ScheduledDate
	}

	updated, err := h.svc.UpdateStatus(r.Context(), offer.ID, change)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) GetEligibility(w http.ResponseWriter, r *http.Request) {
	donorID := h.donorParam(r)

	elig, err := h.svc.Eligibility(r.Context(), donorID)
	if errors.Is(err, errors.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"donor_id": donorID, "eligible": true, "total_donations": 0})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	now := time.Now()
	writeJSON(w, http.StatusOK, map[string]any{
		"donor_id":           elig.DonorID,
		"eligible":           elig.Eligible(now),
		"days_remaining":     elig.DaysRemaining(now),
		"next_eligible_date": elig.NextEligibleDate,
		"last_donation_date": elig.LastDonationDate,
		"total_donations":    elig.TotalDonations,
	})
}

func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.Availability(r.Context(), h.donorParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	var req AvailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	a, err := h.svc.SetAvailability(r.Context(), user.ID, req.Available)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) ListActivities(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	var donorID types.ID
	if user.Role == auth.RoleDonor {
		donorID = user.ID
	} else {
		donorID = types.ID(r.URL.Query().Get("donor_id"))
	}

	activities, err := h.svc.Activities(r.Context(), donorID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  activities,
		"total": len(activities),
	})
}

// donorParam is the caller for donors and ?donor_id for staff
func (h *Handler) donorParam(r *http.Request) types.ID {
	user := auth.GetUser(r.Context())
	if user.Role != auth.RoleDonor {
		if id := r.URL.Query().Get("donor_id"); id != "" {
			return types.ID(id)
		}
	}
	return user.ID
}

func (h *Handler) loadOffer(w http.ResponseWriter, r *http.Request) (*Offer, bool) {
	id, err := types.ParseID(chi.URLParam(r, "offerID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid offer ID"))
		return nil, false
	}

	offer, err := h.svc.GetOffer(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return nil, false
	}

	user := auth.GetUser(r.Context())
	if !user.IsAdmin() && user.ID != offer.DonorID && !user.CanActForHospital(offer.HospitalID) {
		writeError(w, errors.Forbidden("no access to this offer"))
		return nil, false
	}
	return offer, true
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
