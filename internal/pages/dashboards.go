package pages

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bloodconnect/platform/internal/bloodtype"
	"github.com/bloodconnect/platform/internal/donation"
	"github.com/bloodconnect/platform/internal/hospital"
	"github.com/bloodconnect/platform/internal/inventory"
	"github.com/bloodconnect/platform/internal/request/domain"
	"github.com/bloodconnect/platform/internal/shared/auth"
	"github.com/bloodconnect/platform/internal/shared/errors"
	"github.com/bloodconnect/platform/internal/shared/types"
	"github.com/bloodconnect/platform/internal/ui"
	"github.com/bloodconnect/platform/internal/user"
)

const (
	dashboardLimit = 50
	reviewCount    = 20
	activityLimit  = 10
)

type donorData struct {
	Eligible       bool
	NextEligible   time.Time
	DaysRemaining  int
	TotalDonations int
	Available      bool
	Hospitals      []hospital.Hospital
	BloodType      bloodtype.Type
	Offers         ui.OfferList
	Activities     []donation.Activity
}

// DonorDashboard shows eligibility, availability, offers and recent activity
func (h *Handler) DonorDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u := auth.GetUser(ctx)
	now := h.now()

	data := donorData{Eligible: true}
	elig, err := h.Donations.Eligibility(ctx, u.ID)
	switch {
	case err == nil:
		data.Eligible = elig.Eligible(now)
		data.NextEligible = elig.NextEligibleDate
		data.DaysRemaining = elig.DaysRemaining(now)
		data.TotalDonations = elig.TotalDonations
	case !errors.Is(err, errors.ErrNotFound):
		h.fail(w, r, err)
		return
	}

	avail, err := h.Donations.Availability(ctx, u.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	data.Available = avail.Available

	if data.Hospitals, err = h.Hospitals.List(ctx, hospital.ListFilter{}); err != nil {
		h.fail(w, r, err)
		return
	}
	offers, err := h.Donations.ListOffers(ctx, donation.OfferFilter{DonorID: u.ID, Limit: dashboardLimit})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	data.Offers = ui.OfferList{Offers: offers}
	if data.Activities, err = h.Donations.Activities(ctx, u.ID, activityLimit); err != nil {
		h.fail(w, r, err)
		return
	}

	if h.Users != nil {
		if profile, err := h.Users.Get(ctx, u.ID); err == nil {
			data.BloodType = profile.BloodType
		}
	}

	h.render(w, r, http.StatusOK, ui.Page{Name: "dashboard_donor", Title: "Donor dashboard", Data: data})
}

type patientData struct {
	Cards []ui.TimelineCard
}

// PatientDashboard lists the caller's requests as timeline cards
func (h *Handler) PatientDashboard(w http.ResponseWriter, r *http.Request) {
	u := auth.GetUser(r.Context())
	reqs, _, err := h.Requests.List(r.Context(), domain.ListFilter{PatientID: u.ID, Limit: dashboardLimit})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	cards := make([]ui.TimelineCard, len(reqs))
	for i := range reqs {
		cards[i] = ui.NewTimelineCard(&reqs[i], true)
	}
	h.render(w, r, http.StatusOK, ui.Page{Name: "dashboard_patient", Title: "My requests", Data: patientData{Cards: cards}})
}

type hospitalData struct {
	Hospital  *hospital.Hospital
	Alerts    []inventory.Card
	Review    []ui.ReviewEntry
	Inventory ui.InventoryPanel
	Requests  []ui.TimelineCard
	Offers    ui.OfferList
}

// HospitalDashboard shows the review queue, stock and requests of the
// caller's hospital. Admins pick a hospital with ?hospital_id.
func (h *Handler) HospitalDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u := auth.GetUser(ctx)

	hospitalID := u.HospitalID
	if u.IsAdmin() {
		if q := r.URL.Query().Get("hospital_id"); q != "" {
			hospitalID = types.ID(q)
		}
	}
	if hospitalID.IsZero() {
		http.Error(w, "no hospital selected", http.StatusBadRequest)
		return
	}

	hosp, err := h.Hospitals.Get(ctx, hospitalID)
	if errors.Is(err, errors.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	data := hospitalData{Hospital: hosp}
	if data.Alerts, err = h.Inventory.Alerts(ctx, hospitalID); err != nil {
		h.fail(w, r, err)
		return
	}
	cards, err := h.Inventory.Snapshot(ctx, hospitalID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	data.Inventory = ui.InventoryPanel{HospitalID: hospitalID.String(), Title: "Blood stock", Cards: cards}

	items, err := h.Requests.ReviewQueue(ctx, hospitalID, u.ID.String(), reviewCount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if data.Review, err = h.Renderer.ReviewEntries(items); err != nil {
		h.fail(w, r, err)
		return
	}

	reqs, _, err := h.Requests.ListForHospital(ctx, hospitalID, domain.ListFilter{Limit: dashboardLimit})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	data.Requests = make([]ui.TimelineCard, len(reqs))
	for i := range reqs {
		data.Requests[i] = ui.NewTimelineCard(&reqs[i], false)
	}

	offers, err := h.Donations.ListOffers(ctx, donation.OfferFilter{HospitalID: hospitalID, Limit: dashboardLimit})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	data.Offers = ui.OfferList{Offers: offers, Actions: true}

	h.render(w, r, http.StatusOK, ui.Page{Name: "dashboard_hospital", Title: hosp.Name, Data: data})
}

type adminUsersData struct {
	Filter      user.ListFilter
	Roles       []user.Role
	Statuses    []user.Status
	Users       []user.User
	Total       int
	CreateModal ui.Modal
}

type userFormData struct {
	Roles      []user.Role
	BloodTypes []bloodtype.Type
	Hospitals  []hospital.Hospital
}

// AdminUsers lists accounts with search and role/status filters
func (h *Handler) AdminUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	filter := user.ListFilter{
		Role:   user.Role(q.Get("role")),
		Status: user.Status(q.Get("status")),
		Search: q.Get("q"),
		Limit:  dashboardLimit,
	}

	users, total, err := h.Users.List(ctx, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	hospitals, err := h.Hospitals.List(ctx, hospital.ListFilter{})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	form, err := h.Renderer.Partial("user_form", userFormData{
		Roles:      user.Roles(),
		BloodTypes: bloodtype.All(),
		Hospitals:  hospitals,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.render(w, r, http.StatusOK, ui.Page{
		Name:  "admin_users",
		Title: "Users",
		Data: adminUsersData{
			Filter:   filter,
			Roles:    user.Roles(),
			Statuses: user.Statuses(),
			Users:    users,
			Total:    total,
			CreateModal: ui.Modal{
				ID:            "create-user",
				Title:         "Add user",
				Content:       form,
				ConfirmLabel:  "Create",
				ConfirmAction: "/api/v1/users",
				Size:          ui.ModalLarge,
			},
		},
	})
}

// ToastsFragment renders the caller's active toast stack for polling clients
func (h *Handler) ToastsFragment(w http.ResponseWriter, r *http.Request) {
	u := auth.GetUser(r.Context())
	if u == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	html, err := h.Renderer.Toasts(h.Notifications.ActiveFor(u))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(html))
}

// TimelineFragment re-renders one request card after a status change
func (h *Handler) TimelineFragment(w http.ResponseWriter, r *http.Request) {
	u := auth.GetUser(r.Context())
	if u == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	req, err := h.Requests.Get(r.Context(), chi.URLParam(r, "requestID"))
	if errors.Is(err, errors.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if req.PatientID != u.ID && !u.CanActForHospital(req.AssignedHospitalID) {
		http.Error(w, "not your request", http.StatusForbidden)
		return
	}

	html, err := h.Renderer.Timeline(req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(html))
}
