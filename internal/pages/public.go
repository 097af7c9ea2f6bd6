package pages

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bloodconnect/platform/internal/bloodtype"
	"github.com/bloodconnect/platform/internal/contact"
	"github.com/bloodconnect/platform/internal/hospital"
	"github.com/bloodconnect/platform/internal/notification"
	"github.com/bloodconnect/platform/internal/request/domain"
	"github.com/bloodconnect/platform/internal/request/workflow"
	"github.com/bloodconnect/platform/internal/shared/auth"
	"github.com/bloodconnect/platform/internal/shared/errors"
	"github.com/bloodconnect/platform/internal/shared/types"
	"github.com/bloodconnect/platform/internal/ui"
)

// Compatibility is one row of the donor/recipient table
type Compatibility struct {
	Type         bloodtype.Type
	DonatesTo    []bloodtype.Type
	ReceivesFrom []bloodtype.Type
}

// CompatibilityTable lists every blood type with its donors and recipients
func CompatibilityTable() []Compatibility {
	all := bloodtype.All()
	rows := make([]Compatibility, len(all))
	for i, t := range all {
		rows[i] = Compatibility{
			Type:         t,
			DonatesTo:    bloodtype.CompatibleRecipients(t),
			ReceivesFrom: bloodtype.CompatibleDonors(t),
		}
	}
	return rows
}

type indexData struct {
	HospitalCount int
	TotalUnits    int
	AlertCount    int
	Compatibility []Compatibility
	Hospitals     []hospital.Hospital
}

// Index renders the landing page with network wide stock figures
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hospitals, err := h.Hospitals.List(ctx, hospital.ListFilter{})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	data := indexData{
		HospitalCount: len(hospitals),
		Compatibility: CompatibilityTable(),
		Hospitals:     hospitals,
	}
	for _, hosp := range hospitals {
		cards, err := h.Inventory.Snapshot(ctx, hosp.ID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		for _, c := range cards {
			data.TotalUnits += c.Units
			if c.Alerting() {
				data.AlertCount++
			}
		}
	}

	h.render(w, r, http.StatusOK, ui.Page{Name: "index", Title: "BloodConnect", Data: data})
}

type contactData struct {
	Sent   bool
	Form   contact.Form
	Errors map[string]string
}

// ContactPage renders the empty contact form
func (h *Handler) ContactPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, ui.Page{
		Name:  "contact",
		Title: "Contact us",
		Data:  contactData{Sent: r.URL.Query().Get("sent") == "1", Errors: map[string]string{}},
	})
}

// SubmitContact stores the message and redirects, or re-renders with errors
func (h *Handler) SubmitContact(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	form := contact.Form{
		Name:    r.PostForm.Get("name"),
		Email:   r.PostForm.Get("email"),
		Subject: r.PostForm.Get("subject"),
		Message: r.PostForm.Get("message"),
	}

	_, err := h.Contact.Submit(r.Context(), form)
	if err == nil {
		http.Redirect(w, r, "/contact?sent=1", http.StatusSeeOther)
		return
	}
	if !errors.Is(err, errors.ErrValidation) {
		h.fail(w, r, err)
		return
	}

	h.render(w, r, http.StatusUnprocessableEntity, ui.Page{
		Name:  "contact",
		Title: "Contact us",
		Data:  contactData{Form: form, Errors: errors.As(err).Details},
	}, flash(notification.LevelError, "Please correct the highlighted fields"))
}

// RequestForm holds the raw values of the blood request form
type RequestForm struct {
	PatientName     string
	BloodType       string
	Units           string
	Priority        string
	HospitalID      string
	Reason          string
	EmergencyReason string
	DoctorContact   string
}

func (f RequestForm) input() domain.SubmitInput {
	units, _ := strconv.Atoi(strings.TrimSpace(f.Units))
	return domain.SubmitInput{
		PatientName:     f.PatientName,
		BloodType:       f.BloodType,
		Units:           units,
		Priority:        f.Priority,
		HospitalID:      types.ID(strings.TrimSpace(f.HospitalID)),
		Reason:          f.Reason,
		EmergencyReason: f.EmergencyReason,
		DoctorContact:   f.DoctorContact,
	}
}

type requestData struct {
	Form       RequestForm
	Errors     map[string]string
	BloodTypes []bloodtype.Type
	Priorities []domain.Priority
	Hospitals  []hospital.Hospital
}

// RequestBlood renders the request form. The patient's name is prefilled
// for signed in users.
func (h *Handler) RequestBlood(w http.ResponseWriter, r *http.Request) {
	form := RequestForm{Priority: string(domain.PriorityRoutine), BloodType: r.URL.Query().Get("blood_type")}
	if user := auth.GetUser(r.Context()); user != nil && user.Role == auth.RolePatient {
		form.PatientName = user.Name
	}
	h.renderRequestForm(w, r, http.StatusOK, form, map[string]string{})
}

// SubmitRequest files a blood request for the signed in user
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	form := RequestForm{
		PatientName:     r.PostForm.Get("patient_name"),
		BloodType:       r.PostForm.Get("blood_type"),
		Units:           r.PostForm.Get("units"),
		Priority:        r.PostForm.Get("priority"),
		HospitalID:      r.PostForm.Get("hospital_id"),
		Reason:          r.PostForm.Get("reason"),
		EmergencyReason: r.PostForm.Get("emergency_reason"),
		DoctorContact:   r.PostForm.Get("doctor_contact"),
	}
	if strings.TrimSpace(form.PatientName) == "" && user.Role == auth.RolePatient {
		form.PatientName = user.Name
	}

	_, err := h.Requests.Submit(r.Context(), form.input(), workflow.ActorFor(user))
	if err == nil {
		http.Redirect(w, r, "/dashboard/patient", http.StatusSeeOther)
		return
	}
	if !errors.Is(err, errors.ErrValidation) {
		h.fail(w, r, err)
		return
	}
	h.renderRequestForm(w, r, http.StatusUnprocessableEntity, form, errors.As(err).Details)
}

func (h *Handler) renderRequestForm(w http.ResponseWriter, r *http.Request, status int, form RequestForm, errs map[string]string) {
	hospitals, err := h.Hospitals.List(r.Context(), hospital.ListFilter{})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, status, ui.Page{
		Name:  "request_blood",
		Title: "Request blood",
		Data: requestData{
			Form:       form,
			Errors:     errs,
			BloodTypes: bloodtype.All(),
			Priorities: []domain.Priority{domain.PriorityRoutine, domain.PriorityUrgent, domain.PriorityEmergency},
			Hospitals:  hospitals,
		},
	})
}
