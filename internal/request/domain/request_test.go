package domain

import (
	"math/rand"
	"testing"
	"time"

	"github.com/bloodconnect/platform/internal/shared/errors"
)

var (
	patient  = Actor{ID: "patient-1", Type: "patient"}
	hospital = Actor{ID: "nurse-1", Type: "hospital", HospitalID: "city-general"}
	now      = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
)

func validInput() SubmitInput {
	return SubmitInput{
		PatientName:  "Ana Petrovic",
		BloodType:    "O-",
		Units:        2,
		Priority:     "urgent",
		HospitalID:   "city-general",
		HospitalName: "City General Hospital",
		Reason:       "Scheduled surgery",
	}
}

func newPending(t *testing.T) *Request {
	t.Helper()
	r, err := NewRequest("REQ-2026-001", validInput(), patient, now)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	return r
}

// TestNewRequest tests creating a pending request
func TestNewRequest(t *testing.T) {
	r := newPending(t)

	if r.Status != StatusPending {
		t.Errorf("Expected status %s, got %s", StatusPending, r.Status)
	}
	if r.Progress() != 25 {
		t.Errorf("Expected progress 25, got %d", r.Progress())
	}
	if len(r.Events) != 1 || r.Events[0].Type != EventTypeSubmitted {
		t.Errorf("Expected single submitted event, got %+v", r.Events)
	}
	if got := r.GetDomainEvents(); len(got) != 1 {
		t.Errorf("Expected 1 domain event, got %d", len(got))
	}
	if got := r.GetDomainEvents(); len(got) != 0 {
		t.Errorf("Expected domain events cleared, got %d", len(got))
	}
}

// TestEmergencyExample covers the O-, 2 units, emergency walkthrough
func TestEmergencyExample(t *testing.T) {
	in := validInput()
	in.Priority = "emergency"
	in.EmergencyReason = "active bleeding"

	id := GenerateID(now, rand.New(rand.NewSource(7)))
	r, err := NewRequest(id, in, patient, now)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !ValidID(r.ID) {
		t.Errorf("Expected id to match REQ-YYYY-NNN, got %s", r.ID)
	}
	if r.Status != StatusPending || r.Progress() != 25 {
		t.Errorf("Expected PENDING at 25%%, got %s at %d%%", r.Status, r.Progress())
	}
	if !r.IsEmergency() {
		t.Error("Expected emergency priority")
	}
}

// TestSubmitValidation tests per-field validation
func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(in *SubmitInput)
		field string
	}{
		{"missing patient", func(in *SubmitInput) { in.PatientName = " " }, "patient_name"},
		{"bad blood type", func(in *SubmitInput) { in.BloodType = "Z+" }, "blood_type"},
		{"zero units", func(in *SubmitInput) { in.Units = 0 }, "units"},
		{"too many units", func(in *SubmitInput) { in.Units = MaxUnits + 1 }, "units"},
		{"bad priority", func(in *SubmitInput) { in.Priority = "whenever" }, "priority"},
		{"no hospital", func(in *SubmitInput) { in.HospitalID = "" }, "hospital_id"},
		{"no reason", func(in *SubmitInput) { in.Reason = "" }, "reason"},
		{"emergency without reason", func(in *SubmitInput) {
			in.Priority = "emergency"
			in.EmergencyReason = "   "
		}, "emergency_reason"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mut(&in)
			r, err := NewRequest("REQ-2026-001", in, patient, now)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if r != nil {
				t.Error("Expected no request on validation failure")
			}
			appErr := errors.As(err)
			if _, ok := appErr.Details[tt.field]; !ok {
				t.Errorf("Expected detail for %s, got %v", tt.field, appErr.Details)
			}
		})
	}
}

// TestStateMachine tests every legal and illegal transition
func TestStateMachine(t *testing.T) {
	apply := func(r *Request, a Action) error {
		switch a {
		case ActionApprove:
			return r.Approve(hospital, now)
		case ActionReject:
			return r.Reject(hospital, RejectInsufficientStock, "", now)
		case ActionComplete:
			return r.Complete(hospital, now)
		default:
			return r.Cancel(patient, now)
		}
	}

	tests := []struct {
		name   string
		path   []Action
		action Action
		want   Status
		ok     bool
	}{
		{"approve pending", nil, ActionApprove, StatusApproved, true},
		{"reject pending", nil, ActionReject, StatusRejected, true},
		{"cancel pending", nil, ActionCancel, StatusCancelled, true},
		{"complete pending", nil, ActionComplete, StatusPending, false},
		{"complete approved", []Action{ActionApprove}, ActionComplete, StatusCompleted, true},
		{"cancel approved", []Action{ActionApprove}, ActionCancel, StatusApproved, false},
		{"approve rejected", []Action{ActionReject}, ActionApprove, StatusRejected, false},
		{"reject approved", []Action{ActionApprove}, ActionReject, StatusApproved, false},
		{"approve cancelled", []Action{ActionCancel}, ActionApprove, StatusCancelled, false},
		{"cancel completed", []Action{ActionApprove, ActionComplete}, ActionCancel, StatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newPending(t)
			for _, a := range tt.path {
				if err := apply(r, a); err != nil {
					t.Fatalf("setup %s failed: %v", a, err)
				}
			}
			events := len(r.Events)

			err := apply(r, tt.action)
			if tt.ok && err != nil {
				t.Fatalf("Expected success, got %v", err)
			}
			if !tt.ok {
				if !errors.Is(err, errors.ErrInvalidTransition) {
					t.Fatalf("Expected invalid transition, got %v", err)
				}
				if len(r.Events) != events {
					t.Error("Expected no event on rejected transition")
				}
			}
			if r.Status != tt.want {
				t.Errorf("Expected status %s, got %s", tt.want, r.Status)
			}
		})
	}
}

func TestRejectRequiresKnownReason(t *testing.T) {
	r := newPending(t)
	err := r.Reject(hospital, "because", "", now)
	if !errors.Is(err, errors.ErrValidation) {
		t.Fatalf("Expected validation error, got %v", err)
	}
	if r.Status != StatusPending {
		t.Errorf("Expected request untouched, got %s", r.Status)
	}

	if err := r.Reject(hospital, RejectInsufficientStock, " low O- ", now); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if r.RejectedAt == nil || r.RejectionReason != RejectInsufficientStock || r.RejectionNotes != "low O-" {
		t.Errorf("Unexpected rejection fields: %+v", r)
	}
}

func TestProgress(t *testing.T) {
	tests := []struct {
		status Status
		want   int
	}{
		{StatusPending, 25},
		{StatusApproved, 50},
		{StatusCompleted, 100},
		{StatusRejected, 100},
		{StatusCancelled, 100},
	}
	for _, tt := range tests {
		r := &Request{Status: tt.status}
		if r.Progress() != tt.want {
			t.Errorf("Progress(%s) = %d, want %d", tt.status, r.Progress(), tt.want)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	r := newPending(t)
	if err := r.Approve(hospital, now); err != nil {
		t.Fatal(err)
	}
	c := r.Clone()
	c.Events[0].Description = "changed"
	*c.ApprovedAt = now.Add(time.Hour)

	if r.Events[0].Description == "changed" {
		t.Error("Expected events slice to be copied")
	}
	if !r.ApprovedAt.Equal(now) {
		t.Error("Expected timestamps to be copied")
	}
}

func TestGenerateID(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		if id := GenerateID(now, rnd); !ValidID(id) {
			t.Fatalf("Generated malformed id %s", id)
		}
	}
}
