package domain

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/bloodconnect/platform/internal/bloodtype"
	"github.com/bloodconnect/platform/internal/shared/errors"
	"github.com/bloodconnect/platform/internal/shared/types"
)

// Status defines the status of a blood request
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transition is possible
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusCompleted || s == StatusCancelled
}

// Priority defines request urgency
type Priority string

const (
	PriorityRoutine   Priority = "routine"
	PriorityUrgent    Priority = "urgent"
	PriorityEmergency Priority = "emergency"
)

func (p Priority) valid() bool {
	return p == PriorityRoutine || p == PriorityUrgent || p == PriorityEmergency
}

// RejectionReason is the closed set of reasons a hospital may give
type RejectionReason string

const (
	RejectInsufficientStock    RejectionReason = "insufficient_stock"
	RejectBloodTypeUnavailable RejectionReason = "blood_type_unavailable"
	RejectEmergencyPriority    RejectionReason = "emergency_priority"
	RejectPatientEligibility   RejectionReason = "patient_eligibility"
	RejectOther                RejectionReason = "other"
)

// Valid reports whether r is a known rejection reason
func (r RejectionReason) Valid() bool {
	switch r {
	case RejectInsufficientStock, RejectBloodTypeUnavailable, RejectEmergencyPriority,
		RejectPatientEligibility, RejectOther:
		return true
	}
	return false
}

// RejectionReasons lists the reasons offered to hospital staff
func RejectionReasons() []RejectionReason {
	return []RejectionReason{
		RejectInsufficientStock, RejectBloodTypeUnavailable, RejectEmergencyPriority,
		RejectPatientEligibility, RejectOther,
	}
}

// Label is the human readable reason
func (r RejectionReason) Label() string {
	switch r {
	case RejectInsufficientStock:
		return "Insufficient stock"
	case RejectBloodTypeUnavailable:
		return "Blood type unavailable"
	case RejectEmergencyPriority:
		return "Emergency cases prioritised"
	case RejectPatientEligibility:
		return "Patient eligibility"
	default:
		return "Other"
	}
}

// Action names a state machine command
type Action string

const (
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
)

// transitions is the state machine: action -> required status -> result
var transitions = map[Action]struct {
	from Status
	to   Status
}{
	ActionApprove:  {StatusPending, StatusApproved},
	ActionReject:   {StatusPending, StatusRejected},
	ActionComplete: {StatusApproved, StatusCompleted},
	ActionCancel:   {StatusPending, StatusCancelled},
}

// Actor identifies who performed a transition
type Actor struct {
	ID         types.ID `json:"id"`
	Type       string   `json:"type"` // patient, hospital, admin, system
	HospitalID types.ID `json:"hospital_id,omitempty"`
}

// SystemActor is used by the simulation dispatcher
var SystemActor = Actor{ID: types.NewDeterministicID("actor", "system"), Type: "system"}

// Request is the aggregate root for a blood request
type Request struct {
	ID          string         `json:"id"`
	PatientID   types.ID       `json:"patient_id,omitempty"`
	PatientName string         `json:"patient_name"`
	BloodType   bloodtype.Type `json:"blood_type"`
	Units       int            `json:"units"`
	Priority    Priority       `json:"priority"`

	AssignedHospitalID   types.ID `json:"assigned_hospital_id"`
	AssignedHospitalName string   `json:"assigned_hospital_name"`

	Status          Status `json:"status"`
	Reason          string `json:"reason"`
	EmergencyReason string `json:"emergency_reason,omitempty"`
	DoctorContact   string `json:"doctor_contact,omitempty"`

	RejectionReason RejectionReason `json:"rejection_reason,omitempty"`
	RejectionNotes  string          `json:"rejection_notes,omitempty"`

	SubmittedAt time.Time  `json:"submitted_at"`
	LastUpdated time.Time  `json:"last_updated"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	RejectedAt  *time.Time `json:"rejected_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	// Version increases by one on every persisted change
	Version int `json:"version"`

	Events []RequestEvent `json:"events,omitempty"`

	// Domain events (not persisted)
	domainEvents []Event
}

// SubmitInput carries the fields of the request form
type SubmitInput struct {
	PatientID       types.ID
	PatientName     string
	BloodType       string
	Units           int
	Priority        string
	HospitalID      types.ID
	HospitalName    string
	Reason          string
	EmergencyReason string
	DoctorContact   string
}

// Validate checks the form and returns a validation error with one entry
// per offending field.
func (in SubmitInput) Validate() error {
	details := map[string]string{}

	if strings.TrimSpace(in.PatientName) == "" {
		details["patient_name"] = "patient name is required"
	}
	if _, err := bloodtype.Parse(in.BloodType); err != nil {
		details["blood_type"] = "a valid blood type is required"
	}
	if in.Units <= 0 {
		details["units"] = "units must be greater than zero"
	} else if in.Units > MaxUnits {
		details["units"] = fmt.Sprintf("at most %d units per request", MaxUnits)
	}
	priority := Priority(strings.ToLower(strings.TrimSpace(in.Priority)))
	if !priority.valid() {
		details["priority"] = "priority must be routine, urgent or emergency"
	}
	if in.HospitalID.IsZero() {
		details["hospital_id"] = "a hospital must be selected"
	}
	if strings.TrimSpace(in.Reason) == "" {
		details["reason"] = "medical reason is required"
	}
	if priority == PriorityEmergency && strings.TrimSpace(in.EmergencyReason) == "" {
		details["emergency_reason"] = "emergency requests must describe the emergency"
	}

	if len(details) > 0 {
		return errors.Validation("blood request is invalid", details)
	}
	return nil
}

// MaxUnits bounds a single request
const MaxUnits = 20

// NewRequest validates in and creates a PENDING request with the given id
func NewRequest(id string, in SubmitInput, actor Actor, now time.Time) (*Request, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if !ValidID(id) {
		return nil, fmt.Errorf("malformed request id %q", id)
	}

	bt, _ := bloodtype.Parse(in.BloodType)
	r := &Request{
		ID:                   id,
		PatientID:            in.PatientID,
		PatientName:          strings.TrimSpace(in.PatientName),
		BloodType:            bt,
		Units:                in.Units,
		Priority:             Priority(strings.ToLower(strings.TrimSpace(in.Priority))),
		AssignedHospitalID:   in.HospitalID,
		AssignedHospitalName: in.HospitalName,
		Status:               StatusPending,
		Reason:               strings.TrimSpace(in.Reason),
		EmergencyReason:      strings.TrimSpace(in.EmergencyReason),
		DoctorContact:        strings.TrimSpace(in.DoctorContact),
		SubmittedAt:          now,
		LastUpdated:          now,
	}

	r.addEvent(EventTypeSubmitted, actor, now,
		fmt.Sprintf("Requested %d units of %s", r.Units, r.BloodType), map[string]any{
			"priority":    r.Priority,
			"hospital_id": r.AssignedHospitalID,
		})

	return r, nil
}

var idPattern = regexp.MustCompile(`^REQ-\d{4}-\d{3}$`)

// ValidID reports whether id has the REQ-YYYY-NNN form
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// GenerateID returns a REQ-<year>-<3 digits> id. The space is small, so
// callers must handle duplicates.
func GenerateID(now time.Time, rnd *rand.Rand) string {
	return fmt.Sprintf("REQ-%04d-%03d", now.Year(), rnd.Intn(1000))
}

// Approve transitions PENDING -> APPROVED
func (r *Request) Approve(actor Actor, now time.Time) error {
	if err := r.transition(ActionApprove, now); err != nil {
		return err
	}
	r.ApprovedAt = &now
	r.addEvent(EventTypeApproved, actor, now, "Request approved by "+r.AssignedHospitalName, nil)
	return nil
}

// Reject transitions PENDING -> REJECTED with a reason from the closed set
func (r *Request) Reject(actor Actor, reason RejectionReason, notes string, now time.Time) error {
	if !reason.Valid() {
		return errors.Validation("invalid rejection reason", map[string]string{
			"reason": fmt.Sprintf("unknown reason %q", reason),
		})
	}
	if err := r.transition(ActionReject, now); err != nil {
		return err
	}
	r.RejectedAt = &now
	r.RejectionReason = reason
	r.RejectionNotes = strings.TrimSpace(notes)
	r.addEvent(EventTypeRejected, actor, now, "Request rejected: "+reason.Label(), map[string]any{
		"reason": reason,
		"notes":  r.RejectionNotes,
	})
	return nil
}

// Complete transitions APPROVED -> COMPLETED once blood has been collected
func (r *Request) Complete(actor Actor, now time.Time) error {
	if err := r.transition(ActionComplete, now); err != nil {
		return err
	}
	r.CompletedAt = &now
	r.addEvent(EventTypeCompleted, actor, now, "Blood collected", nil)
	return nil
}

// Cancel transitions PENDING -> CANCELLED
func (r *Request) Cancel(actor Actor, now time.Time) error {
	if err := r.transition(ActionCancel, now); err != nil {
		return err
	}
	r.CancelledAt = &now
	r.addEvent(EventTypeCancelled, actor, now, "Request cancelled by patient", nil)
	return nil
}

// transition applies the guard for action. The record is untouched on failure.
func (r *Request) transition(action Action, now time.Time) error {
	t, ok := transitions[action]
	if !ok {
		return errors.BadRequest(fmt.Sprintf("unknown action %q", action))
	}
	if r.Status != t.from {
		return errors.InvalidTransition("request", string(r.Status), string(action))
	}
	r.Status = t.to
	r.LastUpdated = now
	return nil
}

// CanApply reports whether action is legal from the current status
func (r *Request) CanApply(action Action) bool {
	t, ok := transitions[action]
	return ok && r.Status == t.from
}

// Progress is the timeline bar width in percent
func (r *Request) Progress() int {
	switch r.Status {
	case StatusPending:
		return 25
	case StatusApproved:
		return 50
	default:
		return 100
	}
}

// Failed reports whether the request ended without blood being provided
func (r *Request) Failed() bool {
	return r.Status == StatusRejected || r.Status == StatusCancelled
}

// IsEmergency reports whether the request has emergency priority
func (r *Request) IsEmergency() bool {
	return r.Priority == PriorityEmergency
}

// GetDomainEvents returns and clears domain events
func (r *Request) GetDomainEvents() []Event {
	events := r.domainEvents
	r.domainEvents = nil
	return events
}

// Clone returns a deep copy without pending domain events
func (r *Request) Clone() *Request {
	c := *r
	c.domainEvents = nil
	c.Events = append([]RequestEvent(nil), r.Events...)
	c.ApprovedAt = copyTime(r.ApprovedAt)
	c.RejectedAt = copyTime(r.RejectedAt)
	c.CompletedAt = copyTime(r.CompletedAt)
	c.CancelledAt = copyTime(r.CancelledAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func (r *Request) addEvent(eventType EventType, actor Actor, now time.Time, description string, data map[string]any) {
	event := RequestEvent{
		ID:          types.NewID(),
		RequestID:   r.ID,
		Type:        eventType,
		ActorID:     actor.ID,
		ActorType:   actor.Type,
		Description: description,
		Data:        data,
		Timestamp:   now,
	}

	r.Events = append(r.Events, event)
	r.domainEvents = append(r.domainEvents, Event{
		Type:      string(eventType),
		RequestID: r.ID,
		Event:     event,
	})
}
