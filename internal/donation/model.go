package donation

import (
	"fmt"
	"strings"
	"time"

	"github.com/bloodconnect/platform/internal/bloodtype"
	"github.com/bloodconnect/platform/internal/shared/errors"
	"github.com/bloodconnect/platform/internal/shared/types"
)

// Status defines the status of a donation offer
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAccepted  Status = "ACCEPTED"
	StatusCompleted Status = "COMPLETED"
	StatusRejected  Status = "REJECTED"
)

// ParseStatus accepts any letter case
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusAccepted, StatusCompleted, StatusRejected:
		return st, nil
	}
	return "", errors.BadRequest(fmt.Sprintf("unknown donation status %q", s))
}

// Class is the lowercase status used for styling
func (s Status) Class() string {
	return strings.ToLower(string(s))
}

// allowed lists the legal moves from each status
var allowed = map[Status][]Status{
	StatusPending:  {StatusAccepted, StatusRejected},
	StatusAccepted: {StatusCompleted},
}

// Timing constants
const (
	// EligibilityInterval is the wait between whole blood donations
	EligibilityInterval = 56 * 24 * time.Hour
	// StandardVolumeML is one unit of whole blood
	StandardVolumeML = 450
)

// Offer is a donor's offer to give blood at a hospital
type Offer struct {
	ID           types.ID       `json:"id"`
	DonorID      types.ID       `json:"donor_id"`
	DonorName    string         `json:"donor_name"`
	BloodType    bloodtype.Type `json:"blood_type"`
	Status       Status         `json:"status"`
	HospitalID   types.ID       `json:"hospital_id"`
	HospitalName string         `json:"hospital_name"`

	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	ScheduledDate *time.Time `json:"scheduled_date,omitempty"`
	CompletedDate *time.Time `json:"completed_date,omitempty"`

	// VolumeML is the collected volume once completed
	VolumeML int      `json:"volume"`
	Notes    []string `json:"notes"`
	Version  int      `json:"version"`
}

// OfferInput carries the fields of a new offer
type OfferInput struct {
	DonorID    types.ID `json:"donor_id"`
	DonorName  string   `json:"donor_name"`
	BloodType  string   `json:"blood_type"`
	HospitalID types.ID `json:"hospital_id"`
	Note       string   `json:"note,omitempty"`
}

// NewOffer validates in and returns a PENDING offer
func NewOffer(in OfferInput, hospitalName string, now time.Time) (*Offer, error) {
	details := map[string]string{}
	if strings.TrimSpace(in.DonorName) == "" {
		details["donor_name"] = "donor name is required"
	}
	bt, err := bloodtype.Parse(in.BloodType)
	if err != nil {
		details["blood_type"] = "a valid blood type is required"
	}
	if in.HospitalID.IsZero() {
		details["hospital_id"] = "a hospital must be selected"
	}
	if len(details) > 0 {
		return nil, errors.Validation("donation offer is invalid", details)
	}

	o := &Offer{
		ID:           types.NewID(),
		DonorID:      in.DonorID,
		DonorName:    strings.TrimSpace(in.DonorName),
		BloodType:    bt,
		Status:       StatusPending,
		HospitalID:   in.HospitalID,
		HospitalName: hospitalName,
		CreatedAt:    now,
		UpdatedAt:    now,
		Notes:        []string{},
	}
	if note := strings.TrimSpace(in.Note); note != "" {
		o.Notes = append(o.Notes, note)
	}
	return o, nil
}

// CanMoveTo reports whether the offer may move to next
func (o *Offer) CanMoveTo(next Status) bool {
	for _, s := range allowed[o.Status] {
		if s == next {
			return true
		}
	}
	return false
}

func (o *Offer) move(next Status, now time.Time) error {
	if !o.CanMoveTo(next) {
		return errors.InvalidTransition("donation offer", string(o.Status), strings.ToLower(string(next)))
	}
	o.Status = next
	o.UpdatedAt = now
	return nil
}

// Accept schedules the donation
func (o *Offer) Accept(scheduled time.Time, now time.Time) error {
	if err := o.move(StatusAccepted, now); err != nil {
		return err
	}
	o.ScheduledDate = &scheduled
	o.Notes = append(o.Notes, "Scheduled for "+scheduled.Format("2006-01-02 15:04"))
	return nil
}

// Reject declines the offer with a note for the donor
func (o *Offer) Reject(note string, now time.Time) error {
	if err := o.move(StatusRejected, now); err != nil {
		return err
	}
	if note = strings.TrimSpace(note); note != "" {
		o.Notes = append(o.Notes, note)
	}
	return nil
}

// Complete records the collected volume. Zero means one standard unit.
func (o *Offer) Complete(volumeML int, now time.Time) error {
	if volumeML < 0 {
		return errors.Validation("invalid volume", map[string]string{"volume": "volume cannot be negative"})
	}
	if err := o.move(StatusCompleted, now); err != nil {
		return err
	}
	if volumeML == 0 {
		volumeML = StandardVolumeML
	}
	o.VolumeML = volumeML
	o.CompletedDate = &now
	return nil
}

// Units is the collected volume in whole units, at least one
func (o *Offer) Units() int {
	units := (o.VolumeML + StandardVolumeML/2) / StandardVolumeML
	if units < 1 {
		return 1
	}
	return units
}

// Clone returns a deep copy
func (o *Offer) Clone() *Offer {
	c := *o
	c.Notes = append([]string{}, o.Notes...)
	if o.ScheduledDate != nil {
		t := *o.ScheduledDate
		c.ScheduledDate = &t
	}
	if o.CompletedDate != nil {
		t := *o.CompletedDate
		c.CompletedDate = &t
	}
	return &c
}

// Eligibility is shown to donors as a countdown; it is not enforced
type Eligibility struct {
	DonorID          types.ID  `json:"donor_id"`
	DonorName        string    `json:"donor_name"`
	NextEligibleDate time.Time `json:"next_eligible_date"`
	LastDonationDate time.Time `json:"last_donation_date"`
	TotalDonations   int       `json:"total_donations"`
}

// Record returns the eligibility after a donation on completed
func (e Eligibility) Record(donorName string, completed time.Time) Eligibility {
	e.DonorName = donorName
	e.LastDonationDate = completed
	e.NextEligibleDate = completed.Add(EligibilityInterval)
	e.TotalDonations++
	return e
}

// Eligible reports whether the donor may give blood at now
func (e Eligibility) Eligible(now time.Time) bool {
	return !now.Before(e.NextEligibleDate)
}

// DaysRemaining is the countdown shown on the donor dashboard
func (e Eligibility) DaysRemaining(now time.Time) int {
	if e.Eligible(now) {
		return 0
	}
	return int((e.NextEligibleDate.Sub(now) + 24*time.Hour - 1) / (24 * time.Hour))
}

// Activity is one entry in the donation activity feed
type Activity struct {
	ID         types.ID  `json:"id"`
	DonorID    types.ID  `json:"donor_id,omitempty"`
	HospitalID types.ID  `json:"hospital_id,omitempty"`
	OfferID    types.ID  `json:"offer_id,omitempty"`
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

// Availability is the donor's "available to donate" toggle
type Availability struct {
	DonorID   types.ID  `json:"donor_id"`
	Available bool      `json:"available"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OfferFilter defines filters for listing offers
type OfferFilter struct {
	HospitalID types.ID `json:"hospital_id,omitempty"`
	DonorID    types.ID `json:"donor_id,omitempty"`
	Status     *Status  `json:"status,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

// EffectiveLimit clamps Limit to [1,100], defaulting to 50
func (f OfferFilter) EffectiveLimit() int {
	if f.Limit > 0 && f.Limit <= 100 {
		return f.Limit
	}
	return 50
}
