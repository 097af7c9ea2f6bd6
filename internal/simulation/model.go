package simulation

import (
	"time"

	"github.com/bloodconnect/platform/internal/bloodtype"
	"github.com/bloodconnect/platform/internal/request/domain"
	"github.com/bloodconnect/platform/internal/shared/types"
)

// Outcome is what the auto-responder decided for one request
type Outcome struct {
	RequestID string        `json:"request_id"`
	Action    domain.Action `json:"action"`
	Applied   bool          `json:"applied"`
	Status    domain.Status `json:"status,omitempty"`
	// Lost is set when another actor changed the request first
	Lost   bool   `json:"lost,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Drift is one random stock change
type Drift struct {
	HospitalID types.ID       `json:"hospital_id"`
	BloodType  bloodtype.Type `json:"blood_type"`
	Delta      int            `json:"delta"`
	Units      int            `json:"units"`
}

// TickResult summarises one manual or scheduled tick
type TickResult struct {
	At        time.Time `json:"at"`
	Responses []Outcome `json:"responses"`
	Drift     []Drift   `json:"drift"`
	OfferID   string    `json:"offer_id,omitempty"`
}

// Status reports what the dispatcher is waiting on
type Status struct {
	Running        bool      `json:"running"`
	PendingReplies int       `json:"pending_replies"`
	NextDrift      time.Time `json:"next_drift"`
	NextOffer      time.Time `json:"next_offer"`
}

// simulatedDonors are the names used for arriving offers
var simulatedDonors = []string{
	"Marko Jovanovic",
	"Ivana Nikolic",
	"Stefan Petrovic",
	"Milica Djordjevic",
	"Nikola Stojanovic",
	"Jelena Markovic",
}

// maxSimulatedUnits caps drift so stock stays plausible
const maxSimulatedUnits = 60
