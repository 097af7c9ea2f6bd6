package hospital

import (
	"regexp"
	"strings"
	"time"

	"github.com/bloodconnect/platform/internal/bloodtype"
	"github.com/bloodconnect/platform/internal/inventory"
	"github.com/bloodconnect/platform/internal/shared/errors"
	"github.com/bloodconnect/platform/internal/shared/types"
)

// Status defines the status of a hospital
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Hospital is a blood bank that accepts requests and donations. Its id is a
// stable slug such as "city-general".
type Hospital struct {
	ID         types.ID          `json:"id"`
	Name       string            `json:"name"`
	City       string            `json:"city"`
	Address    types.Address     `json:"address"`
	Contact    types.ContactInfo `json:"contact"`
	DistanceKm *float64          `json:"distance_km,omitempty"`
	Status     Status            `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// RegisterInput carries the fields of a new hospital
type RegisterInput struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	City       string   `json:"city"`
	Street     string   `json:"street"`
	PostalCode string   `json:"postal_code"`
	Phone      string   `json:"phone"`
	Email      string   `json:"email"`
	DistanceKm *float64 `json:"distance_km,omitempty"`
}

// NewHospital validates in and returns an active hospital
func NewHospital(in RegisterInput, now time.Time) (*Hospital, error) {
	details := map[string]string{}
	id := strings.TrimSpace(in.ID)
	if !slugPattern.MatchString(id) {
		details["id"] = "id must be a lowercase slug"
	}
	if strings.TrimSpace(in.Name) == "" {
		details["name"] = "name is required"
	}
	if strings.TrimSpace(in.City) == "" {
		details["city"] = "city is required"
	}
	if len(details) > 0 {
		return nil, errors.Validation("hospital is invalid", details)
	}

	return &Hospital{
		ID:         types.ID(id),
		Name:       strings.TrimSpace(in.Name),
		City:       strings.TrimSpace(in.City),
		Address:    types.NewAddress(in.Street, in.City, in.PostalCode),
		Contact:    types.ContactInfo{Email: in.Email, Phone: in.Phone},
		DistanceKm: in.DistanceKm,
		Status:     StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// ListFilter defines filters for listing hospitals
type ListFilter struct {
	City   string  `json:"city,omitempty"`
	Status *Status `json:"status,omitempty"`
	Search string  `json:"search,omitempty"`
}

// Availability is one search result for a blood request
type Availability struct {
	Hospital Hospital `json:"hospital"`
	// Requested is the patient's blood type
	Requested bloodtype.Type `json:"requested"`
	// ExactUnits are units of the requested type
	ExactUnits int `json:"exact_units"`
	// AvailableUnits are units across all compatible donor types
	AvailableUnits int              `json:"available_units"`
	Cards          []inventory.Card `json:"cards"`
}

// DefaultHospitals is the seed set
func DefaultHospitals() []RegisterInput {
	km := func(v float64) *float64 { return &v }
	return []RegisterInput{
		{ID: "city-general", Name: "City General Hospital", City: "Springfield", Street: "12 Main Street", PostalCode: "10001", Phone: "+1 555 0100", Email: "bloodbank@citygeneral.example", DistanceKm: km(2.4)},
		{ID: "st-mary", Name: "St. Mary's Medical Center", City: "Springfield", Street: "88 Church Road", PostalCode: "10004", Phone: "+1 555 0140", Email: "donations@stmary.example", DistanceKm: km(5.1)},
		{ID: "regional-medical", Name: "Regional Medical Center", City: "Shelbyville", Street: "400 Regional Parkway", PostalCode: "10210", Phone: "+1 555 0175", Email: "lab@regionalmedical.example", DistanceKm: km(11.8)},
		{ID: "community-health", Name: "Community Health Clinic", City: "Springfield", Street: "5 Elm Avenue", PostalCode: "10007", Phone: "+1 555 0190", Email: "info@communityhealth.example", DistanceKm: km(3.6)},
	}
}
