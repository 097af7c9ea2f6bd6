package user

import (
	"net/mail"
	"strings"
	"time"

	"github.com/bloodconnect/platform/internal/bloodtype"
	"github.com/bloodconnect/platform/internal/shared/auth"
	"github.com/bloodconnect/platform/internal/shared/errors"
	"github.com/bloodconnect/platform/internal/shared/types"
)

// Status is the account state
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Statuses lists every status
func Statuses() []Status {
	return []Status{StatusActive, StatusSuspended}
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusSuspended
}

// User is an account in the directory
type User struct {
	ID         types.ID       `json:"id"`
	Name       string         `json:"name"`
	Email      string         `json:"email"`
	Role       Role           `json:"role"`
	BloodType  bloodtype.Type `json:"blood_type,omitempty"`
	HospitalID types.ID       `json:"hospital_id,omitempty"`
	Status     Status         `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Principal is the authenticated identity for u
func (u *User) Principal() auth.User {
	return auth.User{ID: u.ID, Name: u.Name, Role: string(u.Role), HospitalID: u.HospitalID}
}

// CreateInput holds the fields for a new user
type CreateInput struct {
	Name       string   `json:"name"`
	Email      string   `json:"email"`
	Role       string   `json:"role"`
	BloodType  string   `json:"blood_type,omitempty"`
	HospitalID types.ID `json:"hospital_id,omitempty"`
}

// NewUser validates in and creates an active user
func NewUser(in CreateInput, now time.Time) (*User, error) {
	details := map[string]string{}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		details["name"] = "name is required"
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if !ValidEmail(email) {
		details["email"] = "a valid email is required"
	}
	role := Role(strings.ToLower(in.Role))
	if !role.Valid() {
		details["role"] = "role must be donor, patient, hospital or admin"
	}

	var bt bloodtype.Type
	if in.BloodType != "" {
		parsed, err := bloodtype.Parse(in.BloodType)
		if err != nil {
			details["blood_type"] = "unknown blood type"
		}
		bt = parsed
	} else if role == RoleDonor {
		details["blood_type"] = "donors need a blood type"
	}
	if role == RoleHospital && in.HospitalID.IsZero() {
		details["hospital_id"] = "hospital staff need a hospital"
	}

	if len(details) > 0 {
		return nil, errors.Validation("user is invalid", details)
	}

	return &User{
		ID:         types.NewID(),
		Name:       name,
		Email:      email,
		Role:       role,
		BloodType:  bt,
		HospitalID: in.HospitalID,
		Status:     StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// ValidEmail reports whether s is a plausible bare address
func ValidEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndex(s, "@")
	return at > 0 && strings.Contains(s[at:], ".")
}

// ListFilter narrows List
type ListFilter struct {
	Role   Role   `json:"role,omitempty"`
	Status Status `json:"status,omitempty"`
	Search string `json:"search,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// Matches reports whether u passes the filter
func (f ListFilter) Matches(u *User) bool {
	if f.Role != "" && u.Role != f.Role {
		return false
	}
	if f.Status != "" && u.Status != f.Status {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		return strings.Contains(strings.ToLower(u.Name), q) || strings.Contains(u.Email, q)
	}
	return true
}

// DemoUsers is the directory seeded for local runs
func DemoUsers() []CreateInput {
	return []CreateInput{
		{Name: "Platform Admin", Email: "admin@bloodconnect.example", Role: "admin"},
		{Name: "Ana Petrovic", Email: "ana@donors.example", Role: "donor", BloodType: "O-"},
		{Name: "Marko Ilic", Email: "marko@donors.example", Role: "donor", BloodType: "A+"},
		{Name: "Jelena Jovanovic", Email: "jelena@patients.example", Role: "patient", BloodType: "B+"},
		{Name: "Dr. Nikola Stankovic", Email: "nikola@citygeneral.example", Role: "hospital", HospitalID: "city-general"},
		{Name: "Sara Lukic", Email: "sara@stmary.example", Role: "hospital", HospitalID: "st-mary"},
	}
}
