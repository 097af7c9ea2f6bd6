package domain

import (
	"context"
	"errors"

	"github.com/bloodconnect/platform/internal/shared/types"
)

// ErrDuplicateID is returned by Save when the id is already taken
var ErrDuplicateID = errors.New("request id already exists")

// Repository defines the interface for blood request persistence.
// Requests are never deleted.
type Repository interface {
	// Save stores a new request at version 1
	Save(ctx context.Context, r *Request) error
	FindByID(ctx context.Context, id string) (*Request, error)
	// Update stores r if the stored version equals expectedVersion and
	// bumps r.Version; otherwise it returns a version conflict.
	Update(ctx context.Context, r *Request, expectedVersion int) error

	List(ctx context.Context, filter ListFilter) ([]Request, int, error)
	FindByHospital(ctx context.Context, hospitalID types.ID, filter ListFilter) ([]Request, int, error)
}

// ListFilter defines filters for listing requests
type ListFilter struct {
	Status    *Status   `json:"status,omitempty"`
	Priority  *Priority `json:"priority,omitempty"`
	BloodType string    `json:"blood_type,omitempty"`
	PatientID types.ID  `json:"patient_id,omitempty"`
	Search    string    `json:"search,omitempty"`
	Limit     int       `json:"limit,omitempty"`
	Offset    int       `json:"offset,omitempty"`
}

// EffectiveLimit clamps Limit to [1,100], defaulting to 50
func (f ListFilter) EffectiveLimit() int {
	if f.Limit > 0 && f.Limit <= 100 {
		return f.Limit
	}
	return 50
}

// EffectiveOffset treats a negative Offset as zero
func (f ListFilter) EffectiveOffset() int {
	if f.Offset < 0 {
		return 0
	}
	return f.Offset
}
