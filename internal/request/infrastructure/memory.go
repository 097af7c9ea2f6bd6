package infrastructure

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bloodconnect/platform/internal/request/domain"
	"github.com/bloodconnect/platform/internal/shared/errors"
	"github.com/bloodconnect/platform/internal/shared/types"
)

// MemoryRepository implements domain.Repository in process. Stored records
// are copies, so callers can never mutate them without going through Update.
type MemoryRepository struct {
	mu       sync.RWMutex
	requests map[string]*domain.Request
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{requests: make(map[string]*domain.Request)}
}

// Save stores a new request at version 1
func (m *MemoryRepository) Save(ctx context.Context, r *domain.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.requests[r.ID]; exists {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateID, r.ID)
	}
	r.Version = 1
	m.requests[r.ID] = r.Clone()
	return nil
}

// FindByID returns a copy of the stored request
func (m *MemoryRepository) FindByID(ctx context.Context, id string) (*domain.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.requests[id]
	if !ok {
		return nil, errors.NotFound("request", id)
	}
	return r.Clone(), nil
}

// Update replaces the stored request when versions match
func (m *MemoryRepository) Update(ctx context.Context, r *domain.Request, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.requests[r.ID]
	if !ok {
		return errors.NotFound("request", r.ID)
	}
	if current.Version != expectedVersion {
		return errors.VersionConflict("request", r.ID, expectedVersion, current.Version)
	}

	r.Version = expectedVersion + 1
	m.requests[r.ID] = r.Clone()
	return nil
}

// List returns requests newest first
func (m *MemoryRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Request, int, error) {
	return m.list(filter, func(*domain.Request) bool { return true })
}

// FindByHospital returns requests assigned to hospitalID
func (m *MemoryRepository) FindByHospital(ctx context.Context, hospitalID types.ID, filter domain.ListFilter) ([]domain.Request, int, error) {
	return m.list(filter, func(r *domain.Request) bool { return r.AssignedHospitalID == hospitalID })
}

func (m *MemoryRepository) list(filter domain.ListFilter, keep func(*domain.Request) bool) ([]domain.Request, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	search := strings.ToLower(filter.Search)
	var matched []domain.Request
	for _, r := range m.requests {
		if !keep(r) || !matches(r, filter, search) {
			continue
		}
		matched = append(matched, *r.Clone())
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].SubmittedAt.Equal(matched[j].SubmittedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].SubmittedAt.After(matched[j].SubmittedAt)
	})

	total := len(matched)
	offset := filter.EffectiveOffset()
	if offset >= total {
		return []domain.Request{}, total, nil
	}
	end := offset + filter.EffectiveLimit()
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func matches(r *domain.Request, f domain.ListFilter, search string) bool {
	if f.Status != nil && r.Status != *f.Status {
		return false
	}
	if f.Priority != nil && r.Priority != *f.Priority {
		return false
	}
	if f.BloodType != "" && string(r.BloodType) != f.BloodType {
		return false
	}
	if !f.PatientID.IsZero() && r.PatientID != f.PatientID {
		return false
	}
	if search != "" &&
		!strings.Contains(strings.ToLower(r.ID), search) &&
		!strings.Contains(strings.ToLower(r.PatientName), search) {
		return false
	}
	return true
}

var _ domain.Repository = (*MemoryRepository)(nil)
