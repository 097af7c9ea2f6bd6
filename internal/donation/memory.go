package donation

import (
	"context"
	"sort"
	"sync"

	"github.com/bloodconnect/platform/internal/shared/errors"
	"github.com/bloodconnect/platform/internal/shared/types"
)

// MemoryRepository is an in-process Repository
type MemoryRepository struct {
	mu           sync.RWMutex
	offers       map[types.ID]*Offer
	eligibility  map[types.ID]Eligibility
	availability map[types.ID]Availability
	activities   []Activity
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		offers:       make(map[types.ID]*Offer),
		eligibility:  make(map[types.ID]Eligibility),
		availability: make(map[types.ID]Availability),
	}
}

func (m *MemoryRepository) SaveOffer(ctx context.Context, o *Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.offers[o.ID]; ok {
		return errors.Conflict("donation offer already exists")
	}
	o.Version = 1
	m.offers[o.ID] = o.Clone()
	return nil
}

func (m *MemoryRepository) GetOffer(ctx context.Context, id types.ID) (*Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.offers[id]
	if !ok {
		return nil, errors.NotFound("donation offer", id.String())
	}
	return o.Clone(), nil
}

func (m *MemoryRepository) UpdateOffer(ctx context.Context, o *Offer, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.offers[o.ID]
	if !ok {
		return errors.NotFound("donation offer", o.ID.String())
	}
	if current.Version != expectedVersion {
		return errors.VersionConflict("donation offer", o.ID.String(), expectedVersion, current.Version)
	}
	o.Version = expectedVersion + 1
	m.offers[o.ID] = o.Clone()
	return nil
}

func (m *MemoryRepository) ListOffers(ctx context.Context, filter OfferFilter) ([]Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Offer
	for _, o := range m.offers {
		if !filter.HospitalID.IsZero() && o.HospitalID != filter.HospitalID {
			continue
		}
		if !filter.DonorID.IsZero() && o.DonorID != filter.DonorID {
			continue
		}
		if filter.Status != nil && o.Status != *filter.Status {
			continue
		}
		out = append(out, *o.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit := filter.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) GetEligibility(ctx context.Context, donorID types.ID) (*Eligibility, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.eligibility[donorID]
	if !ok {
		return nil, errors.NotFound("donor eligibility", donorID.String())
	}
	return &e, nil
}

func (m *MemoryRepository) UpsertEligibility(ctx context.Context, e Eligibility) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eligibility[e.DonorID] = e
	return nil
}

func (m *MemoryRepository) SetAvailability(ctx context.Context, a Availability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.availability[a.DonorID] = a
	return nil
}

func (m *MemoryRepository) GetAvailability(ctx context.Context, donorID types.ID) (*Availability, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.availability[donorID]
	if !ok {
		return nil, errors.NotFound("donor availability", donorID.String())
	}
	return &a, nil
}

func (m *MemoryRepository) AppendActivity(ctx context.Context, a Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activities = append(m.activities, a)
	return nil
}

// ListActivities returns the newest entries first
func (m *MemoryRepository) ListActivities(ctx context.Context, donorID types.ID, limit int) ([]Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Activity
	for i := len(m.activities) - 1; i >= 0 && len(out) < limit; i-- {
		a := m.activities[i]
		if !donorID.IsZero() && a.DonorID != donorID {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

var _ Repository = (*MemoryRepository)(nil)
