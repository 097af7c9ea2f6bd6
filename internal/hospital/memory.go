package hospital

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/bloodconnect/platform/internal/shared/errors"
	"github.com/bloodconnect/platform/internal/shared/types"
)

// MemoryRepository is an in-process Repository
type MemoryRepository struct {
	mu        sync.RWMutex
	hospitals map[types.ID]Hospital
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{hospitals: make(map[types.ID]Hospital)}
}

func (r *MemoryRepository) Create(ctx context.Context, h *Hospital) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.hospitals[h.ID]; ok {
		return errors.Conflict("hospital with this id already exists")
	}
	r.hospitals[h.ID] = *h
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id types.ID) (*Hospital, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hospitals[id]
	if !ok {
		return nil, errors.NotFound("hospital", id.String())
	}
	return &h, nil
}

func (r *MemoryRepository) List(ctx context.Context, filter ListFilter) ([]Hospital, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	search := strings.ToLower(filter.Search)
	var out []Hospital
	for _, h := range r.hospitals {
		if filter.City != "" && !strings.EqualFold(h.City, filter.City) {
			continue
		}
		if filter.Status != nil && h.Status != *filter.Status {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(h.Name), search) &&
			!strings.Contains(strings.ToLower(h.City), search) {
			continue
		}
		out = append(out, h)
	}

	sort.Slice(out, func(i, j int) bool {
		di, dj := out[i].DistanceKm, out[j].DistanceKm
		switch {
		case di != nil && dj != nil && *di != *dj:
			return *di < *dj
		case di != nil && dj == nil:
			return true
		case di == nil && dj != nil:
			return false
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

var _ Repository = (*MemoryRepository)(nil)
