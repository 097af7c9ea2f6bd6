package inventory

import (
	"context"
	"sync"

	"github.com/bloodconnect/platform/internal/bloodtype"
	"github.com/bloodconnect/platform/internal/shared/types"
)

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu    sync.Mutex
	stock map[types.ID]map[bloodtype.Type]int
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{stock: make(map[types.ID]map[bloodtype.Type]int)}
}

func (s *MemoryStore) Get(ctx context.Context, hospitalID types.ID, bt bloodtype.Type) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stock[hospitalID][bt], nil
}

func (s *MemoryStore) Set(ctx context.Context, hospitalID types.ID, bt bloodtype.Type, units int) error {
	if units < 0 {
		units = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards(hospitalID)[bt] = units
	return nil
}

func (s *MemoryStore) Adjust(ctx context.Context, hospitalID types.ID, bt bloodtype.Type, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cards := s.cards(hospitalID)
	units := cards[bt] + delta
	if units < 0 {
		units = 0
	}
	cards[bt] = units
	return units, nil
}

func (s *MemoryStore) Snapshot(ctx context.Context, hospitalID types.ID) (map[bloodtype.Type]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cards, ok := s.stock[hospitalID]
	if !ok {
		return nil, ErrUnknownHospital
	}
	out := make(map[bloodtype.Type]int, len(cards))
	for k, v := range cards {
		out[k] = v
	}
	return out, nil
}

// cards must be called with s.mu held
func (s *MemoryStore) cards(hospitalID types.ID) map[bloodtype.Type]int {
	cards, ok := s.stock[hospitalID]
	if !ok {
		cards = make(map[bloodtype.Type]int)
		s.stock[hospitalID] = cards
	}
	return cards
}

var _ Store = (*MemoryStore)(nil)
