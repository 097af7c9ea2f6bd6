package user

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/bloodconnect/platform/internal/shared/errors"
	"github.com/bloodconnect/platform/internal/shared/types"
)

// MemoryRepository keeps users in process
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[types.ID]*User
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[types.ID]*User)}
}

func (m *MemoryRepository) Create(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.Email == u.Email {
			return errors.Conflict("a user with this email already exists")
		}
	}
	stored := *u
	m.users[u.ID] = &stored
	return nil
}

func (m *MemoryRepository) Get(ctx context.Context, id types.ID) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, errors.NotFound("user", id.String())
	}
	out := *u
	return &out, nil
}

func (m *MemoryRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	email = strings.ToLower(email)
	for _, u := range m.users {
		if u.Email == email {
			out := *u
			return &out, nil
		}
	}
	return nil, errors.NotFound("user", email)
}

func (m *MemoryRepository) List(ctx context.Context, filter ListFilter) ([]User, int, error) {
	m.mu.RLock()
	var out []User
	for _, u := range m.users {
		if filter.Matches(u) {
			out = append(out, *u)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	total := len(out)

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, total, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, total, nil
}

func (m *MemoryRepository) Update(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[u.ID]; !ok {
		return errors.NotFound("user", u.ID.String())
	}
	stored := *u
	m.users[u.ID] = &stored
	return nil
}

var _ Repository = (*MemoryRepository)(nil)
