package audit

import (
	"context"
	"sync"

	"github.com/bloodconnect/platform/internal/shared/errors"
	"github.com/bloodconnect/platform/internal/shared/types"
)

// MemoryRepository keeps the audit chain in process
type MemoryRepository struct {
	mu      sync.RWMutex
	entries []AuditEntry
	byID    map[types.ID]int
}

// NewMemoryRepository creates an empty chain
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[types.ID]int)}
}

// Initialize is a no-op for the in-memory chain
func (r *MemoryRepository) Initialize(ctx context.Context) error {
	return nil
}

func (r *MemoryRepository) Append(ctx context.Context, entry *AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := ""
	if n := len(r.entries); n > 0 {
		prev = r.entries[n-1].Hash
	}
	entry.Sequence = int64(len(r.entries) + 1)
	entry.chain(prev)

	r.byID[entry.ID] = len(r.entries)
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *MemoryRepository) FindByID(ctx context.Context, id types.ID) (*AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byID[id]
	if !ok {
		return nil, errors.NotFound("audit entry", id.String())
	}
	e := r.entries[i]
	return &e, nil
}

// List returns matching entries, newest first
func (r *MemoryRepository) List(ctx context.Context, filter ListEntriesFilter) ([]AuditEntry, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []AuditEntry
	for i := len(r.entries) - 1; i >= 0; i-- {
		if filter.Matches(&r.entries[i]) {
			matched = append(matched, r.entries[i])
		}
	}

	total := len(matched)
	offset := max(filter.Offset, 0)
	if offset >= total {
		return []AuditEntry{}, total, nil
	}
	matched = matched[offset:]
	if limit := filter.EffectiveLimit(); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func (r *MemoryRepository) GetByResource(ctx context.Context, resourceType, resourceID string, limit int) ([]AuditEntry, error) {
	entries, _, err := r.List(ctx, ListEntriesFilter{ResourceType: resourceType, ResourceID: resourceID, Limit: limit})
	return entries, err
}

func (r *MemoryRepository) VerifyChain(ctx context.Context, limit int, includeDetails bool) (*VerifyResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	start := 0
	if limit > 0 && len(r.entries) > limit {
		start = len(r.entries) - limit
	}
	window := make([]AuditEntry, len(r.entries)-start)
	copy(window, r.entries[start:])

	anchor := ""
	if start > 0 {
		anchor = r.entries[start-1].Hash
	}
	return verifyEntries(window, anchor, includeDetails), nil
}

func (r *MemoryRepository) GetLastHash() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n := len(r.entries); n > 0 {
		return r.entries[n-1].Hash
	}
	return ""
}

func (r *MemoryRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries), nil
}
