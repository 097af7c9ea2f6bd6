package audit

import (
	"context"

	"github.com/bloodconnect/platform/internal/shared/types"
)

// AuditRepository stores the append-only audit chain. Append assigns the
// sequence number and links the entry to the current head.
type AuditRepository interface {
	// Initialize loads the current head of the chain
	Initialize(ctx context.Context) error

	Append(ctx context.Context, entry *AuditEntry) error
	FindByID(ctx context.Context, id types.ID) (*AuditEntry, error)
	List(ctx context.Context, filter ListEntriesFilter) ([]AuditEntry, int, error)
	GetByResource(ctx context.Context, resourceType, resourceID string, limit int) ([]AuditEntry, error)

	// VerifyChain checks the most recent limit entries
	VerifyChain(ctx context.Context, limit int, includeDetails bool) (*VerifyResult, error)

	// GetLastHash returns the hash at the head of the chain
	GetLastHash() string
	Count(ctx context.Context) (int, error)
}

var (
	_ AuditRepository = (*MemoryRepository)(nil)
	_ AuditRepository = (*Repository)(nil)
)
