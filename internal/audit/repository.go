package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bloodconnect/platform/internal/shared/errors"
	"github.com/bloodconnect/platform/internal/shared/types"
)

const entryColumns = `id, sequence, timestamp, hash, prev_hash,
	actor_type, actor_id, actor_hospital,
	action, resource_type, resource_id,
	changes, correlation_id, event_id`

// Repository stores the audit chain in PostgreSQL
type Repository struct {
	pool     *pgxpool.Pool
	mu       sync.Mutex
	lastHash string
}

// NewRepository creates a new audit repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Initialize loads the last hash from the database
func (r *Repository) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var hash string
	err := r.pool.QueryRow(ctx, `
		SELECT hash FROM bloodconnect.audit_entries
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&hash)
	if err != nil && err != pgx.ErrNoRows {
		return errors.Wrap(err, "failed to get last audit hash")
	}

	r.lastHash = hash
	return nil
}

// Append links entry to the head and inserts it. Appends are serialised so
// the chain never forks.
func (r *Repository) Append(ctx context.Context, entry *AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry.chain(r.lastHash)

	changesJSON, err := json.Marshal(entry.Changes)
	if err != nil {
		return errors.Wrap(err, "failed to marshal changes")
	}

	err = r.pool.QueryRow(ctx, `
		INSERT INTO bloodconnect.audit_entries (
			id, timestamp, hash, prev_hash,
			actor_type, actor_id, actor_hospital,
			action, resource_type, resource_id,
			changes, correlation_id, event_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING sequence`,
		entry.ID, entry.Timestamp, entry.Hash, entry.PrevHash,
		entry.ActorType, entry.ActorID.String(), entry.ActorHospital.String(),
		entry.Action, entry.ResourceType, entry.ResourceID,
		changesJSON, entry.CorrelationID, entry.EventID,
	).Scan(&entry.Sequence)
	if err != nil {
		return errors.Wrap(err, "failed to append audit entry")
	}

	r.lastHash = entry.Hash
	return nil
}

// List returns matching entries, newest first
func (r *Repository) List(ctx context.Context, filter ListEntriesFilter) ([]AuditEntry, int, error) {
	var conditions []string
	var args []interface{}
	argNum := 1

	add := func(cond string, arg any) {
		conditions = append(conditions, fmt.Sprintf(cond, argNum))
		args = append(args, arg)
		argNum++
	}

	if !filter.ActorID.IsZero() {
		add("actor_id = $%d", filter.ActorID.String())
	}
	if filter.ActorType != "" {
		add("actor_type = $%d", filter.ActorType)
	}
	if filter.Action != "" {
		add("action LIKE $%d", filter.Action+"%")
	}
	if filter.ResourceType != "" {
		add("resource_type = $%d", filter.ResourceType)
	}
	if filter.ResourceID != "" {
		add("resource_id = $%d", filter.ResourceID)
	}
	if filter.StartTime != nil {
		add("timestamp >= $%d", *filter.StartTime)
	}
	if filter.EndTime != nil {
		add("timestamp <= $%d", *filter.EndTime)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM bloodconnect.audit_entries %s", whereClause)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count audit entries")
	}

	query := fmt.Sprintf(`SELECT %s FROM bloodconnect.audit_entries %s
		ORDER BY sequence DESC
		LIMIT $%d OFFSET $%d`, entryColumns, whereClause, argNum, argNum+1)
	args = append(args, filter.EffectiveLimit(), max(filter.Offset, 0))

	entries, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (r *Repository) query(ctx context.Context, query string, args ...any) ([]AuditEntry, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query audit entries")
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func scanEntry(row pgx.Row) (*AuditEntry, error) {
	var e AuditEntry
	var actorID, actorHospital string
	var changesJSON []byte

	err := row.Scan(
		&e.ID, &e.Sequence, &e.Timestamp, &e.Hash, &e.PrevHash,
		&e.ActorType, &actorID, &actorHospital,
		&e.Action, &e.ResourceType, &e.ResourceID,
		&changesJSON, &e.CorrelationID, &e.EventID,
	)
	if err != nil {
		return nil, err
	}
	e.ActorID = types.ID(actorID)
	e.ActorHospital = types.ID(actorHospital)
	if len(changesJSON) > 0 {
		if err := json.Unmarshal(changesJSON, &e.Changes); err != nil {
			e.Changes = nil
		}
	}
	return &e, nil
}

// FindByID finds an audit entry by ID
func (r *Repository) FindByID(ctx context.Context, id types.ID) (*AuditEntry, error) {
	row := r.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM bloodconnect.audit_entries WHERE id = $1", entryColumns), id)
	e, err := scanEntry(row)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("audit entry", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find audit entry")
	}
	return e, nil
}

// GetByResource gets the entries for one resource, newest first
func (r *Repository) GetByResource(ctx context.Context, resourceType, resourceID string, limit int) ([]AuditEntry, error) {
	entries, _, err := r.List(ctx, ListEntriesFilter{ResourceType: resourceType, ResourceID: resourceID, Limit: limit})
	return entries, err
}

// VerifyChain verifies the most recent limit entries. Content is checked by
// recomputing each hash, linkage by comparing prev_hash with the previous
// entry's hash.
func (r *Repository) VerifyChain(ctx context.Context, limit int, includeDetails bool) (*VerifyResult, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	// one extra row anchors the oldest entry in the window
	entries, err := r.query(ctx,
		fmt.Sprintf("SELECT %s FROM bloodconnect.audit_entries ORDER BY sequence DESC LIMIT $1", entryColumns), limit+1)
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	anchor := ""
	if len(entries) > limit {
		anchor = entries[0].Hash
		entries = entries[1:]
	}
	return verifyEntries(entries, anchor, includeDetails), nil
}

func (r *Repository) GetLastHash() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastHash
}

func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM bloodconnect.audit_entries").Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count audit entries")
	}
	return n, nil
}
