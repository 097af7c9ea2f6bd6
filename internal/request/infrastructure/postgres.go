package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bloodconnect/platform/internal/request/domain"
	"github.com/bloodconnect/platform/internal/shared/database"
	"github.com/bloodconnect/platform/internal/shared/errors"
	"github.com/bloodconnect/platform/internal/shared/metrics"
	"github.com/bloodconnect/platform/internal/shared/types"
)

// PostgresRepository implements domain.Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const requestColumns = `
	id, patient_id, patient_name, blood_type, units, priority,
	assigned_hospital_id, assigned_hospital_name,
	status, reason, emergency_reason, doctor_contact,
	rejection_reason, rejection_notes,
	submitted_at, last_updated, approved_at, rejected_at, completed_at, cancelled_at,
	version`

// Save saves a new request and its timeline
func (r *PostgresRepository) Save(ctx context.Context, req *domain.Request) error {
	defer observe("request_save", time.Now())

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	query := `INSERT INTO bloodconnect.blood_requests (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, 1)`

	_, err = tx.Exec(ctx, query,
		req.ID, req.PatientID, req.PatientName, req.BloodType, req.Units, req.Priority,
		req.AssignedHospitalID, req.AssignedHospitalName,
		req.Status, req.Reason, req.EmergencyReason, req.DoctorContact,
		req.RejectionReason, req.RejectionNotes,
		req.SubmittedAt, req.LastUpdated, req.ApprovedAt, req.RejectedAt, req.CompletedAt, req.CancelledAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateID, req.ID)
		}
		return errors.Wrap(err, "failed to save request")
	}

	if err := saveEvents(ctx, tx, req.Events); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	req.Version = 1
	return nil
}

// FindByID finds a request by id, including its timeline
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*domain.Request, error) {
	defer observe("request_find", time.Now())

	query := `SELECT ` + requestColumns + ` FROM bloodconnect.blood_requests WHERE id = $1`

	req, err := scanRequest(r.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("request", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find request")
	}

	events, err := r.getEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	req.Events = events

	return req, nil
}

// Update writes the request if the stored version still equals
// expectedVersion. New timeline entries are appended in the same transaction.
func (r *PostgresRepository) Update(ctx context.Context, req *domain.Request, expectedVersion int) error {
	defer observe("request_update", time.Now())

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE bloodconnect.blood_requests SET
			status = $2, rejection_reason = $3, rejection_notes = $4,
			last_updated = $5, approved_at = $6, rejected_at = $7, completed_at = $8, cancelled_at = $9,
			version = version + 1
		WHERE id = $1 AND version = $10`

	result, err := tx.Exec(ctx, query,
		req.ID, req.Status, req.RejectionReason, req.RejectionNotes,
		req.LastUpdated, req.ApprovedAt, req.RejectedAt, req.CompletedAt, req.CancelledAt,
		expectedVersion,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update request")
	}

	if result.RowsAffected() == 0 {
		var actual int
		err := tx.QueryRow(ctx, `SELECT version FROM bloodconnect.blood_requests WHERE id = $1`, req.ID).Scan(&actual)
		if err == pgx.ErrNoRows {
			return errors.NotFound("request", req.ID)
		}
		if err != nil {
			return errors.Wrap(err, "failed to read request version")
		}
		return errors.VersionConflict("request", req.ID, expectedVersion, actual)
	}

	if err := saveEvents(ctx, tx, newEvents(ctx, tx, req)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	req.Version = expectedVersion + 1
	return nil
}

// List lists requests with filters
func (r *PostgresRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Request, int, error) {
	return r.listRequests(ctx, filter, "", nil)
}

// FindByHospital lists requests assigned to a hospital
func (r *PostgresRepository) FindByHospital(ctx context.Context, hospitalID types.ID, filter domain.ListFilter) ([]domain.Request, int, error) {
	return r.listRequests(ctx, filter, "assigned_hospital_id = $%d", hospitalID)
}

func (r *PostgresRepository) listRequests(ctx context.Context, filter domain.ListFilter, extraCondition string, extraArg interface{}) ([]domain.Request, int, error) {
	defer observe("request_list", time.Now())

	var conditions []string
	var args []interface{}
	argNum := 1

	if extraCondition != "" {
		conditions = append(conditions, fmt.Sprintf(extraCondition, argNum))
		args = append(args, extraArg)
		argNum++
	}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, *filter.Status)
		argNum++
	}

	if filter.Priority != nil {
		conditions = append(conditions, fmt.Sprintf("priority = $%d", argNum))
		args = append(args, *filter.Priority)
		argNum++
	}

	if filter.BloodType != "" {
		conditions = append(conditions, fmt.Sprintf("blood_type = $%d", argNum))
		args = append(args, filter.BloodType)
		argNum++
	}

	if !filter.PatientID.IsZero() {
		conditions = append(conditions, fmt.Sprintf("patient_id = $%d", argNum))
		args = append(args, filter.PatientID)
		argNum++
	}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(id ILIKE $%d OR patient_name ILIKE $%d)", argNum, argNum))
		args = append(args, "%"+filter.Search+"%")
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM bloodconnect.blood_requests %s", whereClause)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count requests")
	}

	query := fmt.Sprintf(`SELECT %s FROM bloodconnect.blood_requests %s
		ORDER BY submitted_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, requestColumns, whereClause, argNum, argNum+1)
	args = append(args, filter.EffectiveLimit(), filter.EffectiveOffset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list requests")
	}
	defer rows.Close()

	requests := []domain.Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan request")
		}
		requests = append(requests, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "failed to iterate requests")
	}

	return requests, total, nil
}

func scanRequest(row pgx.Row) (*domain.Request, error) {
	req := &domain.Request{}
	err := row.Scan(
		&req.ID, &req.PatientID, &req.PatientName, &req.BloodType, &req.Units, &req.Priority,
		&req.AssignedHospitalID, &req.AssignedHospitalName,
		&req.Status, &req.Reason, &req.EmergencyReason, &req.DoctorContact,
		&req.RejectionReason, &req.RejectionNotes,
		&req.SubmittedAt, &req.LastUpdated, &req.ApprovedAt, &req.RejectedAt, &req.CompletedAt, &req.CancelledAt,
		&req.Version,
	)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// --- Timeline ---

func saveEvents(ctx context.Context, tx pgx.Tx, events []domain.RequestEvent) error {
	for _, e := range events {
		data, err := json.Marshal(e.Data)
		if err != nil {
			return errors.Wrap(err, "failed to marshal event data")
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO bloodconnect.request_events (
				id, request_id, type, actor_id, actor_type, description, data, timestamp
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING`,
			e.ID, e.RequestID, e.Type, e.ActorID, e.ActorType, e.Description, data, e.Timestamp,
		)
		if err != nil {
			return errors.Wrap(err, "failed to save request event")
		}
	}
	return nil
}

// newEvents returns the timeline entries not yet stored. Requests only
// ever append to their timeline, so the stored count is the split point.
func newEvents(ctx context.Context, tx pgx.Tx, req *domain.Request) []domain.RequestEvent {
	var stored int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM bloodconnect.request_events WHERE request_id = $1`, req.ID).Scan(&stored); err != nil {
		return req.Events
	}
	if stored >= len(req.Events) {
		return nil
	}
	return req.Events[stored:]
}

func (r *PostgresRepository) getEvents(ctx context.Context, requestID string) ([]domain.RequestEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, request_id, type, actor_id, actor_type, description, data, timestamp
		FROM bloodconnect.request_events
		WHERE request_id = $1
		ORDER BY seq`, requestID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get request events")
	}
	defer rows.Close()

	var events []domain.RequestEvent
	for rows.Next() {
		var e domain.RequestEvent
		var data []byte
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Type, &e.ActorID, &e.ActorType, &e.Description, &data, &e.Timestamp); err != nil {
			return nil, errors.Wrap(err, "failed to scan request event")
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &e.Data)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func observe(operation string, start time.Time) {
	metrics.RecordDBQuery(operation, time.Since(start))
}

var _ domain.Repository = (*PostgresRepository)(nil)
