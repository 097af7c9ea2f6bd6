package hospital

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bloodconnect/platform/internal/shared/database"
	"github.com/bloodconnect/platform/internal/shared/errors"
	"github.com/bloodconnect/platform/internal/shared/types"
)

// Repository persists hospitals
type Repository interface {
	Create(ctx context.Context, h *Hospital) error
	Get(ctx context.Context, id types.ID) (*Hospital, error)
	List(ctx context.Context, filter ListFilter) ([]Hospital, error)
}

// PostgresRepository provides database operations for hospitals
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new hospital repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const hospitalColumns = `id, name, city, address_street, address_postal_code,
	address_lat, address_lng, contact_email, contact_phone, distance_km,
	status, created_at, updated_at`

// Create inserts a new hospital
func (r *PostgresRepository) Create(ctx context.Context, h *Hospital) error {
	query := `
		INSERT INTO bloodconnect.hospitals (` + hospitalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.pool.Exec(ctx, query,
		h.ID, h.Name, h.City, h.Address.Street, h.Address.PostalCode,
		h.Address.Lat, h.Address.Lng, h.Contact.Email, h.Contact.Phone, h.DistanceKm,
		h.Status, h.CreatedAt, h.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return errors.Conflict("hospital with this id already exists")
		}
		return errors.Wrap(err, "failed to create hospital")
	}
	return nil
}

// Get retrieves a hospital by id
func (r *PostgresRepository) Get(ctx context.Context, id types.ID) (*Hospital, error) {
	query := `SELECT ` + hospitalColumns + ` FROM bloodconnect.hospitals WHERE id = $1`

	h, err := scanHospital(r.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("hospital", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get hospital")
	}
	return h, nil
}

// List returns hospitals ordered by distance, then name
func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]Hospital, error) {
	var conditions []string
	var args []any
	argNum := 1

	if filter.City != "" {
		conditions = append(conditions, fmt.Sprintf("city ILIKE $%d", argNum))
		args = append(args, filter.City)
		argNum++
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, *filter.Status)
		argNum++
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR city ILIKE $%d)", argNum, argNum))
		args = append(args, "%"+filter.Search+"%")
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := `SELECT ` + hospitalColumns + ` FROM bloodconnect.hospitals ` + whereClause +
		` ORDER BY distance_km NULLS LAST, name`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list hospitals")
	}
	defer rows.Close()

	var out []Hospital
	for rows.Next() {
		h, err := scanHospital(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan hospital")
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

func scanHospital(row pgx.Row) (*Hospital, error) {
	h := &Hospital{}
	err := row.Scan(
		&h.ID, &h.Name, &h.City, &h.Address.Street, &h.Address.PostalCode,
		&h.Address.Lat, &h.Address.Lng, &h.Contact.Email, &h.Contact.Phone, &h.DistanceKm,
		&h.Status, &h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	h.Address.City = h.City
	return h, nil
}

var _ Repository = (*PostgresRepository)(nil)
