package donation

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

// Repository persists offers, eligibility, availability and the activity feed
type Repository interface {
	SaveOffer(ctx context.Context, o *Offer) error
	GetOffer(ctx context.Context, id types.ID) (*Offer, error)
	// UpdateOffer stores o if the stored version equals expectedVersion
	UpdateOffer(ctx context.Context, o *Offer, expectedVersion int) error
	ListOffers(ctx context.Context, filter OfferFilter) ([]Offer, error)

	GetEligibility(ctx context.Context, donorID types.ID) (*Eligibility, error)
	UpsertEligibility(ctx context.Context, e Eligibility) error

	SetAvailability(ctx context.Context, a Availability) error
	GetAvailability(ctx context.Context, donorID types.ID) (*Availability, error)

	AppendActivity(ctx context.Context, a Activity) error
	ListActivities(ctx context.Context, donorID types.ID, limit int) ([]Activity, error)
}

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new donation repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const offerColumns = `id, donor_id, donor_name, blood_type, status, hospital_id, hospital_name,
	created_at, updated_at, scheduled_date, completed_date, volume_ml, notes, version`

func (r *PostgresRepository) SaveOffer(ctx context.Context, o *Offer) error {
	query := `INSERT INTO bloodconnect.donation_offers (` + offerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1)`

	_, err := r.pool.Exec(ctx, query,
		o.ID, o.DonorID, o.DonorName, o.BloodType, o.Status, o.HospitalID, o.HospitalName,
		o.CreatedAt, o.UpdatedAt, o.ScheduledDate, o.CompletedDate, o.VolumeML, o.Notes,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return errors.Conflict("donation offer already exists")
		}
		return errors.Wrap(err, "failed to save donation offer")
	}
	o.Version = 1
	return nil
}

func (r *PostgresRepository) GetOffer(ctx context.Context, id types.ID) (*Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM bloodconnect.donation_offers WHERE id = $1`

	o, err := scanOffer(r.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("donation offer", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get donation offer")
	}
	return o, nil
}

func (r *PostgresRepository) UpdateOffer(ctx context.Context, o *Offer, expectedVersion int) error {
	query := `
		UPDATE bloodconnect.donation_offers SET
			status = $2, updated_at = $3, scheduled_date = $4, completed_date = $5,
			volume_ml = $6, notes = $7, version = version + 1
		WHERE id = $1 AND version = $8`

	tag, err := r.pool.Exec(ctx, query,
		o.ID, o.Status, o.UpdatedAt, o.ScheduledDate, o.CompletedDate, o.VolumeML, o.Notes, expectedVersion,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update donation offer")
	}
	if tag.RowsAffected() == 0 {
		var actual int
		err := r.pool.QueryRow(ctx, `SELECT version FROM bloodconnect.donation_offers WHERE id = $1`, o.ID).Scan(&actual)
		if err == pgx.ErrNoRows {
			return errors.NotFound("donation offer", o.ID.String())
		}
		if err != nil {
			return errors.Wrap(err, "failed to read donation offer version")
		}
		return errors.VersionConflict("donation offer", o.ID.String(), expectedVersion, actual)
	}
	o.Version = expectedVersion + 1
	return nil
}

func (r *PostgresRepository) ListOffers(ctx context.Context, filter OfferFilter) ([]Offer, error) {
	var conditions []string
	var args []any
	argNum := 1

	if !filter.HospitalID.IsZero() {
		conditions = append(conditions, fmt.Sprintf("hospital_id = $%d", argNum))
		args = append(args, filter.HospitalID)
		argNum++
	}
	if !filter.DonorID.IsZero() {
		conditions = append(conditions, fmt.Sprintf("donor_id = $%d", argNum))
		args = append(args, filter.DonorID)
		argNum++
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, *filter.Status)
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`SELECT %s FROM bloodconnect.donation_offers %s ORDER BY created_at DESC LIMIT $%d`,
		offerColumns, whereClause, argNum)
	args = append(args, filter.EffectiveLimit())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list donation offers")
	}
	defer rows.Close()

	var out []Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan donation offer")
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func scanOffer(row pgx.Row) (*Offer, error) {
	o := &Offer{}
	err := row.Scan(
		&o.ID, &o.DonorID, &o.DonorName, &o.BloodType, &o.Status, &o.HospitalID, &o.HospitalName,
		&o.CreatedAt, &o.UpdatedAt, &o.ScheduledDate, &o.CompletedDate, &o.VolumeML, &o.Notes, &o.Version,
	)
	if err != nil {
		return nil, err
	}
	if o.Notes == nil {
		o.Notes = []string{}
	}
	return o, nil
}

func (r *PostgresRepository) GetEligibility(ctx context.Context, donorID types.ID) (*Eligibility, error) {
	e := &Eligibility{}
	err := r.pool.QueryRow(ctx, `
		SELECT donor_id, donor_name, next_eligible_date, last_donation_date, total_donations
		FROM bloodconnect.donor_eligibility WHERE donor_id = $1`, donorID,
	).Scan(&e.DonorID, &e.DonorName, &e.NextEligibleDate, &e.LastDonationDate, &e.TotalDonations)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("donor eligibility", donorID.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get donor eligibility")
	}
	return e, nil
}

func (r *PostgresRepository) UpsertEligibility(ctx context.Context, e Eligibility) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO bloodconnect.donor_eligibility
			(donor_id, donor_name, next_eligible_date, last_donation_date, total_donations)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (donor_id) DO UPDATE SET
			donor_name = EXCLUDED.donor_name,
			next_eligible_date = EXCLUDED.next_eligible_date,
			last_donation_date = EXCLUDED.last_donation_date,
			total_donations = EXCLUDED.total_donations`,
		e.DonorID, e.DonorName, e.NextEligibleDate, e.LastDonationDate, e.TotalDonations,
	)
	if err != nil {
		return errors.Wrap(err, "failed to upsert donor eligibility")
	}
	return nil
}

func (r *PostgresRepository) SetAvailability(ctx context.Context, a Availability) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO bloodconnect.donor_availability (donor_id, available, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (donor_id) DO UPDATE SET available = EXCLUDED.available, updated_at = EXCLUDED.updated_at`,
		a.DonorID, a.Available, a.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to set donor availability")
	}
	return nil
}

func (r *PostgresRepository) GetAvailability(ctx context.Context, donorID types.ID) (*Availability, error) {
	a := &Availability{}
	err := r.pool.QueryRow(ctx,
		`SELECT donor_id, available, updated_at FROM bloodconnect.donor_availability WHERE donor_id = $1`, donorID,
	).Scan(&a.DonorID, &a.Available, &a.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("donor availability", donorID.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get donor availability")
	}
	return a, nil
}

func (r *PostgresRepository) AppendActivity(ctx context.Context, a Activity) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO bloodconnect.donation_activities (id, donor_id, hospital_id, offer_id, kind, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.DonorID, a.HospitalID, a.OfferID, a.Kind, a.Message, a.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to append activity")
	}
	return nil
}

func (r *PostgresRepository) ListActivities(ctx context.Context, donorID types.ID, limit int) ([]Activity, error) {
	query := `SELECT id, donor_id, hospital_id, offer_id, kind, message, created_at
		FROM bloodconnect.donation_activities`
	args := []any{}
	if !donorID.IsZero() {
		query += ` WHERE donor_id = $1`
		args = append(args, donorID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list activities")
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.DonorID, &a.HospitalID, &a.OfferID, &a.Kind, &a.Message, &a.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan activity")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

var _ Repository = (*PostgresRepository)(nil)
