package profile

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrProfileNotFound = errors.New("profile not found")

type Repository interface {
	UpsertDoctor(ctx context.Context, d DoctorSummary) error
	UpsertPatient(ctx context.Context, p PatientSummary) error
	GetDoctor(ctx context.Context, id uuid.UUID) (*DoctorSummary, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*PatientSummary, error)
}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// UpsertDoctor ignores events older than the stored row so redelivered or
// reordered events cannot roll a profile back.
func (r *PgRepository) UpsertDoctor(ctx context.Context, d DoctorSummary) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO doctor_summaries (id, name, specialty, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    specialty = EXCLUDED.specialty,
		    updated_at = EXCLUDED.updated_at
		WHERE doctor_summaries.updated_at <= EXCLUDED.updated_at
	`, d.ID, d.Name, d.Specialty, d.UpdatedAt)
	return err
}

func (r *PgRepository) UpsertPatient(ctx context.Context, p PatientSummary) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO patient_summaries (id, name, email, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    email = EXCLUDED.email,
		    updated_at = EXCLUDED.updated_at
		WHERE patient_summaries.updated_at <= EXCLUDED.updated_at
	`, p.ID, p.Name, p.Email, p.UpdatedAt)
	return err
}

func (r *PgRepository) GetDoctor(ctx context.Context, id uuid.UUID) (*DoctorSummary, error) {
	var d DoctorSummary
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, updated_at
		FROM doctor_summaries
		WHERE id = $1
	`, id).Scan(&d.ID, &d.Name, &d.Specialty, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *PgRepository) GetPatient(ctx context.Context, id uuid.UUID) (*PatientSummary, error) {
	var p PatientSummary
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, email, updated_at
		FROM patient_summaries
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Email, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return &p, nil
}
