package profile

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Directory serves profile lookups to the scheduling engine. It never fails:
// a miss or a storage error yields a placeholder summary.
type Directory struct {
	repo    Repository
	logger  zerolog.Logger
	timeout time.Duration
}

func NewDirectory(repo Repository, logger zerolog.Logger) *Directory {
	return &Directory{
		repo:    repo,
		logger:  logger.With().Str("component", "profile_directory").Logger(),
		timeout: time.Second,
	}
}

func (d *Directory) Doctor(ctx context.Context, id uuid.UUID) DoctorSummary {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	doc, err := d.repo.GetDoctor(ctx, id)
	if err != nil {
		d.logMiss(err, "doctor", id)
		return DoctorSummary{ID: id, Name: Placeholder}
	}
	return *doc
}

func (d *Directory) Patient(ctx context.Context, id uuid.UUID) PatientSummary {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	p, err := d.repo.GetPatient(ctx, id)
	if err != nil {
		d.logMiss(err, "patient", id)
		return PatientSummary{ID: id, Name: Placeholder}
	}
	return *p
}

func (d *Directory) logMiss(err error, kind string, id uuid.UUID) {
	if errors.Is(err, ErrProfileNotFound) {
		d.logger.Debug().Str("kind", kind).Stringer("id", id).Msg("profile not in read-model yet")
		return
	}
	d.logger.Warn().Err(err).Str("kind", kind).Stringer("id", id).Msg("profile lookup failed")
}
