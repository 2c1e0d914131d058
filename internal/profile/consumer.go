package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Channel is the Pub/Sub channel carrying profile events.
const Channel = "profiles"

// Consumer applies profile events to the read-model.
type Consumer struct {
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
}

func NewConsumer(repo Repository, logger zerolog.Logger) *Consumer {
	return &Consumer{
		repo:   repo,
		logger: logger.With().Str("component", "profile_consumer").Logger(),
		now:    time.Now,
	}
}

// Handle decodes and applies one message. Unknown event types are ignored.
func (c *Consumer) Handle(ctx context.Context, payload []byte) error {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode profile event: %w", err)
	}
	if ev.ID == uuid.Nil {
		return fmt.Errorf("profile event %q without id", ev.Type)
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = c.now()
	}

	switch ev.Type {
	case EventDoctorCreated, EventDoctorUpdated:
		return c.repo.UpsertDoctor(ctx, DoctorSummary{
			ID:        ev.ID,
			Name:      ev.Name,
			Specialty: ev.Specialty,
			UpdatedAt: ev.OccurredAt,
		})
	case EventPatientCreated, EventPatientUpdated:
		return c.repo.UpsertPatient(ctx, PatientSummary{
			ID:        ev.ID,
			Name:      ev.Name,
			Email:     ev.Email,
			UpdatedAt: ev.OccurredAt,
		})
	default:
		c.logger.Debug().Str("type", ev.Type).Msg("ignoring profile event")
		return nil
	}
}

// Run consumes msgs until ctx is done or msgs is closed. A bad message is
// logged and skipped; it never stops the loop.
func (c *Consumer) Run(ctx context.Context, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-msgs:
			if !ok {
				return
			}
			hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := c.Handle(hctx, payload); err != nil {
				c.logger.Error().Err(err).Msg("failed to apply profile event")
			}
			cancel()
		}
	}
}
