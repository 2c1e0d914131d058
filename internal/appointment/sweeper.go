package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/medical-appointment-scheduling/internal/config"
)

const noShowBatchSize = 500

// Sweeper runs the periodic reminder and no-show passes. Both are safe to run
// concurrently on several instances: each row is claimed with a conditional
// update before anything is published.
type Sweeper struct {
	repo      Repository
	publisher Publisher
	profiles  Profiles
	rules     config.Rules
	logger    zerolog.Logger
}

func NewSweeper(repo Repository, publisher Publisher, profiles Profiles, rules config.Rules, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		repo:      repo,
		publisher: publisher,
		profiles:  profiles,
		rules:     rules,
		logger:    logger.With().Str("component", "sweeper").Logger(),
	}
}

type ReminderResult struct {
	Sent24h int
	Sent1h  int
	Failed  int
}

// RunReminders sends every reminder whose window (lead ± ReminderWindow) contains now.
func (s *Sweeper) RunReminders(ctx context.Context, now time.Time) (ReminderResult, error) {
	var res ReminderResult
	for _, kind := range []ReminderKind{Reminder24h, Reminder1h} {
		sent, failed, err := s.sendReminders(ctx, kind, now)
		res.Failed += failed
		if kind == Reminder24h {
			res.Sent24h = sent
		} else {
			res.Sent1h = sent
		}
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

func (s *Sweeper) sendReminders(ctx context.Context, kind ReminderKind, now time.Time) (int, int, error) {
	target := now.Add(kind.Lead())
	from := target.Add(-s.rules.ReminderWindow)
	to := target.Add(s.rules.ReminderWindow)

	candidates, err := s.repo.FindReminderCandidates(ctx, kind, from, to)
	if err != nil {
		return 0, 0, fmt.Errorf("find %s reminder candidates: %w", kind, err)
	}
	if len(candidates) == 0 {
		return 0, 0, nil
	}

	ids := make([]uuid.UUID, 0, len(candidates))
	byID := make(map[uuid.UUID]Appointment, len(candidates))
	for _, a := range candidates {
		ids = append(ids, a.ID)
		byID[a.ID] = a
	}

	claimed, err := s.repo.ClaimReminders(ctx, kind, ids)
	if err != nil {
		return 0, 0, err
	}

	sent, failed := 0, 0
	for _, id := range claimed {
		a := byID[id]
		ev := ReminderEvent{
			Kind:                kind,
			AppointmentID:       a.ID,
			PatientID:           a.PatientID,
			DoctorID:            a.DoctorID,
			AppointmentDateTime: a.StartTime,
		}
		if s.profiles != nil {
			ev.PatientName = s.profiles.Patient(ctx, a.PatientID).Name
			ev.DoctorName = s.profiles.Doctor(ctx, a.DoctorID).Name
		}

		if s.publisher != nil {
			if err := s.publisher.PublishReminder(ctx, ev); err != nil {
				failed++
				s.logger.Error().Err(err).Stringer("appointment_id", a.ID).Str("kind", string(kind)).Msg("failed to publish reminder")
				// unclaim so the next pass inside the window retries it
				if rerr := s.repo.ReleaseReminder(ctx, kind, a.ID); rerr != nil {
					s.logger.Error().Err(rerr).Stringer("appointment_id", a.ID).Msg("failed to release reminder claim")
				}
				continue
			}
		}

		sent++
		logEvent(ctx, s.repo, s.logger, a.ID, EventReminderSent, ev)
	}

	return sent, failed, nil
}

// RunNoShows closes every SCHEDULED appointment that started more than the
// no-show tolerance before now. It returns how many it closed.
func (s *Sweeper) RunNoShows(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.rules.NoShowTolerance)
	total := 0

	for {
		overdue, err := s.repo.FindOverdueScheduled(ctx, cutoff, noShowBatchSize)
		if err != nil {
			return total, fmt.Errorf("find overdue appointments: %w", err)
		}
		if len(overdue) == 0 {
			return total, nil
		}

		batch := make([]Appointment, 0, len(overdue))
		for _, a := range overdue {
			if _, err := Transition(&a, EventNoShow, SystemActor, TransitionInput{Now: now, NoShowTolerance: s.rules.NoShowTolerance}); err != nil {
				s.logger.Warn().Err(err).Stringer("appointment_id", a.ID).Msg("skipping no-show transition")
				continue
			}
			batch = append(batch, a)
		}
		if len(batch) == 0 {
			return total, nil
		}

		saved, err := s.repo.SaveNoShows(ctx, batch)
		total += len(saved)
		for i := range saved {
			a := &saved[i]
			emitStatusChanged(ctx, s.repo, s.publisher, s.logger, StatusChangedEvent{
				AppointmentID:        a.ID,
				PatientID:            a.PatientID,
				DoctorID:             a.DoctorID,
				OldStatus:            StatusScheduled,
				NewStatus:            a.Status,
				AppointmentDateTime:  a.StartTime,
				Notes:                a.Notes,
				TriggeredByActorRole: RoleSystem,
			}, EventAppointmentNoShow)
		}
		if err != nil {
			return total, err
		}
		if len(saved) == 0 || len(overdue) < noShowBatchSize {
			return total, nil
		}
	}
}

// NextAlignedRun returns the first wall-clock multiple of every strictly after now.
func NextAlignedRun(now time.Time, every time.Duration) time.Time {
	next := now.Truncate(every).Add(every)
	if !next.After(now) {
		next = next.Add(every)
	}
	return next
}
