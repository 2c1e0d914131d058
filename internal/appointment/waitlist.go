package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Matcher hands a freed slot to the oldest waitlisted patient for the same doctor and date.
type Matcher struct {
	repo      Repository
	publisher Publisher
	profiles  Profiles
	logger    zerolog.Logger
}

func NewMatcher(repo Repository, publisher Publisher, profiles Profiles, logger zerolog.Logger) *Matcher {
	return &Matcher{
		repo:      repo,
		publisher: publisher,
		profiles:  profiles,
		logger:    logger.With().Str("component", "waitlist").Logger(),
	}
}

// SlotFreed notifies at most one patient. date is a civil date at UTC midnight.
// If the notification cannot be sent the entry goes back with its original
// position so the patient is not silently dropped.
func (m *Matcher) SlotFreed(ctx context.Context, doctorID uuid.UUID, date time.Time, freedBy uuid.UUID) {
	entry, err := m.repo.PopWaitlistEntry(ctx, doctorID, date)
	if err != nil {
		if !errors.Is(err, ErrWaitlistEntryNotFound) {
			m.logger.Error().Err(err).Stringer("doctor_id", doctorID).Msg("failed to pop waitlist entry")
		}
		return
	}

	ev := SlotAvailableEvent{
		PatientID:    entry.PatientID,
		DoctorID:     entry.DoctorID,
		Date:         entry.Date.Format(time.DateOnly),
		PatientName:  entry.PatientName,
		PatientEmail: entry.PatientEmail,
		DoctorName:   m.doctorName(ctx, doctorID),
	}

	if m.publisher != nil {
		if err := m.publisher.PublishSlotAvailable(ctx, ev); err != nil {
			m.logger.Error().Err(err).
				Stringer("entry_id", entry.ID).
				Stringer("patient_id", entry.PatientID).
				Msg("failed to notify waitlisted patient, restoring entry")
			if rerr := m.repo.InsertWaitlistEntry(ctx, entry); rerr != nil {
				m.logger.Error().Err(rerr).Stringer("entry_id", entry.ID).Msg("failed to restore waitlist entry")
			}
			return
		}
	}

	m.logger.Info().
		Stringer("doctor_id", doctorID).
		Stringer("patient_id", entry.PatientID).
		Str("date", ev.Date).
		Msg("waitlisted patient notified")
	logEvent(ctx, m.repo, m.logger, freedBy, EventWaitlistNotified, ev)
}

func (m *Matcher) doctorName(ctx context.Context, doctorID uuid.UUID) string {
	if m.profiles == nil {
		return ""
	}
	return m.profiles.Doctor(ctx, doctorID).Name
}

// JoinWaitlist enrolls the patient for any slot with the doctor on date. The
// waitlist is for full days, so a date that still has bookable slots is refused.
// Entries never expire.
func (s *Service) JoinWaitlist(ctx context.Context, patientID, doctorID uuid.UUID, date time.Time) (*WaitlistEntry, error) {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)

	slots, err := s.AvailableSlots(ctx, doctorID, day, 0)
	if err != nil {
		return nil, err
	}
	if len(slots) > 0 {
		return nil, fmt.Errorf("%w (%d open)", ErrSlotsStillOpen, len(slots))
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	entry := &WaitlistEntry{
		ID:        uuid.New(),
		DoctorID:  doctorID,
		PatientID: patientID,
		Date:      day,
	}
	if s.profiles != nil {
		p := s.profiles.Patient(ctx, patientID)
		entry.PatientName = p.Name
		entry.PatientEmail = p.Email
	}

	if err := s.repo.InsertWaitlistEntry(ctx, entry); err != nil {
		return nil, err
	}

	s.logger.Info().
		Stringer("doctor_id", doctorID).
		Stringer("patient_id", patientID).
		Str("date", day.Format(time.DateOnly)).
		Msg("patient joined waitlist")
	return entry, nil
}

// LeaveWaitlist removes an entry. Only the enrolled patient or the doctor may do so.
func (s *Service) LeaveWaitlist(ctx context.Context, entryID uuid.UUID, actor Actor) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	entry, err := s.repo.GetWaitlistEntry(ctx, entryID)
	if err != nil {
		return err
	}
	owner := (actor.Role == RolePatient && actor.ID == entry.PatientID) ||
		(actor.Role == RoleDoctor && actor.ID == entry.DoctorID)
	if !owner {
		return fmt.Errorf("%w: not enrolled in waitlist entry %s", ErrAccessDenied, entryID)
	}
	return s.repo.DeleteWaitlistEntry(ctx, entryID)
}

// ListWaitlist returns the queue for (doctor, date) in notification order.
func (s *Service) ListWaitlist(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]WaitlistEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	return s.repo.ListWaitlist(ctx, doctorID, day)
}
