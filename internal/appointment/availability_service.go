package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func requireDoctor(actor Actor, doctorID uuid.UUID) error {
	if actor.Role != RoleDoctor || actor.ID != doctorID {
		return fmt.Errorf("%w: only the doctor may manage this schedule", ErrAccessDenied)
	}
	return nil
}

// AddAvailability creates a weekly rule. Rules on the same weekday must not overlap.
func (s *Service) AddAvailability(ctx context.Context, doctorID uuid.UUID, day time.Weekday, start, end TimeOfDay, actor Actor) (*DoctorAvailability, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := requireDoctor(actor, doctorID); err != nil {
		return nil, err
	}
	if day < time.Sunday || day > time.Saturday {
		return nil, fmt.Errorf("%w: day of week %d", ErrValidation, day)
	}
	if start < 0 || end > NewTimeOfDay(24, 0) || start >= end {
		return nil, ErrInvalidRange
	}

	rule := &DoctorAvailability{
		ID:        uuid.New(),
		DoctorID:  doctorID,
		DayOfWeek: day,
		StartTime: start,
		EndTime:   end,
	}

	err := s.repo.WithScheduleLock(ctx, []uuid.UUID{doctorID}, func(ctx context.Context) error {
		existing, err := s.repo.ListAvailability(ctx, doctorID)
		if err != nil {
			return fmt.Errorf("load availability: %w", err)
		}
		for _, r := range existing {
			if ruleOverlaps(r, *rule) {
				return fmt.Errorf("%w: %s %s-%s", ErrOverlappingRule, r.DayOfWeek, r.StartTime, r.EndTime)
			}
		}
		return s.repo.InsertAvailability(ctx, rule)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Stringer("doctor_id", doctorID).
		Str("day", day.String()).
		Stringer("from", start).
		Stringer("to", end).
		Msg("availability rule added")
	return rule, nil
}

func (s *Service) DeleteAvailability(ctx context.Context, id uuid.UUID, actor Actor) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rule, err := s.repo.GetAvailability(ctx, id)
	if err != nil {
		return err
	}
	if err := requireDoctor(actor, rule.DoctorID); err != nil {
		return err
	}
	return s.repo.DeleteAvailability(ctx, id)
}

func (s *Service) ListAvailability(ctx context.Context, doctorID uuid.UUID) ([]DoctorAvailability, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.repo.ListAvailability(ctx, doctorID)
}

// AddUnavailability blocks [start, end) for the doctor. It is rejected while a
// SCHEDULED appointment overlaps the range; those must be resolved first.
func (s *Service) AddUnavailability(ctx context.Context, doctorID uuid.UUID, start, end time.Time, reason string, actor Actor) (*DoctorUnavailability, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := requireDoctor(actor, doctorID); err != nil {
		return nil, err
	}
	if !start.Before(end) {
		return nil, ErrInvalidRange
	}

	block := &DoctorUnavailability{
		ID:        uuid.New(),
		DoctorID:  doctorID,
		StartTime: start,
		EndTime:   end,
		Reason:    reason,
	}

	err := s.withDoctorLock(ctx, doctorID, func(ctx context.Context) error {
		return s.repo.WithScheduleLock(ctx, []uuid.UUID{doctorID}, func(ctx context.Context) error {
			conflict, err := s.repo.HasConflict(ctx, doctorID, start, end, nil)
			if err != nil {
				return err
			}
			if conflict {
				return ErrBlockHasAppointments
			}
			return s.repo.InsertUnavailability(ctx, block)
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Stringer("doctor_id", doctorID).
		Time("from", start).
		Time("to", end).
		Msg("unavailability added")
	return block, nil
}

func (s *Service) DeleteUnavailability(ctx context.Context, id uuid.UUID, actor Actor) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	block, err := s.repo.GetUnavailability(ctx, id)
	if err != nil {
		return err
	}
	if err := requireDoctor(actor, block.DoctorID); err != nil {
		return err
	}
	return s.repo.DeleteUnavailability(ctx, id)
}

func (s *Service) ListUnavailability(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]DoctorUnavailability, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if !from.Before(to) {
		return nil, ErrInvalidRange
	}
	return s.repo.ListUnavailability(ctx, doctorID, from, to)
}

// AvailableSlots lists bookable start times for the doctor on a civil date,
// stepping by duration through business hours. A slot is listed when it passes
// the lead time window, availability and conflict checks as of now.
func (s *Service) AvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time, duration time.Duration) ([]time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if duration == 0 {
		duration = s.rules.DefaultDuration
	}
	if duration <= 0 || duration%time.Minute != 0 {
		return nil, ErrInvalidDuration
	}

	dayStart, dayEnd := s.localDayOf(date)
	sched, err := s.loadSchedule(ctx, doctorID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	booked, err := s.repo.ListAppointmentsByDoctor(ctx, doctorID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}

	now := s.now()
	open, closing := s.rules.OpeningHours(dayStart)

	var slots []time.Time
	for start := open; !start.Add(duration).After(closing); start = start.Add(duration) {
		end := start.Add(duration)
		if s.rules.CheckLeadTime(start, now) != nil {
			continue
		}
		if !sched.IsCovered(start, end) {
			continue
		}
		if FirstConflict(booked, start, end, nil) != nil {
			continue
		}
		slots = append(slots, start)
	}
	return slots, nil
}
