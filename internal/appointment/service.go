package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/medical-appointment-scheduling/internal/config"
	"github.com/hackgods/medical-appointment-scheduling/internal/profile"
	redisclient "github.com/hackgods/medical-appointment-scheduling/internal/redis"
)

// Profiles resolves display data from the profile read-model. Implementations
// return a placeholder instead of failing.
type Profiles interface {
	Doctor(ctx context.Context, id uuid.UUID) profile.DoctorSummary
	Patient(ctx context.Context, id uuid.UUID) profile.PatientSummary
}

type Service struct {
	repo      Repository
	locker    redisclient.Locker
	publisher Publisher
	profiles  Profiles
	waitlist  *Matcher
	rules     BookingRules
	timeout   time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService wires the scheduling engine. locker may be nil, in which case
// writes are serialized by the repository lock alone.
func NewService(repo Repository, locker redisclient.Locker, publisher Publisher, profiles Profiles, cfg config.Config, logger zerolog.Logger) *Service {
	timeout := cfg.OperationTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	rules := NewBookingRules(cfg.Rules, cfg.Location())
	logger = logger.With().Str("component", "scheduling_engine").Logger()

	return &Service{
		repo:      repo,
		locker:    locker,
		publisher: publisher,
		profiles:  profiles,
		waitlist:  NewMatcher(repo, publisher, profiles, logger),
		rules:     rules,
		timeout:   timeout,
		logger:    logger,
		now:       time.Now,
	}
}

type CreateRequest struct {
	PatientID      uuid.UUID
	DoctorID       uuid.UUID
	Start          time.Time
	Duration       time.Duration
	Reason         string
	IdempotencyKey string // optional; a repeat with the same key returns the first booking
}

// CreateAppointment books a new SCHEDULED appointment. Checks run in a fixed
// order and the first violated rule is returned: business hours, lead time,
// daily limit, availability, conflict.
func (s *Service) CreateAppointment(ctx context.Context, req CreateRequest) (*Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if req.IdempotencyKey != "" {
		existing, err := s.repo.GetAppointmentByIdempotencyKey(ctx, req.PatientID, req.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrAppointmentNotFound) {
			return nil, fmt.Errorf("load appointment by idempotency key: %w", err)
		}
	}

	if req.Duration == 0 {
		req.Duration = s.rules.DefaultDuration
	}
	if req.Duration <= 0 || req.Duration%time.Minute != 0 {
		return nil, ErrInvalidDuration
	}

	start := req.Start
	end := start.Add(req.Duration)
	if err := s.checkBookingWindow(start, end); err != nil {
		return nil, err
	}

	appt := &Appointment{
		ID:        uuid.New(),
		DoctorID:  req.DoctorID,
		PatientID: req.PatientID,
		StartTime: start,
		Duration:  req.Duration,
		Status:    StatusScheduled,
		Reason:    req.Reason,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		appt.IdempotencyKey = &key
	}

	err := s.withDoctorLock(ctx, req.DoctorID, func(ctx context.Context) error {
		return s.repo.WithScheduleLock(ctx, []uuid.UUID{req.DoctorID, req.PatientID}, func(ctx context.Context) error {
			if err := s.checkDailyLimit(ctx, req.PatientID, start, nil); err != nil {
				return err
			}
			if err := s.checkAvailability(ctx, req.DoctorID, start, end); err != nil {
				return err
			}
			if err := s.checkConflict(ctx, req.DoctorID, start, end, nil); err != nil {
				return err
			}
			if err := s.repo.InsertAppointment(ctx, appt); err != nil {
				return fmt.Errorf("insert appointment: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateRequest) && req.IdempotencyKey != "" {
			if existing, lerr := s.repo.GetAppointmentByIdempotencyKey(ctx, req.PatientID, req.IdempotencyKey); lerr == nil {
				return existing, nil
			}
		}
		return nil, err
	}

	s.logger.Info().
		Stringer("appointment_id", appt.ID).
		Stringer("doctor_id", appt.DoctorID).
		Stringer("patient_id", appt.PatientID).
		Time("start", appt.StartTime).
		Msg("appointment scheduled")

	effects, done := s.sideEffectContext(ctx)
	defer done()
	s.emitStatusChanged(effects, appt, "", RolePatient, EventAppointmentCreated)
	s.scheduleReminder(effects, appt)

	return appt, nil
}

// RescheduleAppointment moves a SCHEDULED appointment to newStart, keeping its duration.
func (s *Service) RescheduleAppointment(ctx context.Context, id uuid.UUID, newStart time.Time, actor Actor) (*Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if err := Authorize(appt, actor, EventReschedule); err != nil {
		return nil, err
	}
	if appt.Status.Terminal() {
		return nil, fmt.Errorf("%w: appointment %s is %s", ErrInvalidStateTransition, appt.ID, appt.Status)
	}

	newEnd := newStart.Add(appt.Duration)
	if err := s.checkBookingWindow(newStart, newEnd); err != nil {
		return nil, err
	}

	var oldStart time.Time
	err = s.withDoctorLock(ctx, appt.DoctorID, func(ctx context.Context) error {
		return s.repo.WithScheduleLock(ctx, []uuid.UUID{appt.DoctorID, appt.PatientID}, func(ctx context.Context) error {
			current, err := s.repo.GetAppointmentByID(ctx, id)
			if err != nil {
				return fmt.Errorf("reload appointment: %w", err)
			}
			oldStart = current.StartTime

			if err := s.checkDailyLimit(ctx, current.PatientID, newStart, &current.ID); err != nil {
				return err
			}
			if err := s.checkAvailability(ctx, current.DoctorID, newStart, newEnd); err != nil {
				return err
			}
			if err := s.checkConflict(ctx, current.DoctorID, newStart, newEnd, &current.ID); err != nil {
				return err
			}
			if _, err := Transition(current, EventReschedule, actor, TransitionInput{NewStart: newStart}); err != nil {
				return err
			}
			if err := s.repo.UpdateAppointment(ctx, current, StatusScheduled); err != nil {
				return fmt.Errorf("update appointment: %w", err)
			}
			appt = current
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Stringer("appointment_id", appt.ID).
		Time("old_start", oldStart).
		Time("new_start", appt.StartTime).
		Str("actor_role", string(actor.Role)).
		Msg("appointment rescheduled")

	effects, done := s.sideEffectContext(ctx)
	defer done()
	s.emitStatusChanged(effects, appt, StatusScheduled, actor.Role, EventAppointmentRescheduled)
	s.scheduleReminder(effects, appt)
	if !oldStart.Equal(appt.StartTime) {
		s.waitlist.SlotFreed(effects, appt.DoctorID, s.civilDate(oldStart), appt.ID)
	}

	return appt, nil
}

// CancelAppointment moves a SCHEDULED appointment to CANCELED and offers the freed slot to the waitlist.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	old, err := Transition(appt, EventCancel, actor, TransitionInput{})
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateAppointment(ctx, appt, old); err != nil {
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	s.logger.Info().
		Stringer("appointment_id", appt.ID).
		Str("actor_role", string(actor.Role)).
		Msg("appointment canceled")

	effects, done := s.sideEffectContext(ctx)
	defer done()
	s.emitStatusChanged(effects, appt, old, actor.Role, EventAppointmentCanceled)
	s.cancelReminder(effects, appt)
	s.waitlist.SlotFreed(effects, appt.DoctorID, s.civilDate(appt.StartTime), appt.ID)

	return appt, nil
}

// CompleteAppointment is only allowed for the assigned doctor. The slot is
// already consumed, so the waitlist is not consulted.
func (s *Service) CompleteAppointment(ctx context.Context, id uuid.UUID, notes string, actor Actor) (*Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	old, err := Transition(appt, EventComplete, actor, TransitionInput{Notes: notes})
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateAppointment(ctx, appt, old); err != nil {
		return nil, fmt.Errorf("complete appointment: %w", err)
	}

	s.logger.Info().Stringer("appointment_id", appt.ID).Msg("appointment completed")

	effects, done := s.sideEffectContext(ctx)
	defer done()
	s.emitStatusChanged(effects, appt, old, actor.Role, EventAppointmentCompleted)

	return appt, nil
}

// GetAppointment returns an appointment to one of its parties.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if !isParty(appt, actor) {
		return nil, fmt.Errorf("%w: not a party to appointment %s", ErrAccessDenied, id)
	}
	return appt, nil
}

// ListAppointmentsByPatient retrieves appointments for a specific patient, newest first
func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	appointments, err := s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appointments, nil
}

// ListAppointmentsByDoctor returns the doctor's appointments starting on the given calendar date.
func (s *Service) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	from, to := s.localDayOf(date)
	appointments, err := s.repo.ListAppointmentsByDoctor(ctx, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return appointments, nil
}

// IsCovered reports whether the doctor works during [start, end) and has not blocked it.
func (s *Service) IsCovered(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sched, err := s.loadSchedule(ctx, doctorID, start, end)
	if err != nil {
		return false, err
	}
	return sched.IsCovered(start, end), nil
}

// HasConflict reports whether a SCHEDULED appointment overlaps [start, end).
// The answer is advisory; booking paths re-check under the doctor lock.
func (s *Service) HasConflict(ctx context.Context, doctorID uuid.UUID, start, end time.Time, exclude *uuid.UUID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.repo.HasConflict(ctx, doctorID, start, end, exclude)
}

func (s *Service) checkBookingWindow(start, end time.Time) error {
	if err := s.rules.CheckBusinessHours(start, end); err != nil {
		return err
	}
	return s.rules.CheckLeadTime(start, s.now())
}

func (s *Service) checkDailyLimit(ctx context.Context, patientID uuid.UUID, start time.Time, exclude *uuid.UUID) error {
	from, to := s.rules.DayBounds(start)
	n, err := s.repo.CountPatientAppointments(ctx, patientID, from, to, exclude)
	if err != nil {
		return err
	}
	if n >= s.rules.DailyPatientLimit {
		return fmt.Errorf("%w (%d per day)", ErrDailyLimitReached, s.rules.DailyPatientLimit)
	}
	return nil
}

func (s *Service) checkAvailability(ctx context.Context, doctorID uuid.UUID, start, end time.Time) error {
	sched, err := s.loadSchedule(ctx, doctorID, start, end)
	if err != nil {
		return err
	}
	if !sched.Covers(start, end) {
		return ErrDoctorNotAvailable
	}
	if sched.Blocked(start, end) {
		return ErrDoctorUnavailable
	}
	return nil
}

func (s *Service) checkConflict(ctx context.Context, doctorID uuid.UUID, start, end time.Time, exclude *uuid.UUID) error {
	conflict, err := s.repo.HasConflict(ctx, doctorID, start, end, exclude)
	if err != nil {
		return err
	}
	if conflict {
		return ErrSlotTaken
	}
	return nil
}

func (s *Service) loadSchedule(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (Schedule, error) {
	rules, err := s.repo.ListAvailability(ctx, doctorID)
	if err != nil {
		return Schedule{}, fmt.Errorf("load availability: %w", err)
	}
	blocks, err := s.repo.ListUnavailability(ctx, doctorID, start, end)
	if err != nil {
		return Schedule{}, fmt.Errorf("load unavailability: %w", err)
	}
	return Schedule{Rules: rules, Blocks: blocks, Location: s.rules.Location}, nil
}

// withDoctorLock runs fn under the distributed doctor lock. Contention is a
// retryable scheduling conflict; an unreachable lock service degrades to the
// database lock taken inside fn.
func (s *Service) withDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}

	ran := false
	err := s.locker.WithDoctorLock(ctx, doctorID, func(lockCtx context.Context) error {
		ran = true
		return fn(lockCtx)
	})
	if err == nil || ran {
		return err
	}
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrDoctorBusy
	}

	s.logger.Warn().Err(err).Stringer("doctor_id", doctorID).Msg("doctor lock unavailable, using database lock only")
	return fn(ctx)
}

// sideEffectContext detaches follow-up work from the caller's cancellation; the
// state change has committed and must not be undone by a client timeout.
func (s *Service) sideEffectContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
}

func (s *Service) emitStatusChanged(ctx context.Context, appt *Appointment, old AppointmentStatus, role Role, eventType string) {
	ev := StatusChangedEvent{
		AppointmentID:        appt.ID,
		PatientID:            appt.PatientID,
		DoctorID:             appt.DoctorID,
		OldStatus:            old,
		NewStatus:            appt.Status,
		AppointmentDateTime:  appt.StartTime,
		Notes:                appt.Notes,
		TriggeredByActorRole: role,
	}
	emitStatusChanged(ctx, s.repo, s.publisher, s.logger, ev, eventType)
}

func (s *Service) scheduleReminder(ctx context.Context, appt *Appointment) {
	if s.publisher == nil {
		return
	}
	reminderTime := appt.StartTime.Add(-Reminder24h.Lead())
	delay := reminderTime.Sub(s.now())
	if delay <= 0 {
		// a reminder queued for an earlier start must not fire
		s.cancelReminder(ctx, appt)
		return
	}

	err := s.publisher.ScheduleReminder(ctx, DelayedReminder{
		AppointmentID:       appt.ID,
		PatientID:           appt.PatientID,
		DoctorID:            appt.DoctorID,
		AppointmentDateTime: appt.StartTime,
		ReminderTime:        reminderTime,
		DelayMillis:         delay.Milliseconds(),
	})
	if err != nil {
		s.logger.Error().Err(err).Stringer("appointment_id", appt.ID).Msg("failed to schedule reminder")
	}
}

func (s *Service) cancelReminder(ctx context.Context, appt *Appointment) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.CancelReminder(ctx, appt.ID); err != nil {
		s.logger.Error().Err(err).Stringer("appointment_id", appt.ID).Msg("failed to cancel reminder")
	}
}

// civilDate is the clinic-local calendar date of t, as UTC midnight.
func (s *Service) civilDate(t time.Time) time.Time {
	return civilDate(t, s.rules.Location)
}

// localDayOf maps a civil date to the clinic-local [midnight, next midnight) range.
func (s *Service) localDayOf(date time.Time) (time.Time, time.Time) {
	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, s.rules.Location)
	return start, start.AddDate(0, 0, 1)
}

func civilDate(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, time.UTC)
}

// emitStatusChanged publishes the event and records it in the event log. Both
// are best-effort.
func emitStatusChanged(ctx context.Context, repo Repository, publisher Publisher, logger zerolog.Logger, ev StatusChangedEvent, eventType string) {
	if publisher != nil {
		if err := publisher.PublishStatusChanged(ctx, ev); err != nil {
			logger.Error().Err(err).
				Stringer("appointment_id", ev.AppointmentID).
				Str("new_status", string(ev.NewStatus)).
				Msg("failed to publish status change")
		}
	}
	logEvent(ctx, repo, logger, ev.AppointmentID, eventType, ev)
}

func logEvent(ctx context.Context, repo Repository, logger zerolog.Logger, appointmentID uuid.UUID, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := repo.InsertEvent(ctx, ev); err != nil {
		logger.Error().Err(err).
			Str("event_type", eventType).
			Stringer("appointment_id", appointmentID).
			Msg("failed to insert event log")
	}
}
