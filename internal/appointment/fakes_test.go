package appointment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/medical-appointment-scheduling/internal/config"
	"github.com/hackgods/medical-appointment-scheduling/internal/logging"
	"github.com/hackgods/medical-appointment-scheduling/internal/profile"
	redisclient "github.com/hackgods/medical-appointment-scheduling/internal/redis"
)

// memRepository is an in-memory Repository. It enforces the same storage
// guards as the Postgres schema: no overlapping SCHEDULED appointments per
// doctor and one waitlist entry per (patient, doctor, date).
type memRepository struct {
	schedMu sync.Mutex
	mu      sync.Mutex

	appts    map[uuid.UUID]Appointment
	rules    []DoctorAvailability
	blocks   []DoctorUnavailability
	waitlist []WaitlistEntry
	events   []EventLog
	seq      int

	insertErr error
}

func newMemRepository() *memRepository {
	return &memRepository{appts: make(map[uuid.UUID]Appointment)}
}

func (r *memRepository) tick() time.Time {
	r.seq++
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(r.seq) * time.Millisecond)
}

func (r *memRepository) WithScheduleLock(ctx context.Context, keys []uuid.UUID, fn func(ctx context.Context) error) error {
	r.schedMu.Lock()
	defer r.schedMu.Unlock()
	return fn(ctx)
}

func (r *memRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *memRepository) GetAppointmentByIdempotencyKey(ctx context.Context, patientID uuid.UUID, key string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.appts {
		if a.PatientID == patientID && a.IdempotencyKey != nil && *a.IdempotencyKey == key {
			return &a, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *memRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appts {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepository) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appts {
		if a.DoctorID == doctorID && !a.StartTime.Before(from) && a.StartTime.Before(to) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (r *memRepository) doctorAppointments(doctorID uuid.UUID) []Appointment {
	var out []Appointment
	for _, a := range r.appts {
		if a.DoctorID == doctorID {
			out = append(out, a)
		}
	}
	return out
}

func (r *memRepository) InsertAppointment(ctx context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	if a.IdempotencyKey != nil {
		for _, other := range r.appts {
			if other.PatientID == a.PatientID && other.IdempotencyKey != nil && *other.IdempotencyKey == *a.IdempotencyKey {
				return ErrDuplicateRequest
			}
		}
	}
	if FirstConflict(r.doctorAppointments(a.DoctorID), a.StartTime, a.EndTime(), nil) != nil {
		return ErrSlotTaken
	}
	a.CreatedAt = r.tick()
	a.UpdatedAt = a.CreatedAt
	r.appts[a.ID] = *a
	return nil
}

func (r *memRepository) UpdateAppointment(ctx context.Context, a *Appointment, from AppointmentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.appts[a.ID]
	if !ok {
		return ErrAppointmentNotFound
	}
	if stored.Status != from {
		return fmt.Errorf("%w: appointment %s is %s", ErrInvalidStateTransition, a.ID, stored.Status)
	}
	if a.Status == StatusScheduled && FirstConflict(r.doctorAppointments(a.DoctorID), a.StartTime, a.EndTime(), &a.ID) != nil {
		return ErrSlotTaken
	}
	a.UpdatedAt = r.tick()
	r.appts[a.ID] = *a
	return nil
}

func (r *memRepository) HasConflict(ctx context.Context, doctorID uuid.UUID, start, end time.Time, exclude *uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return FirstConflict(r.doctorAppointments(doctorID), start, end, exclude) != nil, nil
}

func (r *memRepository) CountPatientAppointments(ctx context.Context, patientID uuid.UUID, from, to time.Time, exclude *uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.appts {
		if a.PatientID != patientID || (exclude != nil && a.ID == *exclude) {
			continue
		}
		if a.Status != StatusScheduled && a.Status != StatusCompleted {
			continue
		}
		if !a.StartTime.Before(from) && a.StartTime.Before(to) {
			n++
		}
	}
	return n, nil
}

func (r *memRepository) ListAvailability(ctx context.Context, doctorID uuid.UUID) ([]DoctorAvailability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []DoctorAvailability
	for _, a := range r.rules {
		if a.DoctorID == doctorID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memRepository) GetAvailability(ctx context.Context, id uuid.UUID) (*DoctorAvailability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.rules {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, ErrAvailabilityNotFound
}

func (r *memRepository) InsertAvailability(ctx context.Context, a *DoctorAvailability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.CreatedAt = r.tick()
	r.rules = append(r.rules, *a)
	return nil
}

func (r *memRepository) DeleteAvailability(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, a := range r.rules {
		if a.ID == id {
			r.rules = append(r.rules[:i], r.rules[i+1:]...)
			return nil
		}
	}
	return ErrAvailabilityNotFound
}

func (r *memRepository) ListUnavailability(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]DoctorUnavailability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []DoctorUnavailability
	for _, b := range r.blocks {
		if b.DoctorID == doctorID && Overlaps(b.StartTime, b.EndTime, from, to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *memRepository) GetUnavailability(ctx context.Context, id uuid.UUID) (*DoctorUnavailability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.blocks {
		if b.ID == id {
			return &b, nil
		}
	}
	return nil, ErrUnavailabilityNotFound
}

func (r *memRepository) InsertUnavailability(ctx context.Context, u *DoctorUnavailability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u.CreatedAt = r.tick()
	r.blocks = append(r.blocks, *u)
	return nil
}

func (r *memRepository) DeleteUnavailability(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, b := range r.blocks {
		if b.ID == id {
			r.blocks = append(r.blocks[:i], r.blocks[i+1:]...)
			return nil
		}
	}
	return ErrUnavailabilityNotFound
}

func (r *memRepository) InsertWaitlistEntry(ctx context.Context, w *WaitlistEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.waitlist {
		if e.PatientID == w.PatientID && e.DoctorID == w.DoctorID && e.Date.Equal(w.Date) {
			return ErrAlreadyWaitlisted
		}
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = r.tick()
	}
	r.waitlist = append(r.waitlist, *w)
	return nil
}

func (r *memRepository) GetWaitlistEntry(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.waitlist {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, ErrWaitlistEntryNotFound
}

func (r *memRepository) DeleteWaitlistEntry(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.waitlist {
		if e.ID == id {
			r.waitlist = append(r.waitlist[:i], r.waitlist[i+1:]...)
			return nil
		}
	}
	return ErrWaitlistEntryNotFound
}

func (r *memRepository) queue(doctorID uuid.UUID, date time.Time) []WaitlistEntry {
	var out []WaitlistEntry
	for _, e := range r.waitlist {
		if e.DoctorID == doctorID && e.Date.Equal(date) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *memRepository) ListWaitlist(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]WaitlistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queue(doctorID, date), nil
}

func (r *memRepository) PopWaitlistEntry(ctx context.Context, doctorID uuid.UUID, date time.Time) (*WaitlistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.queue(doctorID, date)
	if len(q) == 0 {
		return nil, ErrWaitlistEntryNotFound
	}
	head := q[0]
	for i, e := range r.waitlist {
		if e.ID == head.ID {
			r.waitlist = append(r.waitlist[:i], r.waitlist[i+1:]...)
			break
		}
	}
	return &head, nil
}

func (r *memRepository) reminderSent(a Appointment, kind ReminderKind) bool {
	if kind == Reminder1h {
		return a.Reminder1hSent
	}
	return a.Reminder24hSent
}

func (r *memRepository) setReminder(a *Appointment, kind ReminderKind, v bool) {
	if kind == Reminder1h {
		a.Reminder1hSent = v
	} else {
		a.Reminder24hSent = v
	}
}

func (r *memRepository) FindReminderCandidates(ctx context.Context, kind ReminderKind, from, to time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appts {
		if a.Status == StatusScheduled && !r.reminderSent(a, kind) && !a.StartTime.Before(from) && !a.StartTime.After(to) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memRepository) ClaimReminders(ctx context.Context, kind ReminderKind, ids []uuid.UUID) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var claimed []uuid.UUID
	for _, id := range ids {
		a, ok := r.appts[id]
		if !ok || a.Status != StatusScheduled || r.reminderSent(a, kind) {
			continue
		}
		r.setReminder(&a, kind, true)
		r.appts[id] = a
		claimed = append(claimed, id)
	}
	return claimed, nil
}

func (r *memRepository) ReleaseReminder(ctx context.Context, kind ReminderKind, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.appts[id]
	r.setReminder(&a, kind, false)
	r.appts[id] = a
	return nil
}

func (r *memRepository) FindOverdueScheduled(ctx context.Context, cutoff time.Time, limit int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appts {
		if a.Status == StatusScheduled && a.StartTime.Before(cutoff) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepository) SaveNoShows(ctx context.Context, appts []Appointment) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var saved []Appointment
	for _, a := range appts {
		if r.appts[a.ID].Status != StatusScheduled {
			continue
		}
		r.appts[a.ID] = a
		saved = append(saved, a)
	}
	return saved, nil
}

func (r *memRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *memRepository) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

func (r *memRepository) eventsOfType(eventType string) []EventLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventLog
	for _, e := range r.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// recordingPublisher captures everything the engine emits.
type recordingPublisher struct {
	mu        sync.Mutex
	status    []StatusChangedEvent
	reminders []ReminderEvent
	slots     []SlotAvailableEvent
	delayed   map[uuid.UUID]DelayedReminder

	failStatus   bool
	failReminder bool
	failSlot     bool
}

var errPublishFailed = errors.New("bus unavailable")

func (p *recordingPublisher) PublishStatusChanged(ctx context.Context, ev StatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failStatus {
		return errPublishFailed
	}
	p.status = append(p.status, ev)
	return nil
}

func (p *recordingPublisher) PublishReminder(ctx context.Context, ev ReminderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failReminder {
		return errPublishFailed
	}
	p.reminders = append(p.reminders, ev)
	return nil
}

func (p *recordingPublisher) PublishSlotAvailable(ctx context.Context, ev SlotAvailableEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSlot {
		return errPublishFailed
	}
	p.slots = append(p.slots, ev)
	return nil
}

func (p *recordingPublisher) ScheduleReminder(ctx context.Context, r DelayedReminder) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.delayed == nil {
		p.delayed = make(map[uuid.UUID]DelayedReminder)
	}
	p.delayed[r.AppointmentID] = r
	return nil
}

func (p *recordingPublisher) CancelReminder(ctx context.Context, appointmentID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.delayed, appointmentID)
	return nil
}

func (p *recordingPublisher) pendingReminder(id uuid.UUID) (DelayedReminder, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.delayed[id]
	return r, ok
}

func (p *recordingPublisher) statusEvents() []StatusChangedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StatusChangedEvent(nil), p.status...)
}

// stubLocker stands in for the Redis doctor lock.
type stubLocker struct {
	err   error
	calls int
	mu    sync.Mutex
}

func (l *stubLocker) WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	l.calls++
	err := l.err
	l.mu.Unlock()
	if err != nil {
		return err
	}
	return fn(ctx)
}

var _ redisclient.Locker = (*stubLocker)(nil)

type staticProfiles struct {
	doctors  map[uuid.UUID]profile.DoctorSummary
	patients map[uuid.UUID]profile.PatientSummary
}

func (p staticProfiles) Doctor(ctx context.Context, id uuid.UUID) profile.DoctorSummary {
	if d, ok := p.doctors[id]; ok {
		return d
	}
	return profile.DoctorSummary{ID: id, Name: profile.Placeholder}
}

func (p staticProfiles) Patient(ctx context.Context, id uuid.UUID) profile.PatientSummary {
	if pt, ok := p.patients[id]; ok {
		return pt
	}
	return profile.PatientSummary{ID: id, Name: profile.Placeholder}
}

// testNow is Monday 2 March 2026, 07:00 UTC.
var testNow = time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)

// nextMonday is one week after testNow's date at the given clock time.
func nextMonday(hour, minute int) time.Time {
	return time.Date(2026, 3, 9, hour, minute, 0, 0, time.UTC)
}

type harness struct {
	svc    *Service
	repo   *memRepository
	pub    *recordingPublisher
	locker *stubLocker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo := newMemRepository()
	pub := &recordingPublisher{}
	locker := &stubLocker{}
	cfg := config.Config{
		ClinicTimezone:   "UTC",
		OperationTimeout: 5 * time.Second,
		Rules:            config.DefaultRules(),
	}
	svc := NewService(repo, locker, pub, staticProfiles{}, cfg, logging.Nop())
	svc.now = func() time.Time { return testNow }
	return &harness{svc: svc, repo: repo, pub: pub, locker: locker}
}

// workMondays gives doctorID a Monday 08:00-18:00 rule.
func (h *harness) workMondays(t *testing.T, doctorID uuid.UUID) {
	t.Helper()
	_, err := h.svc.AddAvailability(context.Background(), doctorID, time.Monday,
		NewTimeOfDay(8, 0), NewTimeOfDay(18, 0), Actor{ID: doctorID, Role: RoleDoctor})
	if err != nil {
		t.Fatalf("add availability: %v", err)
	}
}

func (h *harness) book(t *testing.T, patientID, doctorID uuid.UUID, start time.Time) *Appointment {
	t.Helper()
	appt, err := h.svc.CreateAppointment(context.Background(), CreateRequest{
		PatientID: patientID,
		DoctorID:  doctorID,
		Start:     start,
		Duration:  30 * time.Minute,
		Reason:    "checkup",
	})
	if err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	return appt
}
