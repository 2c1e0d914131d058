package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	// WithScheduleLock runs fn inside one transaction that holds an exclusive
	// lock for each key until commit. Repository calls made with the ctx passed
	// to fn join that transaction; this is the reserve-if-free boundary.
	WithScheduleLock(ctx context.Context, keys []uuid.UUID, fn func(ctx context.Context) error) error

	// Appointments
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentByIdempotencyKey(ctx context.Context, patientID uuid.UUID, key string) (*Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error)
	InsertAppointment(ctx context.Context, a *Appointment) error
	// UpdateAppointment saves a only if its stored status still equals from.
	UpdateAppointment(ctx context.Context, a *Appointment, from AppointmentStatus) error

	// For conflict checks
	HasConflict(ctx context.Context, doctorID uuid.UUID, start, end time.Time, exclude *uuid.UUID) (bool, error)
	CountPatientAppointments(ctx context.Context, patientID uuid.UUID, from, to time.Time, exclude *uuid.UUID) (int, error)

	// Availability
	ListAvailability(ctx context.Context, doctorID uuid.UUID) ([]DoctorAvailability, error)
	GetAvailability(ctx context.Context, id uuid.UUID) (*DoctorAvailability, error)
	InsertAvailability(ctx context.Context, r *DoctorAvailability) error
	DeleteAvailability(ctx context.Context, id uuid.UUID) error
	ListUnavailability(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]DoctorUnavailability, error)
	GetUnavailability(ctx context.Context, id uuid.UUID) (*DoctorUnavailability, error)
	InsertUnavailability(ctx context.Context, u *DoctorUnavailability) error
	DeleteUnavailability(ctx context.Context, id uuid.UUID) error

	// Waitlist
	InsertWaitlistEntry(ctx context.Context, w *WaitlistEntry) error
	GetWaitlistEntry(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error)
	DeleteWaitlistEntry(ctx context.Context, id uuid.UUID) error
	ListWaitlist(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]WaitlistEntry, error)
	// PopWaitlistEntry atomically removes and returns the oldest entry for (doctor, date).
	PopWaitlistEntry(ctx context.Context, doctorID uuid.UUID, date time.Time) (*WaitlistEntry, error)

	// Sweepers
	FindReminderCandidates(ctx context.Context, kind ReminderKind, from, to time.Time) ([]Appointment, error)
	// ClaimReminders flips the sent flag for ids still unsent and returns the ids it flipped.
	ClaimReminders(ctx context.Context, kind ReminderKind, ids []uuid.UUID) ([]uuid.UUID, error)
	ReleaseReminder(ctx context.Context, kind ReminderKind, id uuid.UUID) error
	FindOverdueScheduled(ctx context.Context, cutoff time.Time, limit int) ([]Appointment, error)
	// SaveNoShows persists appts that are still SCHEDULED and returns the ones it saved.
	SaveNoShows(ctx context.Context, appts []Appointment) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
