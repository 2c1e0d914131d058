package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "SCHEDULED"
	StatusCompleted AppointmentStatus = "COMPLETED"
	StatusCanceled  AppointmentStatus = "CANCELED"
	StatusNoShow    AppointmentStatus = "NO_SHOW"
)

// Terminal reports whether no further transition is allowed from s.
func (s AppointmentStatus) Terminal() bool {
	return s != StatusScheduled
}

type Role string

const (
	RolePatient Role = "PATIENT"
	RoleDoctor  Role = "DOCTOR"
	RoleSystem  Role = "SYSTEM"
)

// Actor is the authenticated caller as supplied by the identity layer.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// SystemActor triggers background transitions.
var SystemActor = Actor{ID: uuid.Nil, Role: RoleSystem}

type Appointment struct {
	ID              uuid.UUID
	DoctorID        uuid.UUID
	PatientID       uuid.UUID
	StartTime       time.Time
	Duration        time.Duration
	Status          AppointmentStatus
	Reason          string
	Notes           string
	Reminder24hSent bool
	Reminder1hSent  bool
	IdempotencyKey  *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a *Appointment) EndTime() time.Time {
	return a.StartTime.Add(a.Duration)
}

// TimeOfDay is an offset from local midnight with minute precision.
type TimeOfDay int

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay accepts "HH:MM" in 24 hour form.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w: time of day %q must be HH:MM", ErrValidation, s)
	}
	return NewTimeOfDay(t.Hour(), t.Minute()), nil
}

func (t TimeOfDay) Duration() time.Duration {
	return time.Duration(t) * time.Minute
}

// On returns the wall-clock instant t on day's calendar date in loc. 24:00 is
// the following midnight. Clock times are not offsets from midnight: on a DST
// change day 10:00 is not ten hours after 00:00.
func (t TimeOfDay) On(day time.Time, loc *time.Location) time.Time {
	d := day.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), int(t)/60, int(t)%60, 0, 0, loc)
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// DoctorAvailability is a recurring weekly window in which a doctor accepts bookings.
type DoctorAvailability struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	DayOfWeek time.Weekday
	StartTime TimeOfDay
	EndTime   TimeOfDay
	CreatedAt time.Time
}

// DoctorUnavailability blocks an absolute range, e.g. a vacation.
type DoctorUnavailability struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	StartTime time.Time
	EndTime   time.Time
	Reason    string
	CreatedAt time.Time
}

type WaitlistEntry struct {
	ID           uuid.UUID
	DoctorID     uuid.UUID
	PatientID    uuid.UUID
	Date         time.Time // requested civil date, stored as UTC midnight
	PatientName  string
	PatientEmail string
	CreatedAt    time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
