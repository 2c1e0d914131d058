package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	EventAppointmentCreated     = "APPOINTMENT_CREATED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentCanceled    = "APPOINTMENT_CANCELED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
	EventAppointmentNoShow      = "APPOINTMENT_NO_SHOW"
	EventReminderSent           = "REMINDER_SENT"
	EventWaitlistNotified       = "WAITLIST_NOTIFIED"
)

// Pub/Sub channels consumed by billing and notification services.
const (
	ChannelStatusChanged = "appointments.status"
	ChannelNotifications = "appointments.notifications"
	// ChannelReminders receives DelayedReminder payloads once their delay has elapsed.
	ChannelReminders = "appointments.reminders"
)

// StatusChangedEvent is published once per state transition. Its JSON shape is the
// contract with downstream consumers.
type StatusChangedEvent struct {
	AppointmentID        uuid.UUID         `json:"appointmentId"`
	PatientID            uuid.UUID         `json:"patientId"`
	DoctorID             uuid.UUID         `json:"doctorId"`
	OldStatus            AppointmentStatus `json:"oldStatus,omitempty"`
	NewStatus            AppointmentStatus `json:"newStatus"`
	AppointmentDateTime  time.Time         `json:"appointmentDateTime"`
	Notes                string            `json:"notes,omitempty"`
	TriggeredByActorRole Role              `json:"triggeredByActorRole"`
}

type ReminderKind string

const (
	Reminder24h ReminderKind = "24h"
	Reminder1h  ReminderKind = "1h"
)

// Lead returns how long before the appointment the reminder is due.
func (k ReminderKind) Lead() time.Duration {
	if k == Reminder1h {
		return time.Hour
	}
	return 24 * time.Hour
}

type ReminderEvent struct {
	Type                string       `json:"type"`
	Kind                ReminderKind `json:"kind"`
	AppointmentID       uuid.UUID    `json:"appointmentId"`
	PatientID           uuid.UUID    `json:"patientId"`
	DoctorID            uuid.UUID    `json:"doctorId"`
	PatientName         string       `json:"patientName"`
	DoctorName          string       `json:"doctorName"`
	AppointmentDateTime time.Time    `json:"appointmentDateTime"`
}

type SlotAvailableEvent struct {
	Type         string    `json:"type"`
	PatientID    uuid.UUID `json:"patientId"`
	DoctorID     uuid.UUID `json:"doctorId"`
	Date         string    `json:"date"`
	PatientName  string    `json:"patientName"`
	PatientEmail string    `json:"patientEmail,omitempty"`
	DoctorName   string    `json:"doctorName"`
}

// DelayedReminder asks the transport to deliver a reminder after DelayMillis.
type DelayedReminder struct {
	AppointmentID       uuid.UUID `json:"appointmentId"`
	PatientID           uuid.UUID `json:"patientId"`
	DoctorID            uuid.UUID `json:"doctorId"`
	AppointmentDateTime time.Time `json:"appointmentDateTime"`
	ReminderTime        time.Time `json:"reminderTime"`
	DelayMillis         int64     `json:"delayMs"`
}

// Publisher is the outbound side of the engine. Every method is called after the
// state change it describes has committed; failures are logged, never propagated.
type Publisher interface {
	PublishStatusChanged(ctx context.Context, ev StatusChangedEvent) error
	PublishReminder(ctx context.Context, ev ReminderEvent) error
	PublishSlotAvailable(ctx context.Context, ev SlotAvailableEvent) error
	// ScheduleReminder replaces any reminder already queued for the appointment.
	ScheduleReminder(ctx context.Context, r DelayedReminder) error
	CancelReminder(ctx context.Context, appointmentID uuid.UUID) error
}

// Bus is a JSON message transport keyed by channel.
type Bus interface {
	Publish(ctx context.Context, channel string, payload any) error
}

// DelayQueue holds payloads until their due time. An id has at most one
// pending payload.
type DelayQueue interface {
	Schedule(ctx context.Context, id string, payload any, due time.Time) error
	Cancel(ctx context.Context, id string) error
}

// BusPublisher implements Publisher over a Bus and a DelayQueue.
type BusPublisher struct {
	bus   Bus
	delay DelayQueue
}

func NewBusPublisher(bus Bus, delay DelayQueue) *BusPublisher {
	return &BusPublisher{bus: bus, delay: delay}
}

func (p *BusPublisher) PublishStatusChanged(ctx context.Context, ev StatusChangedEvent) error {
	return p.bus.Publish(ctx, ChannelStatusChanged, ev)
}

func (p *BusPublisher) PublishReminder(ctx context.Context, ev ReminderEvent) error {
	ev.Type = "appointment.reminder"
	return p.bus.Publish(ctx, ChannelNotifications, ev)
}

func (p *BusPublisher) PublishSlotAvailable(ctx context.Context, ev SlotAvailableEvent) error {
	ev.Type = "waitlist.slot_available"
	return p.bus.Publish(ctx, ChannelNotifications, ev)
}

func (p *BusPublisher) ScheduleReminder(ctx context.Context, r DelayedReminder) error {
	return p.delay.Schedule(ctx, r.AppointmentID.String(), r, r.ReminderTime)
}

func (p *BusPublisher) CancelReminder(ctx context.Context, appointmentID uuid.UUID) error {
	return p.delay.Cancel(ctx, appointmentID.String())
}
