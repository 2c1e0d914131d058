package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/medical-appointment-scheduling/internal/appointment"
)

// Scheduler is the part of the scheduling engine exposed over HTTP.
type Scheduler interface {
	CreateAppointment(ctx context.Context, req appointment.CreateRequest) (*appointment.Appointment, error)
	RescheduleAppointment(ctx context.Context, id uuid.UUID, newStart time.Time, actor appointment.Actor) (*appointment.Appointment, error)
	CancelAppointment(ctx context.Context, id uuid.UUID, actor appointment.Actor) (*appointment.Appointment, error)
	CompleteAppointment(ctx context.Context, id uuid.UUID, notes string, actor appointment.Actor) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID, actor appointment.Actor) (*appointment.Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]appointment.Appointment, error)
	ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]appointment.Appointment, error)

	AvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time, duration time.Duration) ([]time.Time, error)
	AddAvailability(ctx context.Context, doctorID uuid.UUID, day time.Weekday, start, end appointment.TimeOfDay, actor appointment.Actor) (*appointment.DoctorAvailability, error)
	DeleteAvailability(ctx context.Context, id uuid.UUID, actor appointment.Actor) error
	ListAvailability(ctx context.Context, doctorID uuid.UUID) ([]appointment.DoctorAvailability, error)
	AddUnavailability(ctx context.Context, doctorID uuid.UUID, start, end time.Time, reason string, actor appointment.Actor) (*appointment.DoctorUnavailability, error)
	DeleteUnavailability(ctx context.Context, id uuid.UUID, actor appointment.Actor) error
	ListUnavailability(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]appointment.DoctorUnavailability, error)

	JoinWaitlist(ctx context.Context, patientID, doctorID uuid.UUID, date time.Time) (*appointment.WaitlistEntry, error)
	LeaveWaitlist(ctx context.Context, entryID uuid.UUID, actor appointment.Actor) error
	ListWaitlist(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]appointment.WaitlistEntry, error)
}

var _ Scheduler = (*appointment.Service)(nil)

type RouterConfig struct {
	Service   Scheduler
	Health    *HealthHandler
	JWTSecret []byte
	Logger    zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}

	h := &handlers{svc: cfg.Service, logger: cfg.Logger}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))

		// Appointment endpoints
		r.Post("/appointments", h.createAppointment)
		r.Get("/appointments", h.listAppointments)
		r.Get("/appointments/{id}", h.getAppointment)
		r.Post("/appointments/{id}/reschedule", h.rescheduleAppointment)
		r.Post("/appointments/{id}/cancel", h.cancelAppointment)
		r.Post("/appointments/{id}/complete", h.completeAppointment)

		// Doctor schedule endpoints
		r.Route("/doctors/{doctorID}", func(r chi.Router) {
			r.Get("/slots", h.availableSlots)
			r.Get("/availability", h.listAvailability)
			r.Post("/availability", h.addAvailability)
			r.Get("/unavailability", h.listUnavailability)
			r.Post("/unavailability", h.addUnavailability)
			r.Get("/waitlist", h.listWaitlist)
			r.Post("/waitlist", h.joinWaitlist)
		})
		r.Delete("/availability/{id}", h.deleteAvailability)
		r.Delete("/unavailability/{id}", h.deleteUnavailability)
		r.Delete("/waitlist/{id}", h.leaveWaitlist)
	})

	return r
}
