package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/medical-appointment-scheduling/internal/appointment"
)

type CreateAppointmentRequest struct {
	DoctorID        string    `json:"doctor_id"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
	Reason          string    `json:"reason,omitempty"`
}

type RescheduleRequest struct {
	StartTime time.Time `json:"start_time"`
}

type CompleteRequest struct {
	Notes string `json:"notes"`
}

type AvailabilityRequest struct {
	DayOfWeek string `json:"day_of_week"` // monday..sunday
	StartTime string `json:"start_time"`  // HH:MM
	EndTime   string `json:"end_time"`    // HH:MM
}

type UnavailabilityRequest struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Reason    string    `json:"reason,omitempty"`
}

type WaitlistRequest struct {
	Date string `json:"date"` // YYYY-MM-DD
}

type AppointmentResponse struct {
	ID              uuid.UUID `json:"id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	PatientID       uuid.UUID `json:"patient_id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          string    `json:"status"`
	Reason          string    `json:"reason,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		DoctorID:        a.DoctorID,
		PatientID:       a.PatientID,
		StartTime:       a.StartTime,
		EndTime:         a.EndTime(),
		DurationMinutes: int(a.Duration / time.Minute),
		Status:          string(a.Status),
		Reason:          a.Reason,
		Notes:           a.Notes,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

type AvailabilityResponse struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	DayOfWeek string    `json:"day_of_week"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
}

func toAvailabilityResponse(r appointment.DoctorAvailability) AvailabilityResponse {
	return AvailabilityResponse{
		ID:        r.ID,
		DoctorID:  r.DoctorID,
		DayOfWeek: r.DayOfWeek.String(),
		StartTime: r.StartTime.String(),
		EndTime:   r.EndTime.String(),
	}
}

type UnavailabilityResponse struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Reason    string    `json:"reason,omitempty"`
}

func toUnavailabilityResponse(u appointment.DoctorUnavailability) UnavailabilityResponse {
	return UnavailabilityResponse{
		ID:        u.ID,
		DoctorID:  u.DoctorID,
		StartTime: u.StartTime,
		EndTime:   u.EndTime,
		Reason:    u.Reason,
	}
}

type WaitlistEntryResponse struct {
	ID          uuid.UUID `json:"id"`
	DoctorID    uuid.UUID `json:"doctor_id"`
	PatientID   uuid.UUID `json:"patient_id"`
	Date        string    `json:"date"`
	PatientName string    `json:"patient_name"`
	CreatedAt   time.Time `json:"created_at"`
}

func toWaitlistEntryResponse(w appointment.WaitlistEntry) WaitlistEntryResponse {
	return WaitlistEntryResponse{
		ID:          w.ID,
		DoctorID:    w.DoctorID,
		PatientID:   w.PatientID,
		Date:        w.Date.Format(time.DateOnly),
		PatientName: w.PatientName,
		CreatedAt:   w.CreatedAt,
	}
}

type SlotsResponse struct {
	DoctorID        uuid.UUID   `json:"doctor_id"`
	Date            string      `json:"date"`
	DurationMinutes int         `json:"duration_minutes"`
	Slots           []time.Time `json:"slots"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
