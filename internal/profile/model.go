// Package profile holds the local read-model of doctor and patient profiles.
// The rows are owned by Consumer and kept in sync from profile events; the
// scheduling engine only reads them through Directory.
package profile

import (
	"time"

	"github.com/google/uuid"
)

// Placeholder is returned for any profile the read-model does not know yet.
const Placeholder = "Unknown"

type DoctorSummary struct {
	ID        uuid.UUID
	Name      string
	Specialty string
	UpdatedAt time.Time
}

type PatientSummary struct {
	ID        uuid.UUID
	Name      string
	Email     string
	UpdatedAt time.Time
}

const (
	EventDoctorCreated  = "doctor.created"
	EventDoctorUpdated  = "doctor.updated"
	EventPatientCreated = "patient.created"
	EventPatientUpdated = "patient.updated"
)

// Event is the wire shape published by the profile service.
type Event struct {
	Type       string    `json:"type"`
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email,omitempty"`
	Specialty  string    `json:"specialty,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}
