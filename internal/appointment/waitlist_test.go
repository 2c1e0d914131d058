package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/medical-appointment-scheduling/internal/profile"
)

// fullyBookedMonday leaves doctor with a single Monday slot that is already taken.
func fullyBookedMonday(t *testing.T, h *harness) (doctor uuid.UUID, appt *Appointment) {
	t.Helper()
	doctor = uuid.New()
	_, err := h.svc.AddAvailability(context.Background(), doctor, time.Monday,
		NewTimeOfDay(9, 0), NewTimeOfDay(9, 30), Actor{ID: doctor, Role: RoleDoctor})
	require.NoError(t, err)
	appt = h.book(t, uuid.New(), doctor, nextMonday(9, 0))
	return doctor, appt
}

func joinAll(t *testing.T, h *harness, doctor uuid.UUID, n int) []uuid.UUID {
	t.Helper()
	patients := make([]uuid.UUID, n)
	for i := range patients {
		patients[i] = uuid.New()
		_, err := h.svc.JoinWaitlist(context.Background(), patients[i], doctor, nextMonday(0, 0))
		require.NoError(t, err)
	}
	return patients
}

func TestWaitlist_CancelNotifiesOldestOnly(t *testing.T) {
	h := newHarness(t)
	doctor, appt := fullyBookedMonday(t, h)
	ctx := context.Background()

	patients := joinAll(t, h, doctor, 3)

	_, err := h.svc.CancelAppointment(ctx, appt.ID, Actor{ID: appt.PatientID, Role: RolePatient})
	require.NoError(t, err)

	require.Len(t, h.pub.slots, 1)
	ev := h.pub.slots[0]
	assert.Equal(t, patients[0], ev.PatientID)
	assert.Equal(t, doctor, ev.DoctorID)
	assert.Equal(t, "2026-03-09", ev.Date)
	assert.Equal(t, profile.Placeholder, ev.PatientName)
	assert.Equal(t, profile.Placeholder, ev.DoctorName)

	notified := h.repo.eventsOfType(EventWaitlistNotified)
	require.Len(t, notified, 1)
	require.NotNil(t, notified[0].AppointmentID)
	assert.Equal(t, appt.ID, *notified[0].AppointmentID)

	queue, err := h.svc.ListWaitlist(ctx, doctor, nextMonday(0, 0))
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, patients[1], queue[0].PatientID)
	assert.Equal(t, patients[2], queue[1].PatientID)
}

func TestWaitlist_EmptyQueueIsNoop(t *testing.T) {
	h := newHarness(t)
	_, appt := fullyBookedMonday(t, h)

	_, err := h.svc.CancelAppointment(context.Background(), appt.ID, Actor{ID: appt.PatientID, Role: RolePatient})
	require.NoError(t, err)
	assert.Empty(t, h.pub.slots)
}

func TestWaitlist_RescheduleFreesOldDate(t *testing.T) {
	h := newHarness(t)
	doctor, appt := fullyBookedMonday(t, h)
	ctx := context.Background()
	_, err := h.svc.AddAvailability(ctx, doctor, time.Tuesday, NewTimeOfDay(9, 0), NewTimeOfDay(12, 0), Actor{ID: doctor, Role: RoleDoctor})
	require.NoError(t, err)

	patients := joinAll(t, h, doctor, 1)

	_, err = h.svc.RescheduleAppointment(ctx, appt.ID, nextMonday(10, 0).AddDate(0, 0, 1), Actor{ID: appt.PatientID, Role: RolePatient})
	require.NoError(t, err)

	require.Len(t, h.pub.slots, 1)
	assert.Equal(t, patients[0], h.pub.slots[0].PatientID)
	assert.Equal(t, "2026-03-09", h.pub.slots[0].Date)
}

func TestWaitlist_PublishFailureKeepsPosition(t *testing.T) {
	h := newHarness(t)
	doctor, appt := fullyBookedMonday(t, h)
	ctx := context.Background()
	patients := joinAll(t, h, doctor, 2)
	h.pub.failSlot = true

	_, err := h.svc.CancelAppointment(ctx, appt.ID, Actor{ID: appt.PatientID, Role: RolePatient})
	require.NoError(t, err)

	queue, err := h.svc.ListWaitlist(ctx, doctor, nextMonday(0, 0))
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, patients[0], queue[0].PatientID)
	assert.Empty(t, h.repo.eventsOfType(EventWaitlistNotified))
}

func TestJoinWaitlist_Rules(t *testing.T) {
	h := newHarness(t)
	doctor, _ := fullyBookedMonday(t, h)
	ctx := context.Background()

	patient := uuid.New()
	entry, err := h.svc.JoinWaitlist(ctx, patient, doctor, nextMonday(15, 0))
	require.NoError(t, err)
	assert.Equal(t, nextMonday(0, 0), entry.Date)

	_, err = h.svc.JoinWaitlist(ctx, patient, doctor, nextMonday(0, 0))
	require.ErrorIs(t, err, ErrAlreadyWaitlisted)
	assert.ErrorIs(t, err, ErrSchedulingConflict)

	// a doctor without rules is always covered, so the day still has open slots
	_, err = h.svc.JoinWaitlist(ctx, uuid.New(), uuid.New(), nextMonday(0, 0))
	assert.ErrorIs(t, err, ErrSlotsStillOpen)

	err = h.svc.LeaveWaitlist(ctx, entry.ID, Actor{ID: uuid.New(), Role: RolePatient})
	assert.ErrorIs(t, err, ErrAccessDenied)

	require.NoError(t, h.svc.LeaveWaitlist(ctx, entry.ID, Actor{ID: patient, Role: RolePatient}))
	assert.ErrorIs(t, h.svc.LeaveWaitlist(ctx, entry.ID, Actor{ID: patient, Role: RolePatient}), ErrNotFound)
}
