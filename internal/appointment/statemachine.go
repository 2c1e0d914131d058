package appointment

import (
	"fmt"
	"time"
)

type Event string

const (
	EventReschedule Event = "reschedule"
	EventCancel     Event = "cancel"
	EventComplete   Event = "complete"
	EventNoShow     Event = "no_show"
)

// NoShowMarker is appended to the notes of appointments closed by the no-show sweep.
const NoShowMarker = "[system] marked NO_SHOW: patient did not attend"

// Authorize is the single ownership guard for every transition.
func Authorize(appt *Appointment, actor Actor, ev Event) error {
	switch ev {
	case EventReschedule, EventCancel:
		if isParty(appt, actor) {
			return nil
		}
	case EventComplete:
		if actor.Role == RoleDoctor && actor.ID == appt.DoctorID {
			return nil
		}
	case EventNoShow:
		if actor.Role == RoleSystem {
			return nil
		}
	default:
		return fmt.Errorf("%w: unknown event %q", ErrInvalidStateTransition, ev)
	}
	return fmt.Errorf("%w: %s may not %s appointment %s", ErrAccessDenied, actor.Role, ev, appt.ID)
}

func isParty(appt *Appointment, actor Actor) bool {
	switch actor.Role {
	case RolePatient:
		return actor.ID == appt.PatientID
	case RoleDoctor:
		return actor.ID == appt.DoctorID
	}
	return false
}

// TransitionInput carries the event-specific arguments.
type TransitionInput struct {
	NewStart        time.Time     // reschedule
	Notes           string        // complete
	Now             time.Time     // no_show
	NoShowTolerance time.Duration // no_show
}

// Transition applies ev to appt in place after checking the actor and the current
// state. Booking rules and conflicts for a reschedule are the engine's job; this
// only owns the lifecycle. It returns the status held before the transition.
func Transition(appt *Appointment, ev Event, actor Actor, in TransitionInput) (AppointmentStatus, error) {
	if err := Authorize(appt, actor, ev); err != nil {
		return appt.Status, err
	}

	old := appt.Status
	if old.Terminal() {
		return old, fmt.Errorf("%w: appointment %s is %s", ErrInvalidStateTransition, appt.ID, old)
	}

	switch ev {
	case EventReschedule:
		appt.StartTime = in.NewStart
		appt.Reminder24hSent = false
		appt.Reminder1hSent = false
	case EventCancel:
		appt.Status = StatusCanceled
	case EventComplete:
		appt.Status = StatusCompleted
		appt.Notes = in.Notes
	case EventNoShow:
		if !in.Now.After(appt.StartTime.Add(in.NoShowTolerance)) {
			return old, fmt.Errorf("%w: appointment %s is still within the no-show tolerance", ErrInvalidStateTransition, appt.ID)
		}
		appt.Status = StatusNoShow
		appt.Notes = appendNote(appt.Notes, NoShowMarker)
	}

	return old, nil
}

func appendNote(notes, line string) string {
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}
