package appointment

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the service wraps exactly one of these,
// so callers branch with errors.Is(err, ErrValidation) and so on.
var (
	ErrValidation             = errors.New("validation error")
	ErrAvailabilityConflict   = errors.New("availability conflict")
	ErrSchedulingConflict     = errors.New("scheduling conflict")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrAccessDenied           = errors.New("access denied")
	ErrNotFound               = errors.New("not found")
)

var (
	ErrOutsideBusinessHours = fmt.Errorf("%w: appointment must fall within business hours", ErrValidation)
	ErrLeadTimeTooShort     = fmt.Errorf("%w: appointment starts too soon", ErrValidation)
	ErrLeadTimeTooLong      = fmt.Errorf("%w: appointment starts too far in the future", ErrValidation)
	ErrDailyLimitReached    = fmt.Errorf("%w: patient reached the daily appointment limit", ErrValidation)
	ErrInvalidDuration      = fmt.Errorf("%w: duration must be positive", ErrValidation)
	ErrInvalidRange         = fmt.Errorf("%w: start must be before end", ErrValidation)
	ErrOverlappingRule      = fmt.Errorf("%w: availability rule overlaps an existing rule", ErrValidation)
	ErrSlotsStillOpen       = fmt.Errorf("%w: doctor still has free slots on the requested date", ErrValidation)

	ErrDoctorNotAvailable = fmt.Errorf("%w: doctor does not work at the requested time", ErrAvailabilityConflict)
	ErrDoctorUnavailable  = fmt.Errorf("%w: doctor is unavailable at the requested time", ErrAvailabilityConflict)

	ErrSlotTaken            = fmt.Errorf("%w: doctor already has an appointment at the requested time", ErrSchedulingConflict)
	ErrDoctorBusy           = fmt.Errorf("%w: doctor schedule is being modified, please retry", ErrSchedulingConflict)
	ErrBlockHasAppointments = fmt.Errorf("%w: scheduled appointments overlap the requested range", ErrSchedulingConflict)
	ErrAlreadyWaitlisted    = fmt.Errorf("%w: patient is already on the waitlist for this date", ErrSchedulingConflict)
	ErrDuplicateRequest     = fmt.Errorf("%w: request was already processed", ErrSchedulingConflict)

	ErrAppointmentNotFound    = fmt.Errorf("appointment %w", ErrNotFound)
	ErrAvailabilityNotFound   = fmt.Errorf("availability rule %w", ErrNotFound)
	ErrUnavailabilityNotFound = fmt.Errorf("unavailability range %w", ErrNotFound)
	ErrWaitlistEntryNotFound  = fmt.Errorf("waitlist entry %w", ErrNotFound)
)
