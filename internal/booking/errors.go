package booking

import (
	"errors"
	"fmt"
)

var (
	ErrBookingNotFound = errors.New("booking not found")
	ErrPatientNotFound = errors.New("patient not found")

	// ErrSlotConflict means the (date, time) slot is already at capacity.
	ErrSlotConflict = errors.New("slot is already at capacity")

	// ErrBusy means the per-date lock could not be acquired within the wait
	// budget. Retryable by the caller.
	ErrBusy = errors.New("date is being modified, please retry")

	// ErrForbidden means the actor may not perform the requested mutation.
	ErrForbidden = errors.New("actor is not allowed to perform this action")

	// ErrSymptomsLocked means the booking has moved past pending, after
	// which the patient can no longer edit symptoms.
	ErrSymptomsLocked = errors.New("symptoms can no longer be edited")
)

// ValidationError reports a malformed or missing field along with which
// field was at fault, so the caller can render a specific message.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidTransitionError names both the current and attempted states.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}
