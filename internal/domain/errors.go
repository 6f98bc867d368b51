package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                 = errors.New("not found")
	ErrValidation               = errors.New("validation error")
	ErrUnauthorized             = errors.New("unauthorized")
	ErrInvalidTransition        = errors.New("invalid transition")
	ErrCancellationWindowClosed = errors.New("cancellation window closed")
	ErrConcurrentModification   = errors.New("concurrent modification")
	ErrSlotUnavailable          = errors.New("time slot already booked")

	// ErrLockTimeout is reported when a per-appointment lock cannot be taken in
	// time. Callers see it as a concurrent modification.
	ErrLockTimeout = fmt.Errorf("%w: lock wait timed out", ErrConcurrentModification)
)

// Kind returns the stable name of the sentinel wrapped by err, or "internal".
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrCancellationWindowClosed):
		return "cancellation_window_closed"
	case errors.Is(err, ErrConcurrentModification):
		return "concurrent_modification"
	case errors.Is(err, ErrSlotUnavailable):
		return "slot_unavailable"
	default:
		return "internal"
	}
}
