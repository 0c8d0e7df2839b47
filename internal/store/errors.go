package store

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the engine wraps exactly one of these.
var (
	ErrValidation        = errors.New("invalid input")
	ErrNotFound          = errors.New("not found")
	ErrUnavailable       = errors.New("unavailable")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrTransient         = errors.New("transient store error")
	ErrConflict          = errors.New("conflict")
)

var (
	ErrServiceNotFound    = fmt.Errorf("service %w", ErrNotFound)
	ErrTicketNotFound     = fmt.Errorf("ticket %w", ErrNotFound)
	ErrCounterNotFound    = fmt.Errorf("counter %w", ErrNotFound)
	ErrServiceUnavailable = fmt.Errorf("service %w", ErrUnavailable)
	ErrCounterUnavailable = fmt.Errorf("counter %w", ErrUnavailable)
	ErrSequenceConflict   = fmt.Errorf("ticket sequence %w", ErrConflict)
)

// Transient wraps a datastore failure that is safe to retry.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// Invalid builds a validation error naming the offending field.
func Invalid(field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrValidation, field, reason)
}

// IsRetryable reports whether a caller may retry the operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// KindOf names the error kind for logs and metrics labels.
func KindOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}
