package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnauthenticated is returned when no actor is attached to the request.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden is returned when the actor lacks authorization for the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound is returned when the referenced activity or enrollment does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState is returned when the activity status does not permit the operation.
	ErrInvalidState = errors.New("invalid activity state")
	// ErrAlreadyEnrolled is returned on a duplicate enrollment attempt.
	ErrAlreadyEnrolled = errors.New("already enrolled")
	// ErrNotEligible is matched by every *NotEligibleError.
	ErrNotEligible = errors.New("not eligible")
	// ErrOutsideWindow is returned when the enrollment window policy denies the request.
	ErrOutsideWindow = errors.New("outside enrollment window")
	// ErrCapacityExceeded is returned when the activity is full.
	ErrCapacityExceeded = errors.New("activity full")
	// ErrConcurrencyConflict is a transient failure; callers may retry the whole operation.
	ErrConcurrencyConflict = errors.New("concurrent modification")
	// ErrUnavailable wraps infrastructure failures (storage, network).
	ErrUnavailable = errors.New("service unavailable")
)

// NotEligibleError carries the user-facing reason produced by the eligibility rules.
type NotEligibleError struct {
	Reason string
}

func (e *NotEligibleError) Error() string {
	return "not eligible: " + e.Reason
}

// Is makes errors.Is(err, ErrNotEligible) hold.
func (e *NotEligibleError) Is(target error) bool {
	return target == ErrNotEligible
}

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil || len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field, msg := range v.FieldErrors {
		fields = append(fields, field+": "+msg)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, "; ")
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// ErrorKind maps sentinel and validation errors to a stable label used by logs,
// metrics and the HTTP problem type.
func ErrorKind(err error) string {
	if err == nil {
		return "ok"
	}
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrAlreadyEnrolled):
		return "already_enrolled"
	case errors.Is(err, ErrNotEligible):
		return "not_eligible"
	case errors.Is(err, ErrOutsideWindow):
		return "outside_window"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrConcurrencyConflict):
		return "concurrency_conflict"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation_failed"
	}
	return "unexpected"
}

// IsBusinessError reports whether err is an expected business outcome rather than an
// infrastructure failure.
func IsBusinessError(err error) bool {
	switch ErrorKind(err) {
	case "ok", "unavailable", "unexpected", "concurrency_conflict":
		return false
	}
	return true
}

// unavailable wraps infrastructure failures, leaving recognised domain errors untouched.
func unavailable(err error) error {
	if err == nil {
		return nil
	}
	switch ErrorKind(err) {
	case "unexpected":
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}
