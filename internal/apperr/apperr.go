// Package apperr defines the error kinds shared by the task engine.
//
// Every error returned by the engine wraps exactly one kind; callers test
// for it with errors.Is or the Is* helpers.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input. Not retried.
	ErrValidation = errors.New("validation error")

	// ErrPermissionDenied marks an actor without the required scope.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidTransition marks a state-machine violation.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrNotFound marks a missing task, rule, user or notification.
	ErrNotFound = errors.New("not found")

	// ErrConcurrentModification marks a version mismatch on a conditional
	// write. The caller must re-read and retry.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrDeliveryFailure marks a channel delivery failure. Retryable up to
	// the delivery attempt bound.
	ErrDeliveryFailure = errors.New("delivery failure")
)

// Error carries a kind plus a human-readable detail.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *Error) Unwrap() error { return e.Kind }

func newf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) error {
	return newf(ErrValidation, format, args...)
}

func PermissionDeniedf(format string, args ...any) error {
	return newf(ErrPermissionDenied, format, args...)
}

func InvalidTransitionf(format string, args ...any) error {
	return newf(ErrInvalidTransition, format, args...)
}

func NotFoundf(format string, args ...any) error {
	return newf(ErrNotFound, format, args...)
}

func ConcurrentModificationf(format string, args ...any) error {
	return newf(ErrConcurrentModification, format, args...)
}

func DeliveryFailuref(format string, args ...any) error {
	return newf(ErrDeliveryFailure, format, args...)
}

// IsValidation reports whether err (or any error in its chain) is a
// validation error.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsPermissionDenied reports whether err is a permission error.
func IsPermissionDenied(err error) bool { return errors.Is(err, ErrPermissionDenied) }

// IsInvalidTransition reports whether err is a state-machine violation.
func IsInvalidTransition(err error) bool { return errors.Is(err, ErrInvalidTransition) }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConcurrentModification reports whether err is a version conflict.
func IsConcurrentModification(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsDeliveryFailure reports whether err is a channel delivery failure.
func IsDeliveryFailure(err error) bool { return errors.Is(err, ErrDeliveryFailure) }

// ItemError records the failure of one item in a batch operation.
type ItemError struct {
	ID  string
	Err error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.ID, e.Err)
}

func (e ItemError) Unwrap() error { return e.Err }
