// Package apperr defines the error kinds returned by the referral core.
// Business outcomes (duplicates, OTP states, missing records) are values of
// *Error and are expected; only StorageError signals an infrastructure fault.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that render per-kind messages
type Kind string

const (
	Unauthorized     Kind = "UNAUTHORIZED"
	Validation       Kind = "VALIDATION_ERROR"
	DuplicateAsUser  Kind = "DUPLICATE_AS_USER"
	DuplicateAsLead  Kind = "DUPLICATE_AS_LEAD"
	OtpNotFound      Kind = "OTP_NOT_FOUND"
	OtpExpired       Kind = "OTP_EXPIRED"
	OtpMismatch      Kind = "OTP_MISMATCH"
	CampusNotFound   Kind = "CAMPUS_NOT_FOUND"
	AlreadyConverted Kind = "ALREADY_CONVERTED"
	RateLimited      Kind = "RATE_LIMITED"
	NotFound         Kind = "NOT_FOUND"
	InvalidState     Kind = "INVALID_STATE"
	Storage          Kind = "STORAGE_ERROR"
)

// Error is a typed outcome carrying a Kind
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, apperr.E(OtpExpired))
// works regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// E returns a bare error of the given kind, useful as an errors.Is target.
func E(kind Kind) *Error {
	return &Error{Kind: kind}
}

// New creates an error of the given kind.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// StorageErr wraps an infrastructure failure. The message is safe to show;
// the wrapped error is not.
func StorageErr(op string, err error) error {
	return &Error{Kind: Storage, Message: op, Err: err}
}

// KindOf returns the kind of err, or Storage for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Storage
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// PublicMessage returns a message suitable for end users. Storage faults are
// never described in detail.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) || e.Kind == Storage {
		return "temporarily unavailable, please retry"
	}
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}
