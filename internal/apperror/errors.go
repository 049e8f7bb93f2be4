// Package apperror defines the error taxonomy shared by every service:
// not found, conflict, validation, forbidden and unauthorized failures are
// returned as typed values so callers can decide whether to retry.
package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindValidation
	KindForbidden
	KindUnauthorized
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindForbidden:
		return "forbidden"
	case KindUnauthorized:
		return "unauthorized"
	case KindRateLimited:
		return "rate limited"
	default:
		return "internal"
	}
}

// Reason refines a Kind, mostly for conflicts.
type Reason string

const (
	ReasonAlreadyReserved Reason = "AlreadyReserved"
	ReasonAlreadyReturned Reason = "AlreadyReturned"
	ReasonStaleVersion    Reason = "StaleVersion"
	ReasonBusy            Reason = "Busy"
	ReasonHasReservations Reason = "HasReservations"
	ReasonRentedItems     Reason = "RentedItems"
	ReasonDuplicate       Reason = "Duplicate"
)

// Error is the typed failure returned across service boundaries.
type Error struct {
	Kind    Kind
	Reason  Reason
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
		if e.Reason != "" {
			msg += ": " + string(e.Reason)
		}
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind, and on Reason when the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

var (
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrConflict     = &Error{Kind: KindConflict}
	ErrValidation   = &Error{Kind: KindValidation}
	ErrForbidden    = &Error{Kind: KindForbidden}
	ErrUnauthorized = &Error{Kind: KindUnauthorized}

	ErrAlreadyReserved = &Error{Kind: KindConflict, Reason: ReasonAlreadyReserved}
	ErrAlreadyReturned = &Error{Kind: KindConflict, Reason: ReasonAlreadyReturned}
	ErrStaleVersion    = &Error{Kind: KindConflict, Reason: ReasonStaleVersion}
	ErrBusy            = &Error{Kind: KindConflict, Reason: ReasonBusy}
)

func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflict(reason Reason, format string, args ...any) error {
	return &Error{Kind: KindConflict, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...any) error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

func Unauthorized(format string, args ...any) error {
	return &Error{Kind: KindUnauthorized, Message: fmt.Sprintf(format, args...)}
}

func RateLimited(format string, args ...any) error {
	return &Error{Kind: KindRateLimited, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ReasonOf reports the Reason of the first *Error in err's chain.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}
