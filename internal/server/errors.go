package server

import (
	"database/sql"
	"errors"
	"fmt"
)

// Reason is the machine-readable cause carried by error events.
type Reason string

const (
	ReasonUnauthenticated Reason = "Unauthenticated"
	ReasonNotFound        Reason = "NotFound"
	ReasonNotOngoing      Reason = "NotOngoing"
	ReasonForbidden       Reason = "Forbidden"
	ReasonValidation      Reason = "Validation"
	ReasonUnexpected      Reason = "Unexpected"
)

// Error is a failed join or mutation. It is reported to the requester only.
type Error struct {
	Reason  Reason
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(reason Reason, msg string) *Error {
	return &Error{Reason: reason, Message: msg}
}

func errNotFound(what string) *Error {
	return newError(ReasonNotFound, what+" not found")
}

func errNotOngoing() *Error {
	return newError(ReasonNotOngoing, "lecture is not ongoing")
}

func errForbidden(msg string) *Error {
	return newError(ReasonForbidden, msg)
}

func errValidation(msg string) *Error {
	return newError(ReasonValidation, msg)
}

func errUnexpected(err error) *Error {
	return &Error{Reason: ReasonUnexpected, Message: "unexpected error", Err: err}
}

func errServiceUnavailable() *Error {
	return newError(ReasonUnexpected, "service unavailable")
}

func errNotJoined() *Error {
	return errForbidden("join the lecture first")
}

// storeError maps a Repository failure for the named entity.
func storeError(err error, what string) *Error {
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound(what)
	}
	return errUnexpected(err)
}

// AsError returns err as an *Error, treating anything else as unexpected.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return errUnexpected(err)
}
