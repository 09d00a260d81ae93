package chat

import (
	"errors"
	"fmt"
)

// Code classifies a failure for callers.
type Code string

const (
	CodeUnauthenticated  Code = "unauthenticated"
	CodeForbidden        Code = "forbidden"
	CodeNotAMember       Code = "not_a_member"
	CodeNotFound         Code = "not_found"
	CodeConflict         Code = "conflict"
	CodeCapacityExceeded Code = "capacity_exceeded"
	CodeValidation       Code = "validation"
	CodeOwnerCannotLeave Code = "owner_cannot_leave"
	CodeTransportFailure Code = "transport_failure"
	// CodeUnavailable marks a store failure; the caller may retry.
	CodeUnavailable Code = "unavailable"
)

// Error is the domain error type returned by Service.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error with the same code, so errors.Is(err, ErrNotFound) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

func newError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func wrapError(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Cause: cause}
}

// Sentinels for errors.Is.
var (
	ErrUnauthenticated  = newError(CodeUnauthenticated, "unauthenticated")
	ErrForbidden        = newError(CodeForbidden, "forbidden")
	ErrNotAMember       = newError(CodeNotAMember, "not a member of this session")
	ErrNotFound         = newError(CodeNotFound, "not found")
	ErrConflict         = newError(CodeConflict, "conflict")
	ErrCapacityExceeded = newError(CodeCapacityExceeded, "session is full")
	ErrValidation       = newError(CodeValidation, "invalid input")
	ErrOwnerCannotLeave = newError(CodeOwnerCannotLeave, "the owner cannot leave the session")
	ErrTransportFailure = newError(CodeTransportFailure, "transport failure")
	ErrUnavailable      = newError(CodeUnavailable, "store unavailable")
)

// CodeOf returns the domain code carried by err, or "" for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func validationError(msg string) *Error { return newError(CodeValidation, msg) }

func forbidden(msg string) *Error { return newError(CodeForbidden, msg) }

// storeError wraps an unexpected store failure. Domain errors pass through.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if CodeOf(err) != "" {
		return err
	}
	return wrapError(CodeUnavailable, op, err)
}
