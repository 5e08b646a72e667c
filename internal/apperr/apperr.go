// Package apperr is the error taxonomy shared by every business operation.
// Each failure carries a Kind (how the caller should react), a stable Code the
// presentation layer can branch on, and a short human readable message.
package apperr

import (
	"errors"
	"net/http"
)

type Kind string

const (
	KindValidation        Kind = "VALIDATION"
	KindNotFound          Kind = "NOT_FOUND"
	KindStateConflict     Kind = "STATE_CONFLICT"
	KindResourceExhausted Kind = "RESOURCE_EXHAUSTED"
	KindAuthFailure       Kind = "AUTH_FAILURE"
	KindForbidden         Kind = "FORBIDDEN"
	KindSystemFailure     Kind = "SYSTEM_FAILURE"
)

// Error is a business rule violation. Package level values are used as
// sentinels and compared with errors.Is, which matches on Code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Status  int
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Code + ": " + e.Message + ": " + e.cause.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithMessage returns a copy of e carrying a more specific message.
func (e *Error) WithMessage(msg string) *Error {
	cp := *e
	cp.Message = msg
	return &cp
}

// Wrap returns a copy of e that also unwraps to cause.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.cause = cause
	return &cp
}

func newErr(kind Kind, status int, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Status: status}
}

func Validation(code, msg string) *Error {
	return newErr(KindValidation, http.StatusBadRequest, code, msg)
}

func NotFound(code, msg string) *Error {
	return newErr(KindNotFound, http.StatusNotFound, code, msg)
}

func Conflict(code, msg string) *Error {
	return newErr(KindStateConflict, http.StatusConflict, code, msg)
}

func Exhausted(code, msg string) *Error {
	return newErr(KindResourceExhausted, http.StatusUnprocessableEntity, code, msg)
}

func Auth(code, msg string, status int) *Error {
	return newErr(KindAuthFailure, status, code, msg)
}

func Forbidden(code, msg string) *Error {
	return newErr(KindForbidden, http.StatusForbidden, code, msg)
}

// Internal is what callers see for any error that is not a business rule
// violation. The underlying cause is never exposed.
var Internal = newErr(KindSystemFailure, http.StatusInternalServerError, "INTERNAL", "internal error")

// Common validation failure shared by most operations.
var ErrInvalidInput = Validation("INVALID_INPUT", "invalid input")

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// Describe maps any error to the (status, code, message) triple reported to
// callers. Errors outside the taxonomy collapse to Internal.
func Describe(err error) (int, string, string) {
	if err == nil {
		return http.StatusOK, "OK", "ok"
	}
	if ae, ok := As(err); ok {
		return ae.Status, ae.Code, ae.Message
	}
	return Internal.Status, Internal.Code, Internal.Message
}

// KindOf returns the taxonomy kind of err, KindSystemFailure when unknown.
func KindOf(err error) Kind {
	if ae, ok := As(err); ok {
		return ae.Kind
	}
	return KindSystemFailure
}

// IsBusiness reports whether err is a known business rule violation.
func IsBusiness(err error) bool {
	ae, ok := As(err)
	return ok && ae.Kind != KindSystemFailure
}

// StatusOf returns the HTTP status reported for err.
func StatusOf(err error) int {
	status, _, _ := Describe(err)
	return status
}
