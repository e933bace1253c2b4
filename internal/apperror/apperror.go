// Package apperror defines the error taxonomy shared by services and handlers.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by its effect on the caller.
type Kind int

const (
	KindUnexpected Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindAuth
	KindForbidden
	KindRateLimited
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindAuth:
		return "auth"
	case KindForbidden:
		return "forbidden"
	case KindRateLimited:
		return "rate_limited"
	case KindUpstream:
		return "upstream"
	default:
		return "unexpected"
	}
}

// Error is an error with a kind, a machine readable code and a message safe to show to users.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns a copy of e carrying err as its cause. errors.Is(copy, e) still holds.
func (e *Error) Wrap(err error) error {
	return &wrapped{inner: &Error{Kind: e.Kind, Code: e.Code, Message: e.Message, Err: err}, sentinel: e}
}

type wrapped struct {
	inner    *Error
	sentinel *Error
}

func (w *wrapped) Error() string { return w.inner.Error() }
func (w *wrapped) Unwrap() error { return w.inner.Err }
func (w *wrapped) Is(target error) bool { return target == w.sentinel }

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Validation(code, message string) *Error { return newError(KindValidation, code, message) }
func NotFound(code, message string) *Error { return newError(KindNotFound, code, message) }
func Conflict(code, message string) *Error { return newError(KindConflict, code, message) }
func Auth(code, message string) *Error { return newError(KindAuth, code, message) }
func Forbidden(code, message string) *Error { return newError(KindForbidden, code, message) }
func RateLimited(code, message string) *Error { return newError(KindRateLimited, code, message) }
func Upstream(code, message string) *Error { return newError(KindUpstream, code, message) }

// Unexpected wraps an infrastructure failure (database, encoding, ...).
func Unexpected(code string, err error) *Error {
	return &Error{Kind: KindUnexpected, Code: code, Message: "Internal server error", Err: err}
}

// As extracts the *Error from err, if any.
func As(err error) (*Error, bool) {
	var w *wrapped
	if errors.As(err, &w) {
		return w.inner, true
	}
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err. Errors outside the taxonomy are unexpected.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindUnexpected
}

// HTTPStatus maps a kind onto a response status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindConflict:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
