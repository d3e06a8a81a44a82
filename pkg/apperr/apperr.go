// Package apperr defines the typed error kinds surfaced to clients.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for clients.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindNotFound         Kind = "not_found"
	KindPermissionDenied Kind = "permission_denied"
	KindUnauthenticated  Kind = "unauthenticated"
	KindRateLimited      Kind = "rate_limited"
	KindInternal         Kind = "internal"
)

// Error is an error with a client-facing kind and message.
type Error struct {
	Kind    Kind   `json:"code"`
	Message string `json:"error"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an error of the given kind.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind that keeps cause in the chain.
func Wrap(kind Kind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Validation(msg string) error {
	return New(KindValidation, msg)
}

func NotFound(msg string) error {
	return New(KindNotFound, msg)
}

func Forbidden(msg string) error {
	return New(KindPermissionDenied, msg)
}

func Unauthenticated(msg string) error {
	return New(KindUnauthenticated, msg)
}

func RateLimited(msg string) error {
	return New(KindRateLimited, msg)
}

func Internal(msg string, cause error) error {
	return Wrap(KindInternal, msg, cause)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the client-facing message for err. Errors without a kind
// never leak their text.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == KindInternal {
			return "internal error"
		}
		return e.Message
	}
	return "internal error"
}

// HTTPStatus maps a kind to an HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
