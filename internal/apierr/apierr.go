// Package apierr defines the dataplane's error-kind sentinel set: a
// structured error type carrying a stable kind, an HTTP status, and a
// retryable flag, so the proxy engine can drive its retry loop via
// errors.Is/errors.As instead of string matching.
package apierr

import (
	"errors"
	"fmt"
)

// Kind is a stable error classification, not a Go type name.
type Kind string

const (
	KindMissingAPIKey       Kind = "missing-api-key"
	KindInvalidAPIKey       Kind = "invalid-api-key"
	KindClientRateLimited   Kind = "rate-limit-exceeded"
	KindNoUpstreamAvailable Kind = "no-upstream-available"
	KindUpstreamRateLimited Kind = "upstream-rate-limited"
	KindUpstreamServerError Kind = "upstream-server-error"
	KindUpstreamTransport   Kind = "upstream-transport-error"
	KindUpstreamClientError Kind = "upstream-client-error"
	KindStoreUnavailable    Kind = "state-store-unavailable"
	KindVaultUnavailable    Kind = "vault-unavailable"
	KindConflict            Kind = "conflict"
	KindNotFound            Kind = "not-found"
)

// Error is a structured error with a stable kind, HTTP surface, and
// retryability, following the teacher's code/message/cause error shape.
type Error struct {
	Kind       Kind
	Message    string
	HTTPStatus int
	Retryable  bool
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, &Error{Kind: K}) to match by kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates a new Error of kind with message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithCause attaches an underlying cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status surfaced to the client.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks whether the proxy engine should retry on this error.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// KindOf extracts the Kind from err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Sentinel kind errors for use with errors.Is.
var (
	ErrMissingAPIKey       = New(KindMissingAPIKey, "missing API key").WithHTTPStatus(401)
	ErrInvalidAPIKey       = New(KindInvalidAPIKey, "invalid API key").WithHTTPStatus(401)
	ErrClientRateLimited   = New(KindClientRateLimited, "client rate limit exceeded").WithHTTPStatus(429)
	ErrNoUpstreamAvailable = New(KindNoUpstreamAvailable, "no upstream key available").WithHTTPStatus(503)
	ErrConflict            = New(KindConflict, "resource already exists").WithHTTPStatus(409)
	ErrNotFound            = New(KindNotFound, "resource not found").WithHTTPStatus(404)
)
