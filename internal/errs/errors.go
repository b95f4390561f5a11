// Package errs defines the closed error taxonomy shared across the dispatch
// pipeline. Handlers translate these into HTTP responses; internal callers
// use errors.As to branch on Kind without inspecting strings.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind enumerates the error taxonomy from the dispatch design. Values are
// stable and may be logged or exposed as error.code.
type Kind string

const (
	Authentication           Kind = "authentication"
	NoEligibleAccount        Kind = "no_eligible_account"
	TokenExpiredRefreshFail  Kind = "token_expired_refresh_failed"
	RateLimited              Kind = "rate_limited"
	ConnectionError          Kind = "connection_error"
	UpstreamHTTP4xx          Kind = "upstream_http_4xx"
	UpstreamHTTP5xx          Kind = "upstream_http_5xx"
	PayloadTooLarge          Kind = "payload_too_large"
	SchemaViolation          Kind = "schema_violation"
	Cancelled                Kind = "cancelled"
	Internal                 Kind = "internal"
	UpstreamUnresponsive     Kind = "upstream_unresponsive"
)

// Error is the concrete error type carried through the pipeline. Message
// must never reflect server internals (stack traces, file paths, tokens).
type Error struct {
	Kind       Kind
	Message    string
	HTTPStatus int
	Retryable  bool
	cause      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error of the given kind with a default HTTP status.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, HTTPStatus: statusFor(kind), Retryable: retryableFor(kind)}
}

// Wrap attaches kind/message to an underlying cause while preserving it for
// errors.Unwrap/errors.Is chains. Internal details in `cause` are never
// surfaced through Error(); callers must format Message themselves.
func Wrap(kind Kind, message string, cause error) *Error {
	e := New(kind, message)
	e.cause = cause
	return e
}

func statusFor(kind Kind) int {
	switch kind {
	case Authentication:
		return http.StatusUnauthorized
	case NoEligibleAccount:
		return http.StatusServiceUnavailable
	case TokenExpiredRefreshFail:
		return http.StatusBadGateway
	case RateLimited:
		return http.StatusTooManyRequests
	case ConnectionError, UpstreamHTTP5xx, UpstreamUnresponsive:
		return http.StatusBadGateway
	case UpstreamHTTP4xx:
		return http.StatusBadRequest
	case PayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case SchemaViolation:
		return http.StatusBadRequest
	case Cancelled:
		return 499
	case Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func retryableFor(kind Kind) bool {
	switch kind {
	case RateLimited, ConnectionError, UpstreamHTTP5xx, UpstreamUnresponsive:
		return true
	default:
		return false
	}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to Internal for unmapped
// errors so handlers always have a closed-set code to emit.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Recoverable reports whether the dispatch retry loop may recover from this
// error internally (§7 recovery policy): RateLimited, ConnectionError,
// UpstreamHTTP5xx and UpstreamUnresponsive, plus the single-use grace-retry
// class handled by callers.
func Recoverable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
