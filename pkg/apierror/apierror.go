// Package apierror maps core error kinds to HTTP responses.
// Exactly two body shapes exist: production hides everything behind
// {"detail": "Internal Server Error"}; debug adds the class and a trace.
package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Kind classifies a core error for transport mapping.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindBadRequest        Kind = "bad_request"
	KindForbidden         Kind = "forbidden"
	KindRateLimitExceeded Kind = "rate_limit_exceeded"
	KindPaymentRequired   Kind = "payment_required"
	KindInvalidState      Kind = "invalid_state"
	KindUpstream          Kind = "upstream"
	KindDataIntegrity     Kind = "data_integrity"
	// KindSyncFailure is never surfaced synchronously; it is recorded on the
	// SyncJob and emitted as sync.failed.
	KindSyncFailure Kind = "sync_failure"
)

// Error is a classified core error.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter int // seconds; meaningful for KindRateLimitExceeded only
	wrapped    error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// New builds a classified error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf builds a classified error with formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, wrapped: err}
}

// NotFound is a convenience constructor for absent resources.
func NotFound(resource string) *Error {
	return Newf(KindNotFound, "%s not found", resource)
}

// RateLimited builds a 429 error carrying retry-after.
func RateLimited(retryAfterSecs int) *Error {
	return &Error{
		Kind:       KindRateLimitExceeded,
		Message:    "rate limit exceeded",
		RetryAfter: retryAfterSecs,
	}
}

// KindOf extracts the kind from an error chain; unclassified errors are
// treated as data-integrity failures.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindDataIntegrity
}

// Status maps a kind to its HTTP status code.
func Status(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	case KindRateLimitExceeded:
		return http.StatusTooManyRequests
	case KindPaymentRequired:
		return http.StatusPaymentRequired
	case KindInvalidState:
		return http.StatusConflict
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// body is the single response shape. Trace is set only in debug mode.
type body struct {
	Detail string `json:"detail"`
	Trace  string `json:"trace,omitempty"`
}

// Write renders err as an HTTP response. In production mode 5xx detail is
// replaced wholesale; 4xx messages are client-caused and pass through.
// The underlying error is always logged, never leaked.
func Write(w http.ResponseWriter, err error, debugMode bool) {
	kind := KindOf(err)
	status := Status(kind)

	var ae *Error
	errors.As(err, &ae)

	if ae != nil && kind == KindRateLimitExceeded && ae.RetryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", ae.RetryAfter))
	}

	b := body{}
	switch {
	case status < http.StatusInternalServerError:
		if ae != nil {
			b.Detail = ae.Message
		} else {
			b.Detail = err.Error()
		}
	case debugMode:
		b.Detail = fmt.Sprintf("%T: %v", err, err)
		b.Trace = string(debug.Stack())
	default:
		slog.Error("internal server error", "error", err, "kind", kind)
		b.Detail = "Internal Server Error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(b)
}
