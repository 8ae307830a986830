package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind says whether a failed call is worth another attempt.
type ErrorKind int

const (
	// KindTransient failures (timeouts, 429, 5xx, garbled bodies) may succeed later.
	KindTransient ErrorKind = iota + 1
	// KindFatal failures (bad credentials, unknown model, malformed request) will not.
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a classified transport failure. Both kinds consume an external
// generation attempt; only transient ones are retried or sent to fallbacks.
type Error struct {
	Kind ErrorKind
	// Status is the HTTP status, or 0 when no response was received.
	Status int
	err    error
}

func (e *Error) Error() string { return e.err.Error() }

func (e *Error) Unwrap() error { return e.err }

// NewTransientError wraps err as retryable.
func NewTransientError(err error) error {
	return &Error{Kind: KindTransient, err: err}
}

// NewFatalError wraps err as non-retryable.
func NewFatalError(err error) error {
	return &Error{Kind: KindFatal, err: err}
}

// KindOf returns the classification of err, or 0 if err is unclassified.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsFatal reports whether err must not be retried.
func IsFatal(err error) bool { return KindOf(err) == KindFatal }

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

const maxErrorBody = 200

// httpError classifies a non-200 response. 408, 429 and 5xx are transient.
func httpError(status int, body []byte) error {
	msg := string(body)
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody] + "..."
	}

	kind := KindFatal
	if status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500 {
		kind = KindTransient
	}
	return &Error{
		Kind:   kind,
		Status: status,
		err:    fmt.Errorf("LLM API error (status %d): %s", status, msg),
	}
}
