package reasoning

import (
	"errors"
	"fmt"
)

// ErrDegraded marks any reasoning-tier failure: exhausted retries, hard
// upstream rejections, unusable response bodies. Callers show a "still
// analyzing" state for it instead of a hard failure.
var ErrDegraded = errors.New("reasoning service degraded")

// ErrorCode identifies a reasoning client failure class.
type ErrorCode string

const (
	ErrUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	ErrUpstreamRejected    ErrorCode = "UPSTREAM_REJECTED"
	ErrMalformedResponse   ErrorCode = "MALFORMED_RESPONSE"
)

// Error is a structured reasoning client error.
type Error struct {
	Code      ErrorCode
	Message   string
	Status    int
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}
