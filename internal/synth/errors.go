// Package synth wraps the external speech-synthesis provider behind a
// timeout-and-retry gateway that returns audio bytes or a typed failure.
package synth

import (
	"errors"
	"fmt"
)

// Code classifies a synthesis failure for callers and the wire protocol.
type Code string

const (
	// CodeInvalidInput rejects malformed or empty text before any work.
	CodeInvalidInput Code = "invalid_input"
	// CodeTimeout marks a provider call that exceeded its deadline.
	CodeTimeout Code = "timeout"
	// CodeRateLimited marks a provider throttle response.
	CodeRateLimited Code = "rate_limited"
	// CodeProvider marks a retryable upstream failure.
	CodeProvider Code = "provider_error"
	// CodeUnauthorized marks misconfiguration (bad or missing credentials).
	// Never retried.
	CodeUnauthorized Code = "unauthorized"
)

// Error is the typed failure surfaced by providers and the gateway.
type Error struct {
	Code      Code
	Retryable bool
	Detail    string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("synth %s: %s: %v", e.Code, e.Detail, e.Err)
	}
	return fmt.Sprintf("synth %s: %s", e.Code, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a typed synthesis error.
func NewError(code Code, retryable bool, detail string, err error) *Error {
	return &Error{Code: code, Retryable: retryable, Detail: detail, Err: err}
}

// IsRetryable reports whether err is a synthesis error worth retrying.
func IsRetryable(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// CodeOf extracts the failure code, defaulting to CodeProvider for
// untyped errors.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeProvider
}
