package qnet

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetriesExhausted is returned when all fetch attempts are exhausted.
	ErrRetriesExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during backoff.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrQuotaExhausted is returned when the daily call quota was already
	// spent earlier in the current KST day.
	ErrQuotaExhausted = errors.New("daily call quota exhausted")

	// ErrMissingJmCd is returned by operations that require a
	// qualification code when none is given.
	ErrMissingJmCd = errors.New("jmCd is required")
)

// UpstreamError represents a classified upstream failure with context.
type UpstreamError struct {
	Endpoint   string
	StatusCode int
	ResultCode string
	ResultMsg  string
	Class      ErrorClass
	Err        error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	switch {
	case e.ResultCode != "" && e.ResultMsg != "":
		return fmt.Sprintf("qnet %s error on %s (result %s %s): %s",
			e.Class, e.Endpoint, e.ResultCode, ResultCodeName(e.ResultCode), e.ResultMsg)
	case e.ResultCode != "":
		return fmt.Sprintf("qnet %s error on %s (result %s %s)",
			e.Class, e.Endpoint, e.ResultCode, ResultCodeName(e.ResultCode))
	case e.Err != nil:
		return fmt.Sprintf("qnet %s error on %s: %v", e.Class, e.Endpoint, e.Err)
	default:
		return fmt.Sprintf("qnet %s error on %s", e.Class, e.Endpoint)
	}
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// shouldRetry determines if a failed attempt should be retried based on
// its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassUpstreamSpecific:
		// Named result codes (bad parameters, unregistered key, ...)
		// fail the same way on every attempt
		return false
	case ErrorClassQuota:
		// The quota does not reset until the next KST day
		return false
	case ErrorClassTransport, ErrorClassUpstreamGeneral:
		return true
	default:
		// Unexpected failures are retried, to be conservative
		return true
	}
}
