// File: internal/agent/errors.go
package agent

import "errors"

// ErrorCode is a string type used for structured failure reporting back to
// the oracle. Using a custom type ensures only predefined constants appear
// where an ErrorCode is expected.
type ErrorCode string

const (
	// -- Argument and addressing failures --
	ErrCodeInvalidParameters ErrorCode = "INVALID_PARAMETERS"
	ErrCodeElementNotFound   ErrorCode = "ELEMENT_NOT_FOUND"
	ErrCodeResolutionFailed  ErrorCode = "RESOLUTION_FAILED"
	ErrCodeElementDisabled   ErrorCode = "ELEMENT_DISABLED"

	// -- Environment failures --
	ErrCodeTransientEnvironment ErrorCode = "TRANSIENT_ENVIRONMENT"
	ErrCodeNavigationError      ErrorCode = "NAVIGATION_ERROR"
	ErrCodeTimeoutError         ErrorCode = "TIMEOUT_ERROR"

	// -- Policy --
	ErrCodePolicyDenied ErrorCode = "POLICY_DENIED"
)

// Fatal run errors. Everything else folds into the transcript as an
// observation and the loop keeps going.
var (
	// ErrOracleUnavailable covers both a failing decision call and an oracle
	// that repeatedly declines to pick any action.
	ErrOracleUnavailable = errors.New("decision oracle unavailable")

	// ErrIterationsExhausted is returned when the iteration ceiling is hit
	// before the oracle declares the task done.
	ErrIterationsExhausted = errors.New("iteration limit reached before task completion")
)
