package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrNotFound           = "NOT_FOUND"
	ErrConflict           = "CONFLICT"
	ErrValidationError    = "VALIDATION_ERROR"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"
)

// Lifecycle-specific error codes.
const (
	ErrStepNotFound            = "STEP_NOT_FOUND"
	ErrInvalidStepPayload      = "INVALID_STEP_PAYLOAD"
	ErrIllegalTransition       = "ILLEGAL_TRANSITION"
	ErrGuardFailed             = "GUARD_FAILED"
	ErrAlreadyFinalized        = "ALREADY_FINALIZED"
	ErrRequiredStepsIncomplete = "REQUIRED_STEPS_INCOMPLETE"
	ErrEODIncomplete           = "EOD_INCOMPLETE"
)

// ErrorEnvelope is the standard error response envelope returned by the core.
// It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	// Steps carries the titles of blocking checklist steps for GUARD_FAILED
	// and REQUIRED_STEPS_INCOMPLETE so the caller can render them.
	Steps   []string `json:"steps,omitempty"`
	TraceID string   `json:"trace_id"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorCode extracts the code from an error, or returns the empty string
// when the error is not an ErrorEnvelope.
func ErrorCode(err error) string {
	var env *ErrorEnvelope
	if errors.As(err, &env) {
		return env.Code
	}
	return ""
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewBackendUnavailableError returns a BACKEND_UNAVAILABLE error.
func NewBackendUnavailableError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendUnavailable,
		Message: "The backend service is temporarily unavailable",
	}
}

// NewBackendTimeoutError returns a BACKEND_TIMEOUT error.
func NewBackendTimeoutError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendTimeout,
		Message: "The backend service did not respond in time",
	}
}

// NewStepNotFoundError returns a STEP_NOT_FOUND error. This indicates a
// caller bug: the step ID is absent from the checklist's template.
func NewStepNotFoundError(stepID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrStepNotFound,
		Message: fmt.Sprintf("step %q not found in checklist", stepID),
	}
}

// NewInvalidStepPayloadError returns an INVALID_STEP_PAYLOAD error with
// field-level details describing which payload fields failed validation.
func NewInvalidStepPayloadError(stepID string, details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInvalidStepPayload,
		Message: fmt.Sprintf("invalid payload for step %q", stepID),
		Details: details,
	}
}

// NewIllegalTransitionError returns an ILLEGAL_TRANSITION error.
func NewIllegalTransitionError(from, to PipelineStage) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrIllegalTransition,
		Message: fmt.Sprintf("no transition from stage %q to %q", from, to),
	}
}

// NewGuardFailedError returns a GUARD_FAILED error carrying the titles of
// the required checklist steps that are still incomplete.
func NewGuardFailedError(stepTitles []string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrGuardFailed,
		Message: "required checklist steps are incomplete",
		Steps:   stepTitles,
	}
}

// NewAlreadyFinalizedError returns an ALREADY_FINALIZED error.
func NewAlreadyFinalizedError(businessDate string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrAlreadyFinalized,
		Message: fmt.Sprintf("end-of-day checklist for %s is already finalized", businessDate),
	}
}

// NewRequiredStepsIncompleteError returns a REQUIRED_STEPS_INCOMPLETE error
// carrying the titles of the blocking steps.
func NewRequiredStepsIncompleteError(stepTitles []string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrRequiredStepsIncomplete,
		Message: "required end-of-day steps are incomplete",
		Steps:   stepTitles,
	}
}

// NewEODIncompleteError returns an EOD_INCOMPLETE error. Distinct from
// backend failures: the clock-out was blocked by the local gate, not by
// the time-tracking service.
func NewEODIncompleteError(businessDate string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrEODIncomplete,
		Message: fmt.Sprintf("end-of-day checklist for %s has not been finalized", businessDate),
	}
}
