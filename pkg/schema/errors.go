package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeGraph             = "GRAPH_ERROR"
	ErrCodeHandler           = "HANDLER_ERROR"
	ErrCodeRouting           = "ROUTING_ERROR"
	ErrCodeStatusGate        = "STATUS_GATE"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeExpression        = "EXPRESSION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeStore             = "STORE_ERROR"
)

// PlaybookError is the structured error type for all engine operations.
type PlaybookError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *PlaybookError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *PlaybookError) Unwrap() error {
	return e.Cause
}

// NewError creates a new PlaybookError.
func NewError(code, message string) *PlaybookError {
	return &PlaybookError{Code: code, Message: message}
}

// NewErrorf creates a new PlaybookError with a formatted message.
func NewErrorf(code, format string, args ...any) *PlaybookError {
	return &PlaybookError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step ID to the error.
func (e *PlaybookError) WithStep(stepID string) *PlaybookError {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *PlaybookError) WithCause(err error) *PlaybookError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *PlaybookError) WithDetails(details map[string]any) *PlaybookError {
	e.Details = details
	return e
}

// ErrorCode returns the code of a PlaybookError anywhere in err's chain, or
// an empty string if there is none.
func ErrorCode(err error) string {
	var pe *PlaybookError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
