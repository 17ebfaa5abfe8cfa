package stepwise

import (
	"errors"
	"fmt"
)

// Error codes for specific failure types
const (
	ErrCodeUnknownTool     = "UNKNOWN_TOOL"
	ErrCodeToolInvocation  = "TOOL_INVOCATION_ERROR"
	ErrCodeArgumentParse   = "ARGUMENT_PARSE_WARNING"
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodePlanGeneration  = "PLAN_GENERATION_ERROR"
	ErrCodeCancelled       = "EXECUTION_CANCELLED"
	ErrCodeCache           = "CACHE_ERROR"
	ErrCodeConfiguration   = "CONFIGURATION_ERROR"
	ErrCodeInternal        = "INTERNAL_ERROR"
	ErrCodeAsyncNotFound   = "ASYNC_EXECUTION_NOT_FOUND"
	ErrCodeAsyncInProgress = "ASYNC_EXECUTION_IN_PROGRESS"
)

var (
	// ErrUnknownTool is the cause of every UNKNOWN_TOOL error.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrMalformedList is the cause of every ARGUMENT_PARSE_WARNING.
	ErrMalformedList = errors.New("malformed list expression")
)

// NoStep marks errors that are not tied to a plan step.
const NoStep = -1

// Error is the coded error type returned by stepwise components.
type Error struct {
	Code       string // A machine-readable error code (e.g., ErrCodeUnknownTool)
	Message    string // A human-readable message
	Stage      string // The stage where the error occurred (e.g., "planning", "execution")
	Step       int    // Index of the failing step, or NoStep
	ResultName string // Result name of the failing step, if any
	Cause      error  // The underlying error, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	where := e.Stage
	if e.Step != NoStep {
		where = fmt.Sprintf("%s step %d", e.Stage, e.Step)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", where, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", where, e.Code, e.Message)
}

// Unwrap returns the underlying cause, so errors.Is and errors.As reach the
// original tool error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error not tied to a step.
func NewError(code, stage, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Stage:   stage,
		Step:    NoStep,
		Message: message,
		Cause:   cause,
	}
}

// AtStep attaches step information and returns e.
func (e *Error) AtStep(index int, resultName string) *Error {
	e.Step = index
	e.ResultName = resultName
	return e
}

// HasCode reports whether err, or any error it wraps, is an *Error with code.
func HasCode(err error, code string) bool {
	var se *Error
	for err != nil {
		if errors.As(err, &se) {
			if se.Code == code {
				return true
			}
			err = se.Cause
			continue
		}
		return false
	}
	return false
}

// Specific error constructors

func NewUnknownToolError(stage, toolName string) *Error {
	return NewError(ErrCodeUnknownTool, stage, fmt.Sprintf("tool '%s' not found in registry", toolName), ErrUnknownTool)
}

func NewToolInvocationError(stage, toolName string, cause error) *Error {
	return NewError(ErrCodeToolInvocation, stage, fmt.Sprintf("tool '%s' failed", toolName), cause)
}

func NewArgumentParseWarning(stage, expression string, cause error) *Error {
	return NewError(ErrCodeArgumentParse, stage, fmt.Sprintf("failed to parse list argument '%s'", expression), cause)
}

func NewValidationError(stage, message string, cause error) *Error {
	return NewError(ErrCodeValidation, stage, message, cause)
}

func NewPlanGenerationError(cause error) *Error {
	return NewError(ErrCodePlanGeneration, "planning", "failed to generate plan", cause)
}

func NewCancelledError(stage string, cause error) *Error {
	return NewError(ErrCodeCancelled, stage, "execution cancelled", cause)
}

func NewCacheError(stage, operation string, cause error) *Error {
	return NewError(ErrCodeCache, stage, fmt.Sprintf("cache operation '%s' failed", operation), cause)
}

func NewConfigurationError(message string, cause error) *Error {
	return NewError(ErrCodeConfiguration, "initialization", message, cause)
}

func NewInternalError(stage, message string, cause error) *Error {
	return NewError(ErrCodeInternal, stage, message, cause)
}

func NewAsyncNotFoundError(executionID string) *Error {
	return NewError(ErrCodeAsyncNotFound, "async", fmt.Sprintf("execution with ID '%s' not found", executionID), nil)
}

func NewAsyncInProgressError(executionID string, state AsyncState) *Error {
	return NewError(ErrCodeAsyncInProgress, "async", fmt.Sprintf("execution '%s' is still in progress (state: %s)", executionID, state), nil)
}
