package execution

import "errors"

var (
	// ErrUnknownAction means a step named an action with no registered
	// handler. This is a misconfiguration: fatal for the plan, not the
	// process.
	ErrUnknownAction = errors.New("unknown action")

	// ErrPlanCancelled is reported when a run is cancelled between steps.
	ErrPlanCancelled = errors.New("plan execution cancelled")
)

// ErrorCode is a string type used for structured error reporting on step
// outcomes. Using a custom type keeps the set of codes closed.
type ErrorCode string

const (
	ErrCodeExecutionFailure ErrorCode = "EXECUTION_FAILURE"
	ErrCodeUnknownAction    ErrorCode = "UNKNOWN_ACTION"
	ErrCodeStepTimeout      ErrorCode = "STEP_TIMEOUT"
	ErrCodeCancelled        ErrorCode = "CANCELLED"
)
