package agent

import (
	"errors"
	"fmt"
	"strings"
)

// Common sentinel errors for agent operations
var (
	// ErrNoProvider indicates no model provider is configured
	ErrNoProvider = errors.New("no provider configured")

	// ErrMaxToolRounds indicates a turn used up its tool rounds and was
	// forced to answer without tools
	ErrMaxToolRounds = errors.New("max tool rounds exceeded")

	// ErrOrphanToolResult indicates a tool_result that answers no pending call
	ErrOrphanToolResult = errors.New("tool result does not match a pending tool call")

	// ErrToolNotFound indicates a requested tool doesn't exist
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidToolArguments indicates arguments failed schema validation
	ErrInvalidToolArguments = errors.New("invalid tool arguments")

	// ErrToolPanic indicates a tool panicked during execution
	ErrToolPanic = errors.New("tool panicked")
)

// ToolErrorType categorizes tool execution errors.
type ToolErrorType string

const (
	ToolErrorNotFound     ToolErrorType = "not_found"
	ToolErrorInvalidInput ToolErrorType = "invalid_input"
	ToolErrorExecution    ToolErrorType = "execution"
	ToolErrorPanic        ToolErrorType = "panic"
)

// ToolError describes a failed tool call. Its message becomes the content of
// the error result returned to the model.
type ToolError struct {
	Type       ToolErrorType
	ToolName   string
	ToolCallID string
	Cause      error
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	parts := []string{fmt.Sprintf("[tool:%s]", e.Type)}
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ToolError) Unwrap() error {
	return e.Cause
}

func newToolError(call ToolCall, cause error) *ToolError {
	return &ToolError{
		Type:       classifyToolError(cause),
		ToolName:   call.Name,
		ToolCallID: call.ID,
		Cause:      cause,
	}
}

func classifyToolError(err error) ToolErrorType {
	switch {
	case errors.Is(err, ErrToolNotFound):
		return ToolErrorNotFound
	case errors.Is(err, ErrInvalidToolArguments):
		return ToolErrorInvalidInput
	case errors.Is(err, ErrToolPanic):
		return ToolErrorPanic
	default:
		return ToolErrorExecution
	}
}

// LoopError records where in the turn state machine a failure happened.
type LoopError struct {
	// State is the state the orchestrator was in
	State State

	// Round is the number of completed tool rounds at the time of failure
	Round int

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *LoopError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("turn failed in %s (round %d): %v", e.State, e.Round, e.Cause)
	}
	return fmt.Sprintf("turn failed in %s (round %d)", e.State, e.Round)
}

// Unwrap returns the underlying error.
func (e *LoopError) Unwrap() error {
	return e.Cause
}
