package agent

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewToolError_Classification(t *testing.T) {
	call := ToolCall{ID: "call_1", Name: "search_papers"}
	tests := []struct {
		name  string
		cause error
		want  ToolErrorType
	}{
		{"not found", fmt.Errorf("lookup: %w", ErrToolNotFound), ToolErrorNotFound},
		{"invalid input", fmt.Errorf("%w: query is required", ErrInvalidToolArguments), ToolErrorInvalidInput},
		{"panic", fmt.Errorf("%w: nil map", ErrToolPanic), ToolErrorPanic},
		{"other", errors.New("arxiv unavailable"), ToolErrorExecution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newToolError(call, tt.cause)
			if err.Type != tt.want {
				t.Errorf("Type = %q, want %q", err.Type, tt.want)
			}
			if err.ToolName != "search_papers" || err.ToolCallID != "call_1" {
				t.Errorf("call fields = %q %q", err.ToolName, err.ToolCallID)
			}
			if !errors.Is(err, tt.cause) {
				t.Error("cause not reachable through Unwrap")
			}
		})
	}
}

func TestToolError_Error(t *testing.T) {
	err := &ToolError{Type: ToolErrorExecution, ToolName: "fetch_paper", Cause: errors.New("timeout")}
	if got, want := err.Error(), "[tool:execution] fetch_paper timeout"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	bare := &ToolError{Type: ToolErrorPanic}
	if got := bare.Error(); got != "[tool:panic]" {
		t.Errorf("Error() = %q", got)
	}
}

func TestLoopError(t *testing.T) {
	cause := errors.New("stream reset")
	err := &LoopError{State: StateAwaitModel, Round: 2, Cause: cause}

	if !errors.Is(err, cause) {
		t.Error("errors.Is(cause) = false")
	}
	msg := err.Error()
	if !strings.Contains(msg, "round 2") || !strings.Contains(msg, "stream reset") {
		t.Errorf("Error() = %q", msg)
	}

	var loopErr *LoopError
	if !errors.As(fmt.Errorf("turn: %w", err), &loopErr) || loopErr.State != StateAwaitModel {
		t.Error("errors.As did not find the LoopError")
	}
}
