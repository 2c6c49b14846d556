package agent

import "context"

// InterruptedToolResult is the content recorded for calls whose turn ended
// before they ran.
const InterruptedToolResult = `{"error": "Tool call was interrupted before it completed"}`

// PendingToolCalls returns the calls of the most recent assistant message
// that have no tool_result yet, in request order.
func PendingToolCalls(history []Message) []ToolCall {
	var pending []ToolCall
	for _, msg := range history {
		switch msg.Role {
		case RoleAssistant:
			pending = append(pending[:0:0], msg.ToolCalls...)
		case RoleToolResult:
			pending = removeCall(pending, msg.ToolCallID)
		default:
			pending = nil
		}
	}
	return pending
}

func removeCall(calls []ToolCall, id string) []ToolCall {
	for i, call := range calls {
		if call.ID == id {
			return append(calls[:i:i], calls[i+1:]...)
		}
	}
	return calls
}

// repairTranscript closes tool calls left unanswered by a previous, aborted
// turn so the model never sees a call without its result.
func (o *Orchestrator) repairTranscript(ctx context.Context, threadID string) error {
	pending := PendingToolCalls(o.store.History(threadID))
	if len(pending) == 0 {
		return nil
	}
	o.logger.WarnContext(ctx, "closing interrupted tool calls", "count", len(pending))
	for _, call := range pending {
		if err := o.store.Append(threadID, ToolResultMessage(call.ID, InterruptedToolResult)); err != nil {
			return err
		}
	}
	return nil
}
