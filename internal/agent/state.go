package agent

// State is a step of the per-turn control loop.
type State int

const (
	// StateAwaitModel calls the model with the current history.
	StateAwaitModel State = iota

	// StateAwaitTools runs the tool calls of the last assistant message.
	StateAwaitTools

	// StateDone is terminal.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateAwaitModel:
		return "await_model"
	case StateAwaitTools:
		return "await_tools"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Transition returns the state that follows s once last has been appended.
//
//	AwaitModel + assistant with tool calls -> AwaitTools
//	AwaitModel + anything else             -> Done
//	AwaitTools                             -> AwaitModel
//	Done                                   -> Done
func Transition(s State, last *Message) State {
	switch s {
	case StateAwaitModel:
		if last != nil && last.HasToolCalls() {
			return StateAwaitTools
		}
		return StateDone
	case StateAwaitTools:
		return StateAwaitModel
	default:
		return StateDone
	}
}
