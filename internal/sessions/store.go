package sessions

import (
	"context"
	"time"

	"github.com/challengechat/challengechat/internal/agent"
)

// Store is the interface for conversation thread persistence.
//
// Threads are created on first reference. Turns on the same thread must hold
// the thread lock for their whole duration.
type Store interface {
	// Lock waits for exclusive use of the thread or until ctx is done.
	Lock(ctx context.Context, threadID string) (unlock func(), err error)

	// History returns a copy of the thread's messages in append order.
	History(threadID string) []agent.Message

	// Append adds messages to the thread. A tool_result that answers no
	// pending tool call is rejected with agent.ErrOrphanToolResult.
	Append(threadID string, msgs ...agent.Message) error

	// Delete forgets a thread.
	Delete(threadID string)

	// Len reports the number of live threads.
	Len() int
}

// Thread is one conversation: an append-only message log.
type Thread struct {
	ID        string
	Messages  []agent.Message
	CreatedAt time.Time
	UpdatedAt time.Time
}

var _ agent.ThreadStore = Store(nil)
