package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/challengechat/challengechat/internal/agent"
)

// MemoryConfig configures a MemoryStore.
type MemoryConfig struct {
	// MaxMessages caps messages kept per thread; the oldest non-system
	// messages are dropped first. Zero means unlimited.
	MaxMessages int

	// LockTimeout bounds how long Lock waits. Zero waits for the context.
	LockTimeout time.Duration

	Logger *slog.Logger
}

// MemoryStore keeps threads in process memory. State is lost on restart.
type MemoryStore struct {
	mu          sync.RWMutex
	threads     map[string]*Thread
	locks       *LockManager
	maxMessages int
	logger      *slog.Logger
	now         func() time.Time
}

// NewMemoryStore creates an empty in-memory thread store.
func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		threads:     make(map[string]*Thread),
		locks:       NewLockManager(cfg.LockTimeout),
		maxMessages: cfg.MaxMessages,
		logger:      logger,
		now:         time.Now,
	}
}

// Lock waits for exclusive use of the thread.
func (s *MemoryStore) Lock(ctx context.Context, threadID string) (func(), error) {
	unlock, err := s.locks.Acquire(ctx, threadID)
	if err != nil {
		return nil, err
	}
	s.touch(threadID)
	return unlock, nil
}

// History returns a copy of the thread's messages.
func (s *MemoryStore) History(threadID string) []agent.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	thread, ok := s.threads[threadID]
	if !ok {
		return nil
	}
	return agent.CloneMessages(thread.Messages)
}

// Append adds messages to the thread, creating it on first reference.
// Messages are validated in order; on error nothing from this call is
// appended.
func (s *MemoryStore) Append(threadID string, msgs ...agent.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread := s.getOrCreateLocked(threadID)
	next := append(agent.CloneMessages(thread.Messages), agent.CloneMessages(msgs)...)
	base := len(thread.Messages)
	for i, msg := range msgs {
		if msg.Role != agent.RoleToolResult {
			continue
		}
		if !answersPending(next[:base+i], msg.ToolCallID) {
			return fmt.Errorf("thread %s: tool_call_id %q: %w", threadID, msg.ToolCallID, agent.ErrOrphanToolResult)
		}
	}

	thread.Messages = s.capLocked(next)
	thread.UpdatedAt = s.now()
	return nil
}

// Delete forgets a thread.
func (s *MemoryStore) Delete(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, threadID)
}

// Len reports the number of live threads.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads)
}

// Thread returns a snapshot of the thread metadata and messages.
func (s *MemoryStore) Thread(threadID string) (Thread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	thread, ok := s.threads[threadID]
	if !ok {
		return Thread{}, false
	}
	snapshot := *thread
	snapshot.Messages = agent.CloneMessages(thread.Messages)
	return snapshot, true
}

func (s *MemoryStore) touch(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreateLocked(threadID).UpdatedAt = s.now()
}

func (s *MemoryStore) getOrCreateLocked(threadID string) *Thread {
	thread, ok := s.threads[threadID]
	if !ok {
		now := s.now()
		thread = &Thread{ID: threadID, CreatedAt: now, UpdatedAt: now}
		s.threads[threadID] = thread
	}
	return thread
}

// capLocked trims the oldest non-system messages beyond maxMessages, then
// drops tool results whose call was trimmed away.
func (s *MemoryStore) capLocked(msgs []agent.Message) []agent.Message {
	if s.maxMessages <= 0 || len(msgs) <= s.maxMessages {
		return msgs
	}
	start := 0
	if msgs[0].Role == agent.RoleSystem {
		start = 1
	}
	drop := len(msgs) - s.maxMessages
	for start+drop < len(msgs) && msgs[start+drop].Role == agent.RoleToolResult {
		drop++
	}
	if start+drop >= len(msgs) {
		return msgs
	}
	return append(msgs[:start:start], msgs[start+drop:]...)
}

func answersPending(history []agent.Message, callID string) bool {
	for _, call := range agent.PendingToolCalls(history) {
		if call.ID == callID {
			return true
		}
	}
	return false
}

var _ Store = (*MemoryStore)(nil)
