package sessions

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout is returned when acquiring a thread lock times out.
var ErrLockTimeout = errors.New("session: lock acquisition timeout")

type threadLock struct {
	sem      chan struct{}
	refs     int
	acquired time.Time
}

// LockManager hands out one exclusive lock per thread id. Entries are
// dropped once no goroutine holds or waits for them.
//
// Thread Safety:
// LockManager is safe for concurrent use.
type LockManager struct {
	mu      sync.Mutex
	locks   map[string]*threadLock
	timeout time.Duration
}

// NewLockManager creates a lock manager. A positive timeout bounds how long
// Acquire waits; zero waits until the context is done.
func NewLockManager(timeout time.Duration) *LockManager {
	return &LockManager{
		locks:   make(map[string]*threadLock),
		timeout: timeout,
	}
}

// Acquire waits for the thread lock. The returned release function must be
// called exactly once.
func (m *LockManager) Acquire(ctx context.Context, threadID string) (func(), error) {
	m.mu.Lock()
	lock, ok := m.locks[threadID]
	if !ok {
		lock = &threadLock{sem: make(chan struct{}, 1)}
		m.locks[threadID] = lock
	}
	lock.refs++
	m.mu.Unlock()

	var timeout <-chan time.Time
	if m.timeout > 0 {
		timer := time.NewTimer(m.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case lock.sem <- struct{}{}:
	case <-ctx.Done():
		m.unref(threadID, lock)
		return nil, ctx.Err()
	case <-timeout:
		m.unref(threadID, lock)
		return nil, ErrLockTimeout
	}

	m.mu.Lock()
	lock.acquired = time.Now()
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lock.sem
			m.unref(threadID, lock)
		})
	}, nil
}

func (m *LockManager) unref(threadID string, lock *threadLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock.refs--
	if lock.refs <= 0 && m.locks[threadID] == lock {
		delete(m.locks, threadID)
	}
}

// IsLocked reports whether a turn currently holds the thread.
func (m *LockManager) IsLocked(threadID string) bool {
	m.mu.Lock()
	lock, ok := m.locks[threadID]
	m.mu.Unlock()
	return ok && len(lock.sem) > 0
}
