// Package locks provides per-session mutual exclusion with bounded
// acquisition and TTL eviction of idle locks. The manager is injected into
// the orchestrator; it holds no module-level state, and no lock ever spans
// more than one session.
package locks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scoped/internal/logging"
)

// DefaultIdleTTL is how long an unused lock survives before eviction.
const DefaultIdleTTL = 10 * time.Minute

// ConflictError is returned when a session lock cannot be acquired within
// the caller's timeout. The caller retries the whole operation.
type ConflictError struct {
	SessionID string
	Timeout   time.Duration
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("session %s is locked by another operation (waited %v)", e.SessionID, e.Timeout)
}

// IsConflict reports whether err wraps a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// entry is one session's lock. inUse counts the holder plus waiters; the
// janitor only evicts entries with inUse zero, so a held lock is never
// evicted out from under its holder.
type entry struct {
	sem      chan struct{}
	inUse    int
	lastUsed time.Time
}

// Manager hands out per-session locks and evicts idle ones so historical
// session ids do not accumulate forever.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry
	idleTTL time.Duration
	logger  *logging.Logger
	done    chan struct{}
	closed  bool
}

// NewManager creates a lock manager and starts its eviction janitor.
func NewManager(idleTTL time.Duration, logger *logging.Logger) *Manager {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	m := &Manager{
		entries: map[string]*entry{},
		idleTTL: idleTTL,
		logger:  logger.Named("locks"),
		done:    make(chan struct{}),
	}
	go m.janitor()
	return m
}

// Acquire takes the session's lock, waiting at most timeout. On success the
// returned release function must be called exactly once; it is safe against
// double calls.
func (m *Manager) Acquire(ctx context.Context, sessionID string, timeout time.Duration) (func(), error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id required")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("lock timeout must be positive")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("lock manager closed")
	}
	e, ok := m.entries[sessionID]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		m.entries[sessionID] = e
	}
	e.inUse++
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.sem
				m.mu.Lock()
				e.inUse--
				e.lastUsed = time.Now()
				m.mu.Unlock()
			})
		}, nil

	case <-timer.C:
		m.release(e)
		return nil, &ConflictError{SessionID: sessionID, Timeout: timeout}

	case <-ctx.Done():
		m.release(e)
		return nil, ctx.Err()
	}
}

// release undoes the inUse reservation of a failed acquire.
func (m *Manager) release(e *entry) {
	m.mu.Lock()
	e.inUse--
	e.lastUsed = time.Now()
	m.mu.Unlock()
}

// Len returns the number of tracked locks.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close stops the janitor. Outstanding holders keep their locks.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
}

func (m *Manager) janitor() {
	ticker := time.NewTicker(m.idleTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictIdle()
		}
	}
}

func (m *Manager) evictIdle() {
	cutoff := time.Now().Add(-m.idleTTL)

	m.mu.Lock()
	evicted := 0
	for id, e := range m.entries {
		if e.inUse == 0 && e.lastUsed.Before(cutoff) {
			delete(m.entries, id)
			evicted++
		}
	}
	m.mu.Unlock()

	if evicted > 0 {
		m.logger.Debug(context.Background(), "evicted idle session locks",
			zap.Int("evicted", evicted))
	}
}
