package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"
)

// memoryStore is an in-memory Store for tests and embedded use.
type memoryStore struct {
	mu      sync.RWMutex
	entries map[string][]*Checkpoint
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() Store {
	return &memoryStore{entries: map[string][]*Checkpoint{}}
}

func (s *memoryStore) Save(ctx context.Context, sessionID string, stage int, state []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.entries[sessionID]
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Stage == stage {
			if bytes.Equal(entries[i].State, state) {
				return nil
			}
			break
		}
	}

	stateCopy := make([]byte, len(state))
	copy(stateCopy, state)

	s.entries[sessionID] = append(entries, &Checkpoint{
		SessionID: sessionID,
		Stage:     stage,
		State:     json.RawMessage(stateCopy),
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (s *memoryStore) LoadLatest(ctx context.Context, sessionID string) (*Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.entries[sessionID]
	if len(entries) == 0 {
		return nil, false, nil
	}
	latest := *entries[len(entries)-1]
	return &latest, true, nil
}

var _ Store = (*memoryStore)(nil)
