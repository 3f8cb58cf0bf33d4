package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// memoryRepository is an in-memory Repository for tests and embedded use.
// Sessions are stored as deep copies so callers never share state with it.
type memoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() Repository {
	return &memoryRepository{sessions: map[string]*Session{}}
}

func (r *memoryRepository) Create(ctx context.Context, s *Session) error {
	clone, err := s.Clone()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, s.ID)
	}
	r.sessions[s.ID] = clone
	return nil
}

func (r *memoryRepository) Get(ctx context.Context, id string) (*Session, error) {
	r.mu.RLock()
	stored, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok || stored.DeletedAt != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return stored.Clone()
}

func (r *memoryRepository) Update(ctx context.Context, s *Session) error {
	clone, err := s.Clone()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, s.ID)
	}
	r.sessions[s.ID] = clone
	return nil
}

func (r *memoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if stored.DeletedAt == nil {
		now := time.Now().UTC()
		stored.DeletedAt = &now
		stored.UpdatedAt = now
	}
	return nil
}

func (r *memoryRepository) ListByOwner(ctx context.Context, owner string) ([]*Session, error) {
	return r.list(func(s *Session) bool { return s.Owner == owner })
}

func (r *memoryRepository) List(ctx context.Context) ([]*Session, error) {
	return r.list(func(*Session) bool { return true })
}

func (r *memoryRepository) list(keep func(*Session) bool) ([]*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sessions []*Session
	for _, stored := range r.sessions {
		if stored.DeletedAt != nil || !keep(stored) {
			continue
		}
		clone, err := stored.Clone()
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, clone)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

var _ Repository = (*memoryRepository)(nil)
