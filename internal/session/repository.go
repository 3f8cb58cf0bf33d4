package session

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a session does not exist or was deleted.
var ErrNotFound = errors.New("session not found")

// ErrExists is returned when creating a session whose id is taken.
var ErrExists = errors.New("session already exists")

// Repository stores sessions. Implementations must be safe for concurrent
// use; the orchestrator serializes per-session access above this layer.
type Repository interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, s *Session) error

	// Delete soft-destroys the session; subsequent Gets return ErrNotFound.
	Delete(ctx context.Context, id string) error

	// ListByOwner returns the owner's live sessions, most recent first.
	ListByOwner(ctx context.Context, owner string) ([]*Session, error)

	// List returns all live sessions. Used by maintenance sweeps.
	List(ctx context.Context) ([]*Session, error)
}
