// Package checkpoint provides durable session snapshots keyed by session id
// and stage number. The store is append-only; the latest record per
// (session, stage) is authoritative for resume.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Checkpoint is one durable snapshot.
type Checkpoint struct {
	SessionID string          `json:"session_id"`
	Stage     int             `json:"stage"`
	State     json.RawMessage `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store persists checkpoints. Save is idempotent on an identical re-save of
// the latest (session, stage) record.
type Store interface {
	Save(ctx context.Context, sessionID string, stage int, state []byte) error

	// LoadLatest returns the most recent checkpoint for the session. The
	// bool is false when the session has no checkpoints.
	LoadLatest(ctx context.Context, sessionID string) (*Checkpoint, bool, error)
}

// PersistenceError marks a failed durable write. Always fatal to the
// in-progress operation; the caller must not continue as if the write
// succeeded.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistence reports whether err wraps a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
