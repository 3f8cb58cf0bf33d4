package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// fileRepository persists each session as <data dir>/sessions/<id>.json with
// 0600 permissions and atomic replace on update.
type fileRepository struct {
	dir string
	mu  sync.RWMutex
}

// NewFileRepository creates a file-backed repository under dataDir.
func NewFileRepository(dataDir string) (Repository, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data dir required")
	}
	dir := filepath.Join(dataDir, "sessions")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session dir: %w", err)
	}
	return &fileRepository{dir: dir}, nil
}

// path validates the id before joining it into a filesystem path.
func (r *fileRepository) path(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("invalid session id %q: %w", id, err)
	}
	return filepath.Join(r.dir, id+".json"), nil
}

func (r *fileRepository) Create(ctx context.Context, s *Session) error {
	path, err := r.path(s.ID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, s.ID)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to stat session file: %w", err)
	}
	return r.write(path, s)
}

func (r *fileRepository) Get(ctx context.Context, id string) (*Session, error) {
	path, err := r.path(id)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	s, err := r.read(path)
	if err != nil {
		return nil, err
	}
	if s.DeletedAt != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

func (r *fileRepository) Update(ctx context.Context, s *Session) error {
	path, err := r.path(s.ID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, s.ID)
		}
		return fmt.Errorf("failed to stat session file: %w", err)
	}
	return r.write(path, s)
}

func (r *fileRepository) Delete(ctx context.Context, id string) error {
	path, err := r.path(id)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.read(path)
	if err != nil {
		return err
	}
	if s.DeletedAt == nil {
		now := time.Now().UTC()
		s.DeletedAt = &now
		s.UpdatedAt = now
		return r.write(path, s)
	}
	return nil
}

func (r *fileRepository) ListByOwner(ctx context.Context, owner string) ([]*Session, error) {
	return r.list(func(s *Session) bool { return s.Owner == owner })
}

func (r *fileRepository) List(ctx context.Context) ([]*Session, error) {
	return r.list(func(*Session) bool { return true })
}

func (r *fileRepository) list(keep func(*Session) bool) ([]*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list session dir: %w", err)
	}

	var sessions []*Session
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		s, err := r.read(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			// A torn or foreign file never hides the rest of the list.
			continue
		}
		if s.DeletedAt == nil && keep(s) {
			sessions = append(sessions, s)
		}
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

func (r *fileRepository) read(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSuffix(filepath.Base(path), ".json"))
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("corrupt session file %s: %w", filepath.Base(path), err)
	}
	return &s, nil
}

// write replaces the session file atomically.
func (r *fileRepository) write(path string, s *Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

var _ Repository = (*fileRepository)(nil)
