package checkpoint

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scoped/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/scoped/internal/checkpoint"

const maxStateSize = 1 << 20 // 1MB per checkpoint state

// journalStore keeps one append-only JSONL journal per session. Every line
// carries the payload length and a SHA-256 sum; a torn tail line is skipped
// on read, so a crash mid-append never poisons earlier checkpoints.
type journalStore struct {
	dir    string
	mu     sync.Mutex
	logger *logging.Logger
	tracer trace.Tracer
}

// journalLine is the on-disk envelope for one checkpoint.
type journalLine struct {
	Size       int         `json:"size"`
	Sum        string      `json:"sum"`
	Checkpoint *Checkpoint `json:"checkpoint"`
}

// NewJournalStore creates a file-backed store under dataDir.
func NewJournalStore(dataDir string, logger *logging.Logger) (Store, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data dir required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	dir := filepath.Join(dataDir, "checkpoints")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint dir: %w", err)
	}
	return &journalStore{
		dir:    dir,
		logger: logger.Named("checkpoint"),
		tracer: otel.Tracer(instrumentationName),
	}, nil
}

func (s *journalStore) path(sessionID string) (string, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return "", fmt.Errorf("invalid session id %q: %w", sessionID, err)
	}
	return filepath.Join(s.dir, sessionID+".jsonl"), nil
}

// Save appends a checkpoint and syncs before returning. A re-save identical
// to the latest record for the same (session, stage) is a no-op.
func (s *journalStore) Save(ctx context.Context, sessionID string, stage int, state []byte) error {
	ctx, span := s.tracer.Start(ctx, "checkpoint.save")
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.Int("stage", stage),
		attribute.Int("state_bytes", len(state)),
	)

	if err := s.save(ctx, sessionID, stage, state); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (s *journalStore) save(ctx context.Context, sessionID string, stage int, state []byte) error {
	if len(state) > maxStateSize {
		return fmt.Errorf("checkpoint state exceeds %d bytes", maxStateSize)
	}
	if !json.Valid(state) {
		return fmt.Errorf("checkpoint state must be valid JSON")
	}

	path, err := s.path(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readAll(path)
	if err != nil {
		return &PersistenceError{Op: "checkpoint read", Err: err}
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Stage == stage {
			if bytes.Equal(entries[i].State, state) {
				return nil
			}
			break
		}
	}

	cp := &Checkpoint{
		SessionID: sessionID,
		Stage:     stage,
		State:     json.RawMessage(state),
		CreatedAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	sum := sha256.Sum256(payload)

	line, err := json.Marshal(journalLine{
		Size:       len(payload),
		Sum:        hex.EncodeToString(sum[:]),
		Checkpoint: cp,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal journal line: %w", err)
	}

	if err := s.append(path, append(line, '\n')); err != nil {
		return &PersistenceError{Op: "checkpoint append", Err: err}
	}

	s.logger.Debug(ctx, "checkpoint saved",
		zap.String("session_id", sessionID),
		zap.Int("stage", stage),
		zap.Int("bytes", len(payload)),
	)
	return nil
}

// append writes and syncs; the write is durable only once Sync returns.
func (s *journalStore) append(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}

	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("failed to append journal line: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync journal: %w", err)
	}
	return f.Close()
}

func (s *journalStore) LoadLatest(ctx context.Context, sessionID string) (*Checkpoint, bool, error) {
	ctx, span := s.tracer.Start(ctx, "checkpoint.load_latest")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	path, err := s.path(sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}

	s.mu.Lock()
	entries, err := s.readAll(path)
	s.mu.Unlock()
	if err != nil {
		return nil, false, err
	}
	if len(entries) == 0 {
		return nil, false, nil
	}
	return entries[len(entries)-1], true, nil
}

// readAll returns the journal's valid checkpoints in append order. Reading
// stops at the first invalid line: anything after a torn append is garbage.
func (s *journalStore) readAll(path string) ([]*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	var entries []*Checkpoint
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStateSize*2)

	for scanner.Scan() {
		var line journalLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			s.logger.Warn(context.Background(), "stopping at torn journal line",
				zap.String("file", filepath.Base(path)),
				zap.Error(err),
			)
			break
		}

		payload, err := json.Marshal(line.Checkpoint)
		if err != nil || line.Checkpoint == nil {
			break
		}
		sum := sha256.Sum256(payload)
		if line.Size != len(payload) || line.Sum != hex.EncodeToString(sum[:]) {
			s.logger.Warn(context.Background(), "stopping at corrupt journal line",
				zap.String("file", filepath.Base(path)),
			)
			break
		}
		entries = append(entries, line.Checkpoint)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan journal: %w", err)
	}
	return entries, nil
}

var _ Store = (*journalStore)(nil)
