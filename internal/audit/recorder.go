// Package audit appends verbatim interview transcripts to per-session JSONL
// files. The transcript is an optional byproduct outside the hot-path state
// machine: recording failures are logged and never fail the caller.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scoped/internal/interview"
	"github.com/fyrsmithlabs/scoped/internal/logging"
)

// line is one transcript utterance on disk.
type line struct {
	SessionID string    `json:"session_id"`
	Stage     int       `json:"stage"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Recorder appends transcripts. A nil *Recorder is valid and records
// nothing, so callers never branch on whether auditing is enabled.
type Recorder struct {
	dir    string
	mu     sync.Mutex
	logger *logging.Logger
}

// NewRecorder creates a transcript recorder under dataDir.
func NewRecorder(dataDir string, logger *logging.Logger) (*Recorder, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data dir required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	dir := filepath.Join(dataDir, "transcripts")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create transcript dir: %w", err)
	}
	return &Recorder{dir: dir, logger: logger.Named("audit")}, nil
}

// RecordStage appends the stage's full conversation history.
func (r *Recorder) RecordStage(ctx context.Context, sessionID string, record *interview.StageRecord) {
	if r == nil || record == nil || len(record.History) == 0 {
		return
	}
	if _, err := uuid.Parse(sessionID); err != nil {
		r.logger.Warn(ctx, "skipping transcript for invalid session id",
			zap.String("session_id", sessionID))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	path := filepath.Join(r.dir, sessionID+".jsonl")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		r.logger.Warn(ctx, "failed to open transcript", zap.Error(err))
		return
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, h := range record.History {
		if err := enc.Encode(line{
			SessionID: sessionID,
			Stage:     record.Stage,
			Role:      h.Role,
			Text:      h.Text,
			Timestamp: h.Timestamp,
		}); err != nil {
			r.logger.Warn(ctx, "failed to append transcript line", zap.Error(err))
			return
		}
	}
}

// Read returns the session's transcript in append order.
func (r *Recorder) Read(sessionID string) ([]interview.HistoryRecord, error) {
	if r == nil {
		return nil, nil
	}
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, fmt.Errorf("invalid session id %q: %w", sessionID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(r.dir, sessionID+".jsonl"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}

	var history []interview.HistoryRecord
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var l line
		if err := dec.Decode(&l); err != nil {
			break
		}
		history = append(history, interview.HistoryRecord{
			Role:      l.Role,
			Text:      l.Text,
			Timestamp: l.Timestamp,
		})
	}
	return history, nil
}
