package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/scoped/internal/interview"
	"github.com/fyrsmithlabs/scoped/internal/logging"
)

func stageRecord(stage int) *interview.StageRecord {
	now := time.Now().UTC()
	return &interview.StageRecord{
		Stage: stage,
		History: []interview.HistoryRecord{
			{Role: interview.RoleInterviewer, Text: "What is the problem?", Timestamp: now},
			{Role: interview.RoleRespondent, Text: "Churn is up.", Timestamp: now},
		},
	}
}

func TestRecorder_AppendAndRead(t *testing.T) {
	r, err := NewRecorder(t.TempDir(), logging.NewTestLogger().Logger)
	require.NoError(t, err)

	id := uuid.New().String()
	r.RecordStage(context.Background(), id, stageRecord(1))
	r.RecordStage(context.Background(), id, stageRecord(2))

	history, err := r.Read(id)
	require.NoError(t, err)
	require.Len(t, history, 4, "transcripts accumulate across stages")
	assert.Equal(t, interview.RoleInterviewer, history[0].Role)
	assert.Equal(t, "Churn is up.", history[1].Text)
}

func TestRecorder_EmptySessionHasNoTranscript(t *testing.T) {
	r, err := NewRecorder(t.TempDir(), logging.NewNop())
	require.NoError(t, err)

	history, err := r.Read(uuid.New().String())
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRecorder_InvalidSessionIDNeverFails(t *testing.T) {
	logger := logging.NewTestLogger()
	r, err := NewRecorder(t.TempDir(), logger.Logger)
	require.NoError(t, err)

	// Failures are logged, not returned.
	r.RecordStage(context.Background(), "../escape", stageRecord(1))
	logger.AssertLogged(t, zapcore.WarnLevel, "invalid session id")
}

func TestRecorder_NilIsDisabled(t *testing.T) {
	var r *Recorder

	r.RecordStage(context.Background(), uuid.New().String(), stageRecord(1))
	history, err := r.Read(uuid.New().String())
	require.NoError(t, err)
	assert.Empty(t, history)
}
