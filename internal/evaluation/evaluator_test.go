package evaluation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/scoped/internal/logging"
)

// fakeJudge returns a fixed response or error and records invocations.
type fakeJudge struct {
	response string
	err      error
	calls    int
}

func (f *fakeJudge) Generate(ctx context.Context, prompt string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeJudge) Name() string { return "fake" }

func newTestEvaluator(t *testing.T, judge *fakeJudge, opts ...Option) Evaluator {
	t.Helper()
	e, err := New(judge, logging.NewTestLogger().Logger, opts...)
	require.NoError(t, err)
	return e
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, logging.NewNop())
	require.Error(t, err)

	_, err = New(&fakeJudge{}, logging.NewNop(), WithThreshold(11))
	require.Error(t, err)
}

func TestEvaluate_AcceptableScore(t *testing.T) {
	judge := &fakeJudge{response: `{"score": 8.5, "issues": [], "follow_up": ""}`}
	e := newTestEvaluator(t, judge)

	a, err := e.Evaluate(context.Background(), "What is the business problem?", "Churn is up 20% since March.")
	require.NoError(t, err)
	assert.Equal(t, 8.5, a.Score)
	assert.True(t, a.Acceptable)
	assert.Empty(t, a.Issues)
}

func TestEvaluate_BelowThreshold(t *testing.T) {
	judge := &fakeJudge{response: `{"score": 4, "issues": ["no baseline given"], "follow_up": "What is the current churn rate?"}`}
	e := newTestEvaluator(t, judge)

	a, err := e.Evaluate(context.Background(), "What is the metric?", "We want less churn.")
	require.NoError(t, err)
	assert.Equal(t, 4.0, a.Score)
	assert.False(t, a.Acceptable)
	assert.Equal(t, []string{"no baseline given"}, a.Issues)
	assert.Equal(t, "What is the current churn rate?", a.FollowUp)
}

func TestEvaluate_CustomThreshold(t *testing.T) {
	judge := &fakeJudge{response: `{"score": 5}`}
	e := newTestEvaluator(t, judge, WithThreshold(5))

	a, err := e.Evaluate(context.Background(), "q", "a")
	require.NoError(t, err)
	assert.True(t, a.Acceptable)
}

func TestEvaluate_EmptyAnswerSkipsJudge(t *testing.T) {
	tests := []struct {
		name   string
		answer string
	}{
		{"empty", ""},
		{"whitespace", "   \n\t "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			judge := &fakeJudge{response: `{"score": 9}`}
			e := newTestEvaluator(t, judge)

			a, err := e.Evaluate(context.Background(), "What is the problem?", tt.answer)
			require.NoError(t, err)
			assert.Equal(t, 0.0, a.Score)
			assert.False(t, a.Acceptable)
			assert.Equal(t, "What is the problem?", a.FollowUp)
			assert.Equal(t, 0, judge.calls, "judge must not be called for empty answers")
		})
	}
}

func TestEvaluate_StripsMarkdownFences(t *testing.T) {
	judge := &fakeJudge{response: "```json\n{\"score\": 7.0, \"issues\": []}\n```"}
	e := newTestEvaluator(t, judge)

	a, err := e.Evaluate(context.Background(), "q", "a")
	require.NoError(t, err)
	assert.Equal(t, 7.0, a.Score)
	assert.True(t, a.Acceptable)
}

func TestEvaluate_UnparseableJudgmentFails(t *testing.T) {
	judge := &fakeJudge{response: "The answer seems fine to me."}
	e := newTestEvaluator(t, judge)

	_, err := e.Evaluate(context.Background(), "q", "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unparseable judgment")
}

func TestEvaluate_ScoreOutOfRangeFails(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"negative", `{"score": -1}`},
		{"too high", `{"score": 12}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEvaluator(t, &fakeJudge{response: tt.response})
			_, err := e.Evaluate(context.Background(), "q", "a")
			require.Error(t, err)
		})
	}
}

func TestEvaluate_JudgeErrorPropagates(t *testing.T) {
	judgeErr := errors.New("provider down")
	e := newTestEvaluator(t, &fakeJudge{err: judgeErr})

	_, err := e.Evaluate(context.Background(), "q", "a")
	require.ErrorIs(t, err, judgeErr)
}
