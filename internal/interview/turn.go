package interview

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scoped/internal/evaluation"
	"github.com/fyrsmithlabs/scoped/internal/logging"
)

// Turn runs the ask/evaluate/retry loop for single questions.
type Turn struct {
	source    AnswerSource
	evaluator evaluation.Evaluator
	opts      TurnOptions
	logger    *logging.Logger
}

// NewTurn creates a turn runner. Zero-valued options take defaults.
func NewTurn(source AnswerSource, evaluator evaluation.Evaluator, opts TurnOptions, logger *logging.Logger) (*Turn, error) {
	if source == nil {
		return nil, fmt.Errorf("answer source required")
	}
	if evaluator == nil {
		return nil, fmt.Errorf("evaluator required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Turn{
		source:    source,
		evaluator: evaluator,
		opts:      opts.withDefaults(),
		logger:    logger.Named("turn"),
	}, nil
}

// Run asks question, evaluates the answer, and retries with the evaluator's
// follow-up until the score meets the threshold or attempts run out. On
// exhaustion the best-scoring answer is returned with Escalated set. A
// strictly greater score replaces the stored best; an equal score keeps the
// earlier answer. The prior history is handed to the answer source so
// follow-ups land with the conversation context; the turn never stores it.
func (t *Turn) Run(ctx context.Context, question string, prior []HistoryRecord) (*TurnResult, error) {
	result := &TurnResult{
		Question: question,
		Score:    -1, // any real score, including 0, beats this
	}

	prompt := question
	for attempt := 1; attempt <= t.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		convo := make([]HistoryRecord, 0, len(prior)+len(result.History))
		convo = append(convo, prior...)
		convo = append(convo, result.History...)

		result.History = append(result.History, HistoryRecord{
			Role:      RoleInterviewer,
			Text:      prompt,
			Timestamp: time.Now().UTC(),
		})

		answer, err := t.source.Answer(ctx, prompt, convo)
		if err != nil {
			return nil, &TurnAbortedError{Question: question, Attempt: attempt, Err: err}
		}

		result.History = append(result.History, HistoryRecord{
			Role:      RoleRespondent,
			Text:      answer,
			Timestamp: time.Now().UTC(),
		})

		assessment, err := t.evaluator.Evaluate(ctx, question, answer)
		if err != nil {
			return nil, fmt.Errorf("evaluation failed on attempt %d: %w", attempt, err)
		}

		result.Attempts = attempt

		if assessment.Score >= t.opts.Threshold {
			result.Answer = answer
			result.Score = assessment.Score
			result.Escalated = false
			return result, nil
		}

		if assessment.Score > result.Score {
			result.Answer = answer
			result.Score = assessment.Score
		}

		t.logger.Debug(ctx, "answer below threshold",
			zap.Int("attempt", attempt),
			zap.Float64("score", assessment.Score),
			zap.Float64("threshold", t.opts.Threshold),
		)

		if assessment.FollowUp != "" {
			prompt = assessment.FollowUp
		} else {
			prompt = question
		}
	}

	result.Escalated = true
	t.logger.Warn(ctx, "question escalated after retry budget",
		zap.String("question", question),
		zap.Int("attempts", result.Attempts),
		zap.Float64("best_score", result.Score),
	)
	return result, nil
}
