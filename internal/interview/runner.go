package interview

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scoped/internal/evaluation"
	"github.com/fyrsmithlabs/scoped/internal/logging"
)

// Runner sequences a stage's questions through the turn loop. Order matters:
// later questions may reference earlier answers within the stage.
type Runner struct {
	turn   *Turn
	logger *logging.Logger
}

// NewRunner creates a stage runner sharing one turn configuration.
func NewRunner(source AnswerSource, evaluator evaluation.Evaluator, opts TurnOptions, logger *logging.Logger) (*Runner, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	turn, err := NewTurn(source, evaluator, opts, logger)
	if err != nil {
		return nil, err
	}
	return &Runner{
		turn:   turn,
		logger: logger.Named("runner"),
	}, nil
}

// RunStage runs every question in order, one turn each, and accumulates the
// outcomes. An escalated question does not stop the stage; it sets the
// record's advisory HasEscalations flag.
func (r *Runner) RunStage(ctx context.Context, stage int, questions []Question) (*StageRecord, error) {
	if len(questions) == 0 {
		return nil, fmt.Errorf("stage %d has no questions", stage)
	}

	record := &StageRecord{Stage: stage}

	for _, q := range questions {
		result, err := r.turn.Run(ctx, q.Prompt, record.History)
		if err != nil {
			return nil, fmt.Errorf("stage %d question %q: %w", stage, q.Key, err)
		}

		record.Answers = append(record.Answers, QuestionAnswer{
			Key:       q.Key,
			Question:  q.Prompt,
			Answer:    result.Answer,
			Score:     result.Score,
			Escalated: result.Escalated,
		})
		record.History = append(record.History, result.History...)

		if result.Escalated {
			record.HasEscalations = true
		}
	}

	r.logger.Info(ctx, "stage interview complete",
		zap.Int("stage", stage),
		zap.Int("questions", len(record.Answers)),
		zap.Bool("has_escalations", record.HasEscalations),
	)
	return record, nil
}
