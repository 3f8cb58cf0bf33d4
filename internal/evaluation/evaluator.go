// Package evaluation scores interview answers against their questions using an
// LLM judge. The judge returns strict JSON; a malformed judgment is a permanent
// error rather than a fabricated score.
package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scoped/internal/generation"
	"github.com/fyrsmithlabs/scoped/internal/logging"
)

// DefaultThreshold is the minimum score for an answer to be accepted.
const DefaultThreshold = 7.0

// Assessment is the judge's verdict on a single answer. Immutable once returned.
type Assessment struct {
	// Score is the judged quality in [0, 10].
	Score float64 `json:"score"`

	// Acceptable is true when Score meets the evaluator's threshold.
	Acceptable bool `json:"acceptable"`

	// Issues lists concrete gaps the judge found in the answer.
	Issues []string `json:"issues,omitempty"`

	// FollowUp is a sharper re-ask of the question, present when the answer
	// fell short.
	FollowUp string `json:"follow_up,omitempty"`
}

// Evaluator judges answer quality.
type Evaluator interface {
	Evaluate(ctx context.Context, question, answer string) (*Assessment, error)
}

// evaluator implements Evaluator with a text generation provider as judge.
type evaluator struct {
	gen       generation.Generator
	threshold float64
	logger    *logging.Logger
}

// Option configures the evaluator.
type Option func(*evaluator)

// WithThreshold overrides the acceptance threshold.
func WithThreshold(threshold float64) Option {
	return func(e *evaluator) {
		e.threshold = threshold
	}
}

// New creates an Evaluator backed by gen.
func New(gen generation.Generator, logger *logging.Logger, opts ...Option) (Evaluator, error) {
	if gen == nil {
		return nil, fmt.Errorf("generator required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	e := &evaluator{
		gen:       gen,
		threshold: DefaultThreshold,
		logger:    logger.Named("evaluation"),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.threshold < 0 || e.threshold > 10 {
		return nil, fmt.Errorf("threshold must be in [0, 10], got %v", e.threshold)
	}
	return e, nil
}

const judgePromptTemplate = `You are a strict reviewer of project-scoping interview answers.
Score how completely the answer below addresses the question, on a scale of 0 to 10.
0 means no usable content, 10 means fully specific and actionable.

Question: %s

Answer: %s

Respond with JSON only, no prose, in exactly this shape:
{"score": <number 0-10>, "issues": ["<gap>", ...], "follow_up": "<a sharper re-ask of the question, empty if the answer is complete>"}`

// Evaluate scores answer against question. An empty or whitespace answer
// scores 0 without consulting the judge.
func (e *evaluator) Evaluate(ctx context.Context, question, answer string) (*Assessment, error) {
	if strings.TrimSpace(answer) == "" {
		return &Assessment{
			Score:      0,
			Acceptable: false,
			Issues:     []string{"no answer provided"},
			FollowUp:   question,
		}, nil
	}

	prompt := fmt.Sprintf(judgePromptTemplate, question, answer)

	raw, err := e.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("judge call failed: %w", err)
	}

	assessment, err := e.parseJudgment(raw)
	if err != nil {
		return nil, err
	}

	e.logger.Debug(ctx, "answer evaluated",
		zap.Float64("score", assessment.Score),
		zap.Bool("acceptable", assessment.Acceptable),
		zap.Int("issues", len(assessment.Issues)),
	)
	return assessment, nil
}

// judgeResponse is the JSON shape requested from the judge.
type judgeResponse struct {
	Score    float64  `json:"score"`
	Issues   []string `json:"issues,omitempty"`
	FollowUp string   `json:"follow_up,omitempty"`
}

// parseJudgment parses the judge's response. Models sometimes wrap JSON in
// markdown code blocks, so fences are stripped first.
func (e *evaluator) parseJudgment(content string) (*Assessment, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var resp judgeResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return nil, fmt.Errorf("unparseable judgment: %w", err)
	}

	if resp.Score < 0 || resp.Score > 10 {
		return nil, fmt.Errorf("judgment score out of range: %v", resp.Score)
	}

	return &Assessment{
		Score:      resp.Score,
		Acceptable: resp.Score >= e.threshold,
		Issues:     resp.Issues,
		FollowUp:   resp.FollowUp,
	}, nil
}

var _ Evaluator = (*evaluator)(nil)
