// Package interview implements the quality-gated conversational turn and the
// stage runner that sequences a stage's questions through it. The turn loop is
// uniform across stages; everything stage-specific lives in the stage agents.
package interview

import (
	"context"
	"fmt"
	"time"
)

// History roles.
const (
	RoleInterviewer = "interviewer"
	RoleRespondent  = "respondent"
)

// Turn loop defaults.
const (
	DefaultMaxAttempts = 3
	DefaultThreshold   = 7.0
)

// AnswerSource produces an answer to a prompt. Implementations may be a live
// user session or an LLM standing in for one. The conversation so far arrives
// as history with each call, so implementations stay stateless and one source
// can serve any number of concurrent sessions. Transient failures are retried
// inside the source; an error returned here is permanent.
type AnswerSource interface {
	Answer(ctx context.Context, prompt string, history []HistoryRecord) (string, error)
}

// Question is a single interview question. Key names the deliverable field
// the answer feeds.
type Question struct {
	Key    string
	Prompt string
}

// HistoryRecord is one utterance in a turn's conversation.
type HistoryRecord struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// TurnResult is the outcome of a single question's turn loop.
type TurnResult struct {
	Question string
	Answer   string
	Score    float64
	Attempts int
	// Escalated is true when the retry budget ran out without an acceptable
	// answer. The answer carried is the best-scoring one seen.
	Escalated bool
	History   []HistoryRecord
}

// TurnOptions bounds the turn loop.
type TurnOptions struct {
	MaxAttempts int
	Threshold   float64
}

func (o TurnOptions) withDefaults() TurnOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	return o
}

// QuestionAnswer is the accepted outcome of one question within a stage.
type QuestionAnswer struct {
	Key       string  `json:"key"`
	Question  string  `json:"question"`
	Answer    string  `json:"answer"`
	Score     float64 `json:"score"`
	Escalated bool    `json:"escalated"`
}

// StageRecord accumulates a stage's question outcomes for extraction.
type StageRecord struct {
	Stage   int              `json:"stage"`
	Answers []QuestionAnswer `json:"answers"`
	// HasEscalations is advisory: at least one question exhausted its retry
	// budget. The record is still handed to the stage agent.
	HasEscalations bool            `json:"has_escalations"`
	History        []HistoryRecord `json:"history,omitempty"`
}

// Answer returns the accepted answer for key, or "" when absent.
func (r *StageRecord) Answer(key string) string {
	for _, qa := range r.Answers {
		if qa.Key == key {
			return qa.Answer
		}
	}
	return ""
}

// TurnAbortedError indicates the answer source failed permanently mid-turn.
// The session is expected to be paused rather than fabricating an answer.
type TurnAbortedError struct {
	Question string
	Attempt  int
	Err      error
}

func (e *TurnAbortedError) Error() string {
	return fmt.Sprintf("turn aborted on attempt %d of %q: %v", e.Attempt, e.Question, e.Err)
}

func (e *TurnAbortedError) Unwrap() error {
	return e.Err
}
