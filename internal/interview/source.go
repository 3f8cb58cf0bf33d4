package interview

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/scoped/internal/generation"
)

const respondentPreamble = `You are the project stakeholder being interviewed about a proposed
machine-learning project. Answer the interviewer's question directly and
concretely, drawing on the conversation so far. Keep the answer short.
When the question asks for a list, put one item per line. When the question
asks for a specific line format, follow it exactly.`

// GeneratorSource answers interview questions with a text generation
// provider. It holds no conversation state of its own; each call rebuilds the
// transcript from the history it is given, so one source serves any number of
// concurrent sessions without bleeding context between them.
type GeneratorSource struct {
	gen generation.Generator
}

// NewGeneratorSource creates an LLM-backed answer source.
func NewGeneratorSource(gen generation.Generator) (*GeneratorSource, error) {
	if gen == nil {
		return nil, fmt.Errorf("generator is required")
	}
	return &GeneratorSource{gen: gen}, nil
}

// Answer generates a response to the prompt. Errors are permanent from the
// interview's point of view; retry policy lives inside the generator.
func (s *GeneratorSource) Answer(ctx context.Context, prompt string, history []HistoryRecord) (string, error) {
	var b strings.Builder
	b.WriteString(respondentPreamble)
	b.WriteString("\n\n")
	for _, rec := range history {
		switch rec.Role {
		case RoleInterviewer:
			b.WriteString("Interviewer: ")
		case RoleRespondent:
			b.WriteString("Stakeholder: ")
		}
		b.WriteString(rec.Text)
		b.WriteString("\n")
	}
	b.WriteString("Interviewer: ")
	b.WriteString(prompt)
	b.WriteString("\nStakeholder:")

	answer, err := s.gen.Generate(ctx, b.String())
	if err != nil {
		return "", fmt.Errorf("answer generation failed: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

var _ AnswerSource = (*GeneratorSource)(nil)
