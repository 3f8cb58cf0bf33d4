// Package stages holds the five-stage scoping protocol: the embedded question
// schema, the per-stage deliverable types, and the agents that extract a
// structured deliverable from a completed stage interview. Stage numbers run
// 1 through 5; everything stage-specific in the system lives here.
package stages

import (
	_ "embed"
	"fmt"
	"sort"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/scoped/internal/interview"
)

// Count is the number of stages in the protocol.
const Count = 5

//go:embed schema.yaml
var schemaYAML []byte

// QuestionSchema is one question in a stage's list.
type QuestionSchema struct {
	Key    string `koanf:"key"`
	Prompt string `koanf:"prompt"`
}

// StageSchema describes one stage: its questions in interview order and the
// deliverable fields that must be non-empty for the stage gate to pass.
type StageSchema struct {
	Number    int              `koanf:"number"`
	Name      string           `koanf:"name"`
	Questions []QuestionSchema `koanf:"questions"`
	Mandatory []string         `koanf:"mandatory"`
}

// Schema is the full five-stage question schema, loaded once.
type Schema struct {
	byNumber map[int]StageSchema
}

type schemaFile struct {
	Stages []StageSchema `koanf:"stages"`
}

// LoadSchema parses the embedded stage schema. Data, not behavior: changing
// question wording never touches code.
func LoadSchema() (*Schema, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(schemaYAML), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse stage schema: %w", err)
	}

	var file schemaFile
	if err := k.Unmarshal("", &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stage schema: %w", err)
	}

	if len(file.Stages) != Count {
		return nil, fmt.Errorf("stage schema must define %d stages, got %d", Count, len(file.Stages))
	}

	s := &Schema{byNumber: make(map[int]StageSchema, Count)}
	for _, st := range file.Stages {
		if st.Number < 1 || st.Number > Count {
			return nil, fmt.Errorf("stage number %d out of range", st.Number)
		}
		if _, dup := s.byNumber[st.Number]; dup {
			return nil, fmt.Errorf("duplicate stage number %d", st.Number)
		}
		if len(st.Questions) == 0 {
			return nil, fmt.Errorf("stage %d has no questions", st.Number)
		}

		keys := make(map[string]bool, len(st.Questions))
		for _, q := range st.Questions {
			if q.Key == "" || q.Prompt == "" {
				return nil, fmt.Errorf("stage %d has a question with empty key or prompt", st.Number)
			}
			keys[q.Key] = true
		}
		for _, m := range st.Mandatory {
			if !keys[m] {
				return nil, fmt.Errorf("stage %d mandatory field %q has no question", st.Number, m)
			}
		}
		s.byNumber[st.Number] = st
	}
	return s, nil
}

// Stage returns the schema for a stage number.
func (s *Schema) Stage(number int) (StageSchema, error) {
	st, ok := s.byNumber[number]
	if !ok {
		return StageSchema{}, fmt.Errorf("unknown stage %d", number)
	}
	return st, nil
}

// Questions returns a stage's questions in interview order.
func (s *Schema) Questions(number int) ([]interview.Question, error) {
	st, err := s.Stage(number)
	if err != nil {
		return nil, err
	}
	questions := make([]interview.Question, 0, len(st.Questions))
	for _, q := range st.Questions {
		questions = append(questions, interview.Question{Key: q.Key, Prompt: q.Prompt})
	}
	return questions, nil
}

// Mandatory returns a stage's mandatory field keys, sorted for stable output.
func (s *Schema) Mandatory(number int) ([]string, error) {
	st, err := s.Stage(number)
	if err != nil {
		return nil, err
	}
	mandatory := make([]string, len(st.Mandatory))
	copy(mandatory, st.Mandatory)
	sort.Strings(mandatory)
	return mandatory, nil
}
