package interview

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoGenerator records every prompt it receives and answers with a marker.
type echoGenerator struct {
	mu      sync.Mutex
	prompts []string
}

func (g *echoGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	return "generated answer", nil
}

func (g *echoGenerator) Name() string { return "echo" }

func TestGeneratorSource_RequiresGenerator(t *testing.T) {
	_, err := NewGeneratorSource(nil)
	require.Error(t, err)
}

func TestGeneratorSource_PromptCarriesHistory(t *testing.T) {
	gen := &echoGenerator{}
	source, err := NewGeneratorSource(gen)
	require.NoError(t, err)

	history := []HistoryRecord{
		{Role: RoleInterviewer, Text: "What is the problem?"},
		{Role: RoleRespondent, Text: "Churn is up 20%."},
	}

	answer, err := source.Answer(context.Background(), "What is the objective?", history)
	require.NoError(t, err)
	assert.Equal(t, "generated answer", answer)

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "Interviewer: What is the problem?")
	assert.Contains(t, gen.prompts[0], "Stakeholder: Churn is up 20%.")
	assert.Contains(t, gen.prompts[0], "Interviewer: What is the objective?")
}

// One source shared by concurrent sessions must keep their conversations
// apart: each prompt carries exactly the history passed in, never another
// caller's.
func TestGeneratorSource_ConcurrentSessionsStayIsolated(t *testing.T) {
	gen := &echoGenerator{}
	source, err := NewGeneratorSource(gen)
	require.NoError(t, err)

	const sessions = 2
	const callsPerSession = 100

	var wg sync.WaitGroup
	for s := 0; s < sessions; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			var history []HistoryRecord
			for i := 0; i < callsPerSession; i++ {
				question := fmt.Sprintf("session-%d question-%d", s, i)
				answer, err := source.Answer(context.Background(), question, history)
				assert.NoError(t, err)
				history = append(history,
					HistoryRecord{Role: RoleInterviewer, Text: question},
					HistoryRecord{Role: RoleRespondent, Text: answer},
				)
			}
		}(s)
	}
	wg.Wait()

	gen.mu.Lock()
	defer gen.mu.Unlock()
	require.Len(t, gen.prompts, sessions*callsPerSession)
	for _, prompt := range gen.prompts {
		fromZero := strings.Contains(prompt, "session-0")
		fromOne := strings.Contains(prompt, "session-1")
		assert.False(t, fromZero && fromOne, "a prompt mixed two sessions' conversations:\n%s", prompt)
	}
}
