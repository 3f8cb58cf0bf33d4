package stages

import (
	"fmt"

	"github.com/fyrsmithlabs/scoped/internal/interview"
)

// Registry resolves stage numbers to their agent and schema. Built once at
// startup; safe for concurrent use afterward.
type Registry struct {
	schema *Schema
	agents map[int]Agent
}

// NewRegistry loads the embedded schema and registers the five stage agents.
func NewRegistry() (*Registry, error) {
	schema, err := LoadSchema()
	if err != nil {
		return nil, err
	}

	agents := map[int]Agent{}
	for _, a := range []Agent{
		problemAgent{},
		metricsAgent{},
		dataAgent{},
		approachAgent{},
		deliveryAgent{},
	} {
		agents[a.Stage()] = a
	}

	for n := 1; n <= Count; n++ {
		if _, ok := agents[n]; !ok {
			return nil, fmt.Errorf("no agent registered for stage %d", n)
		}
	}

	return &Registry{schema: schema, agents: agents}, nil
}

// Agent returns the agent for a stage number.
func (r *Registry) Agent(stage int) (Agent, error) {
	a, ok := r.agents[stage]
	if !ok {
		return nil, fmt.Errorf("unknown stage %d", stage)
	}
	return a, nil
}

// Questions returns a stage's questions in interview order.
func (r *Registry) Questions(stage int) ([]interview.Question, error) {
	return r.schema.Questions(stage)
}

// Mandatory returns a stage's mandatory field keys.
func (r *Registry) Mandatory(stage int) ([]string, error) {
	return r.schema.Mandatory(stage)
}

// StageName returns a stage's short name.
func (r *Registry) StageName(stage int) (string, error) {
	st, err := r.schema.Stage(stage)
	if err != nil {
		return "", err
	}
	return st.Name, nil
}
