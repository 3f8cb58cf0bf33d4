package stages

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Deliverable is a stage's structured output. The validator sees it through
// Fields(); the consistency checker type-asserts to the concrete types.
type Deliverable interface {
	// Stage is the producing stage's number.
	Stage() int

	// Fields maps question keys to a flat string rendering of the field,
	// used for mandatory-field validation. Empty string means missing.
	Fields() map[string]string

	// HasEscalations reports whether any question in the producing interview
	// exhausted its retry budget. Advisory only.
	HasEscalations() bool
}

// escalations is embedded by every deliverable type.
type escalations struct {
	Escalated bool `json:"has_escalations"`
}

func (e escalations) HasEscalations() bool { return e.Escalated }

// ProblemDeliverable is stage 1's output.
type ProblemDeliverable struct {
	BusinessProblem string   `json:"business_problem"`
	Objective       string   `json:"objective"`
	Stakeholders    []string `json:"stakeholders"`
	Constraints     []string `json:"constraints,omitempty"`
	escalations
}

func (d *ProblemDeliverable) Stage() int { return 1 }

func (d *ProblemDeliverable) Fields() map[string]string {
	return map[string]string{
		"business_problem": d.BusinessProblem,
		"objective":        d.Objective,
		"stakeholders":     strings.Join(d.Stakeholders, "\n"),
		"constraints":      strings.Join(d.Constraints, "\n"),
	}
}

// Metric is one success metric with its measured baseline and target.
type Metric struct {
	Name     string `json:"name"`
	Baseline string `json:"baseline"`
	Target   string `json:"target"`
}

// MetricsDeliverable is stage 2's output.
type MetricsDeliverable struct {
	Metrics []Metric `json:"metrics"`
	Cadence string   `json:"cadence"`
	escalations
}

func (d *MetricsDeliverable) Stage() int { return 2 }

func (d *MetricsDeliverable) Fields() map[string]string {
	names := make([]string, 0, len(d.Metrics))
	for _, m := range d.Metrics {
		names = append(names, m.Name)
	}
	return map[string]string{
		"metrics": strings.Join(names, "\n"),
		"cadence": d.Cadence,
	}
}

// DataSource is one declared data source.
type DataSource struct {
	Name         string `json:"name"`
	Availability string `json:"availability"`
	QualityNotes string `json:"quality_notes,omitempty"`
}

// DataDeliverable is stage 3's output.
type DataDeliverable struct {
	Sources    []DataSource `json:"sources"`
	AccessPath string       `json:"access_path"`
	escalations
}

func (d *DataDeliverable) Stage() int { return 3 }

func (d *DataDeliverable) Fields() map[string]string {
	names := make([]string, 0, len(d.Sources))
	for _, s := range d.Sources {
		names = append(names, s.Name)
	}
	return map[string]string{
		"sources":     strings.Join(names, "\n"),
		"access_path": d.AccessPath,
	}
}

// Feature is one input feature of the proposed approach.
type Feature struct {
	Name         string `json:"name"`
	Source       string `json:"source"`
	Availability string `json:"availability"`
}

// ApproachDeliverable is stage 4's output.
type ApproachDeliverable struct {
	Features []Feature `json:"features"`
	Method   string    `json:"method"`
	Risks    []string  `json:"risks,omitempty"`
	escalations
}

func (d *ApproachDeliverable) Stage() int { return 4 }

func (d *ApproachDeliverable) Fields() map[string]string {
	names := make([]string, 0, len(d.Features))
	for _, f := range d.Features {
		names = append(names, f.Name)
	}
	return map[string]string{
		"features": strings.Join(names, "\n"),
		"method":   d.Method,
		"risks":    strings.Join(d.Risks, "\n"),
	}
}

// DeliveryDeliverable is stage 5's output.
type DeliveryDeliverable struct {
	Milestones []string `json:"milestones"`
	Timeline   string   `json:"timeline"`
	Owner      string   `json:"owner"`
	Rollout    string   `json:"rollout,omitempty"`
	escalations
}

func (d *DeliveryDeliverable) Stage() int { return 5 }

func (d *DeliveryDeliverable) Fields() map[string]string {
	return map[string]string{
		"milestones": strings.Join(d.Milestones, "\n"),
		"timeline":   d.Timeline,
		"owner":      d.Owner,
		"rollout":    d.Rollout,
	}
}

// Decode unmarshals a persisted deliverable back into its concrete type.
func Decode(stage int, data []byte) (Deliverable, error) {
	var d Deliverable
	switch stage {
	case 1:
		d = &ProblemDeliverable{}
	case 2:
		d = &MetricsDeliverable{}
	case 3:
		d = &DataDeliverable{}
	case 4:
		d = &ApproachDeliverable{}
	case 5:
		d = &DeliveryDeliverable{}
	default:
		return nil, fmt.Errorf("unknown stage %d", stage)
	}
	if err := json.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("failed to decode stage %d deliverable: %w", stage, err)
	}
	return d, nil
}
