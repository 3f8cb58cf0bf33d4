package stages

import (
	"fmt"

	"github.com/fyrsmithlabs/scoped/internal/interview"
)

// Agent extracts a stage's structured deliverable from its completed
// interview record. One implementation per stage.
type Agent interface {
	// Stage is the stage number this agent serves.
	Stage() int

	// Extract builds the deliverable from the accepted answers.
	Extract(record *interview.StageRecord) (Deliverable, error)
}

// checkRecord rejects records produced for the wrong stage.
func checkRecord(record *interview.StageRecord, want int) error {
	if record == nil {
		return fmt.Errorf("nil stage record")
	}
	if record.Stage != want {
		return fmt.Errorf("record is for stage %d, agent serves stage %d", record.Stage, want)
	}
	return nil
}

// problemAgent extracts stage 1.
type problemAgent struct{}

func (problemAgent) Stage() int { return 1 }

func (problemAgent) Extract(record *interview.StageRecord) (Deliverable, error) {
	if err := checkRecord(record, 1); err != nil {
		return nil, err
	}
	return &ProblemDeliverable{
		BusinessProblem: record.Answer("business_problem"),
		Objective:       record.Answer("objective"),
		Stakeholders:    splitLines(record.Answer("stakeholders")),
		Constraints:     splitLines(record.Answer("constraints")),
		escalations:     escalations{Escalated: record.HasEscalations},
	}, nil
}

// metricsAgent extracts stage 2. Metric lines are 'name | baseline | target'.
type metricsAgent struct{}

func (metricsAgent) Stage() int { return 2 }

func (metricsAgent) Extract(record *interview.StageRecord) (Deliverable, error) {
	if err := checkRecord(record, 2); err != nil {
		return nil, err
	}

	var metrics []Metric
	for _, line := range splitLines(record.Answer("metrics")) {
		parts := splitParts(line, 3)
		metrics = append(metrics, Metric{
			Name:     parts[0],
			Baseline: parts[1],
			Target:   parts[2],
		})
	}

	return &MetricsDeliverable{
		Metrics:     metrics,
		Cadence:     record.Answer("cadence"),
		escalations: escalations{Escalated: record.HasEscalations},
	}, nil
}

// dataAgent extracts stage 3. Source lines are 'name | availability | notes'.
type dataAgent struct{}

func (dataAgent) Stage() int { return 3 }

func (dataAgent) Extract(record *interview.StageRecord) (Deliverable, error) {
	if err := checkRecord(record, 3); err != nil {
		return nil, err
	}

	var sources []DataSource
	for _, line := range splitLines(record.Answer("sources")) {
		parts := splitParts(line, 3)
		sources = append(sources, DataSource{
			Name:         parts[0],
			Availability: parts[1],
			QualityNotes: parts[2],
		})
	}

	return &DataDeliverable{
		Sources:     sources,
		AccessPath:  record.Answer("access_path"),
		escalations: escalations{Escalated: record.HasEscalations},
	}, nil
}

// approachAgent extracts stage 4. Feature lines are 'name | source | availability'.
type approachAgent struct{}

func (approachAgent) Stage() int { return 4 }

func (approachAgent) Extract(record *interview.StageRecord) (Deliverable, error) {
	if err := checkRecord(record, 4); err != nil {
		return nil, err
	}

	var features []Feature
	for _, line := range splitLines(record.Answer("features")) {
		parts := splitParts(line, 3)
		features = append(features, Feature{
			Name:         parts[0],
			Source:       parts[1],
			Availability: parts[2],
		})
	}

	return &ApproachDeliverable{
		Features:    features,
		Method:      record.Answer("method"),
		Risks:       splitLines(record.Answer("risks")),
		escalations: escalations{Escalated: record.HasEscalations},
	}, nil
}

// deliveryAgent extracts stage 5.
type deliveryAgent struct{}

func (deliveryAgent) Stage() int { return 5 }

func (deliveryAgent) Extract(record *interview.StageRecord) (Deliverable, error) {
	if err := checkRecord(record, 5); err != nil {
		return nil, err
	}
	return &DeliveryDeliverable{
		Milestones:  splitLines(record.Answer("milestones")),
		Timeline:    record.Answer("timeline"),
		Owner:       record.Answer("owner"),
		Rollout:     record.Answer("rollout"),
		escalations: escalations{Escalated: record.HasEscalations},
	}, nil
}
