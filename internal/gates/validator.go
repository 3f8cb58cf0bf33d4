// Package gates holds the two validation layers between interview and
// progression: the per-stage gate a deliverable must pass before the session
// advances, and the cross-stage consistency check run at finalize. Both are
// pure; failure is data, never an error.
package gates

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/scoped/internal/stages"
)

// Validation is the outcome of one stage gate. MissingFields and
// ViolatedFields together name every field that caused a failure, so a
// caller can re-collect just those.
type Validation struct {
	Stage          int      `json:"stage"`
	Passed         bool     `json:"passed"`
	MissingFields  []string `json:"missing_fields,omitempty"`
	ViolatedFields []string `json:"violated_fields,omitempty"`
	Issues         []string `json:"issues,omitempty"`
}

// Validator checks a completed deliverable against its stage's gate.
type Validator struct {
	registry *stages.Registry
}

// NewValidator creates a stage gate validator over the schema registry.
func NewValidator(registry *stages.Registry) (*Validator, error) {
	if registry == nil {
		return nil, fmt.Errorf("stage registry required")
	}
	return &Validator{registry: registry}, nil
}

// Validate checks, in order: mandatory fields are non-empty, stage-specific
// cross-field rules hold, and escalations add an advisory issue without
// failing. Identical input always yields identical output.
func (v *Validator) Validate(stage int, d stages.Deliverable) Validation {
	result := Validation{Stage: stage}

	if d == nil {
		result.Issues = append(result.Issues, "no deliverable produced")
		return result
	}
	if d.Stage() != stage {
		result.Issues = append(result.Issues, fmt.Sprintf("deliverable is for stage %d, not %d", d.Stage(), stage))
		return result
	}

	mandatory, err := v.registry.Mandatory(stage)
	if err != nil {
		result.Issues = append(result.Issues, err.Error())
		return result
	}

	fields := d.Fields()
	for _, key := range mandatory {
		if strings.TrimSpace(fields[key]) == "" {
			result.MissingFields = append(result.MissingFields, key)
		}
	}

	hardViolations, violatedFields := crossFieldIssues(d)
	result.Issues = append(result.Issues, hardViolations...)
	result.ViolatedFields = violatedFields

	result.Passed = len(result.MissingFields) == 0 && len(hardViolations) == 0

	// Advisory only: escalated answers were accepted below the quality bar,
	// flagged for a human reviewer, never a gate failure.
	if d.HasEscalations() {
		result.Issues = append(result.Issues, "one or more answers were accepted below the quality threshold")
	}

	return result
}

// crossFieldIssues returns hard violations of stage-specific rules together
// with the field keys the violations live in.
func crossFieldIssues(d stages.Deliverable) ([]string, []string) {
	var issues, fields []string
	switch sd := d.(type) {
	case *stages.MetricsDeliverable:
		for _, m := range sd.Metrics {
			if strings.TrimSpace(m.Baseline) == "" {
				issues = append(issues, fmt.Sprintf("metric %q has no baseline", m.Name))
			}
		}
		if len(issues) > 0 {
			fields = append(fields, "metrics")
		}
	case *stages.ApproachDeliverable:
		for _, f := range sd.Features {
			if strings.TrimSpace(f.Availability) == "" {
				issues = append(issues, fmt.Sprintf("input feature %q has no stated availability", f.Name))
			}
		}
		if len(issues) > 0 {
			fields = append(fields, "features")
		}
	}
	return issues, fields
}
