package gates

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/scoped/internal/stages"
)

// Report is the outcome of the cross-stage consistency check. Advisory: it
// blocks finalize unless overridden but never mutates stage data.
type Report struct {
	CheckedPairs   [][2]int `json:"checked_pairs"`
	Contradictions []string `json:"contradictions,omitempty"`
	OverallOK      bool     `json:"overall_ok"`
}

// pairRule is a pure function of two deliverables returning zero or more
// contradiction strings.
type pairRule struct {
	stageA, stageB int
	check          func(a, b stages.Deliverable) []string
}

// Checker runs the fixed set of pairwise consistency rules. Rules are
// independent and order-insensitive; a rule runs only when both of its
// stages have a deliverable.
type Checker struct {
	rules []pairRule
}

// NewChecker creates the consistency checker with the standard rule set.
func NewChecker() *Checker {
	return &Checker{
		rules: []pairRule{
			{stageA: 2, stageB: 3, check: metricsHaveSupportingSources},
			{stageA: 4, stageB: 3, check: featuresNameDeclaredSources},
			{stageA: 5, stageB: 1, check: ownerAmongStakeholders},
		},
	}
}

// Check runs every applicable rule over the deliverables.
func (c *Checker) Check(deliverables map[int]stages.Deliverable) Report {
	report := Report{}

	for _, rule := range c.rules {
		a, okA := deliverables[rule.stageA]
		b, okB := deliverables[rule.stageB]
		if !okA || !okB {
			continue
		}
		report.CheckedPairs = append(report.CheckedPairs, [2]int{rule.stageA, rule.stageB})
		report.Contradictions = append(report.Contradictions, rule.check(a, b)...)
	}

	sort.Slice(report.CheckedPairs, func(i, j int) bool {
		if report.CheckedPairs[i][0] != report.CheckedPairs[j][0] {
			return report.CheckedPairs[i][0] < report.CheckedPairs[j][0]
		}
		return report.CheckedPairs[i][1] < report.CheckedPairs[j][1]
	})

	report.OverallOK = len(report.Contradictions) == 0
	return report
}

// metricsHaveSupportingSources flags stage 2 metrics with no stage 3 data
// source that plausibly measures them.
func metricsHaveSupportingSources(a, b stages.Deliverable) []string {
	metrics, ok := a.(*stages.MetricsDeliverable)
	if !ok {
		return nil
	}
	data, ok := b.(*stages.DataDeliverable)
	if !ok {
		return nil
	}

	var contradictions []string
	for _, m := range metrics.Metrics {
		supported := false
		for _, s := range data.Sources {
			if tokensOverlap(m.Name, s.Name) || tokensOverlap(m.Name, s.QualityNotes) {
				supported = true
				break
			}
		}
		if !supported {
			contradictions = append(contradictions,
				fmt.Sprintf("metric %q has no supporting data source", m.Name))
		}
	}
	return contradictions
}

// featuresNameDeclaredSources flags stage 4 features whose source is not a
// declared stage 3 data source.
func featuresNameDeclaredSources(a, b stages.Deliverable) []string {
	approach, ok := a.(*stages.ApproachDeliverable)
	if !ok {
		return nil
	}
	data, ok := b.(*stages.DataDeliverable)
	if !ok {
		return nil
	}

	declared := make(map[string]bool, len(data.Sources))
	for _, s := range data.Sources {
		declared[normalize(s.Name)] = true
	}

	var contradictions []string
	for _, f := range approach.Features {
		if !declared[normalize(f.Source)] {
			contradictions = append(contradictions,
				fmt.Sprintf("feature %q names undeclared data source %q", f.Name, f.Source))
		}
	}
	return contradictions
}

// ownerAmongStakeholders flags a stage 5 delivery owner missing from the
// stage 1 stakeholder list.
func ownerAmongStakeholders(a, b stages.Deliverable) []string {
	delivery, ok := a.(*stages.DeliveryDeliverable)
	if !ok {
		return nil
	}
	problem, ok := b.(*stages.ProblemDeliverable)
	if !ok {
		return nil
	}

	owner := normalize(delivery.Owner)
	if owner == "" {
		return nil
	}
	for _, s := range problem.Stakeholders {
		if strings.Contains(normalize(s), owner) {
			return nil
		}
	}
	return []string{fmt.Sprintf("delivery owner %q is not a declared stakeholder", delivery.Owner)}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// tokensOverlap reports whether the two strings share a word of at least
// three characters.
func tokensOverlap(a, b string) bool {
	words := map[string]bool{}
	for _, w := range strings.Fields(normalize(a)) {
		w = strings.Trim(w, ".,:;()%")
		if len(w) >= 3 {
			words[w] = true
		}
	}
	for _, w := range strings.Fields(normalize(b)) {
		w = strings.Trim(w, ".,:;()%")
		if len(w) >= 3 && words[w] {
			return true
		}
	}
	return false
}
