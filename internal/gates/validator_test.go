package gates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/scoped/internal/stages"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	registry, err := stages.NewRegistry()
	require.NoError(t, err)
	v, err := NewValidator(registry)
	require.NoError(t, err)
	return v
}

func completeProblem() *stages.ProblemDeliverable {
	return &stages.ProblemDeliverable{
		BusinessProblem: "Churn is up 20% since March.",
		Objective:       "Reduce monthly churn to 5% by Q3.",
		Stakeholders:    []string{"Dana Reyes, product lead"},
	}
}

func TestValidate_CompleteDeliverablePasses(t *testing.T) {
	v := newTestValidator(t)

	result := v.Validate(1, completeProblem())
	assert.True(t, result.Passed)
	assert.Empty(t, result.MissingFields)
	assert.Empty(t, result.Issues)
}

func TestValidate_MissingMandatoryFields(t *testing.T) {
	v := newTestValidator(t)

	d := &stages.ProblemDeliverable{
		BusinessProblem: "Churn is up.",
		Objective:       "   ", // whitespace counts as missing
	}

	result := v.Validate(1, d)
	assert.False(t, result.Passed)
	assert.ElementsMatch(t, []string{"objective", "stakeholders"}, result.MissingFields)
}

func TestValidate_MetricWithoutBaselineFails(t *testing.T) {
	v := newTestValidator(t)

	d := &stages.MetricsDeliverable{
		Metrics: []stages.Metric{
			{Name: "churn", Baseline: "8%", Target: "5%"},
			{Name: "NPS", Target: "40"},
		},
		Cadence: "weekly",
	}

	result := v.Validate(2, d)
	assert.False(t, result.Passed)
	assert.Empty(t, result.MissingFields)
	assert.Equal(t, []string{"metrics"}, result.ViolatedFields)
	require.Len(t, result.Issues, 1)
	assert.Contains(t, result.Issues[0], `metric "NPS" has no baseline`)
}

func TestValidate_FeatureWithoutAvailabilityFails(t *testing.T) {
	v := newTestValidator(t)

	d := &stages.ApproachDeliverable{
		Features: []stages.Feature{
			{Name: "tenure", Source: "billing events", Availability: "available"},
			{Name: "ticket volume", Source: "support tickets"},
		},
		Method: "Gradient-boosted classifier.",
	}

	result := v.Validate(4, d)
	assert.False(t, result.Passed)
	assert.Equal(t, []string{"features"}, result.ViolatedFields)
	require.Len(t, result.Issues, 1)
	assert.Contains(t, result.Issues[0], `"ticket volume"`)
}

func TestValidate_EscalationIsAdvisory(t *testing.T) {
	v := newTestValidator(t)

	d := completeProblem()
	d.Escalated = true

	result := v.Validate(1, d)
	assert.True(t, result.Passed, "escalations never fail the gate")
	require.Len(t, result.Issues, 1)
	assert.Contains(t, result.Issues[0], "below the quality threshold")
}

func TestValidate_IsPure(t *testing.T) {
	v := newTestValidator(t)
	d := &stages.MetricsDeliverable{
		Metrics: []stages.Metric{{Name: "NPS", Target: "40"}},
	}

	first := v.Validate(2, d)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, v.Validate(2, d), "identical input must yield identical validation")
	}
}

func TestValidate_WrongStageDeliverable(t *testing.T) {
	v := newTestValidator(t)

	result := v.Validate(2, completeProblem())
	assert.False(t, result.Passed)
	assert.NotEmpty(t, result.Issues)

	result = v.Validate(1, nil)
	assert.False(t, result.Passed)
}
