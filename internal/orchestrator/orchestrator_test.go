package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/scoped/internal/checkpoint"
	"github.com/fyrsmithlabs/scoped/internal/evaluation"
	"github.com/fyrsmithlabs/scoped/internal/interview"
	"github.com/fyrsmithlabs/scoped/internal/locks"
	"github.com/fyrsmithlabs/scoped/internal/logging"
	"github.com/fyrsmithlabs/scoped/internal/session"
	"github.com/fyrsmithlabs/scoped/internal/stages"
)

// queueSource feeds canned answers in order, one per prompt.
type queueSource struct {
	mu      sync.Mutex
	answers []string
	block   chan struct{} // when set, Answer waits until closed
}

func (q *queueSource) Answer(ctx context.Context, prompt string, history []interview.HistoryRecord) (string, error) {
	if q.block != nil {
		select {
		case <-q.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.answers) == 0 {
		return "", fmt.Errorf("no answers left for prompt %q", prompt)
	}
	answer := q.answers[0]
	q.answers = q.answers[1:]
	return answer, nil
}

func (q *queueSource) push(answers ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.answers = append(q.answers, answers...)
}

// scriptedEvaluator returns canned scores in order; defaults to 9 when the
// script runs out.
type scriptedEvaluator struct {
	mu     sync.Mutex
	scores []float64
}

func (s *scriptedEvaluator) Evaluate(ctx context.Context, question, answer string) (*evaluation.Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	score := 9.0
	if len(s.scores) > 0 {
		score = s.scores[0]
		s.scores = s.scores[1:]
	}
	return &evaluation.Assessment{
		Score:      score,
		Acceptable: score >= evaluation.DefaultThreshold,
		FollowUp:   "Could you be more specific?",
	}, nil
}

// stageAnswers are gate-passing answers for each stage, in question order.
var stageAnswers = map[int][]string{
	1: {
		"Churn is up 20% since March and support is overwhelmed.",
		"Reduce monthly churn to 5% by Q3.",
		"Dana Reyes, product lead\nSam Okafor, support manager",
		"Budget capped at 50k\nGDPR applies",
	},
	2: {
		"monthly churn | 8% | 5%",
		"Weekly, reviewed by Dana Reyes.",
	},
	3: {
		"churn events | available | complete since 2022\nsupport tickets | needs export | free text",
		"Read replica of the billing warehouse.",
	},
	4: {
		"tenure | churn events | available\nticket volume | support tickets | after export",
		"Gradient-boosted churn classifier scored weekly.",
		"Label leakage\nCold start for new accounts",
	},
	5: {
		"Baseline model by June\nPilot rollout by August",
		"Four months end to end.",
		"Dana Reyes",
		"Pilot with the retention team first.",
	},
}

// failingStore wraps a Store and fails Save on demand.
type failingStore struct {
	checkpoint.Store
	mu   sync.Mutex
	fail bool
}

func (f *failingStore) Save(ctx context.Context, sessionID string, stage int, state []byte) error {
	f.mu.Lock()
	shouldFail := f.fail
	f.mu.Unlock()
	if shouldFail {
		return &checkpoint.PersistenceError{Op: "checkpoint save", Err: errors.New("disk full")}
	}
	return f.Store.Save(ctx, sessionID, stage, state)
}

func (f *failingStore) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

type fixture struct {
	svc    Service
	repo   session.Repository
	store  *failingStore
	source *queueSource
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	registry, err := stages.NewRegistry()
	require.NoError(t, err)

	f := &fixture{
		repo:   session.NewMemoryRepository(),
		store:  &failingStore{Store: checkpoint.NewMemoryStore()},
		source: &queueSource{},
	}

	f.svc, err = New(Config{LockTimeout: 200 * time.Millisecond, InactivityThreshold: time.Hour}, Deps{
		Repo:      f.repo,
		Store:     f.store,
		Registry:  registry,
		Source:    f.source,
		Evaluator: &scriptedEvaluator{},
		Logger:    logging.NewTestLogger().Logger,
	})
	require.NoError(t, err)
	t.Cleanup(f.svc.Close)
	return f
}

func (f *fixture) runAllStages(t *testing.T, sessionID string) {
	t.Helper()
	for stage := 1; stage <= stages.Count; stage++ {
		f.source.push(stageAnswers[stage]...)
		outcome, err := f.svc.RunStage(context.Background(), sessionID)
		require.NoError(t, err)
		require.True(t, outcome.Advanced, "stage %d must pass its gate", stage)
	}
}

func TestCreateSession(t *testing.T) {
	f := newFixture(t)

	sess, err := f.svc.CreateSession(context.Background(), "dana", "Churn Reduction")
	require.NoError(t, err)
	assert.Equal(t, 1, sess.CurrentStage)
	assert.Equal(t, session.StatusInProgress, sess.Status)

	cp, ok, err := f.store.LoadLatest(context.Background(), sess.ID)
	require.NoError(t, err)
	require.True(t, ok, "creation writes an initial checkpoint")
	assert.Equal(t, 0, cp.Stage)
}

func TestRunStage_AdvancesOnPassedGate(t *testing.T) {
	f := newFixture(t)
	sess, err := f.svc.CreateSession(context.Background(), "dana", "Churn Reduction")
	require.NoError(t, err)

	f.source.push(stageAnswers[1]...)
	outcome, err := f.svc.RunStage(context.Background(), sess.ID)
	require.NoError(t, err)

	assert.True(t, outcome.Advanced)
	assert.True(t, outcome.Validation.Passed)
	assert.Equal(t, 1, outcome.Stage)

	got, err := f.svc.GetStatus(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentStage)
	require.Contains(t, got.Deliverables, 1)

	cp, ok, err := f.store.LoadLatest(context.Background(), sess.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, cp.Stage)
}

func TestRunStage_FailedGateReturnsIssuesWithoutAdvancing(t *testing.T) {
	f := newFixture(t)
	sess, err := f.svc.CreateSession(context.Background(), "dana", "Churn Reduction")
	require.NoError(t, err)

	// Empty answers for every question: the turn escalates with empty best
	// answers and mandatory fields come out blank.
	for i := 0; i < 12; i++ {
		f.source.push("")
	}
	outcome, err := f.svc.RunStage(context.Background(), sess.ID)
	require.NoError(t, err, "a failed gate is data, not an error")

	assert.False(t, outcome.Advanced)
	assert.False(t, outcome.Validation.Passed)
	assert.NotEmpty(t, outcome.Validation.MissingFields)

	got, err := f.svc.GetStatus(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentStage, "failed gate never advances")
	assert.NotContains(t, got.Deliverables, 1)
}

func TestRunStage_RetryReasksOnlyFailedQuestions(t *testing.T) {
	f := newFixture(t)
	sess, err := f.svc.CreateSession(context.Background(), "dana", "Churn Reduction")
	require.NoError(t, err)

	// First run: the business problem comes back blank while the other three
	// answers are good, so the gate fails on exactly that field.
	f.source.push("", stageAnswers[1][1], stageAnswers[1][2], stageAnswers[1][3])
	outcome, err := f.svc.RunStage(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.False(t, outcome.Advanced)
	assert.Equal(t, []string{"business_problem"}, outcome.Validation.MissingFields)

	got, err := f.svc.GetStatus(context.Background(), sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Pending, "accepted answers survive a failed gate")
	assert.Equal(t, 1, got.Pending.Stage)
	assert.Len(t, got.Pending.Answers, 3)

	// Retry with exactly one answer queued: it can only succeed if the three
	// retained answers are reused and just the blank question is asked again.
	f.source.push(stageAnswers[1][0])
	outcome, err = f.svc.RunStage(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.True(t, outcome.Advanced)

	got, err = f.svc.GetStatus(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentStage)
	assert.Nil(t, got.Pending, "retained answers are dropped once the gate passes")

	require.Contains(t, got.Deliverables, 1)
	problem, ok := got.Deliverables[1].(*stages.ProblemDeliverable)
	require.True(t, ok)
	assert.Equal(t, stageAnswers[1][0], problem.BusinessProblem)
	assert.Equal(t, []string{"Dana Reyes, product lead", "Sam Okafor, support manager"}, problem.Stakeholders)
}

func TestRunStage_StoreFailureLeavesStageUnchanged(t *testing.T) {
	f := newFixture(t)
	sess, err := f.svc.CreateSession(context.Background(), "dana", "Churn Reduction")
	require.NoError(t, err)

	f.store.setFail(true)
	f.source.push(stageAnswers[1]...)

	_, err = f.svc.RunStage(context.Background(), sess.ID)
	require.Error(t, err)
	assert.True(t, checkpoint.IsPersistence(err))

	got, err := f.svc.GetStatus(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentStage, "no silent continuation on a persistence failure")
	assert.NotContains(t, got.Deliverables, 1)
}

func TestResumeSession_AfterCrashReturnsLastDurableStage(t *testing.T) {
	f := newFixture(t)
	sess, err := f.svc.CreateSession(context.Background(), "dana", "Churn Reduction")
	require.NoError(t, err)

	f.source.push(stageAnswers[1]...)
	_, err = f.svc.RunStage(context.Background(), sess.ID)
	require.NoError(t, err)

	// Simulate a crash: a new orchestrator sharing the checkpoint store but
	// with an empty repository.
	registry, err := stages.NewRegistry()
	require.NoError(t, err)
	revived, err := New(Config{LockTimeout: 200 * time.Millisecond}, Deps{
		Repo:      session.NewMemoryRepository(),
		Store:     f.store,
		Registry:  registry,
		Source:    f.source,
		Evaluator: &scriptedEvaluator{},
		Logger:    logging.NewNop(),
	})
	require.NoError(t, err)
	defer revived.Close()

	restored, err := revived.ResumeSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, restored.CurrentStage, "resume lands on the last durably-checkpointed stage")
	require.Contains(t, restored.Deliverables, 1)

	// The revived orchestrator can carry on from there.
	f.source.push(stageAnswers[2]...)
	outcome, err := revived.RunStage(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.True(t, outcome.Advanced)
}

func TestResumeSession_UnknownSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ResumeSession(context.Background(), "11111111-1111-1111-1111-111111111111")
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestRunStage_ConcurrentCallsConflict(t *testing.T) {
	f := newFixture(t)
	sess, err := f.svc.CreateSession(context.Background(), "dana", "Churn Reduction")
	require.NoError(t, err)

	f.source.block = make(chan struct{})
	f.source.push(stageAnswers[1]...)

	first := make(chan error, 1)
	go func() {
		_, err := f.svc.RunStage(context.Background(), sess.ID)
		first <- err
	}()

	// Give the first call time to take the lock and park on the source.
	time.Sleep(50 * time.Millisecond)

	_, err = f.svc.RunStage(context.Background(), sess.ID)
	require.Error(t, err)
	assert.True(t, locks.IsConflict(err), "the loser fails fast with a conflict")

	close(f.source.block)
	require.NoError(t, <-first)

	got, err := f.svc.GetStatus(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentStage, "exactly one run advanced the session")
}

func TestFinalize_BeforeAllStages(t *testing.T) {
	f := newFixture(t)
	sess, err := f.svc.CreateSession(context.Background(), "dana", "Churn Reduction")
	require.NoError(t, err)

	_, err = f.svc.Finalize(context.Background(), sess.ID, false)
	require.ErrorIs(t, err, ErrNotFinalizable)
}

func TestFinalize_ConsistentSessionCompletes(t *testing.T) {
	f := newFixture(t)
	sess, err := f.svc.CreateSession(context.Background(), "dana", "Churn Reduction")
	require.NoError(t, err)

	f.runAllStages(t, sess.ID)

	report, err := f.svc.Finalize(context.Background(), sess.ID, false)
	require.NoError(t, err)
	assert.True(t, report.OverallOK)
	assert.Len(t, report.CheckedPairs, 3)

	got, err := f.svc.GetStatus(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, got.Status)
	assert.NotNil(t, got.Report)
}

func TestFinalize_ContradictionsBlockUnlessOverridden(t *testing.T) {
	f := newFixture(t)
	sess, err := f.svc.CreateSession(context.Background(), "dana", "Churn Reduction")
	require.NoError(t, err)

	for stage := 1; stage <= stages.Count; stage++ {
		answers := append([]string(nil), stageAnswers[stage]...)
		if stage == 5 {
			answers[2] = "Alex Kim" // not a declared stakeholder
		}
		f.source.push(answers...)
		outcome, err := f.svc.RunStage(context.Background(), sess.ID)
		require.NoError(t, err)
		require.True(t, outcome.Advanced)
	}

	report, err := f.svc.Finalize(context.Background(), sess.ID, false)
	require.NoError(t, err)
	assert.False(t, report.OverallOK)

	got, err := f.svc.GetStatus(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusInProgress, got.Status, "a dirty report blocks completion")
	assert.NotNil(t, got.Report, "the report is persisted either way")

	report, err = f.svc.Finalize(context.Background(), sess.ID, true)
	require.NoError(t, err)
	assert.False(t, report.OverallOK)

	got, err = f.svc.GetStatus(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, got.Status, "override completes despite contradictions")
	assert.True(t, got.Override)
}

func TestRunStage_AbortPausesSession(t *testing.T) {
	f := newFixture(t)
	sess, err := f.svc.CreateSession(context.Background(), "dana", "Churn Reduction")
	require.NoError(t, err)

	// No answers queued: the source fails permanently on the first prompt.
	_, err = f.svc.RunStage(context.Background(), sess.ID)
	require.Error(t, err)

	got, err := f.svc.GetStatus(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusPaused, got.Status, "an unusable answer source parks the session")
}

func TestPauseAndResume(t *testing.T) {
	f := newFixture(t)
	sess, err := f.svc.CreateSession(context.Background(), "dana", "Churn Reduction")
	require.NoError(t, err)

	require.NoError(t, f.svc.Pause(context.Background(), sess.ID))

	got, err := f.svc.GetStatus(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusPaused, got.Status)

	// RunStage refuses paused sessions.
	_, err = f.svc.RunStage(context.Background(), sess.ID)
	require.ErrorIs(t, err, ErrWrongState)

	restored, err := f.svc.ResumeSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusInProgress, restored.Status)

	f.source.push(stageAnswers[1]...)
	outcome, err := f.svc.RunStage(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.True(t, outcome.Advanced)
}

func TestSweepAbandoned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	idle, err := f.svc.CreateSession(ctx, "dana", "idle project")
	require.NoError(t, err)
	require.NoError(t, f.svc.Pause(ctx, idle.ID))

	fresh, err := f.svc.CreateSession(ctx, "dana", "fresh project")
	require.NoError(t, err)
	require.NoError(t, f.svc.Pause(ctx, fresh.ID))

	// Age the idle session past the inactivity threshold.
	aged, err := f.repo.Get(ctx, idle.ID)
	require.NoError(t, err)
	aged.UpdatedAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, f.repo.Update(ctx, aged))

	abandoned, err := f.svc.SweepAbandoned(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, abandoned)

	got, err := f.svc.GetStatus(ctx, idle.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusAbandoned, got.Status)

	got, err = f.svc.GetStatus(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusPaused, got.Status, "recently paused sessions survive the sweep")
}

func TestChurnReductionScenario_FollowUpThenAccept(t *testing.T) {
	registry, err := stages.NewRegistry()
	require.NoError(t, err)

	source := &queueSource{}
	svc, err := New(Config{LockTimeout: 200 * time.Millisecond}, Deps{
		Repo:      session.NewMemoryRepository(),
		Store:     checkpoint.NewMemoryStore(),
		Registry:  registry,
		Source:    source,
		Evaluator: &scriptedEvaluator{scores: []float64{4, 8}},
		Logger:    logging.NewNop(),
	})
	require.NoError(t, err)
	defer svc.Close()

	sess, err := svc.CreateSession(context.Background(), "dana", "Churn Reduction")
	require.NoError(t, err)

	// First answer scores 4, the follow-up answer scores 8; the remaining
	// questions sail through on the default score.
	source.push("We lose customers sometimes.")
	source.push(stageAnswers[1]...)

	outcome, err := svc.RunStage(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.True(t, outcome.Advanced)
	assert.False(t, outcome.Escalated, "one follow-up is not an escalation")
}

func TestAllAttemptsLowScenario_EscalatedDeliverable(t *testing.T) {
	registry, err := stages.NewRegistry()
	require.NoError(t, err)

	source := &queueSource{}
	svc, err := New(Config{LockTimeout: 200 * time.Millisecond}, Deps{
		Repo:      session.NewMemoryRepository(),
		Store:     checkpoint.NewMemoryStore(),
		Registry:  registry,
		Source:    source,
		Evaluator: &scriptedEvaluator{scores: []float64{3, 3, 3}},
		Logger:    logging.NewNop(),
	})
	require.NoError(t, err)
	defer svc.Close()

	sess, err := svc.CreateSession(context.Background(), "dana", "Churn Reduction")
	require.NoError(t, err)

	// Three low-scored attempts on the first question, then clean answers.
	source.push("vague", "still vague", "yet more vague")
	source.push(stageAnswers[1][1:]...)

	outcome, err := svc.RunStage(context.Background(), sess.ID)
	require.NoError(t, err)

	assert.True(t, outcome.Advanced, "escalation is advisory, the gate still passes")
	assert.True(t, outcome.Escalated)
	assert.True(t, outcome.Deliverable.HasEscalations())
	assert.Contains(t, outcome.Validation.Issues[0], "below the quality threshold")
}
