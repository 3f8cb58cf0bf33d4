// Package orchestrator owns the session lifecycle: it drives the stage
// interviews, enforces stage gates before progression, runs the cross-stage
// consistency check at finalize, and keeps the durable checkpoint ahead of
// every stage advance so sessions survive crashes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scoped/internal/audit"
	"github.com/fyrsmithlabs/scoped/internal/checkpoint"
	"github.com/fyrsmithlabs/scoped/internal/evaluation"
	"github.com/fyrsmithlabs/scoped/internal/events"
	"github.com/fyrsmithlabs/scoped/internal/gates"
	"github.com/fyrsmithlabs/scoped/internal/interview"
	"github.com/fyrsmithlabs/scoped/internal/locks"
	"github.com/fyrsmithlabs/scoped/internal/logging"
	"github.com/fyrsmithlabs/scoped/internal/session"
	"github.com/fyrsmithlabs/scoped/internal/stages"
)

const instrumentationName = "github.com/fyrsmithlabs/scoped/internal/orchestrator"

// Defaults for the orchestrator's own knobs.
const (
	DefaultLockTimeout         = 5 * time.Second
	DefaultInactivityThreshold = 72 * time.Hour
)

// StageOutcome is the result of one RunStage call. A failed gate is a normal
// outcome, not an error: Validation carries the per-field feedback and
// Advanced stays false.
type StageOutcome struct {
	Stage       int                `json:"stage"`
	Validation  gates.Validation   `json:"validation"`
	Deliverable stages.Deliverable `json:"deliverable,omitempty"`
	Advanced    bool               `json:"advanced"`
	Escalated   bool               `json:"escalated"`
}

// Service drives scoping sessions.
type Service interface {
	// CreateSession allocates a session at stage 1 and writes its initial
	// checkpoint.
	CreateSession(ctx context.Context, owner, projectName string) (*session.Session, error)

	// RunStage interviews the session's current stage, validates the
	// deliverable, and advances on a passed gate. The stage never advances
	// unless the checkpoint write is confirmed durable.
	RunStage(ctx context.Context, sessionID string) (*StageOutcome, error)

	// ResumeSession reconstructs session state from the latest checkpoint.
	// Resume is stage-level: partial in-question progress is not durable.
	ResumeSession(ctx context.Context, sessionID string) (*session.Session, error)

	// Finalize runs the consistency check once all stages are done and
	// completes the session iff the report is clean or override is set.
	Finalize(ctx context.Context, sessionID string, override bool) (*gates.Report, error)

	// Pause parks an in-progress session.
	Pause(ctx context.Context, sessionID string) error

	// SweepAbandoned abandons paused sessions idle past the inactivity
	// threshold and returns how many were abandoned. Host-driven.
	SweepAbandoned(ctx context.Context) (int, error)

	// GetStatus returns the session as stored.
	GetStatus(ctx context.Context, sessionID string) (*session.Session, error)

	// Close releases the orchestrator's lock manager.
	Close()
}

// Config bounds the orchestrator's behavior.
type Config struct {
	LockTimeout         time.Duration
	InactivityThreshold time.Duration
	Turn                interview.TurnOptions
}

func (c Config) withDefaults() Config {
	if c.LockTimeout <= 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	if c.InactivityThreshold <= 0 {
		c.InactivityThreshold = DefaultInactivityThreshold
	}
	return c
}

// Deps are the orchestrator's collaborators. Repo, Store, Registry, Source,
// and Evaluator are required; Events and Audit may be nil.
type Deps struct {
	Repo      session.Repository
	Store     checkpoint.Store
	Registry  *stages.Registry
	Locks     *locks.Manager
	Source    interview.AnswerSource
	Evaluator evaluation.Evaluator
	Events    *events.Publisher
	Audit     *audit.Recorder
	Logger    *logging.Logger
}

type service struct {
	cfg       Config
	repo      session.Repository
	store     checkpoint.Store
	registry  *stages.Registry
	locks     *locks.Manager
	runner    *interview.Runner
	validator *gates.Validator
	checker   *gates.Checker
	events    *events.Publisher
	audit     *audit.Recorder
	logger    *logging.Logger

	tracer            trace.Tracer
	meter             metric.Meter
	stageCounter      metric.Int64Counter
	escalationCounter metric.Int64Counter
	checkpointCounter metric.Int64Counter
}

// New creates the orchestrator.
func New(cfg Config, deps Deps) (Service, error) {
	if deps.Repo == nil {
		return nil, errors.New("session repository is required")
	}
	if deps.Store == nil {
		return nil, errors.New("checkpoint store is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("stage registry is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}

	cfg = cfg.withDefaults()

	runner, err := interview.NewRunner(deps.Source, deps.Evaluator, cfg.Turn, deps.Logger)
	if err != nil {
		return nil, err
	}
	validator, err := gates.NewValidator(deps.Registry)
	if err != nil {
		return nil, err
	}

	mgr := deps.Locks
	if mgr == nil {
		mgr = locks.NewManager(locks.DefaultIdleTTL, deps.Logger)
	}

	s := &service{
		cfg:       cfg,
		repo:      deps.Repo,
		store:     deps.Store,
		registry:  deps.Registry,
		locks:     mgr,
		runner:    runner,
		validator: validator,
		checker:   gates.NewChecker(),
		events:    deps.Events,
		audit:     deps.Audit,
		logger:    deps.Logger.Named("orchestrator"),
		tracer:    otel.Tracer(instrumentationName),
		meter:     otel.Meter(instrumentationName),
	}
	s.initMetrics()
	return s, nil
}

func (s *service) initMetrics() {
	var err error

	s.stageCounter, err = s.meter.Int64Counter(
		"scoped.orchestrator.stages_run_total",
		metric.WithDescription("Total number of stage runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create stage counter", zap.Error(err))
	}

	s.escalationCounter, err = s.meter.Int64Counter(
		"scoped.orchestrator.escalations_total",
		metric.WithDescription("Total number of escalated questions"),
		metric.WithUnit("{escalation}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create escalation counter", zap.Error(err))
	}

	s.checkpointCounter, err = s.meter.Int64Counter(
		"scoped.orchestrator.checkpoint_saves_total",
		metric.WithDescription("Total number of checkpoint saves"),
		metric.WithUnit("{save}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create checkpoint counter", zap.Error(err))
	}
}

// saveCheckpoint serializes the session and confirms the durable write.
func (s *service) saveCheckpoint(ctx context.Context, sess *session.Session, stage int) error {
	blob, err := sess.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}
	if err := s.store.Save(ctx, sess.ID, stage, blob); err != nil {
		if checkpoint.IsPersistence(err) {
			return err
		}
		return &checkpoint.PersistenceError{Op: "checkpoint save", Err: err}
	}
	if s.checkpointCounter != nil {
		s.checkpointCounter.Add(ctx, 1)
	}
	return nil
}

func (s *service) Close() {
	s.locks.Close()
}
