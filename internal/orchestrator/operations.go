package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scoped/internal/events"
	"github.com/fyrsmithlabs/scoped/internal/gates"
	"github.com/fyrsmithlabs/scoped/internal/interview"
	"github.com/fyrsmithlabs/scoped/internal/logging"
	"github.com/fyrsmithlabs/scoped/internal/session"
	"github.com/fyrsmithlabs/scoped/internal/stages"
)

// withSession attaches the session id to the logging context. Ids arrive
// from callers, so malformed ones are simply not attached.
func withSession(ctx context.Context, sessionID string) context.Context {
	if _, err := uuid.Parse(sessionID); err != nil {
		return ctx
	}
	return logging.WithSessionID(ctx, sessionID)
}

// ErrNotFinalizable is returned when Finalize is called before every stage
// gate has passed.
var ErrNotFinalizable = errors.New("session has unfinished stages")

// ErrWrongState is returned when an operation does not apply to the
// session's current status.
var ErrWrongState = errors.New("operation not allowed in current session state")

func (s *service) CreateSession(ctx context.Context, owner, projectName string) (*session.Session, error) {
	ctx, span := s.tracer.Start(ctx, "orchestrator.create_session")
	defer span.End()

	sess, err := session.New(owner, projectName)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	ctx = logging.WithSessionID(ctx, sess.ID)
	span.SetAttributes(attribute.String("session_id", sess.ID))

	// Stage 0 marks creation: nothing completed yet.
	if err := s.saveCheckpoint(ctx, sess, 0); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := s.repo.Create(ctx, sess); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.events.Publish(ctx, events.TypeCreated, sess.ID, 0, sess.ProjectName)
	s.logger.Info(ctx, "session created",
		zap.String("owner", owner),
		zap.String("project", projectName),
	)
	return sess, nil
}

func (s *service) RunStage(ctx context.Context, sessionID string) (*StageOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "orchestrator.run_stage")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))
	ctx = withSession(ctx, sessionID)

	release, err := s.locks.Acquire(ctx, sessionID, s.cfg.LockTimeout)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer release()

	sess, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if sess.Status != session.StatusInProgress {
		return nil, fmt.Errorf("%w: session is %s", ErrWrongState, sess.Status)
	}
	if sess.StagesDone() {
		return nil, fmt.Errorf("%w: all stages passed, call finalize", ErrWrongState)
	}

	stage := sess.CurrentStage
	ctx = logging.WithStage(ctx, stage)
	span.SetAttributes(attribute.Int("stage", stage))

	questions, err := s.registry.Questions(stage)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	ask, kept := splitRetry(questions, sess.Pending, stage)
	if len(kept) > 0 {
		s.logger.Info(ctx, "retrying failed stage gate",
			zap.Int("questions_retained", len(kept)),
			zap.Int("questions_to_ask", len(ask)),
		)
	}

	record, err := s.runner.RunStage(ctx, stage, ask)
	if err != nil {
		var aborted *interview.TurnAbortedError
		if errors.As(err, &aborted) {
			s.pauseLocked(ctx, sess, "answer source failed")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	record = mergeRetry(questions, kept, record)

	if s.stageCounter != nil {
		s.stageCounter.Add(ctx, 1, metric.WithAttributes(attribute.Int("stage", stage)))
	}
	s.audit.RecordStage(ctx, sessionID, record)

	if record.HasEscalations {
		escalated := 0
		for _, qa := range record.Answers {
			if qa.Escalated {
				escalated++
			}
		}
		if s.escalationCounter != nil {
			s.escalationCounter.Add(ctx, int64(escalated))
		}
		s.events.Publish(ctx, events.TypeEscalation, sessionID, stage,
			fmt.Sprintf("%d question(s) accepted below threshold", escalated))
	}

	agent, err := s.registry.Agent(stage)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	deliverable, err := agent.Extract(record)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("stage %d extraction failed: %w", stage, err)
	}

	validation := s.validator.Validate(stage, deliverable)
	outcome := &StageOutcome{
		Stage:       stage,
		Validation:  validation,
		Deliverable: deliverable,
		Escalated:   record.HasEscalations,
	}

	if !validation.Passed {
		// Keep the answers the gate did not complain about so the next run
		// re-asks only the offending questions.
		sess.Pending = retainedProgress(stage, record.Answers, validation)
		sess.Touch()
		if err := s.saveCheckpoint(ctx, sess, sess.CurrentStage); err != nil {
			s.logger.Error(ctx, "failed to checkpoint stage attempt", zap.Error(err))
		}
		if err := s.repo.Update(ctx, sess); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to record stage attempt: %w", err)
		}
		s.events.Publish(ctx, events.TypeStageFailed, sessionID, stage,
			fmt.Sprintf("missing=%v issues=%d", validation.MissingFields, len(validation.Issues)))
		s.logger.Info(ctx, "stage gate failed",
			zap.Strings("missing_fields", validation.MissingFields),
			zap.Strings("violated_fields", validation.ViolatedFields),
			zap.Int("issues", len(validation.Issues)),
		)
		return outcome, nil
	}

	// Durable before advance: the checkpoint carrying the new deliverable
	// and incremented stage must be confirmed on disk before the stored
	// session moves forward.
	next, err := sess.Clone()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	next.Deliverables[stage] = deliverable
	next.CurrentStage = stage + 1
	next.Pending = nil
	next.Touch()

	if err := s.saveCheckpoint(ctx, next, stage); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := s.repo.Update(ctx, next); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	outcome.Advanced = true
	s.events.Publish(ctx, events.TypeStageCompleted, sessionID, stage, "")
	s.logger.Info(ctx, "stage completed",
		zap.Int("next_stage", next.CurrentStage),
		zap.Bool("escalated", record.HasEscalations),
	)
	return outcome, nil
}

// splitRetry partitions a stage's questions for a gate retry: answers
// retained from a prior failed run are reused, the rest are asked again.
// Pending state that would leave nothing to ask is stale and dropped.
func splitRetry(questions []interview.Question, pending *session.PendingStage, stage int) ([]interview.Question, []interview.QuestionAnswer) {
	if pending == nil || pending.Stage != stage || len(pending.Answers) == 0 {
		return questions, nil
	}

	held := make(map[string]struct{}, len(pending.Answers))
	for _, qa := range pending.Answers {
		held[qa.Key] = struct{}{}
	}

	ask := make([]interview.Question, 0, len(questions))
	for _, q := range questions {
		if _, ok := held[q.Key]; !ok {
			ask = append(ask, q)
		}
	}
	if len(ask) == 0 {
		return questions, nil
	}
	return ask, pending.Answers
}

// mergeRetry folds retained answers back into the fresh record, restoring
// question order. Later questions may reference earlier answers, so the
// deliverable is always extracted from the full set.
func mergeRetry(questions []interview.Question, kept []interview.QuestionAnswer, fresh *interview.StageRecord) *interview.StageRecord {
	if len(kept) == 0 {
		return fresh
	}

	byKey := make(map[string]interview.QuestionAnswer, len(kept)+len(fresh.Answers))
	for _, qa := range kept {
		byKey[qa.Key] = qa
	}
	for _, qa := range fresh.Answers {
		byKey[qa.Key] = qa
	}

	merged := &interview.StageRecord{Stage: fresh.Stage, History: fresh.History}
	for _, q := range questions {
		qa, ok := byKey[q.Key]
		if !ok {
			continue
		}
		merged.Answers = append(merged.Answers, qa)
		if qa.Escalated {
			merged.HasEscalations = true
		}
	}
	return merged
}

// retainedProgress keeps the answers whose fields the gate did not flag.
// Question keys double as deliverable field keys, so the flagged fields name
// the questions to re-ask directly.
func retainedProgress(stage int, answers []interview.QuestionAnswer, v gates.Validation) *session.PendingStage {
	offending := make(map[string]struct{}, len(v.MissingFields)+len(v.ViolatedFields))
	for _, f := range v.MissingFields {
		offending[f] = struct{}{}
	}
	for _, f := range v.ViolatedFields {
		offending[f] = struct{}{}
	}

	var retained []interview.QuestionAnswer
	for _, qa := range answers {
		if _, ok := offending[qa.Key]; !ok {
			retained = append(retained, qa)
		}
	}
	if len(retained) == 0 {
		return nil
	}
	return &session.PendingStage{Stage: stage, Answers: retained}
}

func (s *service) ResumeSession(ctx context.Context, sessionID string) (*session.Session, error) {
	ctx, span := s.tracer.Start(ctx, "orchestrator.resume_session")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))
	ctx = withSession(ctx, sessionID)

	release, err := s.locks.Acquire(ctx, sessionID, s.cfg.LockTimeout)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer release()

	cp, ok, err := s.store.LoadLatest(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", session.ErrNotFound, sessionID)
	}

	var sess session.Session
	if err := sess.UnmarshalJSON(cp.State); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("corrupt checkpoint state: %w", err)
	}

	if sess.Status == session.StatusPaused {
		sess.Status = session.StatusInProgress
	}
	sess.Touch()

	// The checkpoint is authoritative; bring the repository back in line
	// with it, recreating the record if the crash predated the first write.
	if err := s.repo.Update(ctx, &sess); err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to restore session: %w", err)
		}
		if err := s.repo.Create(ctx, &sess); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to restore session: %w", err)
		}
	}

	s.events.Publish(ctx, events.TypeResumed, sessionID, sess.CurrentStage, "")
	s.logger.Info(ctx, "session resumed",
		zap.Int("current_stage", sess.CurrentStage),
		zap.Int("checkpoint_stage", cp.Stage),
	)
	return &sess, nil
}

func (s *service) Finalize(ctx context.Context, sessionID string, override bool) (*gates.Report, error) {
	ctx, span := s.tracer.Start(ctx, "orchestrator.finalize")
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.Bool("override", override),
	)
	ctx = withSession(ctx, sessionID)

	release, err := s.locks.Acquire(ctx, sessionID, s.cfg.LockTimeout)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer release()

	sess, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if sess.Status == session.StatusCompleted {
		return sess.Report, nil
	}
	if !sess.StagesDone() {
		return nil, fmt.Errorf("%w: at stage %d of %d", ErrNotFinalizable, sess.CurrentStage, stages.Count)
	}

	report := s.checker.Check(sess.Deliverables)
	sess.Report = &report
	sess.Override = override
	if report.OverallOK || override {
		sess.Status = session.StatusCompleted
	}
	sess.Touch()

	if err := s.saveCheckpoint(ctx, sess, sess.CurrentStage); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := s.repo.Update(ctx, sess); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	if sess.Status == session.StatusCompleted {
		s.events.Publish(ctx, events.TypeCompleted, sessionID, stages.Count, "")
	}
	s.logger.Info(ctx, "session finalized",
		zap.Bool("overall_ok", report.OverallOK),
		zap.Bool("override", override),
		zap.Int("contradictions", len(report.Contradictions)),
	)
	return &report, nil
}

func (s *service) Pause(ctx context.Context, sessionID string) error {
	ctx, span := s.tracer.Start(ctx, "orchestrator.pause")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))
	ctx = withSession(ctx, sessionID)

	release, err := s.locks.Acquire(ctx, sessionID, s.cfg.LockTimeout)
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer release()

	sess, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if sess.Status != session.StatusInProgress {
		return fmt.Errorf("%w: session is %s", ErrWrongState, sess.Status)
	}

	s.pauseLocked(ctx, sess, "paused by caller")
	return nil
}

// pauseLocked parks the session; the caller holds the session lock. Pausing
// is best-effort on the repository side: a failed write leaves the session
// runnable, which is the safer direction.
func (s *service) pauseLocked(ctx context.Context, sess *session.Session, reason string) {
	sess.Status = session.StatusPaused
	sess.Touch()

	if err := s.saveCheckpoint(ctx, sess, sess.CurrentStage); err != nil {
		s.logger.Error(ctx, "failed to checkpoint paused session", zap.Error(err))
	}
	if err := s.repo.Update(ctx, sess); err != nil {
		s.logger.Error(ctx, "failed to persist paused session", zap.Error(err))
		return
	}
	s.events.Publish(ctx, events.TypePaused, sess.ID, sess.CurrentStage, reason)
	s.logger.Info(ctx, "session paused", zap.String("reason", reason))
}

func (s *service) SweepAbandoned(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "orchestrator.sweep_abandoned")
	defer span.End()

	sessions, err := s.repo.List(ctx)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	cutoff := time.Now().UTC().Add(-s.cfg.InactivityThreshold)
	abandoned := 0

	for _, sess := range sessions {
		if sess.Status != session.StatusPaused || sess.UpdatedAt.After(cutoff) {
			continue
		}

		release, err := s.locks.Acquire(ctx, sess.ID, s.cfg.LockTimeout)
		if err != nil {
			// Busy or contended sessions are not abandoned; next sweep.
			continue
		}

		current, err := s.repo.Get(ctx, sess.ID)
		if err == nil && current.Status == session.StatusPaused && !current.UpdatedAt.After(cutoff) {
			current.Status = session.StatusAbandoned
			current.Touch()
			if err := s.repo.Update(ctx, current); err != nil {
				s.logger.Error(ctx, "failed to abandon session",
					zap.String("session_id", sess.ID), zap.Error(err))
			} else {
				abandoned++
				s.events.Publish(ctx, events.TypeAbandoned, sess.ID, current.CurrentStage, "inactivity threshold passed")
			}
		}
		release()
	}

	span.SetAttributes(attribute.Int("abandoned", abandoned))
	if abandoned > 0 {
		s.logger.Info(ctx, "abandoned idle sessions", zap.Int("count", abandoned))
	}
	return abandoned, nil
}

func (s *service) GetStatus(ctx context.Context, sessionID string) (*session.Session, error) {
	ctx, span := s.tracer.Start(ctx, "orchestrator.get_status")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	return s.repo.Get(ctx, sessionID)
}
