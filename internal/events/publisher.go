// Package events publishes session lifecycle events to NATS. Publishing is
// fire-and-forget: the state machine never waits on, or fails because of,
// the event bus.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scoped/internal/logging"
)

// Event types published over the session's subject.
const (
	TypeCreated        = "created"
	TypeStageCompleted = "stage_completed"
	TypeStageFailed    = "stage_failed"
	TypeEscalation     = "escalation"
	TypePaused         = "paused"
	TypeResumed        = "resumed"
	TypeCompleted      = "completed"
	TypeAbandoned      = "abandoned"
)

// Event is one session lifecycle event.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Stage     int       `json:"stage,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher emits session events. A nil *Publisher is valid and publishes
// nothing, so callers never need to branch on whether events are enabled.
type Publisher struct {
	nc     *nats.Conn
	logger *logging.Logger
}

// NewPublisher wraps a NATS connection. Returns an error only on a nil
// connection; use a nil *Publisher to disable events.
func NewPublisher(nc *nats.Conn, logger *logging.Logger) (*Publisher, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Publisher{nc: nc, logger: logger.Named("events")}, nil
}

// subject returns the session's event subject.
func subject(sessionID string) string {
	return fmt.Sprintf("scoped.session.%s.events", sessionID)
}

// Publish emits the event. Failures are logged and swallowed.
func (p *Publisher) Publish(ctx context.Context, eventType, sessionID string, stage int, detail string) {
	if p == nil {
		return
	}

	event := Event{
		Type:      eventType,
		SessionID: sessionID,
		Stage:     stage,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn(ctx, "failed to marshal event",
			zap.String("type", eventType),
			zap.Error(err))
		return
	}

	if err := p.nc.Publish(subject(sessionID), data); err != nil {
		p.logger.Warn(ctx, "failed to publish event",
			zap.String("type", eventType),
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.logger.Warn(context.Background(), "failed to drain nats connection", zap.Error(err))
	}
}
