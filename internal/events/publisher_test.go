package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/scoped/internal/logging"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(server.Shutdown)
	return server
}

func TestPublisher_PublishesToSessionSubject(t *testing.T) {
	server := startTestNATSServer(t)

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	pub, err := NewPublisher(nc, logging.NewTestLogger().Logger)
	require.NoError(t, err)

	sub, err := nc.SubscribeSync("scoped.session.abc-123.events")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	pub.Publish(context.Background(), TypeStageCompleted, "abc-123", 2, "metrics gate passed")

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)

	var event Event
	require.NoError(t, json.Unmarshal(msg.Data, &event))
	assert.Equal(t, TypeStageCompleted, event.Type)
	assert.Equal(t, "abc-123", event.SessionID)
	assert.Equal(t, 2, event.Stage)
	assert.Equal(t, "metrics gate passed", event.Detail)
	assert.False(t, event.Timestamp.IsZero())
}

func TestPublisher_SessionsDoNotCrossSubjects(t *testing.T) {
	server := startTestNATSServer(t)

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	pub, err := NewPublisher(nc, logging.NewNop())
	require.NoError(t, err)

	sub, err := nc.SubscribeSync("scoped.session.other.events")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	pub.Publish(context.Background(), TypeCreated, "abc-123", 0, "")

	_, err = sub.NextMsg(100 * time.Millisecond)
	assert.ErrorIs(t, err, nats.ErrTimeout)
}

func TestPublisher_NilIsDisabled(t *testing.T) {
	var pub *Publisher

	// Must not panic; disabled events are a supported configuration.
	pub.Publish(context.Background(), TypeCreated, "abc-123", 0, "")
	pub.Close()
}

func TestNewPublisher_RequiresConnection(t *testing.T) {
	_, err := NewPublisher(nil, logging.NewNop())
	require.Error(t, err)
}
