package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/fyrsmithlabs/verdictd/internal/config"
	"github.com/fyrsmithlabs/verdictd/internal/store"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}
	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func testResult() *store.SynthesisResult {
	return &store.SynthesisResult{
		ID:         "res-1",
		PairToken:  "r1_r2",
		SessionID:  "s1",
		Verdict:    store.VerdictSupport,
		Confidence: 0.89,
		ProcessingMetrics: store.ProcessingMetrics{
			FallbackStages: []string{"explanation"},
		},
	}
}

func TestNATSPublisher_PublishCompleted(t *testing.T) {
	server := startTestNATSServer(t)
	sub, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	msgs, err := sub.SubscribeSync("verdictd.synthesis.*.completed")
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	p, err := Connect(config.EventsConfig{Enabled: true, NATSURL: server.ClientURL(), SubjectPrefix: "verdictd.synthesis"}, nil)
	require.NoError(t, err)
	assert.True(t, p.Connected())

	require.NoError(t, p.PublishCompleted(context.Background(), testResult()))
	require.NoError(t, p.Close())

	msg, err := msgs.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "verdictd.synthesis.s1.completed", msg.Subject)

	var ev CompletedEvent
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, TypeCompleted, ev.Type)
	assert.Equal(t, "r1_r2", ev.PairToken)
	assert.Equal(t, "res-1", ev.ResultID)
	assert.Equal(t, store.VerdictSupport, ev.Verdict)
	assert.Equal(t, 0.89, ev.Confidence)
	assert.Equal(t, []string{"explanation"}, ev.FallbackStages)
	assert.NotEmpty(t, ev.ID)
}

func TestNATSPublisher_SharedConnectionNotClosed(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	p := NewNATSPublisher(nc, "", nil)
	require.NoError(t, p.Close())
	assert.True(t, nc.IsConnected())
	assert.Equal(t, DefaultSubjectPrefix, p.prefix)
}

func TestNATSPublisher_PublishAfterCloseFails(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	nc.Close()

	p := NewNATSPublisher(nc, "x", nil)
	assert.Error(t, p.PublishCompleted(context.Background(), testResult()))
}

func TestCompletedSubject(t *testing.T) {
	assert.Equal(t, "p.s1.completed", CompletedSubject("p", "s1"))
	assert.Equal(t, "p.a_b_c_d.completed", CompletedSubject("p", "a.b*c>d"))
	assert.Equal(t, "p.unknown.completed", CompletedSubject("p", ""))
}

func TestNewCompletedEvent_NilFallbacks(t *testing.T) {
	ev := NewCompletedEvent(&store.SynthesisResult{PairToken: "t"})
	assert.Equal(t, []string{}, ev.FallbackStages)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.PublishCompleted(context.Background(), testResult()))
	assert.NoError(t, p.Close())
}
