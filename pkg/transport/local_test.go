package transport

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-monitor/pkg/logging"
	"github.com/dd0wney/cluso-monitor/pkg/metrics"
	"github.com/dd0wney/cluso-monitor/pkg/protocol"
	"github.com/dd0wney/cluso-monitor/pkg/pubsub"
)

func newLocal(t *testing.T, hub *pubsub.PubSub, self string) *Local {
	t.Helper()
	l, err := NewLocal(hub, Config{Self: self, Compress: true}, logging.NewNopLogger(), metrics.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func expectEnvelope(t *testing.T, tr Transport) *protocol.Envelope {
	t.Helper()
	select {
	case body := <-tr.Inbound():
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(body, &env))
		return &env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
		return nil
	}
}

func expectNothing(t *testing.T, tr Transport) {
	t.Helper()
	select {
	case body := <-tr.Inbound():
		t.Fatalf("unexpected envelope %s", body)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLocal_DirectDelivery(t *testing.T) {
	hub := pubsub.NewPubSub()
	defer hub.Shutdown()

	monitor := newLocal(t, hub, "M")
	a1 := newLocal(t, hub, "A1")
	b2 := newLocal(t, hub, "B2")

	call, err := protocol.NewCall("M", "A1", "cb-1", protocol.CallPayload{CmdName: "status", CmdCode: "0009"})
	require.NoError(t, err)
	require.NoError(t, monitor.Send(call))

	got := expectEnvelope(t, a1)
	assert.Equal(t, "cb-1", got.CallbackID)
	expectNothing(t, b2)
}

func TestLocal_BroadcastNeedsSubscription(t *testing.T) {
	hub := pubsub.NewPubSub()
	defer hub.Shutdown()

	monitor := newLocal(t, hub, "M")
	a1 := newLocal(t, hub, "A1")

	report, err := protocol.NewSelfReport("A1", false)
	require.NoError(t, err)

	require.NoError(t, a1.Send(report))
	expectNothing(t, monitor)

	require.NoError(t, monitor.Subscribe("A1"))
	require.NoError(t, a1.Send(report))

	got := expectEnvelope(t, monitor)
	assert.Equal(t, protocol.TopicDeviceStatus, got.Topic)
	assert.Equal(t, "A1", got.FromUUID)
}

func TestLocal_Close(t *testing.T) {
	hub := pubsub.NewPubSub()
	defer hub.Shutdown()

	l, err := NewLocal(hub, Config{Self: "M"}, logging.NewNopLogger(), metrics.NewRegistry())
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	_, ok := <-l.Inbound()
	assert.False(t, ok)
	assert.ErrorIs(t, l.Subscribe("A1"), ErrClosed)
	assert.ErrorIs(t, l.Send(&protocol.Envelope{Devices: protocol.Devices{"A1"}}), ErrClosed)
}
