package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-monitor/pkg/configstore"
	"github.com/dd0wney/cluso-monitor/pkg/logging"
	"github.com/dd0wney/cluso-monitor/pkg/metrics"
	"github.com/dd0wney/cluso-monitor/pkg/protocol"
)

const self = "M0"

const testSeed = `
system:
  services:
    monitor:
      cluster:
        M0:
          online: "true"
    auth:
      cluster:
        A1:
          online: "true"
        A2:
          online: "false"
`

type outcome int

const (
	replyOK outcome = iota
	dropCall
	replyError
)

// scriptedTransport answers probes according to a per-device outcome
type scriptedTransport struct {
	mu         sync.Mutex
	outcomes   map[string]outcome
	sent       []*protocol.Envelope
	subscribed []string
	inbound    chan []byte
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{
		outcomes: make(map[string]outcome),
		inbound:  make(chan []byte, 64),
	}
}

func (s *scriptedTransport) set(device string, o outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[device] = o
}

func (s *scriptedTransport) Subscribe(uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = append(s.subscribed, uuid)
	return nil
}

func (s *scriptedTransport) Inbound() <-chan []byte { return s.inbound }

func (s *scriptedTransport) Send(env *protocol.Envelope) error {
	s.mu.Lock()
	s.sent = append(s.sent, env)
	o := s.outcomes[env.Devices[0]]
	s.mu.Unlock()

	if env.Topic != protocol.TopicCall {
		return nil
	}
	device := env.Devices[0]
	var back protocol.BackPayload
	switch o {
	case dropCall:
		return nil
	case replyError:
		back = protocol.BackPayload{RetCode: 500, Description: "busy", Data: json.RawMessage(`{}`)}
	default:
		back = protocol.BackPayload{RetCode: protocol.CodeSuccess, Description: "ok", Data: json.RawMessage(`{"uuid":"` + device + `"}`)}
	}
	reply, err := protocol.NewReply(device, env, back)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(reply)
	if err != nil {
		return err
	}
	s.inbound <- raw
	return nil
}

// calls returns the devices probed so far
func (s *scriptedTransport) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, env := range s.sent {
		if env.Topic == protocol.TopicCall {
			out = append(out, env.Devices[0])
		}
	}
	return out
}

// replies returns the RPC_BACK envelopes sent so far
func (s *scriptedTransport) replies() []*protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*protocol.Envelope
	for _, env := range s.sent {
		if env.Topic == protocol.TopicBack {
			out = append(out, env)
		}
	}
	return out
}

type write struct{ path, value string }

// recordingStore is a MemoryStore that remembers every SetConf
type recordingStore struct {
	*configstore.MemoryStore
	mu     sync.Mutex
	writes []write
	fail   error
}

func (s *recordingStore) SetConf(ctx context.Context, path, value string) error {
	s.mu.Lock()
	s.writes = append(s.writes, write{path, value})
	fail := s.fail
	s.mu.Unlock()
	if fail != nil {
		return fail
	}
	return s.MemoryStore.SetConf(ctx, path, value)
}

func (s *recordingStore) Writes() []write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]write(nil), s.writes...)
}

func newRecordingStore(t *testing.T, seed string) *recordingStore {
	t.Helper()
	mem := configstore.NewMemoryStore()
	require.NoError(t, mem.LoadYAML(strings.NewReader(seed)))
	return &recordingStore{MemoryStore: mem}
}

type harness struct {
	m     *Monitor
	tr    *scriptedTransport
	store *recordingStore
	reg   *metrics.Registry
}

func newHarness(t *testing.T, seed string) *harness {
	t.Helper()
	store := newRecordingStore(t, seed)
	tr := newScriptedTransport()
	reg := metrics.NewRegistry()

	cfg := DefaultConfig(self)
	cfg.ProbeTimeout = 20 * time.Millisecond
	m, err := New(cfg, store, tr, logging.NewNopLogger(), reg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.router.Serve(ctx, tr.Inbound())
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		m.Stop()
	})
	return &harness{m: m, tr: tr, store: store, reg: reg}
}

// cycle runs one poll cycle and waits for the writes it started
func (h *harness) cycle(t *testing.T) {
	t.Helper()
	require.NoError(t, h.m.PollOnce(context.Background()))
	h.m.Stop()
}

func (h *harness) record(t *testing.T, service, uuid string) *InstanceHealth {
	t.Helper()
	for _, rec := range h.m.GetServiceStatus([]string{service})[service] {
		if rec.UUID == uuid {
			return &rec
		}
	}
	return nil
}

func (h *harness) route(t *testing.T, msg string) {
	t.Helper()
	h.m.router.Route(context.Background(), []byte(msg))
	h.m.Stop()
}

var onlineA1 = configstore.InstanceOnlinePath("auth", "A1")

func TestNew_RequiresSelf(t *testing.T) {
	_, err := New(Config{}, configstore.NewMemoryStore(), newScriptedTransport(), logging.NewNopLogger(), metrics.NewRegistry())
	assert.Error(t, err)
}

func TestPollOnce_SkipsSelf(t *testing.T) {
	h := newHarness(t, testSeed)
	h.cycle(t)

	assert.ElementsMatch(t, []string{"A1", "A2"}, h.tr.calls())
}

func TestPollOnce_TimeoutsThenRecovery(t *testing.T) {
	h := newHarness(t, testSeed)
	h.tr.set("A1", dropCall)
	h.tr.set("A2", dropCall)

	for i := 1; i <= TimeoutThreshold; i++ {
		h.cycle(t)
		rec := h.record(t, "auth", "A1")
		require.NotNil(t, rec)
		assert.Equal(t, i, rec.TimeoutCount)
		assert.Equal(t, "true", rec.Online)
	}
	assert.Empty(t, h.store.Writes(), "no write at or below the threshold")

	h.cycle(t)
	assert.Equal(t, []write{{onlineA1, "false"}}, h.store.Writes())
	rec := h.record(t, "auth", "A1")
	assert.Equal(t, "false", rec.Online)
	assert.Equal(t, TimeoutThreshold+1, rec.TimeoutCount)

	// The registry now says "false": more timeouts do not write again.
	h.cycle(t)
	assert.Len(t, h.store.Writes(), 1)
	assert.Equal(t, TimeoutThreshold+2, h.record(t, "auth", "A1").TimeoutCount)

	h.tr.set("A1", replyOK)
	h.cycle(t)
	assert.Equal(t, []write{{onlineA1, "false"}, {onlineA1, "true"}}, h.store.Writes())
	rec = h.record(t, "auth", "A1")
	assert.Zero(t, rec.TimeoutCount)
	assert.Equal(t, "true", rec.Online)
	assert.JSONEq(t, `{"uuid":"A1"}`, string(rec.Status))

	// Already "true": a further success writes nothing.
	h.cycle(t)
	assert.Len(t, h.store.Writes(), 2)
}

func TestPollOnce_SuccessOverwritesPersistedOffline(t *testing.T) {
	h := newHarness(t, testSeed)
	h.cycle(t)

	assert.Equal(t, []write{{configstore.InstanceOnlinePath("auth", "A2"), "true"}}, h.store.Writes())
	rec := h.record(t, "auth", "A2")
	require.NotNil(t, rec)
	assert.Equal(t, "true", rec.Online)
}

func TestPollOnce_TimeoutRecordCopiesPersistedFlag(t *testing.T) {
	h := newHarness(t, testSeed)
	h.tr.set("A2", dropCall)

	for range TimeoutThreshold + 2 {
		h.cycle(t)
	}

	rec := h.record(t, "auth", "A2")
	require.NotNil(t, rec)
	assert.Equal(t, "false", rec.Online)
	assert.Nil(t, rec.Status)
	assert.Equal(t, TimeoutThreshold+2, rec.TimeoutCount)
	assert.Empty(t, h.store.Writes())
}

func TestPollOnce_OtherErrorsLeaveStateAlone(t *testing.T) {
	h := newHarness(t, testSeed)
	h.tr.set("A1", replyError)
	h.tr.set("A2", replyError)

	h.cycle(t)
	h.cycle(t)

	assert.Empty(t, h.m.GetServiceStatus(nil))
	assert.Empty(t, h.store.Writes())
}

func TestPollOnce_ErrorDoesNotResetTimeouts(t *testing.T) {
	h := newHarness(t, testSeed)
	h.tr.set("A1", dropCall)
	h.cycle(t)
	h.cycle(t)

	h.tr.set("A1", replyError)
	h.cycle(t)

	assert.Equal(t, 2, h.record(t, "auth", "A1").TimeoutCount)
}

func TestPollOnce_WriteFailureKeepsMemoryState(t *testing.T) {
	h := newHarness(t, testSeed)
	h.store.fail = errors.New("store down")
	h.tr.set("A1", dropCall)
	h.tr.set("A2", dropCall)

	for range TimeoutThreshold + 1 {
		h.cycle(t)
	}

	assert.Equal(t, "false", h.record(t, "auth", "A1").Online)
	assert.Len(t, h.store.Writes(), 1)
	// The registry still says "true", so the next timeout tries again.
	h.cycle(t)
	assert.Len(t, h.store.Writes(), 2)
}

func TestPollOnce_RegistryReadFailure(t *testing.T) {
	tr := newScriptedTransport()
	m, err := New(DefaultConfig(self), failingStore{}, tr, logging.NewNopLogger(), metrics.NewRegistry())
	require.NoError(t, err)

	assert.Error(t, m.PollOnce(context.Background()))
	assert.Empty(t, tr.calls())
}

type failingStore struct{}

func (failingStore) GetConf(ctx context.Context, key string) (*configstore.Node, error) {
	return nil, errors.New("unreachable")
}

func (failingStore) SetConf(ctx context.Context, path, value string) error {
	return errors.New("unreachable")
}

func TestSelfReport_WritesUnconditionally(t *testing.T) {
	h := newHarness(t, testSeed)

	h.route(t, `{"devices":"A1","topic":"device-status","fromUuid":"A1","payload":{"online":false}}`)
	h.route(t, `{"devices":"A1","topic":"device-status","fromUuid":"A1","payload":{"online":false}}`)
	h.route(t, `{"devices":"Z9","topic":"device-status","fromUuid":"Z9","payload":{"online":true}}`)

	assert.Equal(t, []write{{onlineA1, "false"}, {onlineA1, "false"}}, h.store.Writes())
	assert.Empty(t, h.m.GetServiceStatus(nil), "self-reports do not create records")
	assert.Empty(t, h.tr.replies())
}

func TestSelfReport_DoesNotTouchTimeoutCount(t *testing.T) {
	h := newHarness(t, testSeed)
	h.tr.set("A1", dropCall)
	h.cycle(t)
	h.cycle(t)

	h.route(t, `{"devices":"A1","topic":"device-status","fromUuid":"A1","payload":{"online":true}}`)

	assert.Equal(t, 2, h.record(t, "auth", "A1").TimeoutCount)
}

// gatedStore holds every registry read until gate is closed
type gatedStore struct {
	*recordingStore
	gate  chan struct{}
	reads atomic.Int32
}

func (s *gatedStore) GetConf(ctx context.Context, key string) (*configstore.Node, error) {
	s.reads.Add(1)
	<-s.gate
	return s.recordingStore.GetConf(ctx, key)
}

func TestSelfReport_RegistryReadOffInboundLoop(t *testing.T) {
	store := &gatedStore{recordingStore: newRecordingStore(t, testSeed), gate: make(chan struct{})}
	m, err := New(DefaultConfig(self), store, newScriptedTransport(), logging.NewNopLogger(), metrics.NewRegistry())
	require.NoError(t, err)

	route := func(msg string) {
		t.Helper()
		done := make(chan struct{})
		go func() {
			defer close(done)
			m.router.Route(context.Background(), []byte(msg))
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Route waited on the registry read")
		}
	}

	// No snapshot yet: the store is read in the background.
	route(`{"devices":"A1","topic":"device-status","fromUuid":"A1","payload":{"online":false}}`)
	assert.Empty(t, store.Writes())
	close(store.gate)
	m.Stop()
	assert.Equal(t, []write{{onlineA1, "false"}}, store.Writes())
	reads := store.reads.Load()

	// The snapshot from that read now resolves the owner directly.
	route(`{"devices":"A1","topic":"device-status","fromUuid":"A1","payload":{"online":true}}`)
	m.Stop()
	assert.Equal(t, reads, store.reads.Load())
	assert.Equal(t, []write{{onlineA1, "false"}, {onlineA1, "true"}}, store.Writes())
}

func TestSelfReport_UsesPollSnapshot(t *testing.T) {
	h := newHarness(t, testSeed)
	h.cycle(t)
	require.NotNil(t, h.m.registry.Load())

	h.route(t, `{"devices":"A1","topic":"device-status","fromUuid":"A1","payload":{"online":false}}`)
	assert.Contains(t, h.store.Writes(), write{onlineA1, "false"})
}

func TestGetServiceStatus(t *testing.T) {
	h := newHarness(t, testSeed)
	h.cycle(t)

	all := h.m.GetServiceStatus(nil)
	assert.Len(t, all, 1)
	assert.Len(t, all["auth"], 2)

	filtered := h.m.GetServiceStatus([]string{"svcA"})
	v, ok := filtered["svcA"]
	assert.True(t, ok)
	assert.Nil(t, v)

	assert.Empty(t, h.m.GetServiceStatus([]string{}))
}

func TestGetServiceStatus_ReturnsCopies(t *testing.T) {
	h := newHarness(t, testSeed)
	h.cycle(t)

	h.m.GetServiceStatus(nil)["auth"][0].TimeoutCount = 99
	assert.Zero(t, h.m.GetServiceStatus(nil)["auth"][0].TimeoutCount)
}

func TestGetServiceStatusCommand(t *testing.T) {
	h := newHarness(t, testSeed)
	h.cycle(t)

	h.route(t, `{"devices":"M0","topic":"RPC_CALL","fromUuid":"C1","callbackId":"q1",
		"payload":{"cmdName":"getServiceStatus","cmdCode":"0","parameters":["auth","svcA"]}}`)
	h.route(t, `{"devices":"M0","topic":"RPC_CALL","fromUuid":"C1","callbackId":"q2",
		"payload":{"cmdName":"getServiceStatus","cmdCode":"0","parameters":[1]}}`)

	replies := h.tr.replies()
	require.Len(t, replies, 2)

	var ok protocol.BackPayload
	require.NoError(t, json.Unmarshal(replies[0].Payload, &ok))
	assert.Equal(t, protocol.CodeSuccess, ok.RetCode)
	var data map[string][]InstanceHealth
	require.NoError(t, json.Unmarshal(ok.Data, &data))
	assert.Len(t, data["auth"], 2)
	assert.Contains(t, string(ok.Data), `"svcA":null`)

	var bad protocol.BackPayload
	require.NoError(t, json.Unmarshal(replies[1].Payload, &bad))
	assert.Equal(t, protocol.CodeInvalidMessage, bad.RetCode)
	assert.Equal(t, "q2", replies[1].CallbackID)
}

func TestStatusCommand(t *testing.T) {
	h := newHarness(t, testSeed)

	h.route(t, `{"devices":"M0","topic":"RPC_CALL","fromUuid":"C1","callbackId":"s1",
		"payload":{"cmdName":"status","cmdCode":"0009","parameters":null}}`)

	replies := h.tr.replies()
	require.Len(t, replies, 1)
	var back protocol.BackPayload
	require.NoError(t, json.Unmarshal(replies[0].Payload, &back))
	var ws WorkStatus
	require.NoError(t, json.Unmarshal(back.Data, &ws))
	assert.Equal(t, self, ws.UUID)
	assert.Equal(t, int64(1), ws.TotalMsgIn)
}

func TestUnknownCommandLeavesHealthAlone(t *testing.T) {
	h := newHarness(t, testSeed)

	h.route(t, `{"devices":"M0","topic":"RPC_CALL","fromUuid":"A1","callbackId":"x",
		"payload":{"cmdName":"reboot","cmdCode":"0","parameters":null}}`)

	replies := h.tr.replies()
	require.Len(t, replies, 1)
	var back protocol.BackPayload
	require.NoError(t, json.Unmarshal(replies[0].Payload, &back))
	assert.Equal(t, protocol.CodeUnknownMethod, back.RetCode)
	assert.Equal(t, "method name=reboot", back.Description)
	assert.Empty(t, h.m.GetServiceStatus(nil))
}

func TestRun_StopsOnCancel(t *testing.T) {
	store := newRecordingStore(t, testSeed)
	tr := newScriptedTransport()
	cfg := DefaultConfig(self)
	cfg.PollInterval = 10 * time.Millisecond
	cfg.ProbeTimeout = 20 * time.Millisecond
	m, err := New(cfg, store, tr, logging.NewNopLogger(), metrics.NewRegistry())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return len(m.GetServiceStatus([]string{"auth"})["auth"]) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, m.Subscriptions().Count())

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	m.Stop()
}
