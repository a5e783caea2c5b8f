package transport

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-monitor/pkg/logging"
	"github.com/dd0wney/cluso-monitor/pkg/metrics"
	"github.com/dd0wney/cluso-monitor/pkg/protocol"
)

// fakeNetwork connects fake PUB and SUB sockets by address
type fakeNetwork struct {
	mu   sync.Mutex
	pubs map[string]*fakePub
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{pubs: make(map[string]*fakePub)}
}

type fakePub struct {
	net  *fakeNetwork
	mu   sync.Mutex
	subs []*fakeSub
}

func (p *fakePub) Send(data []byte) error {
	p.mu.Lock()
	subs := append([]*fakeSub(nil), p.subs...)
	p.mu.Unlock()
	for _, s := range subs {
		s.offer(data)
	}
	return nil
}
func (p *fakePub) Recv() ([]byte, error)                  { return nil, errors.New("pub cannot receive") }
func (p *fakePub) SetRecvDeadline(d time.Duration) error { return nil }
func (p *fakePub) SetSendDeadline(d time.Duration) error { return nil }
func (p *fakePub) Close() error                          { return nil }
func (p *fakePub) Listen(addr string) error {
	p.net.mu.Lock()
	defer p.net.mu.Unlock()
	if _, taken := p.net.pubs[addr]; taken {
		return fmt.Errorf("address in use: %s", addr)
	}
	p.net.pubs[addr] = p
	return nil
}

type fakeSub struct {
	net        *fakeNetwork
	ch         chan []byte
	mu         sync.Mutex
	prefixes   [][]byte
	deadline   time.Duration
	subscribes atomic.Int32
}

func (s *fakeSub) offer(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.prefixes {
		if bytes.HasPrefix(data, p) {
			s.ch <- data
			return
		}
	}
}
func (s *fakeSub) Send([]byte) error { return errors.New("sub cannot send") }
func (s *fakeSub) Recv() ([]byte, error) {
	select {
	case data := <-s.ch:
		return data, nil
	case <-time.After(s.deadline):
		return nil, ErrRecvTimeout
	}
}
func (s *fakeSub) SetRecvDeadline(d time.Duration) error { s.deadline = d; return nil }
func (s *fakeSub) SetSendDeadline(d time.Duration) error { return nil }
func (s *fakeSub) Close() error                          { return nil }
func (s *fakeSub) Dial(addr string) error {
	s.net.mu.Lock()
	pub, ok := s.net.pubs[addr]
	s.net.mu.Unlock()
	if !ok {
		return fmt.Errorf("connection refused: %s", addr)
	}
	pub.mu.Lock()
	pub.subs = append(pub.subs, s)
	pub.mu.Unlock()
	return nil
}
func (s *fakeSub) Subscribe(prefix []byte) error {
	s.subscribes.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefixes = append(s.prefixes, prefix)
	return nil
}

type fakeFactory struct {
	net *fakeNetwork
	sub *fakeSub
}

func (f *fakeFactory) NewPubSocket() (ListenSocket, error) {
	return &fakePub{net: f.net}, nil
}

func (f *fakeFactory) NewSubSocket() (SubscribeSocket, error) {
	f.sub = &fakeSub{net: f.net, ch: make(chan []byte, 64), deadline: 10 * time.Millisecond}
	return f.sub, nil
}

func newFabric(t *testing.T, net *fakeNetwork, self, listen string, peers ...string) (*Fabric, *fakeFactory) {
	t.Helper()
	factory := &fakeFactory{net: net}
	f, err := NewFabric(Config{
		Self:     self,
		Kind:     "fake",
		Listen:   listen,
		Peers:    peers,
		RecvPoll: 10 * time.Millisecond,
	}, factory, logging.NewNopLogger(), metrics.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f, factory
}

func TestFabric_DirectAndBroadcast(t *testing.T) {
	net := newFakeNetwork()

	// Bind both PUB sockets first, then dial.
	a1Factory := &fakeFactory{net: net}
	a1Pub, _ := a1Factory.NewPubSocket()
	require.NoError(t, a1Pub.Listen("inproc://a1"))

	monitor, _ := newFabric(t, net, "M", "inproc://m", "inproc://a1")

	a1Sub, _ := a1Factory.NewSubSocket()
	require.NoError(t, a1Sub.Dial("inproc://m"))
	require.NoError(t, a1Sub.Subscribe(topicPrefix(DirectTopic("A1"))))

	call, err := protocol.NewCall("M", "A1", "cb-1", protocol.CallPayload{CmdName: "status", CmdCode: "0009"})
	require.NoError(t, err)
	require.NoError(t, monitor.Send(call))

	frame, err := a1Sub.Recv()
	require.NoError(t, err)
	topic, _, err := Codec{}.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, "to/A1", topic)

	// A1's broadcast reaches the monitor only after it subscribes.
	report, _ := protocol.NewSelfReport("A1", true)
	reportFrame, _ := Codec{}.Encode(BroadcastTopic("A1"), report)

	require.NoError(t, a1Pub.Send(reportFrame))
	expectNothing(t, monitor)

	require.NoError(t, monitor.Subscribe("A1"))
	require.NoError(t, a1Pub.Send(reportFrame))
	got := expectEnvelope(t, monitor)
	assert.Equal(t, protocol.TopicDeviceStatus, got.Topic)
}

func TestFabric_SubscribeAppliedByReceiveLoop(t *testing.T) {
	net := newFakeNetwork()
	f, factory := newFabric(t, net, "M", "inproc://m")

	require.NoError(t, f.Subscribe("A1"))
	require.NoError(t, f.Subscribe("B2"))

	// own topic + two peers
	assert.Equal(t, int32(3), factory.sub.subscribes.Load())
}

func TestFabric_DialFailureClosesSockets(t *testing.T) {
	net := newFakeNetwork()
	_, err := NewFabric(Config{Self: "M", Listen: "inproc://m", Peers: []string{"inproc://nowhere"}},
		&fakeFactory{net: net}, logging.NewNopLogger(), metrics.NewRegistry())
	assert.Error(t, err)
}

func TestFabric_RequiresSelf(t *testing.T) {
	_, err := NewFabric(Config{}, &fakeFactory{net: newFakeNetwork()}, logging.NewNopLogger(), metrics.NewRegistry())
	assert.Error(t, err)
}

func TestFabric_OperationsAfterClose(t *testing.T) {
	f, _ := newFabric(t, newFakeNetwork(), "M", "inproc://m")
	require.NoError(t, f.Close())

	assert.ErrorIs(t, f.Subscribe("A1"), ErrClosed)
	assert.ErrorIs(t, f.Send(&protocol.Envelope{Devices: protocol.Devices{"A1"}}), ErrClosed)
	_, ok := <-f.Inbound()
	assert.False(t, ok)
}
