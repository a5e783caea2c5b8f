// Package pubsub is an in-process topic bus. It backs the local transport,
// which lets several devices share one process in tests and single-host
// deployments.
package pubsub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrShutdown is returned when subscribing to a bus that has been shut down
var ErrShutdown = errors.New("pubsub: shut down")

// DefaultBuffer is the per-subscription channel capacity
const DefaultBuffer = 100

// PubSub fans published frames out to every subscription listening on the
// frame's topic
type PubSub struct {
	subscribers map[string]map[*Subscription]struct{}
	mu          sync.RWMutex
	shutdown    chan struct{}
	shutdownMu  sync.Mutex
	isShutdown  bool
	buffer      int
	dropped     atomic.Uint64
}

// Subscription receives frames for one or more topics on a single channel
type Subscription struct {
	topics    map[string]struct{}
	channel   chan []byte
	ps        *PubSub
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewPubSub creates a bus with DefaultBuffer sized subscriptions
func NewPubSub() *PubSub {
	return NewPubSubWithBuffer(DefaultBuffer)
}

// NewPubSubWithBuffer creates a bus whose subscriptions buffer n frames
func NewPubSubWithBuffer(n int) *PubSub {
	if n <= 0 {
		n = DefaultBuffer
	}
	return &PubSub{
		subscribers: make(map[string]map[*Subscription]struct{}),
		shutdown:    make(chan struct{}),
		buffer:      n,
	}
}

// Subscribe creates a subscription to the given topics. The subscription is
// removed when ctx is cancelled.
func (ps *PubSub) Subscribe(ctx context.Context, topics ...string) (*Subscription, error) {
	ps.shutdownMu.Lock()
	if ps.isShutdown {
		ps.shutdownMu.Unlock()
		return nil, ErrShutdown
	}
	ps.shutdownMu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		topics:  make(map[string]struct{}),
		channel: make(chan []byte, ps.buffer),
		ps:      ps,
		cancel:  cancel,
	}
	for _, topic := range topics {
		sub.Add(topic)
	}

	go func() {
		select {
		case <-subCtx.Done():
			sub.Unsubscribe()
		case <-ps.shutdown:
			sub.close()
		}
	}()

	return sub, nil
}

// Publish delivers frame to every subscriber of topic. A subscriber whose
// buffer is full misses the frame; Dropped counts those misses.
func (ps *PubSub) Publish(topic string, frame []byte) int {
	ps.shutdownMu.Lock()
	if ps.isShutdown {
		ps.shutdownMu.Unlock()
		return 0
	}
	ps.shutdownMu.Unlock()

	ps.mu.RLock()
	topicSubs := ps.subscribers[topic]
	subs := make([]*Subscription, 0, len(topicSubs))
	for sub := range topicSubs {
		subs = append(subs, sub)
	}
	ps.mu.RUnlock()

	delivered := 0
	for _, sub := range subs {
		if sub.deliver(frame) {
			delivered++
		} else {
			ps.dropped.Add(1)
		}
	}
	return delivered
}

// GetSubscriberCount returns the number of subscriptions listening on topic
func (ps *PubSub) GetSubscriberCount(topic string) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.subscribers[topic])
}

// Dropped returns how many deliveries were skipped because a buffer was full
func (ps *PubSub) Dropped() uint64 {
	return ps.dropped.Load()
}

// Shutdown closes all subscriptions. Further publishes are ignored.
func (ps *PubSub) Shutdown() {
	ps.shutdownMu.Lock()
	if ps.isShutdown {
		ps.shutdownMu.Unlock()
		return
	}
	ps.isShutdown = true
	ps.shutdownMu.Unlock()

	close(ps.shutdown)

	ps.mu.Lock()
	for topic, subs := range ps.subscribers {
		for sub := range subs {
			sub.close()
		}
		delete(ps.subscribers, topic)
	}
	ps.mu.Unlock()
}

// Add extends the subscription to another topic. Adding a topic twice is a
// no-op.
func (s *Subscription) Add(topic string) {
	s.ps.mu.Lock()
	defer s.ps.mu.Unlock()

	if _, ok := s.topics[topic]; ok {
		return
	}
	s.topics[topic] = struct{}{}
	if s.ps.subscribers[topic] == nil {
		s.ps.subscribers[topic] = make(map[*Subscription]struct{})
	}
	s.ps.subscribers[topic][s] = struct{}{}
}

// Topics returns the number of topics the subscription listens on
func (s *Subscription) Topics() int {
	s.ps.mu.RLock()
	defer s.ps.mu.RUnlock()
	return len(s.topics)
}

// Channel returns the subscription's frame channel. It is closed on
// Unsubscribe or bus shutdown.
func (s *Subscription) Channel() <-chan []byte {
	return s.channel
}

// Unsubscribe detaches the subscription from every topic and closes its
// channel
func (s *Subscription) Unsubscribe() {
	s.cancel()

	s.ps.mu.Lock()
	for topic := range s.topics {
		if subs := s.ps.subscribers[topic]; subs != nil {
			delete(subs, s)
			if len(subs) == 0 {
				delete(s.ps.subscribers, topic)
			}
		}
	}
	s.ps.mu.Unlock()

	s.close()
}

// deliver sends without blocking. It reports false if the buffer is full or
// the subscription is closed.
func (s *Subscription) deliver(frame []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case s.channel <- frame:
		return true
	default:
		return false
	}
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		close(s.channel)
	})
}
