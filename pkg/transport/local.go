package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/dd0wney/cluso-monitor/pkg/logging"
	"github.com/dd0wney/cluso-monitor/pkg/metrics"
	"github.com/dd0wney/cluso-monitor/pkg/protocol"
	"github.com/dd0wney/cluso-monitor/pkg/pubsub"
)

// Local is a Transport over an in-process pubsub hub. Devices sharing a hub
// exchange frames exactly as they would over sockets, codec included.
type Local struct {
	self    string
	hub     *pubsub.PubSub
	sub     *pubsub.Subscription
	codec   Codec
	logger  logging.Logger
	metrics *metrics.Registry

	inbound   chan []byte
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}
}

// NewLocal joins hub as device cfg.Self
func NewLocal(hub *pubsub.PubSub, cfg Config, logger logging.Logger, reg *metrics.Registry) (*Local, error) {
	cfg = cfg.withDefaults()
	if reg == nil {
		reg = metrics.DefaultRegistry()
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := hub.Subscribe(ctx, DirectTopic(cfg.Self))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("join local hub: %w", err)
	}

	l := &Local{
		self:    cfg.Self,
		hub:     hub,
		sub:     sub,
		codec:   Codec{Compress: cfg.Compress},
		logger:  logger.With(logging.Component("transport"), logging.String("kind", "local")),
		metrics: reg,
		inbound: make(chan []byte, cfg.InboundBuffer),
		cancel:  cancel,
		closed:  make(chan struct{}),
	}

	l.wg.Add(1)
	go l.forward()
	return l, nil
}

func (l *Local) Subscribe(uuid string) error {
	select {
	case <-l.closed:
		return ErrClosed
	default:
	}
	l.sub.Add(BroadcastTopic(uuid))
	return nil
}

func (l *Local) Send(env *protocol.Envelope) error {
	select {
	case <-l.closed:
		return ErrClosed
	default:
	}
	for _, topic := range routes(env) {
		frame, err := l.codec.Encode(topic, env)
		if err != nil {
			return err
		}
		l.metrics.RecordFrame("out", len(frame))
		l.hub.Publish(topic, frame)
	}
	return nil
}

func (l *Local) Inbound() <-chan []byte {
	return l.inbound
}

func (l *Local) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.cancel()
		l.wg.Wait()
		close(l.inbound)
	})
	return nil
}

// forward decodes frames from the hub subscription onto the inbound channel
func (l *Local) forward() {
	defer l.wg.Done()
	for {
		select {
		case frame, ok := <-l.sub.Channel():
			if !ok {
				return
			}
			l.metrics.RecordFrame("in", len(frame))
			_, body, err := l.codec.Decode(frame)
			if err != nil {
				l.metrics.TransportDecodeErrorsTotal.Inc()
				l.logger.Warn("dropping undecodable frame", logging.Error(err))
				continue
			}
			select {
			case l.inbound <- body:
			case <-l.closed:
				return
			}
		case <-l.closed:
			return
		}
	}
}
