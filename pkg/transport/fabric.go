package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dd0wney/cluso-monitor/pkg/logging"
	"github.com/dd0wney/cluso-monitor/pkg/metrics"
	"github.com/dd0wney/cluso-monitor/pkg/protocol"
)

// Fabric is a Transport over a PUB socket bound locally and a SUB socket
// dialled to every peer. Subscription changes are applied by the receive
// loop between Recv calls, since ZeroMQ sockets must stay on one goroutine.
type Fabric struct {
	cfg     Config
	codec   Codec
	pub     ListenSocket
	sub     SubscribeSocket
	logger  logging.Logger
	metrics *metrics.Registry

	inbound chan []byte
	subReqs chan subRequest
	stopCh  chan struct{}
	wg      sync.WaitGroup

	sendMu    sync.Mutex
	closeOnce sync.Once
}

type subRequest struct {
	prefix []byte
	done   chan error
}

// NewFabric binds, dials and starts receiving. It always subscribes to the
// node's own direct topic.
func NewFabric(cfg Config, factory SocketFactory, logger logging.Logger, reg *metrics.Registry) (*Fabric, error) {
	cfg = cfg.withDefaults()
	if cfg.Self == "" {
		return nil, errors.New("transport: self uuid is required")
	}
	if reg == nil {
		reg = metrics.DefaultRegistry()
	}
	logger = logger.With(logging.Component("transport"), logging.String("kind", cfg.Kind))

	cleanup := newResourceCleanup(logger)
	defer cleanup.Cleanup()

	pub, err := factory.NewPubSocket()
	if err != nil {
		return nil, fmt.Errorf("failed to create PUB socket: %w", err)
	}
	cleanup.Add(pub, "pub")

	if cfg.Listen != "" {
		if err := pub.Listen(cfg.Listen); err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Listen, err)
		}
	}

	sub, err := factory.NewSubSocket()
	if err != nil {
		return nil, fmt.Errorf("failed to create SUB socket: %w", err)
	}
	cleanup.Add(sub, "sub")

	for _, peer := range cfg.Peers {
		if err := sub.Dial(peer); err != nil {
			return nil, fmt.Errorf("failed to dial peer %s: %w", peer, err)
		}
	}
	if err := sub.Subscribe(topicPrefix(DirectTopic(cfg.Self))); err != nil {
		return nil, fmt.Errorf("failed to subscribe to own topic: %w", err)
	}
	if err := sub.SetRecvDeadline(cfg.RecvPoll); err != nil {
		return nil, fmt.Errorf("failed to set receive deadline: %w", err)
	}

	f := &Fabric{
		cfg:     cfg,
		codec:   Codec{Compress: cfg.Compress},
		pub:     pub,
		sub:     sub,
		logger:  logger,
		metrics: reg,
		inbound: make(chan []byte, cfg.InboundBuffer),
		subReqs: make(chan subRequest),
		stopCh:  make(chan struct{}),
	}

	f.wg.Add(1)
	go f.receiveLoop()

	logger.Info("transport started",
		logging.Node(cfg.Self),
		logging.String("listen", cfg.Listen),
		logging.Count(len(cfg.Peers)))

	cleanup.Clear()
	return f, nil
}

// Subscribe adds uuid's broadcast topic to the SUB filter
func (f *Fabric) Subscribe(uuid string) error {
	req := subRequest{prefix: topicPrefix(BroadcastTopic(uuid)), done: make(chan error, 1)}
	select {
	case f.subReqs <- req:
	case <-f.stopCh:
		return ErrClosed
	}
	select {
	case err := <-req.done:
		return err
	case <-f.stopCh:
		return ErrClosed
	}
}

// Send publishes env on each of its routes
func (f *Fabric) Send(env *protocol.Envelope) error {
	select {
	case <-f.stopCh:
		return ErrClosed
	default:
	}

	f.sendMu.Lock()
	defer f.sendMu.Unlock()

	for _, topic := range routes(env) {
		frame, err := f.codec.Encode(topic, env)
		if err != nil {
			return err
		}
		if err := f.pub.Send(frame); err != nil {
			return fmt.Errorf("publish on %s: %w", topic, err)
		}
		f.metrics.RecordFrame("out", len(frame))
	}
	return nil
}

func (f *Fabric) Inbound() <-chan []byte {
	return f.inbound
}

// Close stops the receive loop and closes both sockets
func (f *Fabric) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.stopCh)
		f.wg.Wait()

		f.sendMu.Lock()
		err = errors.Join(f.sub.Close(), f.pub.Close())
		f.sendMu.Unlock()

		close(f.inbound)
		f.logger.Info("transport stopped")
	})
	return err
}

func (f *Fabric) receiveLoop() {
	defer f.wg.Done()

	for {
		select {
		case <-f.stopCh:
			return
		case req := <-f.subReqs:
			req.done <- f.sub.Subscribe(req.prefix)
			continue
		default:
		}

		frame, err := f.sub.Recv()
		if err != nil {
			if errors.Is(err, ErrRecvTimeout) {
				continue
			}
			select {
			case <-f.stopCh:
				return
			default:
			}
			f.logger.Warn("receive failed", logging.Error(err))
			time.Sleep(100 * time.Millisecond)
			continue
		}

		f.metrics.RecordFrame("in", len(frame))
		_, body, err := f.codec.Decode(frame)
		if err != nil {
			f.metrics.TransportDecodeErrorsTotal.Inc()
			f.logger.Warn("dropping undecodable frame", logging.Error(err))
			continue
		}

		select {
		case f.inbound <- body:
		case <-f.stopCh:
			return
		}
	}
}
