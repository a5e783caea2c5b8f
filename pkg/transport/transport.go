// Package transport moves envelopes between devices over a publish/subscribe
// fabric. Every frame carries a topic: "to/<uuid>" for frames addressed to a
// device and "from/<uuid>" for broadcasts a device makes about itself. A node
// always listens on its own "to/" topic; Subscribe adds a peer's "from/"
// topic.
package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/dd0wney/cluso-monitor/pkg/logging"
	"github.com/dd0wney/cluso-monitor/pkg/metrics"
	"github.com/dd0wney/cluso-monitor/pkg/protocol"
)

var (
	// ErrClosed is returned by operations on a closed transport
	ErrClosed = errors.New("transport: closed")
	// ErrRecvTimeout is returned by a socket Recv whose deadline passed
	ErrRecvTimeout = errors.New("transport: receive timeout")
	// ErrUnknownKind is returned for a transport kind with no registered
	// socket factory
	ErrUnknownKind = errors.New("transport: unknown kind")
)

// Transport is what the monitor needs from the fabric
type Transport interface {
	// Subscribe starts delivery of broadcasts made by device uuid
	Subscribe(uuid string) error
	// Send publishes env to every device it addresses. device-status
	// envelopes are broadcast on the sender's own topic instead.
	Send(env *protocol.Envelope) error
	// Inbound yields the JSON body of every frame received. It is closed by
	// Close.
	Inbound() <-chan []byte
	Close() error
}

// Config describes how a node joins the fabric
type Config struct {
	// Self is this node's device UUID
	Self string
	// Kind selects the socket implementation: "local", "nng" or "zmq"
	Kind string
	// Listen is the address the node's PUB socket binds, e.g. tcp://*:7001
	Listen string
	// Peers are the PUB addresses of the other nodes
	Peers []string
	// Compress enables snappy compression of frame bodies
	Compress bool
	// RecvPoll bounds how long the receive loop blocks before checking for
	// shutdown and queued subscriptions
	RecvPoll time.Duration
	// InboundBuffer is the capacity of the Inbound channel
	InboundBuffer int
}

const (
	defaultRecvPoll      = 250 * time.Millisecond
	defaultInboundBuffer = 256
)

func (c Config) withDefaults() Config {
	if c.RecvPoll <= 0 {
		c.RecvPoll = defaultRecvPoll
	}
	if c.InboundBuffer <= 0 {
		c.InboundBuffer = defaultInboundBuffer
	}
	return c
}

// DirectTopic is the topic frames addressed to uuid travel on
func DirectTopic(uuid string) string {
	return "to/" + uuid
}

// BroadcastTopic is the topic uuid's own broadcasts travel on
func BroadcastTopic(uuid string) string {
	return "from/" + uuid
}

// routes returns the topics env must be published on
func routes(env *protocol.Envelope) []string {
	if env.Topic == protocol.TopicDeviceStatus {
		return []string{BroadcastTopic(env.FromUUID)}
	}
	topics := make([]string, 0, len(env.Devices))
	for _, device := range env.Devices {
		topics = append(topics, DirectTopic(device))
	}
	return topics
}

var factories = map[string]func() SocketFactory{}

// RegisterFactory makes a socket implementation available under kind. Socket
// implementations that need cgo register themselves behind build tags.
func RegisterFactory(kind string, fn func() SocketFactory) {
	factories[kind] = fn
}

// Kinds lists the registered socket kinds
func Kinds() []string {
	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	return kinds
}

// New opens a socket-based transport of cfg.Kind
func New(cfg Config, logger logging.Logger, reg *metrics.Registry) (*Fabric, error) {
	fn, ok := factories[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q (built with %v)", ErrUnknownKind, cfg.Kind, Kinds())
	}
	return NewFabric(cfg, fn(), logger, reg)
}
