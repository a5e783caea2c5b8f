// Package monitor probes every registered service instance, turns the
// outcomes into a stable online flag per instance and persists flag changes
// to the configuration store. It also serves the node's RPC commands.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dd0wney/cluso-monitor/pkg/cluster"
	"github.com/dd0wney/cluso-monitor/pkg/configstore"
	"github.com/dd0wney/cluso-monitor/pkg/logging"
	"github.com/dd0wney/cluso-monitor/pkg/metrics"
	"github.com/dd0wney/cluso-monitor/pkg/protocol"
	"github.com/dd0wney/cluso-monitor/pkg/rpc"
)

// Config configures a Monitor
type Config struct {
	// Self is this node's device UUID
	Self string
	// PollInterval is the time between health poll cycles (default: 60s)
	PollInterval time.Duration
	// ProbeTimeout bounds the wait for a status reply (default: 10s)
	ProbeTimeout time.Duration
	// Subscriptions configures the subscription refresh loop
	Subscriptions cluster.SubscriptionConfig
}

// DefaultConfig returns the production defaults for node self
func DefaultConfig(self string) Config {
	return Config{
		Self:          self,
		PollInterval:  60 * time.Second,
		ProbeTimeout:  rpc.DefaultCallTimeout,
		Subscriptions: cluster.DefaultSubscriptionConfig(),
	}
}

// Transport is the fabric the monitor runs on
type Transport interface {
	rpc.Sender
	cluster.Subscriber
	Inbound() <-chan []byte
}

// Monitor owns the health records, the router and the subscription manager
// of one node.
type Monitor struct {
	cfg       Config
	store     configstore.Configurator
	transport Transport
	router    *rpc.Router
	subs      *cluster.SubscriptionManager
	health    *healthTable
	// registry is the snapshot read by the last poll cycle
	registry atomic.Pointer[cluster.Registry]

	started time.Time
	cycles  sync.WaitGroup
	writes  sync.WaitGroup

	logger  logging.Logger
	metrics *metrics.Registry
}

// New wires a monitor. It does not start any goroutine; call Run.
func New(cfg Config, store configstore.Configurator, tr Transport, logger logging.Logger, reg *metrics.Registry) (*Monitor, error) {
	if cfg.Self == "" {
		return nil, errors.New("monitor: self uuid is required")
	}
	def := DefaultConfig(cfg.Self)
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if cfg.Subscriptions.Interval <= 0 {
		cfg.Subscriptions.Interval = def.Subscriptions.Interval
	}
	if reg == nil {
		reg = metrics.DefaultRegistry()
	}

	m := &Monitor{
		cfg:       cfg,
		store:     store,
		transport: tr,
		health:    newHealthTable(),
		started:   time.Now(),
		logger:    logger.With(logging.Component("monitor"), logging.Node(cfg.Self)),
		metrics:   reg,
	}
	m.router = rpc.NewRouter(rpc.Config{Self: cfg.Self, CallTimeout: cfg.ProbeTimeout}, tr, logger, reg)
	m.subs = cluster.NewSubscriptionManager(cfg.Subscriptions, store, tr, logger, reg)
	m.registerHandlers()
	return m, nil
}

// Router exposes the node's router, for issuing calls to other devices
func (m *Monitor) Router() *rpc.Router {
	return m.router
}

// Subscriptions exposes the subscription manager
func (m *Monitor) Subscriptions() *cluster.SubscriptionManager {
	return m.subs
}

// Run starts the subscription loop, the inbound loop and the poll loop and
// blocks until ctx is done. The first poll cycle runs one interval after
// start.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.subs.Start(ctx); err != nil {
		return fmt.Errorf("failed to start subscriptions: %w", err)
	}
	defer m.subs.Stop()

	served := make(chan struct{})
	go func() {
		defer close(served)
		m.router.Serve(ctx, m.transport.Inbound())
	}()

	m.logger.Info("monitor started",
		logging.Duration("poll_interval", m.cfg.PollInterval),
		logging.Duration("probe_timeout", m.cfg.ProbeTimeout))

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			<-served
			m.cycles.Wait()
			m.logger.Info("monitor stopped")
			return nil
		case <-ticker.C:
			// A cycle never waits for the previous one.
			m.cycles.Add(1)
			go func() {
				defer m.cycles.Done()
				if err := m.PollOnce(ctx); err != nil && ctx.Err() == nil {
					m.logger.Error("poll cycle failed", logging.Error(err))
				}
			}()
		}
	}
}

// Stop waits for configuration writes still in flight
func (m *Monitor) Stop() {
	m.writes.Wait()
}

// WorkStatus is the reply of the status command
type WorkStatus struct {
	UUID           string `json:"uuid"`
	UptimeSeconds  int64  `json:"uptime"`
	TotalMsgIn     int64  `json:"total_msg_in"`
	TotalMsgInTime int64  `json:"total_msg_in_time"`
	Subscriptions  int    `json:"subscriptions"`
	PendingCalls   int    `json:"pending_calls"`
}

// WorkStatus reports this node's counters. TotalMsgInTime is in
// milliseconds.
func (m *Monitor) WorkStatus() WorkStatus {
	stats := m.router.Stats()
	return WorkStatus{
		UUID:           m.cfg.Self,
		UptimeSeconds:  int64(time.Since(m.started).Seconds()),
		TotalMsgIn:     stats.TotalMsgIn,
		TotalMsgInTime: stats.TotalMsgInTime.Milliseconds(),
		Subscriptions:  m.subs.Count(),
		PendingCalls:   m.router.Pending(),
	}
}

// writeOnline persists an online flag without blocking the caller. Failures
// are logged and counted, never retried.
func (m *Monitor) writeOnline(ctx context.Context, source, service, uuid string, online bool) {
	path := configstore.InstanceOnlinePath(service, uuid)
	value := cluster.FormatOnline(online)
	ctx = context.WithoutCancel(ctx)

	m.writes.Add(1)
	go func() {
		defer m.writes.Done()
		err := m.store.SetConf(ctx, path, value)
		m.metrics.RecordConfigWrite(source, err)
		if err != nil {
			m.logger.Error("failed to write online flag",
				logging.Path(path),
				logging.String("value", value),
				logging.String("source", source),
				logging.Error(err))
			return
		}
		m.logger.Info("online flag written",
			logging.Service(service),
			logging.Instance(uuid),
			logging.String("value", value),
			logging.String("source", source))
	}()
}

// probeCall is the status probe sent to every instance
var probeCall = protocol.CallPayload{
	CmdName: protocol.CmdStatus,
	CmdCode: protocol.CmdStatusCode,
}
