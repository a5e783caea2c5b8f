package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cluso_monitor"

// Registry holds every collector the monitor exports
type Registry struct {
	// HTTP (admin surface)
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestsInFlight  prometheus.Gauge
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// RPC router
	RPCInboundTotal       *prometheus.CounterVec
	RPCInboundDuration    *prometheus.HistogramVec
	RPCRejectedTotal      *prometheus.CounterVec
	RPCOutboundTotal      *prometheus.CounterVec
	RPCPendingCalls       prometheus.Gauge
	RPCUnmatchedReplies   prometheus.Counter

	// Health poller and status reconciler
	PollCyclesTotal        prometheus.Counter
	ProbesTotal            *prometheus.CounterVec
	ProbeDuration          prometheus.Histogram
	StatusTransitionsTotal *prometheus.CounterVec
	ConfigWritesTotal      *prometheus.CounterVec
	SelfReportsTotal       *prometheus.CounterVec
	InstancesTracked       *prometheus.GaugeVec
	SubscriptionsTotal     prometheus.Gauge
	SubscribeErrorsTotal   prometheus.Counter

	// Transport
	TransportFramesTotal       *prometheus.CounterVec
	TransportBytesTotal        *prometheus.CounterVec
	TransportDecodeErrorsTotal prometheus.Counter
	TransportDroppedTotal      prometheus.Counter

	// Status archive
	ArchiveUploadsTotal *prometheus.CounterVec

	// System
	UptimeSeconds    prometheus.Gauge
	GoRoutines       prometheus.Gauge
	MemoryAllocBytes prometheus.Gauge
	MemorySysBytes   prometheus.Gauge

	registry *prometheus.Registry
	mu       sync.Mutex
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the process-wide metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a registry with every collector registered. Tests use a
// fresh registry each so counters start at zero.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
	}

	r.initHTTPMetrics()
	r.initRPCMetrics()
	r.initMonitorMetrics()
	r.initTransportMetrics()
	r.initArchiveMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
