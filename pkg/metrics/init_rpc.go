package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initRPCMetrics() {
	r.RPCInboundTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_inbound_total",
			Help:      "RPC_CALL envelopes dispatched to a local handler",
		},
		[]string{"cmd"},
	)

	r.RPCInboundDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_inbound_duration_seconds",
			Help:      "Local handler latency for inbound RPC_CALL envelopes",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"cmd"},
	)

	r.RPCRejectedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_rejected_total",
			Help:      "Inbound envelopes rejected before reaching a handler",
		},
		[]string{"reason"},
	)

	r.RPCOutboundTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_outbound_total",
			Help:      "RPC_CALL envelopes issued by this node, by outcome",
		},
		[]string{"cmd", "result"},
	)

	r.RPCPendingCalls = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rpc_pending_calls",
			Help:      "Outbound calls waiting for an RPC_BACK",
		},
	)

	r.RPCUnmatchedReplies = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_unmatched_replies_total",
			Help:      "RPC_BACK envelopes whose callbackId had no pending call (late or duplicate)",
		},
	)
}
