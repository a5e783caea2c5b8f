package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initMonitorMetrics() {
	r.PollCyclesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Health poll cycles started",
		},
	)

	r.ProbesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Status probes by outcome",
		},
		[]string{"result"},
	)

	r.ProbeDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Time from probe send to settlement",
			Buckets:   []float64{.005, .01, .05, .1, .5, 1, 2.5, 5, 10, 30},
		},
	)

	r.StatusTransitionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Persisted online flag transitions decided by the reconciler",
		},
		[]string{"state"},
	)

	r.ConfigWritesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_writes_total",
			Help:      "Writes of the online flag to the configuration store",
		},
		[]string{"source", "result"},
	)

	r.SelfReportsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "self_reports_total",
			Help:      "device-status self-reports received",
		},
		[]string{"result"},
	)

	r.InstancesTracked = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "instances_tracked",
			Help:      "Instances with an in-memory health record, by online flag",
		},
		[]string{"online"},
	)

	r.SubscriptionsTotal = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions",
			Help:      "Instance broadcast streams this node is subscribed to",
		},
	)

	r.SubscribeErrorsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscribe_errors_total",
			Help:      "Failed transport subscribe calls",
		},
	)
}
