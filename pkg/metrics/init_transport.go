package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initTransportMetrics() {
	r.TransportFramesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_frames_total",
			Help:      "Frames moved over the transport",
		},
		[]string{"direction"},
	)

	r.TransportBytesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_bytes_total",
			Help:      "Bytes moved over the transport after compression",
		},
		[]string{"direction"},
	)

	r.TransportDecodeErrorsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_decode_errors_total",
			Help:      "Inbound frames that could not be decoded",
		},
	)

	r.TransportDroppedTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_dropped_total",
			Help:      "Frames dropped because a receiver was not keeping up",
		},
	)
}

func (r *Registry) initArchiveMetrics() {
	r.ArchiveUploadsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_uploads_total",
			Help:      "Status snapshot uploads by outcome",
		},
		[]string{"result"},
	)
}
