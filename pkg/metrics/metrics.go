package metrics

import (
	"runtime"
	"strconv"
	"time"
)

// RecordHTTPRequest records an admin HTTP request with its duration
func (r *Registry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	r.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordResponseSize records the size of an admin HTTP response
func (r *Registry) RecordResponseSize(method, path string, size float64) {
	r.HTTPResponseSizeBytes.WithLabelValues(method, path).Observe(size)
}

// IncHTTPRequestsInFlight marks an admin HTTP request as started
func (r *Registry) IncHTTPRequestsInFlight() {
	r.HTTPRequestsInFlight.Inc()
}

// DecHTTPRequestsInFlight marks an admin HTTP request as finished
func (r *Registry) DecHTTPRequestsInFlight() {
	r.HTTPRequestsInFlight.Dec()
}

// RecordInboundCall records one dispatched RPC_CALL and its handler latency
func (r *Registry) RecordInboundCall(cmd string, duration time.Duration) {
	r.RPCInboundTotal.WithLabelValues(cmd).Inc()
	r.RPCInboundDuration.WithLabelValues(cmd).Observe(duration.Seconds())
}

// RecordRejected records an envelope rejected before dispatch
func (r *Registry) RecordRejected(reason string) {
	r.RPCRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordOutboundCall records the settlement of a call issued by this node
func (r *Registry) RecordOutboundCall(cmd string, retCode int) {
	r.RPCOutboundTotal.WithLabelValues(cmd, strconv.Itoa(retCode)).Inc()
}

// RecordProbe records a probe outcome ("success", "timeout" or "error")
func (r *Registry) RecordProbe(result string, duration time.Duration) {
	r.ProbesTotal.WithLabelValues(result).Inc()
	r.ProbeDuration.Observe(duration.Seconds())
}

// RecordTransition records an online flag transition chosen by the reconciler
func (r *Registry) RecordTransition(online bool) {
	r.StatusTransitionsTotal.WithLabelValues(strconv.FormatBool(online)).Inc()
}

// RecordConfigWrite records a write of the online flag
func (r *Registry) RecordConfigWrite(source string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.ConfigWritesTotal.WithLabelValues(source, result).Inc()
}

// SetInstancesTracked publishes the number of tracked instances per flag
func (r *Registry) SetInstancesTracked(online, offline int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.InstancesTracked.WithLabelValues("true").Set(float64(online))
	r.InstancesTracked.WithLabelValues("false").Set(float64(offline))
}

// RecordArchiveUpload records one status snapshot upload
func (r *Registry) RecordArchiveUpload(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.ArchiveUploadsTotal.WithLabelValues(result).Inc()
}

// RecordFrame records one transport frame of n bytes ("in" or "out")
func (r *Registry) RecordFrame(direction string, n int) {
	r.TransportFramesTotal.WithLabelValues(direction).Inc()
	r.TransportBytesTotal.WithLabelValues(direction).Add(float64(n))
}

// UpdateSystemMetrics refreshes uptime and Go runtime gauges
func (r *Registry) UpdateSystemMetrics(startTime time.Time) {
	r.UptimeSeconds.Set(time.Since(startTime).Seconds())
	r.GoRoutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	r.MemoryAllocBytes.Set(float64(m.Alloc))
	r.MemorySysBytes.Set(float64(m.Sys))
}
