package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/dd0wney/cluso-monitor/pkg/cluster"
	"github.com/dd0wney/cluso-monitor/pkg/logging"
	"github.com/dd0wney/cluso-monitor/pkg/protocol"
)

// TimeoutThreshold is how many consecutive probe timeouts an online
// instance survives. The write to "false" happens on the one after.
const TimeoutThreshold = 3

// InstanceHealth is the in-memory record of one probed instance
type InstanceHealth struct {
	UUID string `json:"uuid"`
	// Online is "true" or "false". A record created by a timeout copies the
	// persisted flag.
	Online string `json:"online"`
	// Status is the data of the last successful probe, null before one
	Status       json.RawMessage `json:"status"`
	TimeoutCount int             `json:"timeoutCount"`
}

// healthTable holds records per service, in the order instances were first
// observed. Services appear on their first record.
type healthTable struct {
	mu       sync.Mutex
	services map[string][]*InstanceHealth
}

func newHealthTable() *healthTable {
	return &healthTable{services: make(map[string][]*InstanceHealth)}
}

// find returns the record of uuid in service; callers hold mu
func (h *healthTable) find(service, uuid string) *InstanceHealth {
	for _, rec := range h.services[service] {
		if rec.UUID == uuid {
			return rec
		}
	}
	return nil
}

// add appends a record; callers hold mu
func (h *healthTable) add(service string, rec *InstanceHealth) {
	h.services[service] = append(h.services[service], rec)
}

// counts returns the number of records per online flag
func (h *healthTable) counts() (online, offline int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, recs := range h.services {
		for _, rec := range recs {
			if rec.Online == cluster.Online {
				online++
			} else {
				offline++
			}
		}
	}
	return online, offline
}

// snapshot copies the records of the named services, or of every service
// when names is nil. Unknown names map to nil.
func (h *healthTable) snapshot(names []string) map[string][]InstanceHealth {
	h.mu.Lock()
	defer h.mu.Unlock()

	if names == nil {
		names = make([]string, 0, len(h.services))
		for name := range h.services {
			names = append(names, name)
		}
	}

	out := make(map[string][]InstanceHealth, len(names))
	for _, name := range names {
		recs, ok := h.services[name]
		if !ok {
			out[name] = nil
			continue
		}
		copied := make([]InstanceHealth, len(recs))
		for i, rec := range recs {
			copied[i] = *rec
			copied[i].Status = slices.Clone(rec.Status)
		}
		out[name] = copied
	}
	return out
}

// reconcileSuccess applies a successful probe: the instance is online at
// once, and a persisted "false" is overwritten.
func (m *Monitor) reconcileSuccess(ctx context.Context, service string, inst cluster.ServiceInstance, data json.RawMessage) {
	if inst.Online == cluster.Offline {
		m.metrics.RecordTransition(true)
		m.logger.Info("instance back online", logging.Service(service), logging.Instance(inst.UUID))
		m.writeOnline(ctx, "probe", service, inst.UUID, true)
	}

	m.health.mu.Lock()
	rec := m.health.find(service, inst.UUID)
	if rec == nil {
		rec = &InstanceHealth{UUID: inst.UUID}
		m.health.add(service, rec)
	}
	rec.Online = cluster.Online
	rec.Status = data
	rec.TimeoutCount = 0
	m.health.mu.Unlock()

	m.publishTracked()
}

// reconcileError applies a failed probe. Only timeouts count toward the
// threshold; other errors are logged.
func (m *Monitor) reconcileError(ctx context.Context, service string, inst cluster.ServiceInstance, err error, elapsed time.Duration) {
	if !protocol.IsTimeout(err) {
		m.metrics.RecordProbe("error", elapsed)
		if ctx.Err() != nil {
			return
		}
		fields := []logging.Field{logging.Service(service), logging.Instance(inst.UUID), logging.Error(err)}
		var perr *protocol.Error
		if errors.As(err, &perr) {
			fields = append(fields, logging.RetCode(perr.RetCode))
		}
		m.logger.Error("probe failed", fields...)
		return
	}
	m.metrics.RecordProbe("timeout", elapsed)

	m.health.mu.Lock()
	rec := m.health.find(service, inst.UUID)
	if rec == nil {
		m.health.add(service, &InstanceHealth{
			UUID:         inst.UUID,
			Online:       inst.Online,
			TimeoutCount: 1,
		})
		m.health.mu.Unlock()
		m.publishTracked()
		return
	}
	rec.TimeoutCount++
	count := rec.TimeoutCount
	offline := count > TimeoutThreshold && inst.IsOnline()
	if offline {
		rec.Online = cluster.Offline
	}
	m.health.mu.Unlock()

	m.logger.Debug("probe timed out",
		logging.Service(service),
		logging.Instance(inst.UUID),
		logging.Count(count))

	if offline {
		m.metrics.RecordTransition(false)
		m.logger.Warn("instance offline",
			logging.Service(service),
			logging.Instance(inst.UUID),
			logging.Count(count))
		m.writeOnline(ctx, "probe", service, inst.UUID, false)
		m.publishTracked()
	}
}

func (m *Monitor) publishTracked() {
	m.metrics.SetInstancesTracked(m.health.counts())
}
