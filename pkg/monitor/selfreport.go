package monitor

import (
	"context"

	"github.com/dd0wney/cluso-monitor/pkg/logging"
	"github.com/dd0wney/cluso-monitor/pkg/validation"
)

// handleSelfReport persists the online flag an instance asserted about
// itself. It bypasses the timeout bookkeeping entirely. Reports from UUIDs
// no service owns are dropped.
//
// The owning service comes from the last poll cycle's registry snapshot. A
// UUID missing from it is resolved against the store off the inbound loop.
func (m *Monitor) handleSelfReport(ctx context.Context, report *validation.SelfReport) {
	if service, ok := m.registry.Load().ServiceOf(report.FromUUID); ok {
		m.acceptSelfReport(ctx, service, report)
		return
	}

	ctx = context.WithoutCancel(ctx)
	m.writes.Add(1)
	go func() {
		defer m.writes.Done()
		reg, err := m.readRegistry(ctx)
		if err != nil {
			m.metrics.SelfReportsTotal.WithLabelValues("error").Inc()
			m.logger.Error("failed to read registry for self-report",
				logging.Instance(report.FromUUID),
				logging.Error(err))
			return
		}

		service, ok := reg.ServiceOf(report.FromUUID)
		if !ok {
			m.metrics.SelfReportsTotal.WithLabelValues("unknown").Inc()
			m.logger.Debug("self-report from unregistered device", logging.Instance(report.FromUUID))
			return
		}
		m.acceptSelfReport(ctx, service, report)
	}()
}

func (m *Monitor) acceptSelfReport(ctx context.Context, service string, report *validation.SelfReport) {
	m.metrics.SelfReportsTotal.WithLabelValues("accepted").Inc()
	m.writeOnline(ctx, "self_report", service, report.FromUUID, report.Online)
}
