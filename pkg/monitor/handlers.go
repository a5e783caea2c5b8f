package monitor

import (
	"context"
	"encoding/json"

	"github.com/dd0wney/cluso-monitor/pkg/protocol"
	"github.com/dd0wney/cluso-monitor/pkg/validation"
)

func (m *Monitor) registerHandlers() {
	m.router.
		Handle(protocol.CmdStatus, m.handleStatus).
		Handle(protocol.CmdGetServiceStatus, m.handleGetServiceStatus).
		OnSelfReport(m.handleSelfReport)
}

func (m *Monitor) handleStatus(ctx context.Context, _ json.RawMessage) protocol.Result {
	return protocol.OK(m.WorkStatus())
}

// handleGetServiceStatus serves the status query. Parameters are an
// optional array of service names.
func (m *Monitor) handleGetServiceStatus(ctx context.Context, params json.RawMessage) protocol.Result {
	names, verr := validation.DecodeServiceNames(params)
	if verr != nil {
		return protocol.Fail(verr)
	}
	return protocol.OK(m.GetServiceStatus(names))
}
