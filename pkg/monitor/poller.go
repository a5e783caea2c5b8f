package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/dd0wney/cluso-monitor/pkg/cluster"
	"github.com/dd0wney/cluso-monitor/pkg/logging"
)

// PollOnce probes every registered instance except this node and reconciles
// each outcome. Probes run concurrently; PollOnce returns when all of them
// have settled. Only a registry read failure is returned.
func (m *Monitor) PollOnce(ctx context.Context) error {
	reg, err := m.readRegistry(ctx)
	if err != nil {
		return err
	}
	m.metrics.PollCyclesTotal.Inc()

	var wg sync.WaitGroup
	for _, svc := range reg.Services {
		for _, inst := range svc.Instances {
			if inst.UUID == m.cfg.Self {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				m.probe(ctx, svc.Name, inst)
			}()
		}
	}
	wg.Wait()

	m.logger.Debug("poll cycle complete", logging.Count(reg.Len()))
	return nil
}

// readRegistry reads the registry from the store and keeps it as the
// snapshot self-reports are resolved against
func (m *Monitor) readRegistry(ctx context.Context) (*cluster.Registry, error) {
	reg, err := cluster.ReadRegistry(ctx, m.store)
	if err != nil {
		return nil, err
	}
	m.registry.Store(reg)
	return reg, nil
}

// probe sends one status call and hands the outcome to the reconciler. A
// reply with a non-success retCode is a probe error.
func (m *Monitor) probe(ctx context.Context, service string, inst cluster.ServiceInstance) {
	start := time.Now()
	back, err := m.router.Call(ctx, inst.UUID, probeCall)
	if err == nil {
		if perr := back.AsError(); perr != nil {
			err = perr
		}
	}
	elapsed := time.Since(start)

	if err != nil {
		m.reconcileError(ctx, service, inst, err, elapsed)
		return
	}
	m.metrics.RecordProbe("success", elapsed)
	m.reconcileSuccess(ctx, service, inst, back.Data)
}
