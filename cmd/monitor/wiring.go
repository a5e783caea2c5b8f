package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dd0wney/cluso-monitor/pkg/cluster"
	"github.com/dd0wney/cluso-monitor/pkg/config"
	"github.com/dd0wney/cluso-monitor/pkg/configstore"
	"github.com/dd0wney/cluso-monitor/pkg/health"
	"github.com/dd0wney/cluso-monitor/pkg/logging"
	"github.com/dd0wney/cluso-monitor/pkg/metrics"
	"github.com/dd0wney/cluso-monitor/pkg/monitor"
	"github.com/dd0wney/cluso-monitor/pkg/pubsub"
	"github.com/dd0wney/cluso-monitor/pkg/transport"
)

// pendingCallsLimit is where the readiness probe starts reporting a backlog
const pendingCallsLimit = 1000

type store interface {
	configstore.Configurator
	Ping(ctx context.Context) error
	Close() error
}

type fabric interface {
	monitor.Transport
	Close() error
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger logging.Logger) (store, error) {
	switch cfg.Kind {
	case config.StorePostgres:
		pg, err := configstore.NewPGStore(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if cfg.Seed != "" {
			f, err := os.Open(cfg.Seed)
			if err != nil {
				pg.Close()
				return nil, fmt.Errorf("failed to open seed: %w", err)
			}
			root, err := configstore.ParseYAML(f)
			f.Close()
			if err != nil {
				pg.Close()
				return nil, err
			}
			if err := pg.Import(ctx, root); err != nil {
				pg.Close()
				return nil, err
			}
			logger.Info("configuration seed imported", logging.Path(cfg.Seed))
		}
		return pg, nil

	default:
		if cfg.Seed == "" {
			logger.Warn("memory store without seed, the registry is empty")
			return configstore.NewMemoryStore(), nil
		}
		return configstore.LoadMemoryStore(cfg.Seed)
	}
}

// openTransport joins the fabric. The local kind runs an in-process hub and
// only reaches nodes of the same process.
func openTransport(cfg transport.Config, logger logging.Logger, reg *metrics.Registry) (fabric, error) {
	if cfg.Kind == config.TransportLocal {
		hub := pubsub.NewPubSub()
		return transport.NewLocal(hub, cfg, logger, reg)
	}
	return transport.New(cfg, logger, reg)
}

func registerChecks(hc *health.HealthChecker, mon *monitor.Monitor, st store) {
	hc.RegisterLivenessCheck("memory", health.MemoryCheck(health.RuntimeMemory))

	storeCheck := health.PingCheck("config_store", st.Ping)
	hc.RegisterReadinessCheck("config_store", storeCheck)
	hc.RegisterCheck("config_store", storeCheck)

	subsCheck := health.SubscriptionCheck(mon.Subscriptions().Count, func(ctx context.Context) (int, error) {
		reg, err := cluster.ReadRegistry(ctx, st)
		if err != nil {
			return 0, err
		}
		return len(reg.UUIDs()), nil
	})
	hc.RegisterReadinessCheck("subscriptions", subsCheck)
	hc.RegisterCheck("subscriptions", subsCheck)

	hc.RegisterCheck("instances", health.InstancesCheck(mon.InstanceCounts))
	hc.RegisterCheck("pending_calls", health.PendingCallsCheck(mon.Router().Pending, pendingCallsLimit))
	hc.RegisterCheck("memory", health.MemoryCheck(health.RuntimeMemory))
}
