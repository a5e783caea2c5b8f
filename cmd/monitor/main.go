// Command monitor runs a cluster health monitor node: it joins the fabric,
// polls every registered service instance, keeps the online flags in the
// configuration store current and serves the admin HTTP surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-monitor/pkg/api"
	"github.com/dd0wney/cluso-monitor/pkg/archive"
	"github.com/dd0wney/cluso-monitor/pkg/auth"
	"github.com/dd0wney/cluso-monitor/pkg/config"
	"github.com/dd0wney/cluso-monitor/pkg/health"
	"github.com/dd0wney/cluso-monitor/pkg/logging"
	"github.com/dd0wney/cluso-monitor/pkg/metrics"
	"github.com/dd0wney/cluso-monitor/pkg/monitor"
	"github.com/dd0wney/cluso-monitor/pkg/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("MONITOR_CONFIG"), "Path to the YAML configuration file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "monitor: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.NewJSONLogger(os.Stderr, logging.ParseLevel(cfg.LogLevel)).
		With(logging.Node(cfg.Node.UUID))
	logging.SetDefaultLogger(logger)
	reg := metrics.DefaultRegistry()

	if err := verifyIdentity(ctx, cfg); err != nil {
		return err
	}

	store, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	tr, err := openTransport(cfg.TransportSettings(), logger, reg)
	if err != nil {
		return err
	}
	defer tr.Close()

	mon, err := monitor.New(cfg.MonitorSettings(), store, tr, logger, reg)
	if err != nil {
		return err
	}
	defer mon.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mon.Run(gctx) })

	if cfg.Admin.Listen != "" {
		hc := health.NewHealthChecker()
		registerChecks(hc, mon, store)

		srv, err := api.NewServer(api.Config{GraphQLMaxDepth: cfg.Admin.GraphQLMaxDepth}, mon, hc, logger, reg)
		if err != nil {
			return err
		}
		gs := server.NewGracefulServer(cfg.Admin.Listen, srv.Handler(), logger)
		gs.SetConfigReloadFunc(reloadLogLevel(configPath, logger))

		g.Go(func() error { return gs.Run(gctx) })
		g.Go(func() error {
			gs.WatchReload(gctx)
			return nil
		})
		g.Go(func() error {
			srv.UpdateMetricsPeriodically(gctx, api.DefaultMetricsInterval)
			return nil
		})
	}

	if archCfg, ok := cfg.ArchiveSettings(); ok {
		client, err := archive.NewS3Client(ctx, archCfg)
		if err != nil {
			return err
		}
		archiver, err := archive.New(archCfg, client, mon, logger, reg)
		if err != nil {
			return err
		}
		g.Go(func() error { return archiver.Run(gctx) })
	}

	logger.Info("monitor node running",
		logging.String("transport", cfg.Transport.Kind),
		logging.String("store", cfg.Store.Kind))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("monitor node stopped")
	return nil
}

// verifyIdentity refuses to start a node whose token was not issued for its
// UUID
func verifyIdentity(ctx context.Context, cfg *config.Config) error {
	secret, err := cfg.TokenSecret()
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenManager(secret, 0)
	if err != nil {
		return err
	}
	if err := tokens.VerifyIdentity(ctx, cfg.Node.Token, cfg.Node.UUID); err != nil {
		return fmt.Errorf("node identity rejected: %w", err)
	}
	return nil
}

// reloadLogLevel re-reads the configuration file on SIGHUP. Only the log
// level is applied live; every other change needs a restart.
func reloadLogLevel(configPath string, logger logging.Logger) server.ConfigReloadFunc {
	return func() error {
		next, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger.SetLevel(logging.ParseLevel(next.LogLevel))
		logger.Info("log level reloaded", logging.String("level", next.LogLevel))
		return nil
	}
}
