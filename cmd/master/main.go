package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/emperorhan/chain-master/internal/admin"
	"github.com/emperorhan/chain-master/internal/alert"
	"github.com/emperorhan/chain-master/internal/broker"
	"github.com/emperorhan/chain-master/internal/circuitbreaker"
	"github.com/emperorhan/chain-master/internal/config"
	"github.com/emperorhan/chain-master/internal/master"
	"github.com/emperorhan/chain-master/internal/rpcclient"
	"github.com/emperorhan/chain-master/internal/searchcluster"
	"github.com/emperorhan/chain-master/internal/tracing"
)

const rpcCallRPS = 10.0
const rpcCallBurst = 5

// controlAdapter satisfies admin.ControlSurface by translating
// master.StatusSnapshot to admin.StatusSnapshot, since internal/admin does
// not import internal/master directly.
type controlAdapter struct {
	controller *master.Controller
}

func (a controlAdapter) TriggerStart() { a.controller.TriggerStart() }

func (a controlAdapter) Stop(ctx context.Context) error { return a.controller.Stop(ctx) }

func (a controlAdapter) StatusSnapshot() (admin.StatusSnapshot, bool) {
	snap, ok := a.controller.StatusSnapshot()
	if !ok {
		return admin.StatusSnapshot{}, false
	}
	return admin.StatusSnapshot{
		WorkerCount:       snap.WorkerCount,
		ActiveReaders:     snap.ActiveReaders,
		LastAssignedBlock: snap.LastAssignedBlock,
		AllowShutdown:     snap.AllowShutdown,
	}, true
}

func buildAlerter(cfg *config.Config, logger *slog.Logger) alert.Alerter {
	var channels []alert.Alerter
	if cfg.Alert.SlackWebhookURL != "" {
		channels = append(channels, alert.NewSlackAlerter(cfg.Alert.SlackWebhookURL))
	}
	if cfg.Alert.GenericWebhookURL != "" {
		channels = append(channels, alert.NewWebhookAlerter(cfg.Alert.GenericWebhookURL))
	}
	if len(channels) == 0 {
		return &alert.NoopAlerter{}
	}
	cooldown := time.Duration(cfg.Alert.CooldownSeconds) * time.Second
	return alert.NewMultiAlerter(cooldown, logger, channels...)
}

// buildTransport dials Redis when cfg.Broker.RedisURL is set, falling
// back to an in-process transport for single-process deployments (and
// for local runs with no Redis available).
func buildTransport(cfg *config.Config, logger *slog.Logger) (broker.Transport, error) {
	if cfg.Broker.RedisURL == "" {
		logger.Info("broker: no REDIS_URL configured, using in-memory transport")
		return broker.NewInMemoryTransport(), nil
	}
	logger.Info("broker: connecting to redis", "url", cfg.Broker.RedisURL)
	return broker.NewRedisTransport(cfg.Broker.RedisURL)
}

func runAdminServer(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("admin server shutdown error", "error", err)
		}
	}()

	logger.Info("admin server started", "port", port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting chain-master",
		"chain", cfg.Chain,
		"readers", cfg.Scaling.Readers,
		"batch_size", cfg.Scaling.BatchSize,
		"ds_pool_size", cfg.Scaling.DSPoolSize,
		"preview", cfg.Indexer.Preview,
		"live_only_mode", cfg.Indexer.LiveOnlyMode,
		"repair_mode", cfg.Features.RepairMode,
	)

	shutdownTracing, err := tracing.Init(context.Background(), "chain-master", cfg.Chain, cfg.Tracing.Endpoint, cfg.Tracing.Insecure)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()
	if cfg.Tracing.Endpoint != "" {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint)
	}

	// The chain-node RPC client and search-cluster client are external
	// collaborators (spec §1); the fleet planner only needs the head-block
	// and last-indexed-marker boundary these wrap, so a real deployment
	// substitutes its own driver for the fakes here without touching the
	// master's decision logic.
	rpc := rpcclient.NewRateLimitedClient(rpcclient.NewFakeClient(map[string]uint64{cfg.Chain: 0}), rpcCallRPS, rpcCallBurst, cfg.Chain)
	search := searchcluster.NewCircuitBreakerClient(searchcluster.NewFakeClient(), circuitbreaker.Config{}, logger)

	alerter := buildAlerter(cfg, logger)

	transport, err := buildTransport(cfg, logger)
	if err != nil {
		logger.Error("failed to build broker transport", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := transport.Close(); err != nil {
			logger.Warn("broker transport close error", "error", err)
		}
	}()

	controller := master.NewController(cfg.Chain, cfg, rpc, search, alerter, logger)
	controller.SetWorkerLoopFactory(master.NewBrokerWorkerLoopFactory(cfg.Chain, transport))

	adminServer := admin.NewServer(controlAdapter{controller: controller}, logger)
	handler := admin.AuditMiddleware(logger, cfg.Chain, adminServer.Handler())
	rateLimited := admin.NewRateLimitMiddleware(logger)
	defer rateLimited.Stop()
	handler = rateLimited.Wrap(handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runAdminServer(gCtx, cfg.Server.HealthPort, handler, logger)
	})

	g.Go(func() error {
		return controller.Run(gCtx)
	})

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, draining fleet", "signal", sig)
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer stopCancel()
			if err := controller.Stop(stopCtx); err != nil {
				logger.Warn("graceful stop did not complete", "error", err)
			}
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("chain-master exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("chain-master shut down gracefully")
}
