package master

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/emperorhan/chain-master/internal/alert"
	"github.com/emperorhan/chain-master/internal/config"
	"github.com/emperorhan/chain-master/internal/metrics"
	"github.com/emperorhan/chain-master/internal/rpcclient"
	"github.com/emperorhan/chain-master/internal/searchcluster"
	"github.com/emperorhan/chain-master/internal/supervisor"
)

const previewDeadline = 10 * time.Minute

// Controller is the Lifecycle Controller, C8: the ordered startup
// sequence that turns a loaded config into a running Engine, the
// preview-mode gate, and the stop handler that drains the fleet
// gracefully.
type Controller struct {
	chain   string
	cfg     *config.Config
	rpc     rpcclient.Client
	search  searchcluster.Client
	alerter alert.Alerter
	logger  *slog.Logger

	loopFactory  WorkerLoopFactory
	startTrigger chan struct{}
	triggerOnce  sync.Once

	engine *Engine
}

// NewController builds a Controller. alerter may be nil, in which case no
// startup-fatal/auto-stop alerts are sent.
func NewController(chain string, cfg *config.Config, rpc rpcclient.Client, search searchcluster.Client, alerter alert.Alerter, logger *slog.Logger) *Controller {
	return &Controller{
		chain:        chain,
		cfg:          cfg,
		rpc:          rpc,
		search:       search,
		alerter:      alerter,
		logger:       logger.With("component", "lifecycle"),
		loopFactory:  func(WorkerDef) supervisor.WorkerLoop { return supervisor.NewLoopbackHandle() },
		startTrigger: make(chan struct{}),
	}
}

// SetWorkerLoopFactory overrides how each worker's goroutine body is
// built. Must be called before Run.
func (c *Controller) SetWorkerLoopFactory(f WorkerLoopFactory) { c.loopFactory = f }

// TriggerStart releases the preview-mode gate, satisfying the
// `POST /control/start` trigger described in section 6. Safe to call
// multiple times, or when the controller is not in preview mode (the
// gate is simply never waited on in that case).
func (c *Controller) TriggerStart() {
	c.triggerOnce.Do(func() { close(c.startTrigger) })
}

// Engine returns the running engine, valid only after Run has completed
// its startup sequence. Used by the admin control surface to relay
// /control/stop and /status.
func (c *Controller) Engine() *Engine { return c.engine }

// StatusSnapshot returns the current engine status, or ok=false if the
// startup sequence has not finished yet.
func (c *Controller) StatusSnapshot() (StatusSnapshot, bool) {
	if c.engine == nil {
		return StatusSnapshot{}, false
	}
	return c.engine.StatusSnapshot(), true
}

// Run executes the startup sequence, then drives the engine until ctx is
// cancelled or the Progress Monitor decides to exit. Any error returned
// is startup-fatal or a monitor-driven termination, per the error
// taxonomy; callers log it and exit nonzero.
func (c *Controller) Run(ctx context.Context) error {
	start := time.Now()
	if err := c.startup(ctx); err != nil {
		metrics.LifecycleFatalTotal.WithLabelValues(c.chain, "startup").Inc()
		c.fireAlert(ctx, alert.AlertTypeStartupFatal, "startup failed", err.Error())
		return fmt.Errorf("lifecycle: startup: %w", err)
	}
	metrics.LifecycleStartupDuration.WithLabelValues(c.chain).Observe(time.Since(start).Seconds())

	err := c.engine.Run(ctx)
	if err != nil && ctx.Err() == nil {
		c.fireAlert(ctx, alert.AlertTypeAutoStop, "engine exited", err.Error())
	}
	return err
}

// startup implements the ordered sequence: verify the search-cluster
// script contract, resolve the plan, gate on preview mode, register the
// fleet, and wire the components together into an Engine.
func (c *Controller) startup(ctx context.Context) error {
	if err := c.search.InstallUpdateByBlockScript(ctx); err != nil {
		return fmt.Errorf("install update-by-block script: %w", err)
	}

	planner := NewPlanner(c.chain, c.rpc, c.search, c.logger)
	plan, err := planner.Plan(ctx, c.cfg)
	if err != nil {
		return fmt.Errorf("plan fleet: %w", err)
	}
	c.logger.Info("fleet planned",
		"starting_block", plan.StartingBlock,
		"head", plan.Head,
		"max_readers", plan.MaxReaders,
		"worker_count", len(plan.Workers))

	if c.cfg.Indexer.Preview {
		if err := c.awaitStartTrigger(ctx, plan); err != nil {
			return err
		}
	}

	registry := NewRegistry()
	for _, def := range plan.Workers {
		registry.Add(def)
	}

	dispatcher := NewReaderDispatcher(plan, int64(c.cfg.Scaling.BatchSize))
	live := NewLiveBlockTracker(c.chain, c.search, c.logger)
	balancer := NewBalancer(c.chain, c.cfg.Scaling.DSPoolSize, c.logger)
	monitor := NewMonitor(c.chain, c.cfg.Indexer.LogInterval, plan.Head-plan.StartingBlock, c.cfg.Indexer.LiveOnlyMode, c.cfg.Indexer.AutoStop, c.logger)
	router := NewRouter(c.chain, registry, dispatcher, live, balancer, c.logger)

	doctor := NewDoctor(c.chain, nil, c.logger)
	if c.cfg.Features.RepairMode {
		if err := doctor.LoadRepairRules(c.cfg.Features.RepairRulesPath); err != nil {
			return fmt.Errorf("load repair rules: %w", err)
		}
	}

	errorLogWriter, err := c.openErrorLog()
	if err != nil {
		return fmt.Errorf("open deserialization error log: %w", err)
	}
	router.SetErrorLineWriter(errorLogWriter)

	pool := supervisor.NewPool(c.logger)

	engine := NewEngine(c.chain, registry, pool, dispatcher, router, live, balancer, monitor, doctor, c.search, c.logger)
	engine.SetWorkerLoopFactory(c.loopFactory)
	engine.SpawnFleet(ctx)

	c.engine = engine
	return nil
}

// awaitStartTrigger blocks in preview mode until the external start
// trigger fires or a hard 10-minute deadline elapses.
func (c *Controller) awaitStartTrigger(ctx context.Context, plan *PlanResult) error {
	c.logger.Info("preview mode: awaiting external start trigger",
		"starting_block", plan.StartingBlock, "head", plan.Head, "deadline", previewDeadline)

	timer := time.NewTimer(previewDeadline)
	defer timer.Stop()

	select {
	case <-c.startTrigger:
		c.logger.Info("preview mode: start trigger received")
		return nil
	case <-timer.C:
		return fmt.Errorf("preview mode: no start trigger within %s", previewDeadline)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// openErrorLog opens the deserialization error log file append-only, and
// returns a writer closure appending one JSON line per call.
func (c *Controller) openErrorLog() (func(json.RawMessage) error, error) {
	path := c.cfg.Indexer.ErrorLogPath
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return func(line json.RawMessage) error {
		_, err := f.Write(append(line, '\n'))
		return err
	}, nil
}

func (c *Controller) fireAlert(ctx context.Context, typ alert.AlertType, title, message string) {
	if c.alerter == nil {
		return
	}
	if err := c.alerter.Send(ctx, alert.Alert{
		Type:    typ,
		Chain:   c.chain,
		Title:   title,
		Message: message,
	}); err != nil {
		c.logger.Warn("failed to send alert", "type", typ, "err", err)
	}
}

// Stop implements the stop handler trigger: disable further reader
// dispatch, broadcast stop to every worker, and block until the Progress
// Monitor's idle grace period has elapsed or ctx is cancelled.
func (c *Controller) Stop(ctx context.Context) error {
	if c.engine == nil {
		return nil
	}
	c.engine.Stop()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		if c.engine.AllowShutdown() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
