package master

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/emperorhan/chain-master/internal/metrics"
	"github.com/emperorhan/chain-master/internal/searchcluster"
	"github.com/emperorhan/chain-master/internal/supervisor"
	"github.com/emperorhan/chain-master/internal/tracing"
)

const (
	balancerTickInterval = 5 * time.Second
	monitorTickInterval  = 5 * time.Second
	ipcRateLogInterval   = 10 * time.Second
)

// upstreamKind and downstreamKind tag the opaque supervisor.Message.Kind
// field so a worker loop and the engine agree on how to interpret Payload.
const (
	upstreamKind   = "upstream"
	downstreamKind = "downstream"
)

// WorkerLoopFactory builds the goroutine a spawned worker runs, given its
// definition. The default, used when none is supplied, is
// supervisor.NewLoopbackHandle, which only exercises plumbing; a real
// deployment supplies a factory that bridges to the out-of-process
// worker binary over the broker.
type WorkerLoopFactory func(def WorkerDef) supervisor.WorkerLoop

// Engine is the single event loop tying the Reader Dispatcher, Message
// Router, Live-Block Tracker, Contract-Usage Balancer, and Progress
// Monitor together. The source models this as one OS thread with no
// locking; since workers here run as goroutines sharing the process
// rather than as separate OS processes sharing nothing, a single coarse
// mutex plays the same role, serializing every mutation exactly as the
// single-threaded event loop would.
type Engine struct {
	chain  string
	logger *slog.Logger

	registry   *Registry
	pool       *supervisor.Pool
	dispatcher *ReaderDispatcher
	router     *Router
	live       *LiveBlockTracker
	balancer   *Balancer
	monitor    *Monitor
	doctor     *Doctor
	search     searchcluster.Client

	loopFactory WorkerLoopFactory

	mu               sync.Mutex
	allowMoreReaders bool
	stopped          bool
}

// NewEngine wires an Engine from its already-constructed components.
func NewEngine(
	chain string,
	registry *Registry,
	pool *supervisor.Pool,
	dispatcher *ReaderDispatcher,
	router *Router,
	live *LiveBlockTracker,
	balancer *Balancer,
	monitor *Monitor,
	doctor *Doctor,
	search searchcluster.Client,
	logger *slog.Logger,
) *Engine {
	e := &Engine{
		chain:            chain,
		logger:           logger.With("component", "engine"),
		registry:         registry,
		pool:             pool,
		dispatcher:       dispatcher,
		router:           router,
		live:             live,
		balancer:         balancer,
		monitor:          monitor,
		doctor:           doctor,
		search:           search,
		loopFactory:      func(WorkerDef) supervisor.WorkerLoop { return supervisor.NewLoopbackHandle() },
		allowMoreReaders: true,
	}
	router.SetBroadcastFunc(e.broadcast)
	router.SetDoctorCompletedHook(func() {
		if err := doctor.Reconcile(context.Background()); err != nil {
			e.logger.Error("doctor reconcile failed", "err", err)
		}
	})
	return e
}

// SetWorkerLoopFactory overrides the goroutine body spawned for each
// worker. Must be called before SpawnFleet.
func (e *Engine) SetWorkerLoopFactory(f WorkerLoopFactory) { e.loopFactory = f }

// SpawnFleet launches every registered worker under the pool and attaches
// its receive loop.
func (e *Engine) SpawnFleet(ctx context.Context) {
	for _, def := range e.registry.All() {
		handle := e.pool.Spawn(ctx, def.ID, e.loopFactory(*def))
		e.registry.SetHandle(def.ID, handle)
		metrics.WorkersPlanned.WithLabelValues(e.chain, string(def.Role)).Inc()
	}
	metrics.ActiveReaders.WithLabelValues(e.chain).Set(float64(e.dispatcher.ActiveReaders))
}

// Run drives the event loop until ctx is cancelled or the monitor decides
// to exit; Stop alone does not end it. It returns a non-nil error only
// when the monitor decided to exit.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, def := range e.registry.All() {
		def := def
		g.Go(func() error { return e.runWorkerLoop(gctx, def.ID) })
	}

	g.Go(func() error { return e.runBalancerTicker(gctx) })
	g.Go(func() error { return e.runMonitorTicker(gctx) })
	g.Go(func() error { return e.runIPCRateLogTicker(gctx) })

	return g.Wait()
}

// runWorkerLoop drains one worker's Recv channel until it closes
// (disconnect) or the context is done.
func (e *Engine) runWorkerLoop(ctx context.Context, workerID int64) error {
	handle, ok := e.pool.Get(workerID)
	if !ok {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case envelope, ok := <-handle.Recv:
			if !ok {
				e.handleDisconnect(workerID)
				return nil
			}
			if envelope.Kind != upstreamKind {
				continue
			}
			msg, ok := envelope.Payload.(Message)
			if !ok {
				continue
			}
			msg.SenderID = workerID
			e.dispatch(ctx, workerID, msg)
		}
	}
}

// handleDisconnect removes a worker whose Recv channel closed. A fully
// drained fleet ends Run on the next monitor tick, which sees a worker
// count of zero.
func (e *Engine) handleDisconnect(workerID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pool.Remove(workerID)
	e.registry.Remove(workerID)
	e.logger.Info("worker disconnected", "worker_id", workerID, "remaining", e.registry.Count())
}

func (e *Engine) dispatch(ctx context.Context, workerID int64, msg Message) {
	ctx, span := tracing.StartDispatchSpan(ctx, workerID, string(msg.Kind()))
	defer span.End()

	e.mu.Lock()
	outbound := e.router.HandleMessage(ctx, workerID, msg)
	e.mu.Unlock()

	for _, out := range outbound {
		if out.Broadcast {
			e.broadcast(out.Message)
			continue
		}
		e.send(out.TargetID, out.Message)
	}
}

// send delivers a downstream message to a single worker's Send channel,
// dropping it if the worker is no longer tracked (it disconnected
// between decision and delivery).
func (e *Engine) send(targetID int64, msg DownstreamMessage) {
	handle, ok := e.pool.Get(targetID)
	if !ok {
		return
	}
	msg.Target = targetID
	select {
	case handle.Send <- supervisor.Message{Kind: downstreamKind, Payload: msg}:
	default:
	}
}

// broadcast delivers msg to every currently tracked worker.
func (e *Engine) broadcast(msg DownstreamMessage) {
	for _, id := range e.pool.IDs() {
		e.send(id, msg)
	}
}

func (e *Engine) runBalancerTicker(ctx context.Context) error {
	ticker := time.NewTicker(balancerTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.runBalancerTick()
		}
	}
}

func (e *Engine) runBalancerTick() {
	e.mu.Lock()
	removals := e.balancer.Tick()
	snapshot := e.balancer.UsageSnapshot()
	e.mu.Unlock()

	for _, rm := range removals {
		w, ok := e.registry.ByLocalID(rm.WorkerID)
		if !ok {
			continue
		}
		e.send(w.ID, DownstreamMessage{
			Event: DownRemoveContract,
			Data:  RemoveContractData{Contract: rm.Contract},
		})
	}
	for _, def := range e.registry.All() {
		if def.Role == RoleDeserializer {
			e.send(def.ID, DownstreamMessage{Event: DownUpdatePoolMap, Data: snapshot})
		}
	}
}

func (e *Engine) runMonitorTicker(ctx context.Context) error {
	ticker := time.NewTicker(monitorTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.runMonitorTick(); err != nil {
				return err
			}
		}
	}
}

func (e *Engine) runMonitorTick() error {
	e.mu.Lock()
	counters := e.router.Counters()
	e.router.ResetCounters()
	activeWorkers := e.registry.Count()
	result := e.monitor.Tick(counters, activeWorkers)
	e.mu.Unlock()

	if result.ShouldExit {
		metrics.LifecycleFatalTotal.WithLabelValues(e.chain, "monitor").Inc()
		return fmt.Errorf("master: %s", result.ExitReason)
	}
	return nil
}

func (e *Engine) runIPCRateLogTicker(ctx context.Context) error {
	ticker := time.NewTicker(ipcRateLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.mu.Lock()
			active := e.dispatcher.ActiveReaders
			lastAssigned := e.dispatcher.LastAssignedBlock
			e.mu.Unlock()
			e.logger.Info("ipc rate", "active_readers", active, "last_assigned_block", lastAssigned)
		}
	}
}

// AllowShutdown reports whether the Progress Monitor has observed enough
// idle time to let the Stop handler's poll loop finish.
func (e *Engine) AllowShutdown() bool {
	return e.monitor.AllowShutdown()
}

// StatusSnapshot is a point-in-time view of engine state, rendered as
// JSON by the admin status endpoint.
type StatusSnapshot struct {
	WorkerCount       int   `json:"worker_count"`
	ActiveReaders     int   `json:"active_readers"`
	LastAssignedBlock int64 `json:"last_assigned_block"`
	AllowShutdown     bool  `json:"allow_shutdown"`
}

// StatusSnapshot returns the current status snapshot.
func (e *Engine) StatusSnapshot() StatusSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return StatusSnapshot{
		WorkerCount:       e.registry.Count(),
		ActiveReaders:     e.dispatcher.ActiveReaders,
		LastAssignedBlock: e.dispatcher.LastAssignedBlock,
		AllowShutdown:     e.monitor.AllowShutdown(),
	}
}

// Stop implements the lifecycle stop handler: disable further reader
// dispatch and broadcast stop to every worker. It does not block; callers
// poll AllowShutdown themselves.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.dispatcher.AllowMoreReaders = false
	e.mu.Unlock()

	e.broadcast(DownstreamMessage{Event: DownStop})
}
