package master

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/emperorhan/chain-master/internal/searchcluster"
	"github.com/emperorhan/chain-master/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineHarness struct {
	engine     *Engine
	registry   *Registry
	pool       *supervisor.Pool
	dispatcher *ReaderDispatcher
	router     *Router
	monitor    *Monitor
}

func newEngineHarness() *engineHarness {
	logger := slog.Default()
	registry := NewRegistry()
	pool := supervisor.NewPool(logger)
	dispatcher := NewReaderDispatcher(&PlanResult{
		ActiveReaderCount: 1,
		LastAssignedBlock: 0,
		MaxReaders:        4,
		Head:              10000,
	}, 1000)
	live := NewLiveBlockTracker("ethereum", searchcluster.NewFakeClient(), logger)
	balancer := NewBalancer("ethereum", 4, logger)
	router := NewRouter("ethereum", registry, dispatcher, live, balancer, logger)
	monitor := NewMonitor("ethereum", time.Second, 10000, false, 0, logger)
	doctor := NewDoctor("ethereum", nil, logger)
	search := searchcluster.NewFakeClient()

	engine := NewEngine("ethereum", registry, pool, dispatcher, router, live, balancer, monitor, doctor, search, logger)

	return &engineHarness{
		engine:     engine,
		registry:   registry,
		pool:       pool,
		dispatcher: dispatcher,
		router:     router,
		monitor:    monitor,
	}
}

func TestEngine_SpawnFleetAttachesHandlesToEveryRegisteredWorker(t *testing.T) {
	h := newEngineHarness()
	id := h.registry.Add(WorkerDef{Role: RoleReader, Reader: &ReaderAttrs{FirstBlock: 0, LastBlock: 999}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.engine.SpawnFleet(ctx)

	def, ok := h.registry.Get(id)
	require.True(t, ok)
	assert.Equal(t, id, def.Handle.ID)
	assert.Equal(t, 1, h.pool.Count())
}

func TestEngine_DispatchDeliversDownstreamMessageToSender(t *testing.T) {
	h := newEngineHarness()
	id := h.registry.Add(WorkerDef{Role: RoleReader, Reader: &ReaderAttrs{FirstBlock: 0, LastBlock: 999}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.engine.SpawnFleet(ctx)
	// Let the loopback worker goroutine reach its blocked receive before
	// the dispatch below sends into its unbuffered channel.
	time.Sleep(10 * time.Millisecond)

	handle, ok := h.pool.Get(id)
	require.True(t, ok)

	received := make(chan supervisor.Message, 1)
	go func() {
		msg := <-handle.Recv
		received <- msg
	}()

	h.engine.dispatch(ctx, id, Message{Event: EventCompleted})

	select {
	case envelope := <-received:
		downstream, ok := envelope.Payload.(DownstreamMessage)
		require.True(t, ok)
		assert.Equal(t, DownNewRange, downstream.Event)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatched downstream message")
	}
}

func TestEngine_BroadcastReachesEveryTrackedWorker(t *testing.T) {
	h := newEngineHarness()
	id1 := h.registry.Add(WorkerDef{Role: RoleDeserializer})
	id2 := h.registry.Add(WorkerDef{Role: RoleDeserializer})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.engine.SpawnFleet(ctx)
	time.Sleep(10 * time.Millisecond)

	handle1, _ := h.pool.Get(id1)
	handle2, _ := h.pool.Get(id2)

	got1 := make(chan supervisor.Message, 1)
	got2 := make(chan supervisor.Message, 1)
	go func() { got1 <- <-handle1.Recv }()
	go func() { got2 <- <-handle2.Recv }()

	h.engine.broadcast(DownstreamMessage{Event: DownStop})

	for _, ch := range []chan supervisor.Message{got1, got2} {
		select {
		case envelope := <-ch:
			downstream := envelope.Payload.(DownstreamMessage)
			assert.Equal(t, DownStop, downstream.Event)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for broadcast")
		}
	}
}

func TestEngine_HandleDisconnectRemovesWorkerFromRegistryAndPool(t *testing.T) {
	h := newEngineHarness()
	id := h.registry.Add(WorkerDef{Role: RoleReader})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.engine.SpawnFleet(ctx)

	h.engine.handleDisconnect(id)

	_, ok := h.registry.Get(id)
	assert.False(t, ok)
	assert.Equal(t, 0, h.pool.Count())
}

func TestEngine_StopIsIdempotentAndDisablesFurtherReaders(t *testing.T) {
	h := newEngineHarness()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.engine.SpawnFleet(ctx)

	h.engine.Stop()
	h.engine.Stop() // must not panic or double-broadcast incorrectly

	assert.False(t, h.dispatcher.AllowMoreReaders)
}

func TestEngine_StatusSnapshotReflectsCurrentState(t *testing.T) {
	h := newEngineHarness()
	h.registry.Add(WorkerDef{Role: RoleReader})
	h.registry.Add(WorkerDef{Role: RoleIngestor})

	snap := h.engine.StatusSnapshot()
	assert.Equal(t, 2, snap.WorkerCount)
	assert.Equal(t, h.dispatcher.ActiveReaders, snap.ActiveReaders)
	assert.False(t, snap.AllowShutdown)
}

func TestEngine_AllowShutdownDelegatesToMonitor(t *testing.T) {
	h := newEngineHarness()
	assert.False(t, h.engine.AllowShutdown())
}

func TestEngine_RunBalancerTickTranslatesLocalIDsToRegistryIDs(t *testing.T) {
	h := newEngineHarness()
	// ds-pool worker local id 1 registered at a registry id shifted away
	// from its local id, exercising the local-id-to-registry-id lookup.
	h.registry.Add(WorkerDef{Role: RoleReader}) // shift registry ids up
	h.registry.Add(WorkerDef{Role: RoleDSPoolWorker, DSPoolWorker: &DSPoolWorkerAttrs{LocalID: 0}})
	dsID := h.registry.Add(WorkerDef{Role: RoleDSPoolWorker, DSPoolWorker: &DSPoolWorkerAttrs{LocalID: 1}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.engine.SpawnFleet(ctx)
	time.Sleep(10 * time.Millisecond)

	handle, ok := h.pool.Get(dsID)
	require.True(t, ok)
	received := make(chan supervisor.Message, 1)
	go func() { received <- <-handle.Recv }()

	// Drive enough usage through the balancer that a removal is emitted
	// targeting local id 1 on the next tick.
	h.router.balancer.RecordUsageReport(100, map[string]int64{"contractA": 50})
	h.engine.runBalancerTick() // first tick: assigns, no removal yet
	h.router.balancer.RecordUsageReport(900, map[string]int64{"contractA": 10})
	h.engine.runBalancerTick() // second tick: shrinks assignment, emits removal

	select {
	case envelope := <-received:
		downstream := envelope.Payload.(DownstreamMessage)
		assert.Equal(t, DownRemoveContract, downstream.Event)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for balancer removal message")
	}
}
