package master

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/emperorhan/chain-master/internal/alert"
	"github.com/emperorhan/chain-master/internal/config"
	"github.com/emperorhan/chain-master/internal/rpcclient"
	"github.com/emperorhan/chain-master/internal/searchcluster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAlerter struct {
	mu    sync.Mutex
	sent  []alert.Alert
	err   error
}

func (f *fakeAlerter) Send(_ context.Context, a alert.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, a)
	return f.err
}

func (f *fakeAlerter) alerts() []alert.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]alert.Alert, len(f.sent))
	copy(out, f.sent)
	return out
}

func lifecycleTestConfig(t *testing.T) *config.Config {
	cfg := testConfig()
	cfg.Indexer.ErrorLogPath = filepath.Join(t.TempDir(), "errors.log")
	cfg.Indexer.LogInterval = time.Second
	return cfg
}

func TestController_StatusSnapshotNotReadyBeforeRun(t *testing.T) {
	cfg := lifecycleTestConfig(t)
	rpc := rpcclient.NewFakeClient(map[string]uint64{"ethereum": 5000})
	search := searchcluster.NewFakeClient()
	c := NewController("ethereum", cfg, rpc, search, &alert.NoopAlerter{}, slog.Default())

	_, ok := c.StatusSnapshot()
	assert.False(t, ok)
}

func TestController_RunCompletesStartupAndExposesStatus(t *testing.T) {
	cfg := lifecycleTestConfig(t)
	cfg.Indexer.LiveReader = false
	rpc := rpcclient.NewFakeClient(map[string]uint64{"ethereum": 2000})
	search := searchcluster.NewFakeClient()
	c := NewController("ethereum", cfg, rpc, search, &alert.NoopAlerter{}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := c.StatusSnapshot()
		return ok
	}, time.Second, 5*time.Millisecond)

	snap, ok := c.StatusSnapshot()
	require.True(t, ok)
	assert.Greater(t, snap.WorkerCount, 0)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("controller did not exit after context cancellation")
	}
}

func TestController_PreviewModeBlocksUntilTriggerStart(t *testing.T) {
	cfg := lifecycleTestConfig(t)
	cfg.Indexer.Preview = true
	rpc := rpcclient.NewFakeClient(map[string]uint64{"ethereum": 2000})
	search := searchcluster.NewFakeClient()
	c := NewController("ethereum", cfg, rpc, search, &alert.NoopAlerter{}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// Still gated: no status available yet.
	time.Sleep(20 * time.Millisecond)
	_, ok := c.StatusSnapshot()
	assert.False(t, ok)

	c.TriggerStart()

	require.Eventually(t, func() bool {
		_, ok := c.StatusSnapshot()
		return ok
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestController_TriggerStartIsSafeToCallMultipleTimes(t *testing.T) {
	cfg := lifecycleTestConfig(t)
	rpc := rpcclient.NewFakeClient(map[string]uint64{"ethereum": 2000})
	search := searchcluster.NewFakeClient()
	c := NewController("ethereum", cfg, rpc, search, &alert.NoopAlerter{}, slog.Default())

	assert.NotPanics(t, func() {
		c.TriggerStart()
		c.TriggerStart()
		c.TriggerStart()
	})
}

func TestController_StartupFiresAlertOnPlanningFailure(t *testing.T) {
	cfg := lifecycleTestConfig(t)
	rpc := &rpcclient.FakeClient{Err: assertErr("rpc unavailable")}
	search := searchcluster.NewFakeClient()
	fa := &fakeAlerter{}
	c := NewController("ethereum", cfg, rpc, search, fa, slog.Default())

	err := c.Run(context.Background())
	assert.Error(t, err)

	alerts := fa.alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, alert.AlertTypeStartupFatal, alerts[0].Type)
}

func TestController_StopWithNoEngineIsNoop(t *testing.T) {
	cfg := lifecycleTestConfig(t)
	rpc := rpcclient.NewFakeClient(map[string]uint64{"ethereum": 2000})
	search := searchcluster.NewFakeClient()
	c := NewController("ethereum", cfg, rpc, search, &alert.NoopAlerter{}, slog.Default())

	assert.NoError(t, c.Stop(context.Background()))
}

func TestController_StopRespectsContextCancellationBeforeShutdownAllowed(t *testing.T) {
	cfg := lifecycleTestConfig(t)
	cfg.Indexer.LiveReader = false
	rpc := rpcclient.NewFakeClient(map[string]uint64{"ethereum": 2000})
	search := searchcluster.NewFakeClient()
	c := NewController("ethereum", cfg, rpc, search, &alert.NoopAlerter{}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	require.Eventually(t, func() bool {
		_, ok := c.StatusSnapshot()
		return ok
	}, time.Second, 5*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer stopCancel()
	// The engine never becomes idle in this test (no ticks fire fast
	// enough), so Stop must return the context's deadline error rather
	// than block forever.
	err := c.Stop(stopCtx)
	assert.Error(t, err)

	cancel()
	<-done
}

func TestController_OpenErrorLogCreatesAppendOnlyFile(t *testing.T) {
	dir := t.TempDir()
	cfg := lifecycleTestConfig(t)
	cfg.Indexer.ErrorLogPath = filepath.Join(dir, "errors.log")
	rpc := rpcclient.NewFakeClient(map[string]uint64{"ethereum": 2000})
	search := searchcluster.NewFakeClient()
	c := NewController("ethereum", cfg, rpc, search, &alert.NoopAlerter{}, slog.Default())

	writer, err := c.openErrorLog()
	require.NoError(t, err)
	require.NoError(t, writer([]byte(`{"a":1}`)))

	data, err := os.ReadFile(cfg.Indexer.ErrorLogPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `{"a":1}`)
}
