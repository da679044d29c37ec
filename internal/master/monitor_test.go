package master

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonitor_TicksAccumulateTotals(t *testing.T) {
	m := NewMonitor("ethereum", time.Second, 1000, false, 0, slog.Default())

	m.Tick(TickCounters{PushedBlocks: 100, ConsumedBlocks: 50, DeserializedActions: 10}, 4)
	m.Tick(TickCounters{PushedBlocks: 100, ConsumedBlocks: 50, DeserializedActions: 10}, 4)

	assert.Equal(t, int64(100), m.totalBlocks)
	assert.Equal(t, int64(20), m.totalActions)
}

func TestMonitor_ExitsWhenActiveWorkerCountReachesZero(t *testing.T) {
	m := NewMonitor("ethereum", time.Second, 1000, false, 0, slog.Default())

	result := m.Tick(TickCounters{ConsumedBlocks: 10}, 0)
	assert.True(t, result.ShouldExit)
	assert.Contains(t, result.ExitReason, "worker count")
}

func TestMonitor_NotIdleWhenBlocksAreConsumed(t *testing.T) {
	m := NewMonitor("ethereum", time.Second, 1000, false, 0, slog.Default())

	result := m.Tick(TickCounters{ConsumedBlocks: 10, IndexedObjects: 5}, 4)
	assert.False(t, result.ShouldExit)
	assert.Equal(t, int64(0), m.idleCount)
}

func TestMonitor_FullyIdleTickWithPushedBlocksDoesNotAdvanceIdleClock(t *testing.T) {
	m := NewMonitor("ethereum", time.Second, 1000, false, time.Second, slog.Default())

	// Fully idle (no consumed/deserialized/indexed activity) but still
	// pushed new blocks: the auto-stop clock must not advance.
	result := m.Tick(TickCounters{PushedBlocks: 5}, 4)
	assert.False(t, result.ShouldExit)
	assert.Equal(t, int64(0), m.idleCount)
}

func TestMonitor_AutoStopFiresAfterSustainedFullIdle(t *testing.T) {
	// A 1-second log interval and a 2-second auto-stop means two fully
	// idle ticks in a row cross the threshold.
	m := NewMonitor("ethereum", time.Second, 1000, false, 2*time.Second, slog.Default())

	result := m.Tick(TickCounters{}, 4)
	assert.False(t, result.ShouldExit)

	result = m.Tick(TickCounters{}, 4)
	assert.True(t, result.ShouldExit)
	assert.Contains(t, result.ExitReason, "auto-stop")
}

func TestMonitor_AutoStopDisabledWhenZero(t *testing.T) {
	m := NewMonitor("ethereum", time.Second, 1000, false, 0, slog.Default())

	var result TickResult
	for i := 0; i < 10; i++ {
		result = m.Tick(TickCounters{}, 4)
	}
	assert.False(t, result.ShouldExit)
}

func TestMonitor_RangeCompletedLogsOnlyOnce(t *testing.T) {
	m := NewMonitor("ethereum", time.Second, 100, false, 0, slog.Default())

	m.Tick(TickCounters{ConsumedBlocks: 100}, 4)
	assert.True(t, m.rangeCompleted)

	// A second tick at the same total must not re-trigger the one-time log.
	m.Tick(TickCounters{}, 4)
	assert.True(t, m.rangeCompleted)
}

// fakeClock lets a test drive Monitor's grace-period arithmetic without
// sleeping in real time.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time   { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMonitor_AllowShutdownFlipsOnceGracePeriodElapsesSinceArming(t *testing.T) {
	m := NewMonitor("ethereum", time.Second, 1000, false, 0, slog.Default())
	clock := &fakeClock{t: time.Unix(0, 0)}
	m.now = clock.now
	m.idleGrace = 10 * time.Second

	m.Tick(TickCounters{}, 4) // arms at t=0
	assert.False(t, m.AllowShutdown())

	clock.advance(9 * time.Second)
	m.Tick(TickCounters{}, 4)
	assert.False(t, m.AllowShutdown())

	clock.advance(2 * time.Second) // now 11s since arming
	m.Tick(TickCounters{}, 4)
	assert.True(t, m.AllowShutdown())
}

func TestMonitor_IdleBusyIdleFlapDoesNotLetStaleTimerFireLate(t *testing.T) {
	m := NewMonitor("ethereum", time.Second, 1000, false, 0, slog.Default())
	clock := &fakeClock{t: time.Unix(0, 0)}
	m.now = clock.now
	m.idleGrace = 10 * time.Second

	m.Tick(TickCounters{}, 4) // idle: arms grace period at t=0

	clock.advance(3 * time.Second)
	m.Tick(TickCounters{ConsumedBlocks: 1}, 4) // renewed activity: clears the timer
	assert.False(t, m.AllowShutdown())

	// Advance past when the original (now-cleared) timer would have
	// fired at t=10s, but stay idle only briefly after the reset.
	clock.advance(8 * time.Second) // t=11s: 8s since the busy tick, not yet idle again
	result := m.Tick(TickCounters{}, 4)
	assert.False(t, result.ShouldExit)
	assert.False(t, m.AllowShutdown(), "a stale pre-flap grace period must not fire after renewed activity")

	clock.advance(10 * time.Second) // 10s since this second idle tick armed
	m.Tick(TickCounters{}, 4)
	assert.True(t, m.AllowShutdown())
}

func TestMean_EmptyIsZero(t *testing.T) {
	assert.Equal(t, 0.0, mean(nil))
}

func TestMean_AveragesValues(t *testing.T) {
	assert.Equal(t, 2.0, mean([]float64{1, 2, 3}))
}
