package master

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/emperorhan/chain-master/internal/metrics"
)

const (
	consumeRateWindow = 20
	idleGracePeriod   = 10 * time.Second
)

// TickCounters holds the six per-tick counters the Message Router
// accumulates between Progress Monitor ticks.
type TickCounters struct {
	PushedBlocks        int64
	ConsumedBlocks       int64
	DeserializedActions  int64
	DeserializedDeltas   int64
	IndexedObjects       int64
	LivePushedBlocks     int64
}

// Monitor is the Progress Monitor, C7. On a log_interval tick it folds
// the router's per-tick counters into running totals, tracks a rolling
// consume rate, computes an ETA, detects idle runs, and decides whether
// the process should auto-stop.
type Monitor struct {
	chain       string
	logInterval time.Duration
	totalRange  int64
	liveOnly    bool
	autoStop    time.Duration
	logger      *slog.Logger

	totalRead           int64
	totalBlocks         int64
	totalActions        int64
	totalDeltas         int64
	totalIndexedBlocks  int64

	consumeRates   []float64
	rangeCompleted bool
	startedAt      time.Time

	idleCount          int64
	idleElapsed        time.Duration
	allowShutdown      atomic.Bool
	shutdownTimerArmed bool
	armedAt            time.Time

	now       func() time.Time
	idleGrace time.Duration
}

// NewMonitor creates a monitor over the full [starting_block, head)
// range being indexed.
func NewMonitor(chain string, logInterval time.Duration, totalRange int64, liveOnly bool, autoStop time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		chain:       chain,
		logInterval: logInterval,
		totalRange:  totalRange,
		liveOnly:    liveOnly,
		autoStop:    autoStop,
		logger:      logger.With("component", "monitor"),
		startedAt:   time.Now(),
		now:         time.Now,
		idleGrace:   idleGracePeriod,
	}
}

// TickResult reports what a Tick decided: whether the process should now
// exit, and if so, why.
type TickResult struct {
	ShouldExit bool
	ExitReason string
}

// Tick runs one progress-monitor pass over the counters accumulated
// since the previous tick, then resets them.
func (m *Monitor) Tick(counters TickCounters, activeWorkers int) TickResult {
	tScale := m.logInterval.Seconds()

	m.totalRead += counters.PushedBlocks
	m.totalBlocks += counters.ConsumedBlocks
	m.totalActions += counters.DeserializedActions
	m.totalDeltas += counters.DeserializedDeltas
	m.totalIndexedBlocks += counters.IndexedObjects

	metrics.MonitorTotalBlocks.WithLabelValues(m.chain).Set(float64(m.totalBlocks))

	rate := float64(counters.ConsumedBlocks) / tScale
	m.consumeRates = append(m.consumeRates, rate)
	if len(m.consumeRates) > consumeRateWindow {
		m.consumeRates = m.consumeRates[len(m.consumeRates)-consumeRateWindow:]
	}
	avgRate := mean(m.consumeRates)
	metrics.MonitorConsumeRate.WithLabelValues(m.chain).Set(avgRate)

	if m.totalBlocks < m.totalRange && !m.liveOnly {
		eta := 0.0
		if avgRate > 0 {
			eta = float64(m.totalRange-m.totalBlocks) / avgRate
		}
		metrics.MonitorETASeconds.WithLabelValues(m.chain).Set(eta)
		percent := float64(m.totalBlocks) / float64(m.totalRange)
		m.logger.Info("indexing progress", "percent_complete", percent, "eta_seconds", eta)
	}

	if m.totalBlocks == m.totalRange && !m.rangeCompleted {
		m.rangeCompleted = true
		m.logger.Info("range completed",
			"wall_time", time.Since(m.startedAt),
			"total_blocks", m.totalBlocks,
			"total_actions", m.totalActions,
			"total_deltas", m.totalDeltas,
		)
	}

	result := m.detectIdle(counters, tScale)

	if activeWorkers == 0 {
		result.ShouldExit = true
		result.ExitReason = "worker count reached zero"
	}

	metrics.MonitorIdleCount.WithLabelValues(m.chain).Set(float64(m.idleCount))
	return result
}

// detectIdle implements the idle-detection and auto-stop rule: a fully
// idle tick arms a 10-second grace period; once a later tick observes
// that the grace period has elapsed since arming, it flips
// allowShutdown. Any non-idle tick clears the shutdown timer outright,
// so a renewed burst of activity cancels a grace period armed by an
// earlier idle run instead of letting it fire late. A tick that is idle
// *and* has pushed no new blocks also advances the auto-stop clock.
//
// Everything here runs synchronously inside Tick, under the caller's
// lock (see engine.go's runMonitorTick) — there is no background timer
// goroutine mutating Monitor state.
func (m *Monitor) detectIdle(counters TickCounters, tScale float64) TickResult {
	fullyIdle := counters.IndexedObjects == 0 && counters.DeserializedActions == 0 && counters.ConsumedBlocks == 0

	if !fullyIdle {
		m.shutdownTimerArmed = false
		m.idleCount = 0
		m.idleElapsed = 0
		m.allowShutdown.Store(false)
		return TickResult{}
	}

	if !m.shutdownTimerArmed {
		m.shutdownTimerArmed = true
		m.armedAt = m.now()
	} else if m.now().Sub(m.armedAt) >= m.idleGrace {
		m.allowShutdown.Store(true)
	}

	if counters.PushedBlocks != 0 {
		return TickResult{}
	}

	m.idleCount++
	m.idleElapsed += time.Duration(tScale * float64(time.Second))
	if m.autoStop > 0 && m.idleElapsed >= m.autoStop {
		return TickResult{ShouldExit: true, ExitReason: "auto-stop: idle for autoStop duration"}
	}
	return TickResult{}
}

// AllowShutdown reports whether the 10-second idle grace period has
// elapsed since the most recent fully-idle tick. Safe to call
// concurrently with Tick.
func (m *Monitor) AllowShutdown() bool {
	return m.allowShutdown.Load()
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
