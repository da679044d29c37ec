package master

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBalancer(poolSize int) *Balancer {
	return NewBalancer("ethereum", poolSize, slog.Default())
}

func TestBalancer_TickIsNoopWithoutUsageReports(t *testing.T) {
	b := newTestBalancer(4)
	assert.Nil(t, b.Tick())
}

func TestBalancer_FillSpreadsShareAcrossWorkersCappedAtPoolShare(t *testing.T) {
	b := newTestBalancer(4)
	b.RecordUsageReport(100, map[string]int64{"contractA": 50})

	b.Tick()
	snap := b.UsageSnapshot()
	entry := snap["contractA"]

	assert.Equal(t, 0.5, entry.LastShare)
	// 50% share with a 25% per-worker cap (1/poolSize) needs exactly 2 workers.
	assert.Equal(t, []int{0, 1}, entry.AssignedWorkerIDs)
}

func TestBalancer_SmallShareFitsOnSingleWorker(t *testing.T) {
	b := newTestBalancer(4)
	b.RecordUsageReport(100, map[string]int64{"contractA": 10})

	b.Tick()
	snap := b.UsageSnapshot()
	entry := snap["contractA"]

	assert.Equal(t, []int{0}, entry.AssignedWorkerIDs)
}

func TestBalancer_MultipleContractsProcessedInSortedOrder(t *testing.T) {
	b := newTestBalancer(4)
	b.RecordUsageReport(100, map[string]int64{"zed": 25, "alpha": 25})

	removals := b.Tick()
	assert.Empty(t, removals) // first tick, nothing to remove yet

	snap := b.UsageSnapshot()
	// alpha is processed before zed (sorted order), so it claims worker 0
	// first; zed is assigned starting from the next free worker.
	assert.Equal(t, []int{0}, snap["alpha"].AssignedWorkerIDs)
	assert.Equal(t, []int{1}, snap["zed"].AssignedWorkerIDs)
}

func TestBalancer_ReassignmentEmitsRemovalsForDroppedWorkers(t *testing.T) {
	b := newTestBalancer(4)
	b.RecordUsageReport(100, map[string]int64{"contractA": 50})
	b.Tick() // assigns [0, 1]

	// A much smaller share on the next tick should shrink the assignment,
	// freeing worker 1.
	b.RecordUsageReport(900, map[string]int64{"contractA": 10})
	removals := b.Tick()

	require.Len(t, removals, 1)
	assert.Equal(t, "contractA", removals[0].Contract)
	assert.Equal(t, 1, removals[0].WorkerID)
}

func TestBalancer_RecordUsageReportAccumulatesAcrossReports(t *testing.T) {
	b := newTestBalancer(4)
	b.RecordUsageReport(50, map[string]int64{"contractA": 10})
	b.RecordUsageReport(50, map[string]int64{"contractA": 10})

	snap := b.UsageSnapshot()
	assert.Equal(t, int64(20), snap["contractA"].CurrentHits)
}

func TestBalancer_FullShareExactlyFillsPool(t *testing.T) {
	b := newTestBalancer(2)
	// 100% share with a 2-worker pool (cap 50% each) exactly fills both.
	b.RecordUsageReport(100, map[string]int64{"contractA": 100})

	b.Tick()
	snap := b.UsageSnapshot()
	assert.Equal(t, []int{0, 1}, snap["contractA"].AssignedWorkerIDs)
}
