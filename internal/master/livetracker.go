package master

import (
	"container/heap"
	"context"
	"log/slog"

	"github.com/emperorhan/chain-master/internal/metrics"
	"github.com/emperorhan/chain-master/internal/searchcluster"
)

// LiveBlockMsg is a single {block_num, producer} observation forwarded by
// the Message Router from a live consumed_block event.
type LiveBlockMsg struct {
	BlockNum int64
	Producer string
}

// blockHeap orders out-of-order live-block arrivals by block_num; the
// priority-queue replacement for a sorted-on-insert buffer.
type blockHeap []LiveBlockMsg

func (h blockHeap) Len() int            { return len(h) }
func (h blockHeap) Less(i, j int) bool  { return h[i].BlockNum < h[j].BlockNum }
func (h blockHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *blockHeap) Push(x any)         { *h = append(*h, x.(LiveBlockMsg)) }
func (h *blockHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Schedule is the active producer set used for handoff attribution.
type Schedule struct {
	Version   int64
	Producers []string
}

// LiveBlockTracker is the Live-Block Tracker, C5. It applies live-block
// observations in strict block_num order, buffering out-of-order
// arrivals in a min-heap and draining them as the gap closes, and
// attributes missed production rounds across producer handoffs.
type LiveBlockTracker struct {
	chain  string
	search searchcluster.Client
	logger *slog.Logger

	lastProducedBlockNum int64
	buffer               blockHeap

	producedBlocks map[string]int64
	lastProducer   string
	handoffCounter int
	missedRounds   map[string]int64

	schedule Schedule
}

// NewLiveBlockTracker creates a tracker with an empty buffer and no
// producer history.
func NewLiveBlockTracker(chain string, search searchcluster.Client, logger *slog.Logger) *LiveBlockTracker {
	return &LiveBlockTracker{
		chain:          chain,
		search:         search,
		logger:         logger.With("component", "live_tracker"),
		producedBlocks: make(map[string]int64),
		missedRounds:   make(map[string]int64),
	}
}

// UpdateSchedule replaces the active producer schedule. Only meaningful
// in live mode; called from new_schedule upstream messages.
func (t *LiveBlockTracker) UpdateSchedule(version int64, producers []string) {
	t.schedule = Schedule{Version: version, Producers: append([]string(nil), producers...)}
}

// MissedRounds returns the current missed-round count for producer, for
// tests and diagnostics.
func (t *LiveBlockTracker) MissedRounds(producer string) int64 {
	return t.missedRounds[producer]
}

// LastProducedBlockNum returns the highest block_num applied so far.
func (t *LiveBlockTracker) LastProducedBlockNum() int64 {
	return t.lastProducedBlockNum
}

// BufferedCount returns how many out-of-order arrivals are currently
// buffered awaiting the gap to close.
func (t *LiveBlockTracker) BufferedCount() int {
	return len(t.buffer)
}

// Apply handles one arrival. In-order blocks are applied immediately and
// any now-contiguous buffered blocks are drained in block_num order;
// out-of-order blocks are buffered.
func (t *LiveBlockTracker) Apply(ctx context.Context, msg LiveBlockMsg) {
	if msg.BlockNum != t.lastProducedBlockNum+1 && t.lastProducedBlockNum != 0 {
		heap.Push(&t.buffer, msg)
		return
	}

	t.applyInOrder(ctx, msg)
	for len(t.buffer) > 0 && t.buffer[0].BlockNum == t.lastProducedBlockNum+1 {
		next := heap.Pop(&t.buffer).(LiveBlockMsg)
		t.applyInOrder(ctx, next)
	}
}

func (t *LiveBlockTracker) applyInOrder(ctx context.Context, msg LiveBlockMsg) {
	metrics.LiveBlocksApplied.WithLabelValues(t.chain).Inc()
	t.handoff(ctx, msg)
	t.lastProducedBlockNum = msg.BlockNum
}

// handoff runs the per-block handoff logic: producer-count bookkeeping,
// and, once past the two-handoff warm-up, missed-round attribution
// across any skipped schedule slots.
func (t *LiveBlockTracker) handoff(ctx context.Context, msg LiveBlockMsg) {
	t.producedBlocks[msg.Producer]++
	if msg.Producer == t.lastProducer {
		return
	}

	metrics.HandoffsTotal.WithLabelValues(t.chain).Inc()
	t.handoffCounter++
	if t.lastProducer != "" && t.handoffCounter > 2 {
		t.attributeMissedRounds(ctx, msg.Producer)
	}
	t.lastProducer = msg.Producer
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

// attributeMissedRounds compares the outgoing and incoming producer's
// positions in the active schedule. A direct successor (or wrap from
// last to first) is a normal handoff; anything else means one or more
// scheduled producers were skipped, each credited with a missed round.
func (t *LiveBlockTracker) attributeMissedRounds(ctx context.Context, newProducer string) {
	oldProducer := t.lastProducer
	actives := t.schedule.Producers
	n := len(actives)

	newPos := indexOf(actives, newProducer)
	oldPos := indexOf(actives, oldProducer)
	if newPos < 0 || oldPos < 0 || n == 0 {
		return
	}
	newIdx, oldIdx := newPos+1, oldPos+1

	normalHandoff := newIdx == oldIdx+1 || (newIdx == 1 && oldIdx == n)
	if !normalHandoff {
		cIdx := oldIdx + 1
		if cIdx > n {
			cIdx = 1
		}
		for cIdx != newIdx {
			p := actives[cIdx-1]
			t.reportMissedBlocks(ctx, p, 12)
			t.missedRounds[p]++
			metrics.MissedRoundsTotal.WithLabelValues(t.chain, p).Inc()
			cIdx++
			if cIdx > n {
				cIdx = 1
			}
		}
	}

	if t.producedBlocks[oldProducer] < 12 {
		t.reportMissedBlocks(ctx, oldProducer, 12-t.producedBlocks[oldProducer])
	}
	t.producedBlocks[oldProducer] = 0
}

// reportMissedBlocks writes a missed_blocks document to the search
// cluster. Failures are swallowed here: per the error-handling design,
// missed-block logging is best-effort and never retried by the tracker
// itself (the CircuitBreakerClient wrapper, when used, skips further
// writes while its breaker is open).
func (t *LiveBlockTracker) reportMissedBlocks(ctx context.Context, producer string, size int64) {
	doc := searchcluster.MissedBlocksDoc{
		Chain:           t.chain,
		Producer:        producer,
		LastBlock:       t.lastProducedBlockNum,
		Size:            size,
		ScheduleVersion: t.schedule.Version,
	}
	if err := t.search.WriteMissedBlocksDoc(ctx, doc); err != nil {
		t.logger.Error("failed to write missed blocks doc", "producer", producer, "size", size, "err", err)
	}
}
