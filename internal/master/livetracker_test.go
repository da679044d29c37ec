package master

import (
	"context"
	"log/slog"
	"testing"

	"github.com/emperorhan/chain-master/internal/searchcluster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(search searchcluster.Client) *LiveBlockTracker {
	return NewLiveBlockTracker("ethereum", search, slog.Default())
}

func TestLiveBlockTracker_AppliesInOrderBlocksImmediately(t *testing.T) {
	tr := newTestTracker(searchcluster.NewFakeClient())

	tr.Apply(context.Background(), LiveBlockMsg{BlockNum: 1, Producer: "alice"})
	tr.Apply(context.Background(), LiveBlockMsg{BlockNum: 2, Producer: "alice"})

	assert.Equal(t, int64(2), tr.LastProducedBlockNum())
	assert.Equal(t, 0, tr.BufferedCount())
}

func TestLiveBlockTracker_BuffersOutOfOrderArrivals(t *testing.T) {
	tr := newTestTracker(searchcluster.NewFakeClient())

	tr.Apply(context.Background(), LiveBlockMsg{BlockNum: 1, Producer: "alice"})
	tr.Apply(context.Background(), LiveBlockMsg{BlockNum: 3, Producer: "alice"}) // gap: 2 missing

	assert.Equal(t, int64(1), tr.LastProducedBlockNum())
	assert.Equal(t, 1, tr.BufferedCount())
}

func TestLiveBlockTracker_DrainsBufferOnceGapCloses(t *testing.T) {
	tr := newTestTracker(searchcluster.NewFakeClient())

	tr.Apply(context.Background(), LiveBlockMsg{BlockNum: 1, Producer: "alice"})
	tr.Apply(context.Background(), LiveBlockMsg{BlockNum: 3, Producer: "alice"})
	tr.Apply(context.Background(), LiveBlockMsg{BlockNum: 4, Producer: "alice"})
	require.Equal(t, 2, tr.BufferedCount())

	tr.Apply(context.Background(), LiveBlockMsg{BlockNum: 2, Producer: "alice"}) // closes the gap

	assert.Equal(t, int64(4), tr.LastProducedBlockNum())
	assert.Equal(t, 0, tr.BufferedCount())
}

func TestLiveBlockTracker_FirstBlockOfAllZeroIsAlwaysInOrder(t *testing.T) {
	tr := newTestTracker(searchcluster.NewFakeClient())

	// lastProducedBlockNum starts at 0, so any first arrival is accepted
	// in-order regardless of its block number (the genesis special case).
	tr.Apply(context.Background(), LiveBlockMsg{BlockNum: 500, Producer: "alice"})

	assert.Equal(t, int64(500), tr.LastProducedBlockNum())
	assert.Equal(t, 0, tr.BufferedCount())
}

func TestLiveBlockTracker_WarmUpSkipsMissedRoundAttributionForFirstTwoHandoffs(t *testing.T) {
	search := searchcluster.NewFakeClient()
	tr := newTestTracker(search)
	tr.UpdateSchedule(1, []string{"alice", "bob", "carol"})

	// The handoff counter starts at the nil-lastProducer transition, so the
	// very first arrival already counts as handoff #1; the alice->carol
	// change below is handoff #2. Both fall at or under the warm-up
	// threshold (handoffCounter > 2), so neither ever calls into
	// attributeMissedRounds.
	tr.Apply(context.Background(), LiveBlockMsg{BlockNum: 1, Producer: "alice"}) // handoff #1 (nil -> alice)
	tr.Apply(context.Background(), LiveBlockMsg{BlockNum: 2, Producer: "carol"}) // handoff #2: skips bob

	assert.Equal(t, int64(0), tr.MissedRounds("bob"))
	assert.Empty(t, search.MissedDocs)
}

func TestLiveBlockTracker_AttributesMissedRoundAfterWarmUp(t *testing.T) {
	search := searchcluster.NewFakeClient()
	tr := newTestTracker(search)
	tr.UpdateSchedule(1, []string{"alice", "bob", "carol"})

	tr.Apply(context.Background(), LiveBlockMsg{BlockNum: 1, Producer: "alice"})
	tr.Apply(context.Background(), LiveBlockMsg{BlockNum: 2, Producer: "carol"}) // handoff #2
	tr.Apply(context.Background(), LiveBlockMsg{BlockNum: 3, Producer: "alice"}) // handoff #3: past warm-up, wraps
	tr.Apply(context.Background(), LiveBlockMsg{BlockNum: 4, Producer: "carol"}) // handoff #4: skips bob

	assert.Equal(t, int64(1), tr.MissedRounds("bob"))
	assert.NotEmpty(t, search.MissedDocs)
}

func TestLiveBlockTracker_NormalHandoffNeverAttributesMissedRound(t *testing.T) {
	search := searchcluster.NewFakeClient()
	tr := newTestTracker(search)
	tr.UpdateSchedule(1, []string{"alice", "bob", "carol"})

	tr.Apply(context.Background(), LiveBlockMsg{BlockNum: 1, Producer: "alice"})
	tr.Apply(context.Background(), LiveBlockMsg{BlockNum: 2, Producer: "bob"})   // handoff #2: adjacent
	tr.Apply(context.Background(), LiveBlockMsg{BlockNum: 3, Producer: "carol"}) // handoff #3: adjacent
	tr.Apply(context.Background(), LiveBlockMsg{BlockNum: 4, Producer: "alice"}) // handoff #4: wraps, adjacent

	// No schedule slot was ever skipped, so the skip-specific missed-round
	// counters stay at zero even though short-round missed_blocks docs may
	// still be written once a producer's round ends with under 12 blocks.
	assert.Equal(t, int64(0), tr.MissedRounds("bob"))
	assert.Equal(t, int64(0), tr.MissedRounds("carol"))
}

func TestLiveBlockTracker_SameProducerConsecutiveBlocksIsNotAHandoff(t *testing.T) {
	tr := newTestTracker(searchcluster.NewFakeClient())
	tr.UpdateSchedule(1, []string{"alice", "bob"})

	tr.Apply(context.Background(), LiveBlockMsg{BlockNum: 1, Producer: "alice"})
	tr.Apply(context.Background(), LiveBlockMsg{BlockNum: 2, Producer: "alice"})
	tr.Apply(context.Background(), LiveBlockMsg{BlockNum: 3, Producer: "alice"})

	assert.Equal(t, int64(0), tr.MissedRounds("bob"))
}
