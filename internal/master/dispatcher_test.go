package master

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderDispatcher_OnCompletionDispatchesNextRange(t *testing.T) {
	d := NewReaderDispatcher(&PlanResult{
		ActiveReaderCount: 2,
		LastAssignedBlock: 2000,
		MaxReaders:        4,
		Head:              10000,
	}, 1000)

	attrs, ok := d.OnCompletion()
	require.True(t, ok)
	assert.Equal(t, int64(2000), attrs.FirstBlock)
	assert.Equal(t, int64(3000), attrs.LastBlock)
	assert.Equal(t, int64(3000), d.LastAssignedBlock)
	assert.Equal(t, 2, d.ActiveReaders) // one finished, one dispatched
}

func TestReaderDispatcher_ClampsFinalRangeToHead(t *testing.T) {
	d := NewReaderDispatcher(&PlanResult{
		ActiveReaderCount: 1,
		LastAssignedBlock: 9500,
		MaxReaders:        4,
		Head:              10000,
	}, 1000)

	attrs, ok := d.OnCompletion()
	require.True(t, ok)
	assert.Equal(t, int64(9500), attrs.FirstBlock)
	assert.Equal(t, int64(10000), attrs.LastBlock) // clamped, not 10500
	// last_assigned_block still advances by the full batch size, overshooting head.
	assert.Equal(t, int64(10500), d.LastAssignedBlock)
}

func TestReaderDispatcher_StopsOnceLastAssignedReachesHead(t *testing.T) {
	d := NewReaderDispatcher(&PlanResult{
		ActiveReaderCount: 1,
		LastAssignedBlock: 10500, // already past head, from a prior overshoot
		MaxReaders:        4,
		Head:              10000,
	}, 1000)

	_, ok := d.OnCompletion()
	assert.False(t, ok)
	assert.Equal(t, 0, d.ActiveReaders)
}

func TestReaderDispatcher_RedispatchesWhenCompletionFreesSlotAtMaxReaders(t *testing.T) {
	d := NewReaderDispatcher(&PlanResult{
		ActiveReaderCount: 4,
		LastAssignedBlock: 1000,
		MaxReaders:        4,
		Head:              10000,
	}, 1000)

	_, ok := d.OnCompletion()
	// ActiveReaders decrements to 3 first, which is below MaxReaders, so a
	// new range is dispatched, re-incrementing back to 4.
	require.True(t, ok)
	assert.Equal(t, 4, d.ActiveReaders)
}

func TestReaderDispatcher_RespectsAllowMoreReadersFalse(t *testing.T) {
	d := NewReaderDispatcher(&PlanResult{
		ActiveReaderCount: 1,
		LastAssignedBlock: 1000,
		MaxReaders:        4,
		Head:              10000,
	}, 1000)
	d.AllowMoreReaders = false

	_, ok := d.OnCompletion()
	assert.False(t, ok)
	assert.Equal(t, 0, d.ActiveReaders)
}

func TestReaderDispatcher_ActiveReadersNeverGoesNegative(t *testing.T) {
	d := NewReaderDispatcher(&PlanResult{
		ActiveReaderCount: 0,
		LastAssignedBlock: 1000,
		MaxReaders:        4,
		Head:              10000,
	}, 1000)

	_, ok := d.OnCompletion()
	require.True(t, ok)
	assert.GreaterOrEqual(t, d.ActiveReaders, 0)
}
