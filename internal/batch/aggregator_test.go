package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirtyParentAggregator_LeafBatchThreshold(t *testing.T) {
	a := newDirtyParentAggregator(time.Hour, 100, 2)
	now := time.Now()

	a.Touch([]Tile{{X: 1, Y: 1}}, now)
	should, _ := a.ShouldFlush(now)
	assert.False(t, should, "one leaf should not reach a batch size of 2")

	a.Touch([]Tile{{X: 2, Y: 2}}, now)
	should, reason := a.ShouldFlush(now)
	require.True(t, should)
	assert.Equal(t, flushLeafBatch, reason)

	tiles := a.Flush()
	assert.Len(t, tiles, 2)
	assert.False(t, a.HasPending())
}

func TestDirtyParentAggregator_WaveBatchThreshold(t *testing.T) {
	a := newDirtyParentAggregator(time.Hour, 2, 1000)
	now := time.Now()

	a.Touch([]Tile{{X: 1, Y: 1}}, now)
	a.WaveCompleted()
	should, _ := a.ShouldFlush(now)
	assert.False(t, should)

	a.WaveCompleted()
	should, reason := a.ShouldFlush(now)
	require.True(t, should)
	assert.Equal(t, flushWaveBatch, reason)
}

func TestDirtyParentAggregator_DebounceThreshold(t *testing.T) {
	a := newDirtyParentAggregator(10*time.Millisecond, 1000, 1000)
	now := time.Now()

	a.Touch([]Tile{{X: 1, Y: 1}}, now)
	should, _ := a.ShouldFlush(now)
	assert.False(t, should)

	later := now.Add(20 * time.Millisecond)
	should, reason := a.ShouldFlush(later)
	require.True(t, should)
	assert.Equal(t, flushDebounce, reason)
}

func TestDirtyParentAggregator_FlushResetsCounters(t *testing.T) {
	a := newDirtyParentAggregator(time.Hour, 1, 1000)
	now := time.Now()

	a.Touch([]Tile{{X: 1, Y: 1}}, now)
	a.WaveCompleted()
	require.True(t, func() bool { ok, _ := a.ShouldFlush(now); return ok }())

	a.Flush()
	should, _ := a.ShouldFlush(now)
	assert.False(t, should)
}

func TestDirtyParentAggregator_FinalCatchupSkippedWhenCascadeCoversTop(t *testing.T) {
	a := newDirtyParentAggregator(time.Hour, 1000, 1000)
	a.Touch([]Tile{{X: 1, Y: 1}}, time.Now())

	assert.False(t, a.NeedsFinalCatchup(5, 5), "cascade depth already reaching the top level makes catch-up redundant")
	assert.True(t, a.NeedsFinalCatchup(2, 5))
}

// A skipped catch-up is only safe because the owner still forces a plain
// Flush of whatever hasn't crossed a threshold yet when the run completes;
// NeedsFinalCatchup by itself says nothing about that.
func TestDirtyParentAggregator_PendingLeavesSurviveWhenCatchupSkipped(t *testing.T) {
	a := newDirtyParentAggregator(time.Hour, 1000, 1000)
	a.Touch([]Tile{{X: 1, Y: 1}}, time.Now())

	assert.False(t, a.NeedsFinalCatchup(5, 5))
	assert.True(t, a.HasPending())

	tiles := a.Flush()
	assert.Len(t, tiles, 1)
	assert.False(t, a.HasPending())
}

func TestDirtyParentAggregator_FinalCatchupOnlyOnce(t *testing.T) {
	a := newDirtyParentAggregator(time.Hour, 1000, 1000)
	a.Touch([]Tile{{X: 1, Y: 1}}, time.Now())

	require.True(t, a.NeedsFinalCatchup(0, 5))
	tiles := a.FinalCatchupTiles()
	assert.Len(t, tiles, 1)
	assert.False(t, a.NeedsFinalCatchup(0, 5))
}
