package batch

import (
	"log/slog"
	"time"
)

// aggregatorFlushReason records why a batch of dirty leaf tiles was flushed,
// surfaced only for logging.
type aggregatorFlushReason string

const (
	flushDebounce  aggregatorFlushReason = "debounce"
	flushWaveBatch aggregatorFlushReason = "wave_batch"
	flushLeafBatch aggregatorFlushReason = "leaf_batch"
	flushForced    aggregatorFlushReason = "forced"
)

// dirtyParentAggregator collects leaf tiles touched by successful anchors and
// decides when to flush them into a ParentRefreshJob. Three independent
// policies are OR-combined: a debounce timer since the first touch of the
// current batch, a wave count threshold, and a leaf count threshold. A
// caller-driven forced flush (used once generation has finished) bypasses
// all thresholds.
//
// dirtyParentAggregator holds no goroutine of its own; the owner loop polls
// ShouldFlush on every eventPollTick and whenever a wave finalizes.
type dirtyParentAggregator struct {
	debounce      time.Duration
	waveBatchSize int
	leafBatchSize int

	pendingLeaves map[Tile]struct{}
	touchedLeaves map[Tile]struct{}
	wavesSinceFlush int
	firstTouch    time.Time
	hasPending    bool

	finalFlushDone bool
}

func newDirtyParentAggregator(debounce time.Duration, waveBatchSize, leafBatchSize int) *dirtyParentAggregator {
	return &dirtyParentAggregator{
		debounce:      debounce,
		waveBatchSize: waveBatchSize,
		leafBatchSize: leafBatchSize,
		pendingLeaves: make(map[Tile]struct{}),
		touchedLeaves: make(map[Tile]struct{}),
	}
}

// Touch records the leaf tiles of a successfully generated anchor as dirty.
// The first touch after a flush starts the debounce timer.
func (a *dirtyParentAggregator) Touch(tiles []Tile, now time.Time) {
	for _, t := range tiles {
		a.pendingLeaves[t] = struct{}{}
		a.touchedLeaves[t] = struct{}{}
	}
	if len(tiles) > 0 {
		if !a.hasPending {
			a.firstTouch = now
		}
		a.hasPending = true
	}
}

// WaveCompleted increments the wave-since-last-flush counter, used by the
// wave-batch threshold policy.
func (a *dirtyParentAggregator) WaveCompleted() {
	if a.hasPending {
		a.wavesSinceFlush++
	}
}

// ShouldFlush reports whether accumulated dirty leaves should be flushed now,
// given the current time, and if so under which policy.
func (a *dirtyParentAggregator) ShouldFlush(now time.Time) (bool, aggregatorFlushReason) {
	if !a.hasPending {
		return false, ""
	}
	if a.leafBatchSize > 0 && len(a.pendingLeaves) >= a.leafBatchSize {
		return true, flushLeafBatch
	}
	if a.waveBatchSize > 0 && a.wavesSinceFlush >= a.waveBatchSize {
		return true, flushWaveBatch
	}
	if a.debounce > 0 && !a.firstTouch.IsZero() && now.Sub(a.firstTouch) >= a.debounce {
		return true, flushDebounce
	}
	return false, ""
}

// Flush drains the pending leaf set and resets the flush counters, returning
// the tiles to hand to a new ParentRefreshJob. Returns nil if nothing is pending.
func (a *dirtyParentAggregator) Flush() []Tile {
	if !a.hasPending {
		return nil
	}
	tiles := make([]Tile, 0, len(a.pendingLeaves))
	for t := range a.pendingLeaves {
		tiles = append(tiles, t)
	}
	a.pendingLeaves = make(map[Tile]struct{})
	a.wavesSinceFlush = 0
	a.hasPending = false
	slog.Debug("dirty parent aggregator flushed", "tile_count", len(tiles))
	return tiles
}

// HasPending reports whether any dirty leaves are awaiting a flush.
func (a *dirtyParentAggregator) HasPending() bool {
	return a.hasPending
}

// NeedsFinalCatchup reports whether a one-time final catch-up job over every
// leaf ever touched should run, given the cascade depth of ordinary flushes
// and the leaf zoom z (the number of levels between the leaves and the
// pyramid's root at level 0). When the cascade depth already reaches z,
// ordinary flushes have already rebuilt the whole pyramid above every touched
// leaf and the catch-up is redundant.
func (a *dirtyParentAggregator) NeedsFinalCatchup(cascadeDepth, leafZ int) bool {
	if a.finalFlushDone {
		return false
	}
	if len(a.touchedLeaves) == 0 {
		return false
	}
	return cascadeDepth < leafZ
}

// FinalCatchupTiles returns every leaf tile touched over the run's lifetime
// and marks the final catch-up as issued. Call at most once.
func (a *dirtyParentAggregator) FinalCatchupTiles() []Tile {
	a.finalFlushDone = true
	tiles := make([]Tile, 0, len(a.touchedLeaves))
	for t := range a.touchedLeaves {
		tiles = append(tiles, t)
	}
	slog.Info("dirty parent aggregator final catch-up", "tile_count", len(tiles))
	return tiles
}
