// Package testutil provides deterministic collaborators and doubles for
// exercising the batch package without real generation or storage backends.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/tessera-maps/anchorbatch/internal/batch"
)

// FakeAnchorExecutor is a scriptable ExecuteAnchorFunc double. FailIDs maps
// an anchor id to the number N of leading attempts that fail before it
// succeeds; anchors not listed always succeed on the first attempt.
type FakeAnchorExecutor struct {
	mu            sync.Mutex
	FailIDs       map[string]int
	Calls         []string
	attemptsSeen  map[string]int
	variantsSeen  map[string]batch.ModelVariant
}

// NewFakeAnchorExecutor builds an executor that fails each id in failIDs for
// the given number of attempts before succeeding.
func NewFakeAnchorExecutor(failIDs map[string]int) *FakeAnchorExecutor {
	return &FakeAnchorExecutor{FailIDs: failIDs, attemptsSeen: make(map[string]int), variantsSeen: make(map[string]batch.ModelVariant)}
}

// Execute implements batch.ExecuteAnchorFunc.
func (f *FakeAnchorExecutor) Execute(ctx context.Context, anchor batch.Anchor, attempt int, variant batch.ModelVariant) (batch.ExecuteResult, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, anchor.ID)
	f.attemptsSeen[anchor.ID] = attempt
	f.variantsSeen[anchor.ID] = variant
	failFor := f.FailIDs[anchor.ID]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return batch.ExecuteResult{}, err
	}
	if attempt <= failFor {
		return batch.ExecuteResult{}, fmt.Errorf("fake executor: forced failure for %s attempt %d", anchor.ID, attempt)
	}
	return batch.ExecuteResult{Preview: anchor.ID}, nil
}

// VariantSeen returns the model variant passed on the most recent Execute
// call for id.
func (f *FakeAnchorExecutor) VariantSeen(id string) batch.ModelVariant {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.variantsSeen[id]
}

// CallCount returns how many times Execute was invoked for id.
func (f *FakeAnchorExecutor) CallCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c == id {
			n++
		}
	}
	return n
}

// FakeParentRefresher is a scriptable RefreshParentLevelFunc double that
// walks the pyramid up one level per call, halving tile coordinates, and
// returns no parents at ChildZ 0. It errors on every call when AlwaysFail is
// set, and on every call at ChildZ == *FailAtZ when FailAtZ is set.
type FakeParentRefresher struct {
	mu         sync.Mutex
	Calls      []batch.ParentLevelRequest
	FailAtZ    *int
	AlwaysFail bool
}

// Refresh implements batch.RefreshParentLevelFunc.
func (f *FakeParentRefresher) Refresh(ctx context.Context, req batch.ParentLevelRequest) (batch.ParentLevelResult, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, req)
	f.mu.Unlock()

	if f.AlwaysFail || (f.FailAtZ != nil && req.ChildZ == *f.FailAtZ) {
		return batch.ParentLevelResult{}, fmt.Errorf("fake parent refresher: forced failure at z=%d", req.ChildZ)
	}
	if req.ChildZ == 0 {
		return batch.ParentLevelResult{}, nil
	}

	seen := make(map[batch.Tile]struct{})
	parents := make([]batch.Tile, 0, len(req.ChildTiles))
	for _, t := range req.ChildTiles {
		p := batch.Tile{X: t.X / 2, Y: t.Y / 2}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		parents = append(parents, p)
	}
	return batch.ParentLevelResult{ParentTiles: parents}, nil
}
