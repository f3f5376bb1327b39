package batch

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TestBuildPlan_PriorityOrderGolden pins the deterministic scheduling order
// for a one-layer fan-out so an accidental change to priorityFor or
// comparePriority shows up as a diff instead of a silent reordering.
func TestBuildPlan_PriorityOrderGolden(t *testing.T) {
	plan := BuildPlan(10, 10, 1, 100, 100)

	data, err := json.MarshalIndent(plan.PriorityOrder, "", "  ")
	if err != nil {
		t.Fatalf("marshal priority order: %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "plan_priority_order", data)
}

// TestBatchRunState_JSONGolden pins the wire shape of a snapshot as seen by
// CLI output and external observers, independent of the scheduler that
// produces it.
func TestBatchRunState_JSONGolden(t *testing.T) {
	state := BatchRunState{
		RunID:       "run-test-1",
		Status:      RunIdle,
		OriginX:     5,
		OriginY:     5,
		Layers:      0,
		MaxParallel: 1,
		Anchors: map[string]Anchor{
			"u:0,v:0": {
				ID:         "u:0,v:0",
				U:          0,
				V:          0,
				X:          5,
				Y:          5,
				Deps:       []string{},
				Dependents: []string{},
				Priority:   Priority{Distance: 0, Bucket: 0, QuadrantOrder: 4},
				Status:     AnchorPending,
			},
		},
		Waves:      []Wave{},
		ParentJobs: []ParentRefreshJob{},
		Generate:   GenerateProgress{Pending: 1},
		Parent:     ParentProgress{},
		Coverage:   &Bounds{MinX: 4, MinY: 4, MaxX: 6, MaxY: 6},
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		t.Fatalf("marshal state: %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "batch_run_state", data)
}
