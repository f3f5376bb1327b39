package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPlan_OriginOnly(t *testing.T) {
	plan := BuildPlan(50, 50, 0, 100, 100)

	require.Len(t, plan.Anchors, 1)
	origin, ok := plan.Anchors["u:0,v:0"]
	require.True(t, ok)
	assert.Empty(t, origin.Deps)
	assert.Empty(t, origin.Dependents)
	assert.Equal(t, []string{"u:0,v:0"}, plan.PriorityOrder)
}

func TestBuildPlan_DependencyEdgesFormATree(t *testing.T) {
	plan := BuildPlan(50, 50, 2, 100, 100)

	for id, a := range plan.Anchors {
		if a.U == 0 && a.V == 0 {
			assert.Empty(t, a.Deps, "origin must have no dependencies")
			continue
		}
		require.Len(t, a.Deps, 1, "anchor %s must have exactly one dependency", id)
		dep := plan.Anchors[a.Deps[0]]
		assert.Equal(t, a.U-sign(a.U), dep.U, "dependency must move one step toward the origin along u")
		assert.Equal(t, a.V-sign(a.V), dep.V, "dependency must move one step toward the origin along v")
		assert.Contains(t, dep.Dependents, id)
	}
}

func TestBuildPlan_ClipsOutOfBoundsAnchors(t *testing.T) {
	plan := BuildPlan(0, 0, 2, 100, 100)

	for _, a := range plan.Anchors {
		assert.GreaterOrEqual(t, a.X, 0)
		assert.GreaterOrEqual(t, a.Y, 0)
		assert.Less(t, a.X, 100)
		assert.Less(t, a.Y, 100)
	}
	// Anchors with negative u or v map outside the grid from an origin at (0,0)
	// and must be dropped entirely.
	_, hasNegativeU := plan.Anchors["u:-1,v:0"]
	assert.False(t, hasNegativeU)
}

func TestBuildPlan_PriorityOrder_OriginFirst(t *testing.T) {
	plan := BuildPlan(50, 50, 2, 100, 100)
	require.NotEmpty(t, plan.PriorityOrder)
	assert.Equal(t, "u:0,v:0", plan.PriorityOrder[0])
}

func TestBuildPlan_PriorityOrder_DeterministicAndEastBeforeWest(t *testing.T) {
	plan := BuildPlan(50, 50, 1, 100, 100)

	rank := make(map[string]int, len(plan.PriorityOrder))
	for i, id := range plan.PriorityOrder {
		rank[id] = i
	}

	// At distance 1, axis anchors (bucket 1 or 2) precede nothing since no
	// interior anchor exists at distance 1; verify instead that within a
	// fixed bucket the order is stable and deterministic across rebuilds.
	other := BuildPlan(50, 50, 1, 100, 100)
	assert.Equal(t, plan.PriorityOrder, other.PriorityOrder, "priority order must be deterministic")

	// East (u=1,v=0) sorts before west (u=-1,v=0) at equal |u|.
	assert.Less(t, rank["u:1,v:0"], rank["u:-1,v:0"])
}

func TestBuildPlan_CoverageSpansFootprints(t *testing.T) {
	plan := BuildPlan(50, 50, 0, 100, 100)
	require.NotNil(t, plan.Coverage)
	assert.Equal(t, 49, plan.Coverage.MinX)
	assert.Equal(t, 49, plan.Coverage.MinY)
	assert.Equal(t, 51, plan.Coverage.MaxX)
	assert.Equal(t, 51, plan.Coverage.MaxY)
}

func TestAnchor_Overlaps(t *testing.T) {
	a := Anchor{X: 10, Y: 10}
	near := Anchor{X: 12, Y: 10}
	far := Anchor{X: 13, Y: 10}

	assert.True(t, a.overlaps(near))
	assert.False(t, a.overlaps(far))
}
