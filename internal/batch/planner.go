package batch

import (
	"fmt"
	"sort"
	"strings"
)

// Plan is the pure output of BuildPlan: the anchor set, a priority-sorted id
// list, and the coverage bounds of every anchor's footprint.
type Plan struct {
	Anchors       map[string]*Anchor
	PriorityOrder []string
	Coverage      *Bounds
}

func anchorID(u, v int) string {
	return fmt.Sprintf("u:%d,v:%d", u, v)
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	default:
		return 0
	}
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// priorityFor computes the (distance, bucket, quadrantOrder) triple for an
// offset (u, v). Quadrant order for interior offsets follows NE=0, NW=1,
// SE=2, SW=3, where u increases east and v increases north (documented
// assumption, since neither axis's screen orientation is pinned down
// elsewhere; see DESIGN.md).
func priorityFor(u, v int) Priority {
	distance := absInt(u) + absInt(v)

	var bucket, quadrant int
	switch {
	case u == 0 && v == 0:
		bucket, quadrant = 0, 4
	case v == 0:
		bucket, quadrant = 1, 4
	case u == 0:
		bucket, quadrant = 2, 4
	default:
		bucket = 3
		switch {
		case u > 0 && v > 0:
			quadrant = 0 // NE
		case u < 0 && v > 0:
			quadrant = 1 // NW
		case u > 0 && v < 0:
			quadrant = 2 // SE
		default:
			quadrant = 3 // SW
		}
	}

	return Priority{Distance: distance, Bucket: bucket, QuadrantOrder: quadrant}
}

// BuildPlan enumerates the anchor set for an origin, wires dependency edges,
// and computes a deterministic priority order. It is a pure function: it
// never fails, and an out-of-range origin or zero-radius fan-out simply
// yields fewer or zero anchors.
func BuildPlan(originX, originY, layers, mapWidth, mapHeight int) *Plan {
	anchors := make(map[string]*Anchor)

	for v := -layers; v <= layers; v++ {
		for u := -layers; u <= layers; u++ {
			x := originX + 2*u
			y := originY + 2*v
			if x < 0 || y < 0 || x >= mapWidth || y >= mapHeight {
				continue
			}
			id := anchorID(u, v)
			anchors[id] = &Anchor{
				ID:         id,
				U:          u,
				V:          v,
				X:          x,
				Y:          y,
				Deps:       []string{},
				Dependents: []string{},
				Priority:   priorityFor(u, v),
				Status:     AnchorPending,
			}
		}
	}

	// Wire dependency edges: each non-origin anchor depends on the anchor one
	// step closer to the origin along both axes. The dependency graph is a
	// tree, so no cycle detection is required.
	for id, a := range anchors {
		if a.U == 0 && a.V == 0 {
			continue
		}
		depU := a.U - sign(a.U)
		depV := a.V - sign(a.V)
		depID := anchorID(depU, depV)
		if dep, ok := anchors[depID]; ok {
			a.Deps = append(a.Deps, depID)
			dep.Dependents = append(dep.Dependents, id)
		}
		_ = id
	}

	order := make([]string, 0, len(anchors))
	for id := range anchors {
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool {
		return comparePriority(anchors[order[i]], anchors[order[j]]) < 0
	})

	var coverage *Bounds
	for _, a := range anchors {
		for _, t := range a.footprint(mapWidth, mapHeight) {
			if coverage == nil {
				coverage = &Bounds{MinX: t.X, MinY: t.Y, MaxX: t.X, MaxY: t.Y}
				continue
			}
			if t.X < coverage.MinX {
				coverage.MinX = t.X
			}
			if t.Y < coverage.MinY {
				coverage.MinY = t.Y
			}
			if t.X > coverage.MaxX {
				coverage.MaxX = t.X
			}
			if t.Y > coverage.MaxY {
				coverage.MaxY = t.Y
			}
		}
	}

	return &Plan{Anchors: anchors, PriorityOrder: order, Coverage: coverage}
}

// comparePriority implements the total order from the priority total-order
// rules: negative if a sorts before b, positive if after, zero only when a
// and b are the same anchor.
func comparePriority(a, b *Anchor) int {
	if a.Priority.Distance != b.Priority.Distance {
		return a.Priority.Distance - b.Priority.Distance
	}
	if a.Priority.Bucket != b.Priority.Bucket {
		return a.Priority.Bucket - b.Priority.Bucket
	}

	switch a.Priority.Bucket {
	case 1: // axis-X: v == 0 for both
		if absInt(a.U) != absInt(b.U) {
			return absInt(a.U) - absInt(b.U)
		}
		if a.U != b.U {
			if a.U > b.U {
				return -1 // positive before negative at equal |u|
			}
			return 1
		}
	case 2: // axis-Y: u == 0 for both
		if absInt(a.V) != absInt(b.V) {
			return absInt(a.V) - absInt(b.V)
		}
		if a.V != b.V {
			return a.V - b.V
		}
	case 3: // interior
		if a.Priority.QuadrantOrder != b.Priority.QuadrantOrder {
			return a.Priority.QuadrantOrder - b.Priority.QuadrantOrder
		}
		ringA, ringB := maxInt(absInt(a.U), absInt(a.V)), maxInt(absInt(b.U), absInt(b.V))
		if ringA != ringB {
			return ringA - ringB
		}
		if absInt(a.U) != absInt(b.U) {
			return absInt(a.U) - absInt(b.U)
		}
	}

	if a.V != b.V {
		return a.V - b.V
	}
	if a.U != b.U {
		return a.U - b.U
	}
	return strings.Compare(a.ID, b.ID)
}
