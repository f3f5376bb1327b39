package batch

import (
	"context"
	"time"
)

// AnchorStatus is the closed enumeration of anchor lifecycle states.
type AnchorStatus string

const (
	AnchorPending AnchorStatus = "PENDING"
	AnchorRunning AnchorStatus = "RUNNING"
	AnchorSuccess AnchorStatus = "SUCCESS"
	AnchorFailed  AnchorStatus = "FAILED"
	AnchorBlocked AnchorStatus = "BLOCKED"
)

// ParentJobStatus is the closed enumeration of ParentRefreshJob states.
type ParentJobStatus string

const (
	ParentQueued  ParentJobStatus = "QUEUED"
	ParentRunning ParentJobStatus = "RUNNING"
	ParentSuccess ParentJobStatus = "SUCCESS"
	ParentFailed  ParentJobStatus = "FAILED"
)

// RunStatus is the closed enumeration of BatchRun lifecycle states.
type RunStatus string

const (
	RunIdle       RunStatus = "IDLE"
	RunRunning    RunStatus = "RUNNING"
	RunCompleting RunStatus = "COMPLETING"
	RunCompleted  RunStatus = "COMPLETED"
	RunFailed     RunStatus = "FAILED"
	RunCancelled  RunStatus = "CANCELLED"
)

// SchedulingMode selects how the Anchor Scheduler forms waves.
type SchedulingMode string

const (
	WaveBarrier SchedulingMode = "wave_barrier"
	RollingFill SchedulingMode = "rolling_fill"
)

// ModelVariant is the closed enumeration of tile generation model tiers.
type ModelVariant string

const (
	ModelStandard      ModelVariant = "standard"
	ModelPro           ModelVariant = "pro"
	ModelFlashPreview  ModelVariant = "flash_preview"
)

// ReviewDecision is the closed enumeration of review outcomes.
type ReviewDecision string

const (
	ReviewAccept ReviewDecision = "ACCEPT"
	ReviewReject ReviewDecision = "REJECT"
)

// Tile identifies a single tile at a given zoom level by its grid coordinate.
type Tile struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Priority is the (distance, bucket, quadrantOrder) triple used to derive
// the deterministic scheduling order (see Planner).
type Priority struct {
	Distance      int `json:"distance"`
	Bucket        int `json:"bucket"`
	QuadrantOrder int `json:"quadrant_order"`
}

// Anchor represents one 3x3 edit centered at a leaf tile (X, Y).
type Anchor struct {
	ID string `json:"id"`
	U  int    `json:"u"`
	V  int    `json:"v"`
	X  int    `json:"x"`
	Y  int    `json:"y"`

	Deps       []string `json:"deps"`
	Dependents []string `json:"dependents"`

	Priority Priority     `json:"priority"`
	Status   AnchorStatus `json:"status"`
	Attempts int          `json:"attempts"`

	Wave       *int       `json:"wave,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	BlockedBy  string     `json:"blocked_by,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// footprint returns the anchor's 3x3 tile footprint clipped to map bounds.
func (a Anchor) footprint(mapWidth, mapHeight int) []Tile {
	tiles := make([]Tile, 0, 9)
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			x, y := a.X+dx, a.Y+dy
			if x < 0 || y < 0 || x >= mapWidth || y >= mapHeight {
				continue
			}
			tiles = append(tiles, Tile{X: x, Y: y})
		}
	}
	return tiles
}

// overlaps reports whether two anchors' 3x3 footprints intersect.
func (a Anchor) overlaps(b Anchor) bool {
	dx := a.X - b.X
	if dx < 0 {
		dx = -dx
	}
	dy := a.Y - b.Y
	if dy < 0 {
		dy = -dy
	}
	return dx <= 2 && dy <= 2
}

func (a Anchor) clone() Anchor {
	out := a
	out.Deps = append([]string(nil), a.Deps...)
	out.Dependents = append([]string(nil), a.Dependents...)
	if a.Wave != nil {
		w := *a.Wave
		out.Wave = &w
	}
	if a.StartedAt != nil {
		t := *a.StartedAt
		out.StartedAt = &t
	}
	if a.FinishedAt != nil {
		t := *a.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

// Wave records a set of anchors that started together (wave_barrier) or a
// single completion (rolling_fill), and their outcomes.
type Wave struct {
	Index      int       `json:"index"`
	TaskIDs    []string  `json:"task_ids"`
	SuccessIDs []string  `json:"success_ids"`
	FailedIDs  []string  `json:"failed_ids"`
	BlockedIDs []string  `json:"blocked_ids"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

func (w Wave) clone() Wave {
	out := w
	out.TaskIDs = append([]string(nil), w.TaskIDs...)
	out.SuccessIDs = append([]string(nil), w.SuccessIDs...)
	out.FailedIDs = append([]string(nil), w.FailedIDs...)
	out.BlockedIDs = append([]string(nil), w.BlockedIDs...)
	return out
}

// ParentRefreshJob is a unit of parent pyramid rebuild work.
type ParentRefreshJob struct {
	ID           string          `json:"id"`
	ChildZ       int             `json:"child_z"`
	MaxLevels    int             `json:"max_levels"`
	LeafTiles    []Tile          `json:"leaf_tiles"`
	Status       ParentJobStatus `json:"status"`
	Attempts     int             `json:"attempts"`
	CurrentLevel int             `json:"current_level"`
	Error        string          `json:"error,omitempty"`
}

func (j ParentRefreshJob) clone() ParentRefreshJob {
	out := j
	out.LeafTiles = append([]Tile(nil), j.LeafTiles...)
	return out
}

// GenerateProgress aggregates anchor status counts.
type GenerateProgress struct {
	Pending        int `json:"pending"`
	Running        int `json:"running"`
	Success        int `json:"success"`
	Failed         int `json:"failed"`
	Blocked        int `json:"blocked"`
	WavesCompleted int `json:"waves_completed"`
}

// ParentProgress aggregates parent job status counts.
type ParentProgress struct {
	Queued        int  `json:"queued"`
	Running       int  `json:"running"`
	Success       int  `json:"success"`
	Failed        int  `json:"failed"`
	CurrentLevelZ *int `json:"current_level_z,omitempty"`
}

// Bounds is an inclusive tile-coordinate rectangle.
type Bounds struct {
	MinX int `json:"min_x"`
	MinY int `json:"min_y"`
	MaxX int `json:"max_x"`
	MaxY int `json:"max_y"`
}

// BatchRunState is the full externally-visible snapshot of a BatchRun.
type BatchRunState struct {
	RunID       string    `json:"run_id"`
	Status      RunStatus `json:"status"`
	OriginX     int       `json:"origin_x"`
	OriginY     int       `json:"origin_y"`
	Layers      int       `json:"layers"`
	MaxParallel int       `json:"max_parallel"`

	Anchors    map[string]Anchor `json:"anchors"`
	Waves      []Wave            `json:"waves"`
	ParentJobs []ParentRefreshJob `json:"parent_jobs"`

	Generate GenerateProgress `json:"generate"`
	Parent   ParentProgress   `json:"parent"`
	Coverage *Bounds          `json:"coverage,omitempty"`

	Error string `json:"error,omitempty"`
}

// clone deep-copies the state so observers can never mutate engine-owned memory.
func (s BatchRunState) clone() BatchRunState {
	out := s
	out.Anchors = make(map[string]Anchor, len(s.Anchors))
	for id, a := range s.Anchors {
		out.Anchors[id] = a.clone()
	}
	out.Waves = make([]Wave, len(s.Waves))
	for i, w := range s.Waves {
		out.Waves[i] = w.clone()
	}
	out.ParentJobs = make([]ParentRefreshJob, len(s.ParentJobs))
	for i, j := range s.ParentJobs {
		out.ParentJobs[i] = j.clone()
	}
	if s.Coverage != nil {
		b := *s.Coverage
		out.Coverage = &b
	}
	if s.Parent.CurrentLevelZ != nil {
		z := *s.Parent.CurrentLevelZ
		out.Parent.CurrentLevelZ = &z
	}
	return out
}

// ExecuteResult is the successful outcome of an ExecuteAnchorFunc call.
type ExecuteResult struct {
	// Preview is an opaque payload surfaced to the review queue when review
	// is enabled. It is not interpreted by the scheduler.
	Preview interface{}
}

// ExecuteAnchorFunc is the collaborator contract for generating one anchor.
// variant carries the model tier to use for this attempt: it starts at the
// run's configured ModelVariant and escalates across attempts when a review
// gate rejects a preview (see runAnchor). Implementations must be idempotent
// per (anchor.ID, attempt) and must honor ctx.
type ExecuteAnchorFunc func(ctx context.Context, anchor Anchor, attempt int, variant ModelVariant) (ExecuteResult, error)

// ParentLevelRequest is the input to a single cascade step.
type ParentLevelRequest struct {
	ChildZ     int
	ChildTiles []Tile
}

// ParentLevelResult is the output of a single cascade step.
type ParentLevelResult struct {
	ParentTiles []Tile
}

// RefreshParentLevelFunc is the collaborator contract for one pyramid cascade step.
// Implementations must be idempotent and must honor ctx.
type RefreshParentLevelFunc func(ctx context.Context, req ParentLevelRequest) (ParentLevelResult, error)

// OnStateFunc observes a deep-copied snapshot after every meaningful transition.
type OnStateFunc func(BatchRunState)

// RetryHint lets a collaborator error surface an explicit retry-after duration,
// e.g. for rate limiting. Errors not implementing this use exponential backoff.
type RetryHint interface {
	RetryAfter() (time.Duration, bool)
}
