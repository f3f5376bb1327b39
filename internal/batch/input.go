package batch

import (
	"fmt"
	"strings"
)

// StartBatchRunInput configures a batch run. Fields are clamped to safe
// ranges by NormalizeInput before a BatchRun is constructed.
type StartBatchRunInput struct {
	OriginX, OriginY   int
	Layers             int
	Z                  int
	MapWidth, MapHeight int
	Prompt             string
	ModelVariant       ModelVariant

	MaxParallel int
	// MaxGenerateRetries, ParentJobRetries, ParentDebounceMs, and
	// ParentCascadeDepth are pointers because 0 is a legitimate, distinct
	// value within each one's clamp range (no retries, no debounce, no
	// cascade); nil means "not set, use the default" instead.
	MaxGenerateRetries      *int
	ParentJobRetries        *int
	ParentWorkerConcurrency int
	ParentDebounceMs        *int
	ParentWaveBatchSize     int
	ParentLeafBatchSize     int
	ParentCascadeDepth      *int

	SchedulingMode SchedulingMode

	// EnableReview turns on the human-review gate described in the Review
	// Queue component. Not part of the fixed field list in the external
	// interface section, added because the component is otherwise
	// unreachable from StartBatchRun.
	EnableReview bool

	OnState            OnStateFunc
	ExecuteAnchor      ExecuteAnchorFunc
	RefreshParentLevel RefreshParentLevelFunc
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// NormalizeInput applies defaults and clamps per the external interface
// contract, and validates the fields that cannot simply be clamped.
func NormalizeInput(in StartBatchRunInput) (StartBatchRunInput, error) {
	out := in

	if out.OriginX < 0 || out.OriginY < 0 || out.OriginX >= out.MapWidth || out.OriginY >= out.MapHeight {
		return out, fmt.Errorf("batch: origin (%d,%d) must lie inside [0,%d)x[0,%d)", out.OriginX, out.OriginY, out.MapWidth, out.MapHeight)
	}
	if out.Z < 0 {
		return out, fmt.Errorf("batch: z must be >= 0, got %d", out.Z)
	}
	trimmedPrompt := strings.TrimSpace(out.Prompt)
	if trimmedPrompt == "" {
		return out, fmt.Errorf("batch: prompt must be non-empty after trimming")
	}
	out.Prompt = trimmedPrompt

	out.Layers = clampInt(out.Layers, 0, 256)

	switch out.ModelVariant {
	case "":
		out.ModelVariant = ModelStandard
	case ModelStandard, ModelPro, ModelFlashPreview:
	default:
		return out, fmt.Errorf("batch: unknown model_variant %q", out.ModelVariant)
	}

	if out.MaxParallel == 0 {
		out.MaxParallel = 4
	}
	out.MaxParallel = clampInt(out.MaxParallel, 1, 16)

	maxGenerateRetries := 3
	if out.MaxGenerateRetries != nil {
		maxGenerateRetries = *out.MaxGenerateRetries
	}
	maxGenerateRetries = clampInt(maxGenerateRetries, 0, 10)
	out.MaxGenerateRetries = &maxGenerateRetries

	parentJobRetries := 2
	if out.ParentJobRetries != nil {
		parentJobRetries = *out.ParentJobRetries
	}
	parentJobRetries = clampInt(parentJobRetries, 0, 10)
	out.ParentJobRetries = &parentJobRetries

	if out.ParentWorkerConcurrency == 0 {
		out.ParentWorkerConcurrency = 1
	}
	out.ParentWorkerConcurrency = clampInt(out.ParentWorkerConcurrency, 1, 4)

	debounceMs := 1000
	if out.ParentDebounceMs != nil {
		debounceMs = *out.ParentDebounceMs
	}
	debounceMs = clampInt(debounceMs, 0, 60_000)
	out.ParentDebounceMs = &debounceMs

	if out.ParentWaveBatchSize == 0 {
		out.ParentWaveBatchSize = 3
	}
	out.ParentWaveBatchSize = clampInt(out.ParentWaveBatchSize, 1, 64)

	if out.ParentLeafBatchSize == 0 {
		out.ParentLeafBatchSize = 256
	}
	out.ParentLeafBatchSize = clampInt(out.ParentLeafBatchSize, 1, 10_000)

	parentCascadeDepth := 2
	if out.ParentCascadeDepth != nil {
		parentCascadeDepth = *out.ParentCascadeDepth
	}
	parentCascadeDepth = clampInt(parentCascadeDepth, 0, out.Z)
	out.ParentCascadeDepth = &parentCascadeDepth

	if out.SchedulingMode == "" {
		out.SchedulingMode = WaveBarrier
	}
	if out.SchedulingMode != WaveBarrier && out.SchedulingMode != RollingFill {
		return out, fmt.Errorf("batch: unknown scheduling_mode %q", out.SchedulingMode)
	}

	return out, nil
}
