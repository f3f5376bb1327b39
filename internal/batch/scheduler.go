package batch

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// pollInterval is the owner loop's idle wakeup cadence, used to evaluate
// aggregator flush timers and other time-driven transitions that no event
// would otherwise trigger.
const pollInterval = 200 * time.Millisecond

// BatchHandle is the caller-facing control surface for a running batch.
type BatchHandle struct {
	run *BatchRun
}

// Done returns a channel closed once the run reaches a terminal status.
func (h *BatchHandle) Done() <-chan struct{} { return h.run.doneCh }

// Cancel requests cooperative cancellation of the run.
func (h *BatchHandle) Cancel() { h.run.cancelFunc() }

// State returns a deep-copied snapshot of the run's current state.
func (h *BatchHandle) State() BatchRunState {
	return h.run.latest.Load().(BatchRunState)
}

// ReviewQueue returns the run's review gate, or nil if review was not enabled.
func (h *BatchHandle) ReviewQueue() *ReviewQueue { return h.run.review }

// BatchRun owns all mutable scheduling state. Every field below this comment
// is touched only by the single owner goroutine running loop; everything
// else communicates with it exclusively through events or the review queue.
type BatchRun struct {
	plan  *Plan
	input StartBatchRunInput

	events *eventQueue
	clock  *logicalClock
	idGen  IDGenerator
	review *ReviewQueue

	aggregator *dirtyParentAggregator
	pool       *parentWorkerPool

	state BatchRunState

	running     map[string]struct{}
	waveTaskSet map[string]struct{}
	waveIndex   int

	pendingParentJobs int
	fatalErr          error
	cancelledFlag     bool
	completingFlushed bool

	anchorCtx context.Context

	latest     atomic.Value
	doneCh     chan struct{}
	cancelFunc context.CancelFunc
}

// StartBatchRun normalizes input, builds the anchor plan, and launches the
// owner goroutine. It returns immediately with a handle; the run proceeds
// asynchronously until it reaches a terminal status.
func StartBatchRun(ctx context.Context, input StartBatchRunInput) (*BatchHandle, error) {
	normalized, err := NormalizeInput(input)
	if err != nil {
		return nil, err
	}
	if normalized.ExecuteAnchor == nil {
		return nil, NewCollaboratorMissingError("execute_anchor")
	}
	if normalized.RefreshParentLevel == nil {
		return nil, NewCollaboratorMissingError("refresh_parent_level")
	}

	plan := BuildPlan(normalized.OriginX, normalized.OriginY, normalized.Layers, normalized.MapWidth, normalized.MapHeight)

	anchors := make(map[string]Anchor, len(plan.Anchors))
	for id, a := range plan.Anchors {
		anchors[id] = *a
	}

	idGen := IDGenerator(UUIDv7Generator{})

	runCtx, cancel := context.WithCancel(ctx)

	run := &BatchRun{
		plan:  plan,
		input: normalized,
		events: newEventQueue(),
		clock:  newLogicalClock(),
		idGen:  idGen,
		aggregator: newDirtyParentAggregator(
			time.Duration(*normalized.ParentDebounceMs)*time.Millisecond,
			normalized.ParentWaveBatchSize,
			normalized.ParentLeafBatchSize,
		),
		state: BatchRunState{
			RunID:       idGen.Generate(),
			Status:      RunIdle,
			OriginX:     normalized.OriginX,
			OriginY:     normalized.OriginY,
			Layers:      normalized.Layers,
			MaxParallel: normalized.MaxParallel,
			Anchors:     anchors,
			Coverage:    plan.Coverage,
		},
		running:     make(map[string]struct{}),
		waveTaskSet: make(map[string]struct{}),
		doneCh:      make(chan struct{}),
		cancelFunc:  cancel,
	}
	if normalized.EnableReview {
		run.review = NewReviewQueue()
	}
	run.pool = newParentWorkerPool(runCtx, normalized.RefreshParentLevel, normalized.ParentWorkerConcurrency, *normalized.ParentJobRetries+1, run.events)

	run.publish()
	go run.loop(runCtx)

	return &BatchHandle{run: run}, nil
}

// publish deep-copies the current state and makes it visible to State().
func (r *BatchRun) publish() {
	r.recomputeProgress()
	r.latest.Store(r.state.clone())
	if r.input.OnState != nil {
		r.input.OnState(r.state.clone())
	}
}

func (r *BatchRun) recomputeProgress() {
	var gp GenerateProgress
	for _, a := range r.state.Anchors {
		switch a.Status {
		case AnchorPending:
			gp.Pending++
		case AnchorRunning:
			gp.Running++
		case AnchorSuccess:
			gp.Success++
		case AnchorFailed:
			gp.Failed++
		case AnchorBlocked:
			gp.Blocked++
		}
	}
	for _, w := range r.state.Waves {
		if !w.FinishedAt.IsZero() {
			gp.WavesCompleted++
		}
	}
	r.state.Generate = gp

	var pp ParentProgress
	var currentLevel *int
	for _, j := range r.state.ParentJobs {
		switch j.Status {
		case ParentQueued:
			pp.Queued++
		case ParentRunning:
			pp.Running++
			if currentLevel == nil || j.CurrentLevel < *currentLevel {
				lvl := j.CurrentLevel
				currentLevel = &lvl
			}
		case ParentSuccess:
			pp.Success++
		case ParentFailed:
			pp.Failed++
		}
	}
	pp.CurrentLevelZ = currentLevel
	r.state.Parent = pp
}

// loop is the single-writer owner event loop.
func (r *BatchRun) loop(ctx context.Context) {
	r.anchorCtx = ctx
	r.setStatus(RunRunning)
	r.publish()

	pollStop := make(chan struct{})
	go r.pollTicker(pollStop)
	defer close(pollStop)

	r.fillReady()
	r.publish()

	for {
		for {
			e, ok := r.events.TryDequeue()
			if !ok {
				break
			}
			r.handleEvent(ctx, e)
		}

		if r.isTerminal() {
			break
		}

		if r.cancelledFlag {
			// Cancellation already observed once; ctx.Done() stays readable
			// forever, so selecting on it again would spin. Block on new
			// events only until every in-flight goroutine reports in.
			<-r.events.Wait()
		} else {
			select {
			case <-ctx.Done():
				r.beginCancellation()
				r.checkCompletion(ctx)
				r.publish()
			case <-r.events.Wait():
			}
		}

		if r.isTerminal() {
			break
		}
	}

	r.finalize()
}

func (r *BatchRun) pollTicker(stop chan struct{}) {
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			r.events.Enqueue(event{kind: eventPollTick})
		}
	}
}

func (r *BatchRun) isTerminal() bool {
	switch r.state.Status {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	}
	return false
}

func (r *BatchRun) handleEvent(ctx context.Context, e event) {
	switch e.kind {
	case eventAnchorResult:
		r.onAnchorResult(e.anchorResult)
		r.tryFlushAggregator()
		r.fillReady()
		r.checkCompletion(ctx)
	case eventParentJobResult:
		r.onParentJobResult(e.parentResult)
		r.checkCompletion(ctx)
	case eventParentJobProgress:
		r.onParentJobProgress(e.parentProgress)
	case eventPollTick:
		r.tryFlushAggregator()
		r.checkCompletion(ctx)
	case eventReviewSettled:
		// Review outcomes are consumed synchronously inside runAnchor; this
		// kind is reserved for a future asynchronous review integration.
	}
	r.publish()
}

// readyAnchors returns pending anchors, in priority order, whose dependencies
// have all succeeded.
func (r *BatchRun) readyAnchors() []string {
	ready := make([]string, 0)
	for _, id := range r.plan.PriorityOrder {
		a := r.state.Anchors[id]
		if a.Status != AnchorPending {
			continue
		}
		blocked := false
		for _, depID := range a.Deps {
			if r.state.Anchors[depID].Status != AnchorSuccess {
				blocked = true
				break
			}
		}
		if !blocked {
			ready = append(ready, id)
		}
	}
	return ready
}

// conflictsWithRunning reports whether candidate overlaps any currently
// running anchor or any anchor already selected for the current dispatch pass.
func (r *BatchRun) conflictsWithRunning(candidate Anchor, selected []string) bool {
	for id := range r.running {
		if candidate.overlaps(r.state.Anchors[id]) {
			return true
		}
	}
	for _, id := range selected {
		if candidate.overlaps(r.state.Anchors[id]) {
			return true
		}
	}
	return false
}

// fillReady starts as many non-conflicting ready anchors as the scheduling
// mode and parallelism cap allow.
func (r *BatchRun) fillReady() {
	switch r.input.SchedulingMode {
	case WaveBarrier:
		r.fillWaveBarrier()
	default:
		r.fillRollingFill()
	}
}

func (r *BatchRun) fillWaveBarrier() {
	if len(r.running) > 0 {
		return
	}
	ready := r.readyAnchors()
	if len(ready) == 0 {
		return
	}

	selected := make([]string, 0, r.input.MaxParallel)
	for _, id := range ready {
		if len(selected) >= r.input.MaxParallel {
			break
		}
		a := r.state.Anchors[id]
		if r.conflictsWithRunning(a, selected) {
			continue
		}
		selected = append(selected, id)
	}
	if len(selected) == 0 {
		return
	}

	r.startWave(selected)
}

func (r *BatchRun) fillRollingFill() {
	for len(r.running) < r.input.MaxParallel {
		ready := r.readyAnchors()
		started := false
		for _, id := range ready {
			if len(r.running) >= r.input.MaxParallel {
				break
			}
			a := r.state.Anchors[id]
			if r.conflictsWithRunning(a, nil) {
				continue
			}
			r.startAnchor(id)
			started = true
		}
		if !started {
			return
		}
	}
}

// startWave marks a batch of anchors RUNNING under one wave record.
func (r *BatchRun) startWave(ids []string) {
	now := time.Now()
	r.waveIndex = int(r.clock.Next())
	r.waveTaskSet = make(map[string]struct{}, len(ids))

	wave := Wave{Index: r.waveIndex, TaskIDs: append([]string(nil), ids...), StartedAt: now}
	r.state.Waves = append(r.state.Waves, wave)

	slog.Info("wave formed", "wave_index", r.waveIndex, "task_count", len(ids))

	for _, id := range ids {
		r.waveTaskSet[id] = struct{}{}
		r.markRunning(id, r.waveIndex, now)
	}
}

// startAnchor starts a single anchor under its own one-anchor wave, used by
// rolling_fill (one wave per completion).
func (r *BatchRun) startAnchor(id string) {
	now := time.Now()
	idx := int(r.clock.Next())
	r.state.Waves = append(r.state.Waves, Wave{Index: idx, TaskIDs: []string{id}, StartedAt: now})
	slog.Info("wave formed", "wave_index", idx, "task_count", 1)
	r.markRunning(id, idx, now)
}

func (r *BatchRun) markRunning(id string, waveIdx int, now time.Time) {
	a := r.state.Anchors[id]
	a.Status = AnchorRunning
	a.Attempts = 0
	w := waveIdx
	a.Wave = &w
	a.StartedAt = &now
	r.state.Anchors[id] = a
	r.running[id] = struct{}{}

	slog.Debug("anchor started", "anchor_id", id, "wave_index", waveIdx)
	go r.runAnchorAsync(id, a)
}

func (r *BatchRun) runAnchorAsync(id string, a Anchor) {
	var reviewQ *ReviewQueue
	if r.input.EnableReview {
		reviewQ = r.review
	}
	attempts, err := runAnchor(r.anchorCtx, r.input.ExecuteAnchor, a, *r.input.MaxGenerateRetries+1, reviewQ, r.input.ModelVariant)

	payload := anchorResultPayload{anchorID: id, attempts: attempts, success: err == nil}
	if err != nil {
		payload.errMsg = err.Error()
		payload.cancelled = isCancelled(err)
	}
	r.events.Enqueue(event{kind: eventAnchorResult, anchorResult: payload})
}

// onAnchorResult applies a terminal anchor outcome, finalizes waves whose
// tasks are all now terminal, and propagates BLOCKED to dependents on failure.
func (r *BatchRun) onAnchorResult(p anchorResultPayload) {
	delete(r.running, p.anchorID)

	if p.cancelled {
		// Cancellation aborts an in-flight attempt; it is never recorded as a
		// task failure, and the run is already winding down.
		return
	}

	now := time.Now()
	a := r.state.Anchors[p.anchorID]
	a.Attempts = p.attempts
	a.FinishedAt = &now

	if p.success {
		a.Status = AnchorSuccess
		r.state.Anchors[p.anchorID] = a
		slog.Info("anchor succeeded", "anchor_id", p.anchorID, "attempts", p.attempts)
		r.aggregator.Touch(a.footprint(r.input.MapWidth, r.input.MapHeight), now)
	} else {
		a.Status = AnchorFailed
		a.Error = p.errMsg
		r.state.Anchors[p.anchorID] = a
		slog.Error("anchor failed", "anchor_id", p.anchorID, "attempts", p.attempts, "error", p.errMsg)
		r.propagateBlocked(p.anchorID)
	}

	r.finalizeWavesContaining(p.anchorID, now)
}

// propagateBlocked performs a breadth-first walk over a failed anchor's
// dependents, marking every non-terminal descendant BLOCKED. It is the only
// mechanism that marks anchors BLOCKED; no later pass re-checks for pending
// anchors this walk did not reach.
func (r *BatchRun) propagateBlocked(rootID string) {
	queue := append([]string(nil), r.state.Anchors[rootID].Dependents...)
	seen := make(map[string]struct{})
	blocked := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		a := r.state.Anchors[id]
		if a.Status == AnchorSuccess || a.Status == AnchorFailed || a.Status == AnchorBlocked {
			continue
		}
		a.Status = AnchorBlocked
		a.BlockedBy = rootID
		r.state.Anchors[id] = a
		blocked++
		queue = append(queue, a.Dependents...)
	}
	if blocked > 0 {
		slog.Warn("anchors blocked", "root_anchor_id", rootID, "blocked_count", blocked)
	}
}

// finalizeWavesContaining marks FinishedAt and outcome sets on any wave whose
// task set is now fully terminal.
func (r *BatchRun) finalizeWavesContaining(anchorID string, now time.Time) {
	for i := range r.state.Waves {
		w := &r.state.Waves[i]
		if !w.FinishedAt.IsZero() {
			continue
		}
		contains := false
		for _, id := range w.TaskIDs {
			if id == anchorID {
				contains = true
				break
			}
		}
		if !contains {
			continue
		}
		if !r.waveTerminal(w) {
			continue
		}
		w.FinishedAt = now
		w.SuccessIDs, w.FailedIDs, w.BlockedIDs = r.classifyWave(w.TaskIDs)
		r.aggregator.WaveCompleted()
	}
}

func (r *BatchRun) waveTerminal(w *Wave) bool {
	for _, id := range w.TaskIDs {
		switch r.state.Anchors[id].Status {
		case AnchorSuccess, AnchorFailed:
		default:
			return false
		}
	}
	return true
}

func (r *BatchRun) classifyWave(taskIDs []string) (success, failed, blocked []string) {
	for _, id := range taskIDs {
		switch r.state.Anchors[id].Status {
		case AnchorSuccess:
			success = append(success, id)
		case AnchorFailed:
			failed = append(failed, id)
		}
	}
	for id, a := range r.state.Anchors {
		if a.BlockedBy != "" {
			for _, t := range taskIDs {
				if a.BlockedBy == t {
					blocked = append(blocked, id)
				}
			}
		}
	}
	return success, failed, blocked
}

// tryFlushAggregator flushes dirty leaves into a new parent job when any
// flush policy is satisfied.
func (r *BatchRun) tryFlushAggregator() {
	if ok, _ := r.aggregator.ShouldFlush(time.Now()); !ok {
		return
	}
	tiles := r.aggregator.Flush()
	if len(tiles) == 0 {
		return
	}
	r.dispatchParentJob(tiles, *r.input.ParentCascadeDepth)
}

func (r *BatchRun) dispatchParentJob(tiles []Tile, maxLevels int) {
	job := ParentRefreshJob{
		ID:           r.idGen.Generate(),
		ChildZ:       r.input.Z,
		CurrentLevel: r.input.Z,
		MaxLevels:    maxLevels,
		LeafTiles:    tiles,
		Status:       ParentRunning,
	}
	r.state.ParentJobs = append(r.state.ParentJobs, job)
	r.pendingParentJobs++
	slog.Info("parent job queued", "job_id", job.ID, "child_z", job.ChildZ, "leaf_count", len(tiles))
	r.pool.Dispatch(job)
}

// onParentJobProgress applies a per-level progress report from a running
// parent job. Reported by the worker pool once per cascade level; never
// touches state directly from the worker goroutine itself.
func (r *BatchRun) onParentJobProgress(p parentJobProgressPayload) {
	for i := range r.state.ParentJobs {
		j := &r.state.ParentJobs[i]
		if j.ID == p.jobID {
			j.CurrentLevel = p.currentLevel
			break
		}
	}
}

func (r *BatchRun) onParentJobResult(p parentJobResultPayload) {
	r.pendingParentJobs--
	for i := range r.state.ParentJobs {
		j := &r.state.ParentJobs[i]
		if j.ID != p.jobID {
			continue
		}
		j.Attempts = p.attempts
		if p.success {
			j.Status = ParentSuccess
			slog.Info("parent job succeeded", "job_id", p.jobID, "attempts", p.attempts)
		} else {
			j.Status = ParentFailed
			if p.err != nil {
				j.Error = p.err.Error()
			}
			slog.Error("parent job failed", "job_id", p.jobID, "attempts", p.attempts, "fatal", p.fatal, "error", p.err)
		}
	}
	if !p.success && p.fatal {
		r.fatalErr = p.err
		r.cancelFunc()
	}
}

// checkCompletion transitions the run to COMPLETING once no anchor can make
// further progress, issues the final catch-up job if warranted, and then to
// a terminal status once every outstanding parent job has settled.
func (r *BatchRun) checkCompletion(ctx context.Context) {
	if r.fatalErr != nil && r.state.Status != RunCompleting {
		r.setStatus(RunCompleting)
	}

	if r.state.Status == RunRunning {
		if r.allAnchorsSettled() {
			r.setStatus(RunCompleting)
		}
	}

	if r.state.Status != RunCompleting {
		return
	}

	// Generation is finished: whatever hasn't crossed a debounce/wave/leaf
	// threshold yet is still sitting in pendingLeaves and would otherwise be
	// dropped. Drain it unconditionally, exactly once, before deciding
	// whether the separate final catch-up (which re-cascades the run's full
	// touched-leaf history) is also needed.
	if !r.completingFlushed {
		r.completingFlushed = true
		r.flushAggregatorForced()
	}

	if r.aggregator.NeedsFinalCatchup(*r.input.ParentCascadeDepth, r.input.Z) && r.pendingParentJobs == 0 && r.fatalErr == nil {
		tiles := r.aggregator.FinalCatchupTiles()
		if len(tiles) > 0 {
			r.dispatchParentJob(tiles, r.input.Z)
		}
	}

	if r.pendingParentJobs > 0 {
		return
	}

	switch {
	case r.fatalErr != nil:
		r.state.Error = r.fatalErr.Error()
		r.setStatus(RunFailed)
	case r.cancelRequestedLocked():
		r.setStatus(RunCancelled)
	default:
		r.setStatus(RunCompleted)
	}
}

// flushAggregatorForced drains any leaves still pending in the aggregator
// and dispatches them as a parent job, bypassing the debounce/wave/leaf
// thresholds. Distinct from NeedsFinalCatchup/FinalCatchupTiles, which
// re-cascades the run's entire touched-leaf history and is legitimately
// skippable when ordinary flushes already reached the pyramid top.
func (r *BatchRun) flushAggregatorForced() {
	if !r.aggregator.HasPending() {
		return
	}
	tiles := r.aggregator.Flush()
	if len(tiles) == 0 {
		return
	}
	slog.Info("aggregator flush", "reason", flushForced, "tile_count", len(tiles))
	r.dispatchParentJob(tiles, *r.input.ParentCascadeDepth)
}

// setStatus transitions run status and logs the change.
func (r *BatchRun) setStatus(status RunStatus) {
	if r.state.Status == status {
		return
	}
	r.state.Status = status
	slog.Info("batch run status changed", "run_id", r.state.RunID, "status", status)
}

func (r *BatchRun) allAnchorsSettled() bool {
	for _, a := range r.state.Anchors {
		if a.Status == AnchorPending || a.Status == AnchorRunning {
			return false
		}
	}
	return true
}

// beginCancellation marks the run as cancelling; in-flight runners observe
// ctx.Done() on their own and report cancelledError, which is never recorded
// as a task failure.
func (r *BatchRun) beginCancellation() {
	r.cancelledFlag = true
	if r.review != nil {
		r.review.CancelAll(ErrReviewCancelled)
	}
	if r.state.Status == RunRunning {
		r.setStatus(RunCompleting)
	}
}

func (r *BatchRun) cancelRequestedLocked() bool {
	return r.cancelledFlag
}

func (r *BatchRun) finalize() {
	r.pool.Shutdown()
	r.publish()
	close(r.doneCh)
}
