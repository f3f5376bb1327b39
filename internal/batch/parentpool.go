package batch

import (
	"context"
	"log/slog"
)

// parentDispatch is one job handed from the owner to an idle parent worker.
// Workers never touch BatchRun state directly; they call refresh and report
// the terminal outcome back through results.
type parentDispatch struct {
	job ParentRefreshJob
}

// parentWorkerPool runs N goroutines that each cascade one ParentRefreshJob
// upward through zoom levels, retrying each level's refresh call up to
// maxAttempts times before treating the job as fatally exhausted.
type parentWorkerPool struct {
	ctx         context.Context
	refresh     RefreshParentLevelFunc
	maxAttempts int
	jobCh       chan parentDispatch
	results     *eventQueue
}

func newParentWorkerPool(ctx context.Context, refresh RefreshParentLevelFunc, concurrency, maxAttempts int, results *eventQueue) *parentWorkerPool {
	p := &parentWorkerPool{
		ctx:         ctx,
		refresh:     refresh,
		maxAttempts: maxAttempts,
		jobCh:       make(chan parentDispatch, concurrency),
		results:     results,
	}
	for i := 0; i < concurrency; i++ {
		go p.worker()
	}
	return p
}

// Dispatch hands a job to the pool. Must only be called by the owner
// goroutine, and only after the pool's jobCh has not been closed.
func (p *parentWorkerPool) Dispatch(job ParentRefreshJob) {
	p.jobCh <- parentDispatch{job: job}
}

// Shutdown closes the dispatch channel, causing every worker to exit once it
// drains any in-flight job. Safe to call once, from the owner goroutine.
func (p *parentWorkerPool) Shutdown() {
	close(p.jobCh)
}

func (p *parentWorkerPool) worker() {
	for dispatch := range p.jobCh {
		p.runJob(dispatch.job)
	}
}

// runJob cascades one job upward from ChildZ through MaxLevels, retrying the
// per-level refresh call with backoff. It reports exactly one terminal event.
func (p *parentWorkerPool) runJob(job ParentRefreshJob) {
	ctx := p.ctx
	childTiles := job.LeafTiles
	childZ := job.ChildZ

	slog.Info("parent job started", "job_id", job.ID, "child_z", childZ, "leaf_count", len(childTiles), "max_levels", job.MaxLevels)

	maxLevelAttempts := 0
	for level := 0; level < job.MaxLevels; level++ {
		p.results.Enqueue(event{kind: eventParentJobProgress, parentProgress: parentJobProgressPayload{
			jobID: job.ID, currentLevel: childZ,
		}})

		result, attempts, err := p.refreshLevelWithRetry(ctx, childZ, childTiles)
		if attempts > maxLevelAttempts {
			maxLevelAttempts = attempts
		}
		if err != nil {
			if isCancelled(err) {
				slog.Info("parent job cancelled", "job_id", job.ID, "level", childZ, "attempts", attempts)
				p.results.Enqueue(event{kind: eventParentJobResult, parentResult: parentJobResultPayload{
					jobID: job.ID, attempts: attempts, success: false, fatal: false, err: err,
				}})
				return
			}
			slog.Error("parent job exhausted retries", "job_id", job.ID, "level", childZ, "attempts", attempts, "error", err)
			p.results.Enqueue(event{kind: eventParentJobResult, parentResult: parentJobResultPayload{
				jobID: job.ID, attempts: attempts, success: false, fatal: true,
				err: NewParentExhaustedError(job.ID, attempts, err),
			}})
			return
		}
		if len(result.ParentTiles) == 0 {
			break
		}
		childTiles = result.ParentTiles
		childZ--
		if childZ <= 0 {
			break
		}
	}

	slog.Info("parent job succeeded", "job_id", job.ID, "final_level", childZ)
	p.results.Enqueue(event{kind: eventParentJobResult, parentResult: parentJobResultPayload{
		jobID: job.ID, attempts: maxLevelAttempts, success: true,
	}})
}

// refreshLevelWithRetry retries a single cascade step up to p.maxAttempts times.
func (p *parentWorkerPool) refreshLevelWithRetry(ctx context.Context, childZ int, childTiles []Tile) (ParentLevelResult, int, error) {
	if p.refresh == nil {
		return ParentLevelResult{}, 0, NewCollaboratorMissingError("refresh_parent_level")
	}

	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		result, err := p.refresh(ctx, ParentLevelRequest{ChildZ: childZ, ChildTiles: childTiles})
		if err == nil {
			return result, attempt, nil
		}
		if isCancelled(err) {
			return ParentLevelResult{}, attempt, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ParentLevelResult{}, attempt, &cancelledError{cause: ctxErr}
		}
		lastErr = err
		if attempt == p.maxAttempts {
			break
		}
		var wait = backoffForAttempt(attempt)
		if hint, ok := retryAfterHint(err); ok {
			wait = hint
		}
		slog.Warn("parent level refresh failed, retrying", "level", childZ, "attempt", attempt, "wait", wait, "error", err)
		if sleepErr := sleepOrCancel(ctx, wait); sleepErr != nil {
			return ParentLevelResult{}, attempt, sleepErr
		}
	}
	return ParentLevelResult{}, p.maxAttempts, lastErr
}
