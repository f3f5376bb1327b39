package batch

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrReviewCancelled is returned to every pending and future review item
// once CancelAll has been called.
var ErrReviewCancelled = errors.New("batch: review queue cancelled")

// reviewItem is one pending review request.
type reviewItem struct {
	payload  interface{}
	settleCh chan reviewOutcome
}

type reviewOutcome struct {
	decision ReviewDecision
	err      error
}

// ReviewQueue is a single-active-at-a-time FIFO gate between anchor
// generation and acceptance. Exactly one item is active at a time; every
// enqueued item eventually settles exactly once.
type ReviewQueue struct {
	mu        sync.Mutex
	pending   []*reviewItem
	active    *reviewItem
	cancelled bool
	reason    error
}

// NewReviewQueue creates an empty, uncancelled review queue.
func NewReviewQueue() *ReviewQueue {
	return &ReviewQueue{}
}

// Enqueue submits payload for review and blocks until it is resolved via
// ResolveActive or the queue is cancelled. A newly enqueued item becomes
// active immediately if the queue is idle.
func (q *ReviewQueue) Enqueue(payload interface{}) (ReviewDecision, error) {
	q.mu.Lock()
	if q.cancelled {
		reason := q.reason
		q.mu.Unlock()
		return "", reason
	}

	item := &reviewItem{payload: payload, settleCh: make(chan reviewOutcome, 1)}
	if q.active == nil {
		q.active = item
		slog.Debug("review item became active", "pending", len(q.pending))
	} else {
		q.pending = append(q.pending, item)
		slog.Debug("review item queued", "pending", len(q.pending))
	}
	q.mu.Unlock()

	outcome := <-item.settleCh
	return outcome.decision, outcome.err
}

// ResolveActive settles the currently active item with decision and promotes
// the next pending item (if any) to active.
func (q *ReviewQueue) ResolveActive(decision ReviewDecision) error {
	q.mu.Lock()
	if q.active == nil {
		q.mu.Unlock()
		return errors.New("batch: no active review item")
	}
	item := q.active
	if len(q.pending) > 0 {
		q.active, q.pending = q.pending[0], q.pending[1:]
	} else {
		q.active = nil
	}
	q.mu.Unlock()

	slog.Info("review item settled", "decision", decision)
	item.settleCh <- reviewOutcome{decision: decision}
	return nil
}

// Active reports whether an item is currently active, and its payload.
func (q *ReviewQueue) Active() (interface{}, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active == nil {
		return nil, false
	}
	return q.active.payload, true
}

// PendingLen returns the number of items waiting behind the active one.
func (q *ReviewQueue) PendingLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// CancelAll rejects the active item and every pending item with reason, and
// causes subsequent Enqueue calls to reject immediately. Idempotent: calling
// it again with a different reason has no further effect once cancelled.
func (q *ReviewQueue) CancelAll(reason error) {
	if reason == nil {
		reason = ErrReviewCancelled
	}
	q.mu.Lock()
	if q.cancelled {
		q.mu.Unlock()
		return
	}
	q.cancelled = true
	q.reason = reason
	active := q.active
	pending := q.pending
	q.active = nil
	q.pending = nil
	q.mu.Unlock()

	rejected := len(pending)
	if active != nil {
		rejected++
	}
	slog.Warn("review queue cancelled", "reason", reason, "rejected", rejected)

	if active != nil {
		active.settleCh <- reviewOutcome{err: reason}
	}
	for _, item := range pending {
		item.settleCh <- reviewOutcome{err: reason}
	}
}
