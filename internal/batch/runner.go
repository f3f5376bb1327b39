package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const maxBackoff = 15 * time.Second

// backoffForAttempt computes the sleep duration before retry attempt N
// (1-indexed) when no explicit retry-after hint was surfaced: an exponential
// backoff capped at maxBackoff.
func backoffForAttempt(attempt int) time.Duration {
	d := 500 * time.Millisecond
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// escalateVariant returns the next stronger model variant per the fixed
// escalation policy standard -> pro -> flash_preview, holding at
// flash_preview once reached since there is nothing stronger to try.
func escalateVariant(v ModelVariant) ModelVariant {
	switch v {
	case ModelStandard:
		return ModelPro
	case ModelPro:
		return ModelFlashPreview
	default:
		return ModelFlashPreview
	}
}

// sleepOrCancel sleeps for d, returning a cancellation error if ctx is done first.
func sleepOrCancel(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return &cancelledError{cause: err}
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return &cancelledError{cause: ctx.Err()}
	}
}

// runAnchor executes execute against anchor with retry/backoff, honoring an
// explicit RetryHint and otherwise falling back to exponential backoff. It
// returns nil on success, a *cancelledError if ctx was cancelled, or the
// final attempt's error once maxAttempts have been exhausted.
//
// review, when non-nil, gates each successful execution attempt behind a
// human decision: on ACCEPT the anchor is considered done; on REJECT the
// preview is discarded, the model variant is escalated per escalateVariant,
// and the attempt is treated as a retryable failure (still bounded by
// maxAttempts).
func runAnchor(ctx context.Context, execute ExecuteAnchorFunc, anchor Anchor, maxAttempts int, review *ReviewQueue, initialVariant ModelVariant) (attemptsUsed int, err error) {
	if execute == nil {
		return 0, NewCollaboratorMissingError("execute_anchor")
	}

	variant := initialVariant
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptsUsed = attempt

		if err := ctx.Err(); err != nil {
			return attemptsUsed, &cancelledError{cause: err}
		}

		result, execErr := execute(ctx, anchor, attempt, variant)
		if execErr == nil && review != nil {
			decision, reviewErr := review.Enqueue(result.Preview)
			if reviewErr != nil {
				return attemptsUsed, &cancelledError{cause: reviewErr}
			}
			if decision == ReviewReject {
				next := escalateVariant(variant)
				slog.Info("anchor preview rejected, escalating model variant", "anchor_id", anchor.ID, "attempt", attempt, "from_variant", variant, "to_variant", next)
				variant = next
				execErr = fmt.Errorf("anchor %s: preview rejected on attempt %d", anchor.ID, attempt)
			}
		}

		if execErr == nil {
			slog.Debug("anchor execute succeeded", "anchor_id", anchor.ID, "attempt", attempt)
			return attemptsUsed, nil
		}
		if isCancelled(execErr) {
			slog.Debug("anchor execute cancelled", "anchor_id", anchor.ID, "attempt", attempt)
			return attemptsUsed, execErr
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			slog.Debug("anchor execute cancelled", "anchor_id", anchor.ID, "attempt", attempt)
			return attemptsUsed, &cancelledError{cause: ctxErr}
		}

		lastErr = execErr
		if attempt == maxAttempts {
			slog.Warn("anchor exhausted retries", "anchor_id", anchor.ID, "attempts", attempt, "error", execErr)
			break
		}

		var wait time.Duration
		if hint, ok := retryAfterHint(execErr); ok {
			wait = hint
		} else {
			wait = backoffForAttempt(attempt)
		}
		slog.Debug("anchor execute failed, retrying", "anchor_id", anchor.ID, "attempt", attempt, "wait", wait, "error", execErr)
		if sleepErr := sleepOrCancel(ctx, wait); sleepErr != nil {
			return attemptsUsed, sleepErr
		}
	}

	return attemptsUsed, lastErr
}
