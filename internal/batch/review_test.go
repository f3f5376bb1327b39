package batch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReviewQueue_SingleItemAcceptImmediately(t *testing.T) {
	q := NewReviewQueue()

	var decision ReviewDecision
	var err error
	done := make(chan struct{})
	go func() {
		decision, err = q.Enqueue("payload-1")
		close(done)
	}()

	require.Eventually(t, func() bool {
		p, ok := q.Active()
		return ok && p == "payload-1"
	}, time.Second, time.Millisecond)

	require.NoError(t, q.ResolveActive(ReviewAccept))
	<-done

	assert.NoError(t, err)
	assert.Equal(t, ReviewAccept, decision)
}

func TestReviewQueue_FIFOOrder(t *testing.T) {
	q := NewReviewQueue()

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup

	for _, payload := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			q.Enqueue(p)
			mu.Lock()
			order = append(order, p)
			mu.Unlock()
		}(payload)
		// Stagger submission so enqueue order is deterministic for this test.
		time.Sleep(5 * time.Millisecond)
	}

	for i := 0; i < 3; i++ {
		require.Eventually(t, func() bool {
			_, ok := q.Active()
			return ok
		}, time.Second, time.Millisecond)
		require.NoError(t, q.ResolveActive(ReviewAccept))
		// Wait for the settled waiter to record itself before resolving the
		// next item, so order reflects settle order, not goroutine wake-up order.
		want := i + 1
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(order) == want
		}, time.Second, time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestReviewQueue_CancelAllRejectsPendingAndActive(t *testing.T) {
	q := NewReviewQueue()

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := q.Enqueue("x")
			results <- err
		}()
	}

	require.Eventually(t, func() bool {
		_, ok := q.Active()
		return ok
	}, time.Second, time.Millisecond)

	sentinel := assert.AnError
	q.CancelAll(sentinel)

	for i := 0; i < 2; i++ {
		err := <-results
		assert.ErrorIs(t, err, sentinel)
	}

	_, err := q.Enqueue("late")
	assert.ErrorIs(t, err, sentinel)
}

func TestReviewQueue_CancelAllIsIdempotent(t *testing.T) {
	q := NewReviewQueue()
	q.CancelAll(nil)
	q.CancelAll(assert.AnError)

	_, err := q.Enqueue("x")
	assert.ErrorIs(t, err, ErrReviewCancelled)
}

func TestReviewQueue_ResolveActiveWithNoneReturnsError(t *testing.T) {
	q := NewReviewQueue()
	assert.Error(t, q.ResolveActive(ReviewAccept))
}
