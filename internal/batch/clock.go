package batch

import "sync/atomic"

// logicalClock is a monotonic counter used to assign strictly increasing
// wave indices. It never observes wall-clock time.
type logicalClock struct {
	seq atomic.Int64
}

func newLogicalClock() *logicalClock {
	return &logicalClock{}
}

// Next returns the next value, starting from 1.
func (c *logicalClock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last value returned by Next, or 0 if Next was never called.
func (c *logicalClock) Current() int64 {
	return c.seq.Load()
}
