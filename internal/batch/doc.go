// Package batch implements the batch anchor scheduler: a dependency-ordered,
// concurrent engine that expands an origin tile into overlapping 3x3 anchor
// edits over a 2D tile grid and drives them to completion.
//
// ARCHITECTURE:
//
// Single-Writer Owner Loop:
// A BatchRun owns all mutable state (anchors, waves, parent jobs, aggregator
// sets, run status) and mutates it from exactly one goroutine. Concurrency is
// expressed by spawning cooperative goroutines for anchor execution and
// parent-level refresh; those goroutines report results back to the owner
// through an event queue instead of mutating state themselves.
//
// Event Processing Flow:
//  1. Events (anchor results, parent job progress and results, poll ticks)
//     land on a FIFO queue; cancellation is observed through the run's
//     context rather than queued as an event.
//  2. The owner's loop dequeues one event at a time.
//  3. Handling an event may mark anchors terminal, propagate BLOCKED status,
//     mark tiles dirty, flush a parent job, or transition run status.
//  4. After every mutation the owner recomputes progress counters and hands a
//     deep-copied snapshot to the observer.
//
// The owner loop is designed for correctness and determinism, not raw
// throughput: wave numbering and overlap exclusion both depend on the
// single-writer discipline holding everywhere.
package batch
