// Package queue implements the in-process bounded work queue and worker
// pool that drives chunk processing after capture. Work is held in a plain
// buffered Go channel rather than a durable, cross-restart queue, so there
// is nothing to claim from on restart. The Worker/WorkerPool lifecycle —
// Start/Stop, per-worker health snapshots, graceful shutdown — follows a
// familiar pattern for bounded in-process work queues.
package queue

import "errors"

// ErrQueueFull is returned by Enqueue when the channel buffer is full and
// stays full past the short blocking window.
var ErrQueueFull = errors.New("queue: full")
