package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// task is one unit of work flowing through the queue's channel.
type task struct {
	chunkID string
	enqueue time.Time
}

// Worker pulls tasks off the pool's shared channel and runs them through a
// Processor until Stop is called or the channel is drained and closed.
type Worker struct {
	id        string
	tasks     <-chan task
	processor Processor
	pool      *WorkerPool

	mu                sync.Mutex
	status            WorkerStatus
	currentChunkID    string
	chunksProcessed   int
	lastActivity      time.Time

	stopCh chan struct{}
	logger *slog.Logger
}

// NewWorker constructs a Worker reading from tasks.
func NewWorker(id string, tasks <-chan task, processor Processor, pool *WorkerPool) *Worker {
	return &Worker{
		id:        id,
		tasks:     tasks,
		processor: processor,
		pool:      pool,
		status:    WorkerStatusIdle,
		stopCh:    make(chan struct{}),
		logger:    slog.Default().With("component", "queue.Worker", "worker_id", id),
	}
}

// Start launches the worker's processing goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.pool.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to exit after finishing its current task. There
// are no automatic retries, but a task already claimed runs to completion.
func (w *Worker) Stop() {
	close(w.stopCh)
}

func (w *Worker) run(ctx context.Context) {
	defer w.pool.wg.Done()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case t, ok := <-w.tasks:
			if !ok {
				return
			}
			w.process(ctx, t)
		}
	}
}

func (w *Worker) process(ctx context.Context, t task) {
	w.mu.Lock()
	w.status = WorkerStatusWorking
	w.currentChunkID = t.chunkID
	w.mu.Unlock()

	w.pool.trackActive(t.chunkID, true)
	defer w.pool.trackActive(t.chunkID, false)

	if _, err := w.processor.ProcessChunk(ctx, t.chunkID); err != nil {
		w.logger.Error("chunk processing failed", "chunk_id", t.chunkID, "error", err, "wait_time", time.Since(t.enqueue))
	}

	w.mu.Lock()
	w.status = WorkerStatusIdle
	w.currentChunkID = ""
	w.chunksProcessed++
	w.lastActivity = time.Now()
	w.mu.Unlock()
}

// Health returns a snapshot of the worker's current state.
func (w *Worker) Health() WorkerHealth {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WorkerHealth{
		ID:              w.id,
		Status:          w.status,
		CurrentChunkID:  w.currentChunkID,
		ChunksProcessed: w.chunksProcessed,
		LastActivity:    w.lastActivity,
	}
}
