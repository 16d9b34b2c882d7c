package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/earchibald/komorebi-sub001/pkg/models"
	"github.com/earchibald/komorebi-sub001/pkg/storage"
)

// DefaultCapacity is the default buffered channel size.
const DefaultCapacity = 10000

// DefaultWorkerCount is the default number of worker goroutines.
const DefaultWorkerCount = 4

// EnqueueBlockWindow is how long Enqueue waits for room in the channel
// before giving up with ErrQueueFull.
const EnqueueBlockWindow = 50 * time.Millisecond

// GracefulShutdownWindow is how long Stop waits for in-flight chunks to
// finish before returning anyway.
const GracefulShutdownWindow = 30 * time.Second

// OrphanGracePeriod is how long a chunk may sit at inbox before the
// startup scan logs it as re-eligible. No automatic re-enqueue happens.
const OrphanGracePeriod = 10 * time.Minute

// Config tunes the worker pool.
type Config struct {
	WorkerCount int
	Capacity    int
}

// WorkerPool is the in-process bounded FIFO queue plus its worker
// goroutines. Work enters via Enqueue and is never persisted: a process
// restart drops whatever was in flight, by design.
type WorkerPool struct {
	cfg       Config
	processor Processor
	chunks    storage.ChunkRepository

	tasks   chan task
	workers []*Worker

	mu           sync.RWMutex
	started      bool
	activeChunks map[string]bool

	stopOnce sync.Once
	wg       sync.WaitGroup

	orphanMu        sync.Mutex
	lastOrphanScan  time.Time
	orphansDetected int

	logger *slog.Logger
}

// NewWorkerPool constructs a WorkerPool. chunks is used only by the
// startup orphan-eligibility scan, not by Enqueue/dequeue itself.
func NewWorkerPool(cfg Config, processor Processor, chunks storage.ChunkRepository) *WorkerPool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultWorkerCount
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	return &WorkerPool{
		cfg:          cfg,
		processor:    processor,
		chunks:       chunks,
		tasks:        make(chan task, cfg.Capacity),
		activeChunks: make(map[string]bool),
		logger:       slog.Default().With("component", "queue.WorkerPool"),
	}
}

// Start spawns worker goroutines and runs the startup orphan scan. Safe to
// call more than once; later calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		p.logger.Warn("worker pool already started, ignoring duplicate start")
		return
	}
	p.started = true
	p.mu.Unlock()

	p.logger.Info("starting worker pool", "worker_count", p.cfg.WorkerCount, "capacity", p.cfg.Capacity)

	for i := 0; i < p.cfg.WorkerCount; i++ {
		w := NewWorker(fmt.Sprintf("worker-%d", i), p.tasks, p.processor, p)
		p.workers = append(p.workers, w)
		w.Start(ctx)
	}

	p.scanOrphans(ctx)
}

// Stop signals every worker to stop after finishing its current task and
// waits up to GracefulShutdownWindow for them to drain.
func (p *WorkerPool) Stop() {
	p.logger.Info("stopping worker pool")

	for _, w := range p.workers {
		w.Stop()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-time.After(GracefulShutdownWindow):
		p.logger.Warn("worker pool stop exceeded graceful shutdown window, returning anyway")
	}
}

// Enqueue adds a chunk id to the queue. Blocks up to EnqueueBlockWindow for
// room before returning ErrQueueFull.
func (p *WorkerPool) Enqueue(ctx context.Context, chunkID string) error {
	t := task{chunkID: chunkID, enqueue: time.Now()}

	select {
	case p.tasks <- t:
		return nil
	default:
	}

	timer := time.NewTimer(EnqueueBlockWindow)
	defer timer.Stop()

	select {
	case p.tasks <- t:
		return nil
	case <-timer.C:
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *WorkerPool) trackActive(chunkID string, active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if active {
		p.activeChunks[chunkID] = true
	} else {
		delete(p.activeChunks, chunkID)
	}
}

// scanOrphans logs (but never re-enqueues) the oldest chunk at inbox
// status if it has sat there longer than OrphanGracePeriod; other inbox
// chunks are not examined, so one scan adds at most one to
// orphansDetected. With no durable queue, there's nothing to recover
// into — only something to flag.
func (p *WorkerPool) scanOrphans(ctx context.Context) {
	p.orphanMu.Lock()
	p.lastOrphanScan = time.Now()
	p.orphanMu.Unlock()

	if p.chunks == nil {
		return
	}

	oldest, err := p.chunks.OldestInbox(ctx)
	if err != nil {
		return
	}

	if time.Since(oldest.CreatedAt) > OrphanGracePeriod {
		p.orphanMu.Lock()
		p.orphansDetected++
		p.orphanMu.Unlock()
		p.logger.Warn("chunk past orphan grace period, re-eligible for processing",
			"chunk_id", oldest.ID, "age", time.Since(oldest.CreatedAt), "status", models.ChunkStatusInbox)
	}
}

// Health returns a snapshot of the pool's current state for /healthz.
func (p *WorkerPool) Health() PoolHealth {
	stats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, w := range p.workers {
		h := w.Health()
		stats[i] = h
		if h.Status == WorkerStatusWorking {
			activeWorkers++
		}
	}

	p.orphanMu.Lock()
	lastScan := p.lastOrphanScan
	orphans := p.orphansDetected
	p.orphanMu.Unlock()

	return PoolHealth{
		IsHealthy:       len(p.workers) > 0,
		ActiveWorkers:   activeWorkers,
		TotalWorkers:    len(p.workers),
		QueueDepth:      len(p.tasks),
		QueueCapacity:   p.cfg.Capacity,
		WorkerStats:     stats,
		LastOrphanScan:  lastScan,
		OrphansDetected: orphans,
	}
}
