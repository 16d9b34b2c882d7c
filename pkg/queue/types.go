package queue

import (
	"context"
	"time"

	"github.com/earchibald/komorebi-sub001/pkg/models"
)

// Processor processes a single enqueued chunk. Implemented in production
// wiring by cmd/komorebi's processingPipeline, which wraps
// pkg/compactor.Compactor.ProcessChunk.
type Processor interface {
	ProcessChunk(ctx context.Context, chunkID string) (*models.Chunk, error)
}

// WorkerStatus is a worker's current activity state.
type WorkerStatus string

// Worker status values.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// PoolHealth summarizes the worker pool for /healthz.
type PoolHealth struct {
	IsHealthy        bool
	ActiveWorkers    int
	TotalWorkers     int
	QueueDepth       int
	QueueCapacity    int
	WorkerStats      []WorkerHealth
	LastOrphanScan   time.Time
	OrphansDetected  int
}

// WorkerHealth summarizes a single worker.
type WorkerHealth struct {
	ID              string
	Status          WorkerStatus
	CurrentChunkID  string
	ChunksProcessed int
	LastActivity    time.Time
}
