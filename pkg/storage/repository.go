package storage

import (
	"context"
	"time"

	"github.com/earchibald/komorebi-sub001/pkg/models"
)

// ChunkRepository is the storage contract for Chunk operations.
// Content is immutable once created; Update must reject attempts to change
// it and attempts to regress Status (see models.ChunkStatus.Regresses),
// returning a *ConflictError in both cases.
type ChunkRepository interface {
	CreateChunk(ctx context.Context, draft models.ChunkDraft) (*models.Chunk, error)
	GetChunk(ctx context.Context, id string) (*models.Chunk, error)
	UpdateChunk(ctx context.Context, id string, patch models.ChunkPatch) (*models.Chunk, error)
	ListChunks(ctx context.Context, filter models.ChunkFilter, limit, offset int) ([]*models.Chunk, int, error)
	SearchChunks(ctx context.Context, filter models.ChunkFilter, limit, offset int) ([]*models.Chunk, int, error)

	// GetAllContent returns every chunk in a project whose status is one
	// of statuses (every status when statuses is empty), in stable
	// creation order, for the compactor's map-reduce input.
	GetAllContent(ctx context.Context, projectID string, statuses []models.ChunkStatus) ([]*models.Chunk, error)

	// CountByStatus reports how many chunks in a project are at each
	// status.
	CountByStatus(ctx context.Context, projectID string) (map[models.ChunkStatus]int, error)

	// OldestInbox returns the oldest chunk still at inbox status across
	// all projects (a *NotFoundError if there is none), used by the orphan
	// re-eligibility scan.
	OldestInbox(ctx context.Context) (*models.Chunk, error)
}

// ProjectRepository is the storage contract for Project operations.
type ProjectRepository interface {
	CreateProject(ctx context.Context, draft models.ProjectDraft) (*models.Project, error)
	GetProject(ctx context.Context, id string) (*models.Project, error)
	UpdateProject(ctx context.Context, id string, patch models.ProjectPatch) (*models.Project, error)
	ListProjects(ctx context.Context, limit, offset int) ([]*models.Project, error)
}

// EntityRepository is the storage contract for Entity operations.
// Entities are immutable once persisted and cascade-delete with their
// owning chunk.
type EntityRepository interface {
	BulkCreateEntities(ctx context.Context, drafts []models.EntityDraft) ([]*models.Entity, error)
	ListEntitiesByProject(ctx context.Context, projectID string, filter models.EntityFilter, limit, offset int) ([]*models.Entity, error)
}

// BulkActionRepository is the storage contract for the bulk-op audit log
// and undo mechanism.
type BulkActionRepository interface {
	RecordBulkAction(ctx context.Context, action models.BulkAction) (*models.BulkAction, error)
	GetBulkAction(ctx context.Context, id string) (*models.BulkAction, error)
	MarkBulkActionUndone(ctx context.Context, id string) error

	// ApplyChunkMutations atomically applies a batch of per-chunk status
	// and tag changes, used by both the bulk operation itself and its
	// undo (restoring the PreviousState snapshot). Implementations must
	// run this in a single transaction.
	ApplyChunkMutations(ctx context.Context, mutations []ChunkMutation) error
}

// ChunkMutation is one chunk's new (status, tags) pair, applied atomically
// alongside its siblings by ApplyChunkMutations.
type ChunkMutation struct {
	ChunkID string
	Status  models.ChunkStatus
	Tags    []string
}

// CompactionApplier commits a completed reduce pass atomically: the
// project's new rolling summary and compaction bookkeeping, together with
// every included chunk's transition to compacted. spec.md §9 resolves the
// corresponding Open Question by requiring these as one logical commit —
// a partial failure must never leave the project advanced while some
// chunks are left behind at processed. Both MemoryRepository and
// PostgresRepository implement it; the latter wraps it in a real
// transaction, the same pattern ApplyChunkMutations uses for bulk ops.
type CompactionApplier interface {
	ApplyCompaction(ctx context.Context, projectID, summary string, at time.Time, chunkIDs []string) (*models.Project, error)
}

// Repository aggregates every storage contract Komorebi depends on. A
// single implementation backs all of them so bulk operations and the
// compactor can share one transaction boundary.
type Repository interface {
	ChunkRepository
	ProjectRepository
	EntityRepository
	BulkActionRepository
	CompactionApplier

	// Ping reports whether the backing store is currently reachable, for
	// /healthz.
	Ping(ctx context.Context) error

	Close() error
}
