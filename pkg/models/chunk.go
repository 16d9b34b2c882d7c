// Package models holds the core Komorebi data types: Chunk, Project, Entity,
// and BulkAction. These are plain structs shared by storage, capture, the
// compactor, and the entity extractor — no persistence-technology concerns
// live here.
package models

import "time"

// ChunkStatus is the lifecycle status of a Chunk. Transitions are monotonic
// except for explicit undo via the bulk-action audit log.
type ChunkStatus string

// Chunk status values, in their normal forward progression.
const (
	ChunkStatusInbox     ChunkStatus = "inbox"
	ChunkStatusProcessed ChunkStatus = "processed"
	ChunkStatusCompacted ChunkStatus = "compacted"
	ChunkStatusArchived  ChunkStatus = "archived"
	ChunkStatusDeleted   ChunkStatus = "deleted"
)

// statusRank gives the monotonic ordering used to detect regressions.
var statusRank = map[ChunkStatus]int{
	ChunkStatusInbox:     0,
	ChunkStatusProcessed: 1,
	ChunkStatusCompacted: 2,
	ChunkStatusArchived:  3,
	ChunkStatusDeleted:   4,
}

// Regresses reports whether moving from s to next would violate the
// monotonic status invariant (content is immutable, status never decreases
// except through an explicit audit-log undo, which bypasses this check).
func (s ChunkStatus) Regresses(next ChunkStatus) bool {
	return statusRank[next] < statusRank[s]
}

// Valid reports whether s is a known chunk status.
func (s ChunkStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Chunk is the atomic captured unit: text plus metadata.
type Chunk struct {
	ID          string
	Content     string
	Summary     *string
	ProjectID   *string
	Status      ChunkStatus
	Tags        []string
	Source      *string
	TokenCount  *int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	TraceID     *string
}

// ChunkDraft is the input to Capture: only the fields a caller may set.
type ChunkDraft struct {
	Content   string
	ProjectID *string
	Tags      []string
	Source    *string
	TraceID   *string
}

// ChunkPatch is a partial update to a Chunk. Nil fields are left unchanged.
// Updating Content or regressing Status is forbidden by the repository.
type ChunkPatch struct {
	Summary    *string
	ProjectID  *string
	Status     *ChunkStatus
	Tags       *[]string
	Source     *string
	TokenCount *int
}

// ChunkFilter narrows chunks.list / chunks.search results.
type ChunkFilter struct {
	Status          *ChunkStatus
	ProjectID       *string
	EntityType      *EntityType
	EntityValue     *string
	CreatedAfter    *time.Time
	CreatedBefore   *time.Time
	Query           string // substring match over content/summary, case-insensitive
}

// ChunkSort selects the stable ordering used by chunks.list/search.
// The repository contract fixes this to created_at desc, id desc; it is
// modeled as a type so future sort fields don't require a signature change.
type ChunkSort struct {
	// Reserved for future extension; only a single stable order is defined today.
}
