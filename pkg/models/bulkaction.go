package models

import "time"

// BulkActionType enumerates the kinds of batch mutation the audit log tracks.
type BulkActionType string

// Bulk action types.
const (
	BulkActionTag     BulkActionType = "tag"
	BulkActionArchive BulkActionType = "archive"
	BulkActionDelete  BulkActionType = "delete"
	BulkActionRestore BulkActionType = "restore"
)

// UndoWindow is how long after creation a BulkAction may still be undone.
const UndoWindow = 30 * time.Minute

// ChunkSnapshot is a single chunk's (status, tags) pair captured before a
// bulk mutation, sufficient to reverse it.
type ChunkSnapshot struct {
	ID     string
	Status ChunkStatus
	Tags   []string
}

// BulkAction is the audit-log entry for a batch mutation. Immutable except
// for Undone.
type BulkAction struct {
	ID             string
	ActionType     BulkActionType
	FilterUsed     ChunkFilter
	AffectedIDs    []string
	PreviousState  []ChunkSnapshot
	AffectedCount  int
	Undone         bool
	CreatedAt      time.Time
}

// CanUndo reports whether now is still within the undo window for the
// action, measured from its creation time.
func (b *BulkAction) CanUndo(now time.Time) bool {
	return !b.Undone && now.Sub(b.CreatedAt) <= UndoWindow
}
