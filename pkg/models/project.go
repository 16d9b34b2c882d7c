package models

import "time"

// MaxCompactionDepth caps Project.CompactionDepth. Overridable at
// startup via the MAX_COMPACTION_DEPTH environment variable, but a single
// Project's depth never exceeds whatever cap is active for the process.
const MaxCompactionDepth = 3

// Project groups related chunks and carries their rolling top-level summary.
type Project struct {
	ID                string
	Name              string
	Description       string
	ContextSummary    *string
	CompactionDepth   int
	LastCompactionAt  *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ProjectDraft is the input to projects.create.
type ProjectDraft struct {
	Name        string
	Description string
}

// ProjectPatch is a partial update to a Project.
type ProjectPatch struct {
	Name           *string
	Description    *string
	ContextSummary *string
}

// MaxNameLength is the Project.Name length cap.
const MaxNameLength = 255
