package models

import "time"

// EntityType enumerates the structured fact kinds the extractor produces.
type EntityType string

// Entity type values.
const (
	EntityTypeError    EntityType = "ERROR"
	EntityTypeURL      EntityType = "URL"
	EntityTypeToolID   EntityType = "TOOL_ID"
	EntityTypeDecision EntityType = "DECISION"
	EntityTypeCodeRef  EntityType = "CODE_REF"
)

// MinConfidence is the extraction threshold for LLM-sourced entities.
const MinConfidence = 0.6

// MinConfidenceFallback is the lower threshold the regex fallback applies
// when the LLM is unavailable. There is no switch for it: the fallback path
// always uses it.
const MinConfidenceFallback = 0.5

// Entity is a structured fact extracted from a chunk. Entities are
// immutable once written and cascade-delete with their owning chunk.
type Entity struct {
	ID         string
	ChunkID    string
	ProjectID  string
	Type       EntityType
	Value      string
	Context    string
	Confidence float64
	CreatedAt  time.Time
}

// EntityDraft is a candidate entity prior to persistence.
type EntityDraft struct {
	ChunkID    string
	ProjectID  string
	Type       EntityType
	Value      string
	Context    string
	Confidence float64
}

// EntityFilter narrows entities.list_by_project.
type EntityFilter struct {
	Type          *EntityType
	MinConfidence *float64
	Since         *time.Time
}

// MaxContextWindow bounds the context snippet around a matched entity.
const MaxContextWindow = 100
