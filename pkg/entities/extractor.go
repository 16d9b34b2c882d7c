// Package entities implements the Entity Extractor: LLM-backed
// structured fact extraction from chunk content, with a regex fallback
// when the LLM is unavailable.
package entities

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"regexp"
	"strings"

	"github.com/earchibald/komorebi-sub001/pkg/events"
	"github.com/earchibald/komorebi-sub001/pkg/llmclient"
	"github.com/earchibald/komorebi-sub001/pkg/models"
	"github.com/earchibald/komorebi-sub001/pkg/storage"
)

// extractionSchema is the JSON shape the LLM is asked to return.
type extractionSchema struct {
	Errors       []string `json:"errors"`
	URLs         []string `json:"urls"`
	ToolIDs      []string `json:"tool_ids"`
	SemanticTags []string `json:"semantic_tags"`
}

var (
	urlPattern   = regexp.MustCompile(`https?://[^\s)\]}"']+`)
	errorPattern = regexp.MustCompile(`(?i)\b(?:error|exception|failed|failure|panic)[:\s][^\n]{0,200}`)
	toolIDPattern = regexp.MustCompile(`\b[a-z][a-z0-9_]*\.[a-z][a-z0-9_]*\b`)
)

// Extractor extracts entities from chunk content and persists them.
type Extractor struct {
	repo storage.EntityRepository
	llm  *llmclient.Client
	bus  *events.Bus

	logger *slog.Logger
}

// NewExtractor constructs an Extractor. bus may be nil if event
// publication isn't needed (e.g. in isolated tests).
func NewExtractor(repo storage.EntityRepository, llm *llmclient.Client, bus *events.Bus) *Extractor {
	return &Extractor{
		repo:   repo,
		llm:    llm,
		bus:    bus,
		logger: slog.Default().With("component", "entities.Extractor"),
	}
}

// Extract produces and persists entities for a chunk's content, preferring
// the LLM's JSON-mode extraction and falling back to regex matching when
// the LLM is unavailable or returns an unparseable response.
// The confidence floor drops from MinConfidence to MinConfidenceFallback
// only in the fallback path, since regex matches carry no model-assigned
// confidence score of their own.
func (x *Extractor) Extract(ctx context.Context, chunk *models.Chunk) ([]*models.Entity, error) {
	if chunk.ProjectID == nil {
		x.logger.Debug("skipping extraction for chunk with no project", "chunk_id", chunk.ID)
		return nil, nil
	}

	drafts := x.extractViaLLM(ctx, chunk)
	usedFallback := false
	if drafts == nil {
		drafts = x.extractViaRegex(chunk)
		usedFallback = true
	}

	drafts = dedupeDrafts(drafts)
	if len(drafts) == 0 {
		return nil, nil
	}

	created, err := x.repo.BulkCreateEntities(ctx, drafts)
	if err != nil {
		return nil, err
	}

	if x.bus != nil {
		counts := make(map[models.EntityType]int)
		for _, e := range created {
			counts[e.Type]++
		}
		x.bus.Publish(models.ChunkEvent{
			Type:      models.EventEntitiesExtracted,
			ChunkID:   chunk.ID,
			ProjectID: *chunk.ProjectID,
			Payload:   models.EntitiesExtractedPayload{CountsByType: counts},
		})
	}

	x.logger.Info("extracted entities", "chunk_id", chunk.ID, "count", len(created), "fallback", usedFallback)
	return created, nil
}

func (x *Extractor) extractViaLLM(ctx context.Context, chunk *models.Chunk) []models.EntityDraft {
	if x.llm == nil || !x.llm.Available(ctx) {
		return nil
	}

	raw, err := x.llm.ExtractEntitiesRaw(ctx, chunk.Content)
	if err != nil {
		if !errors.Is(err, llmclient.ErrUnavailable) && !errors.Is(err, llmclient.ErrTimeout) {
			x.logger.Warn("llm extraction returned an error", "chunk_id", chunk.ID, "error", err)
		}
		return nil
	}

	var schema extractionSchema
	if err := json.Unmarshal([]byte(raw), &schema); err != nil {
		x.logger.Warn("llm extraction response was not valid JSON, falling back", "chunk_id", chunk.ID)
		return nil
	}

	var drafts []models.EntityDraft
	add := func(t models.EntityType, value string) {
		drafts = append(drafts, models.EntityDraft{
			ChunkID:    chunk.ID,
			ProjectID:  *chunk.ProjectID,
			Type:       t,
			Value:      value,
			Context:    contextWindow(chunk.Content, value),
			Confidence: models.MinConfidence,
		})
	}
	for _, e := range schema.Errors {
		add(models.EntityTypeError, e)
	}
	for _, u := range schema.URLs {
		add(models.EntityTypeURL, u)
	}
	for _, id := range schema.ToolIDs {
		add(models.EntityTypeToolID, id)
	}
	for _, tag := range schema.SemanticTags {
		add(models.EntityTypeDecision, tag)
	}

	return filterByConfidence(drafts, models.MinConfidence)
}

// Regex fallback confidences per spec.md §9: URL matches are near-certain
// (0.95); the ERROR heuristic is a loose stack-trace-shaped pattern (0.5,
// below MinConfidence — callers in fallback mode lower their floor to
// MinConfidenceFallback to admit it). TOOL_ID matches are dotted lower-case
// identifiers such as pkg.func (quoted command lines are not matched) and
// share the ERROR heuristic's confidence, having no stronger textual signal.
const (
	regexConfidenceURL   = 0.95
	regexConfidenceError = 0.5
	regexConfidenceTool  = 0.5
)

func (x *Extractor) extractViaRegex(chunk *models.Chunk) []models.EntityDraft {
	var drafts []models.EntityDraft

	add := func(t models.EntityType, value string, confidence float64) {
		drafts = append(drafts, models.EntityDraft{
			ChunkID:    chunk.ID,
			ProjectID:  *chunk.ProjectID,
			Type:       t,
			Value:      value,
			Context:    contextWindow(chunk.Content, value),
			Confidence: confidence,
		})
	}

	for _, m := range urlPattern.FindAllString(chunk.Content, -1) {
		add(models.EntityTypeURL, m, regexConfidenceURL)
	}
	for _, m := range errorPattern.FindAllString(chunk.Content, -1) {
		add(models.EntityTypeError, strings.TrimSpace(m), regexConfidenceError)
	}
	for _, m := range toolIDPattern.FindAllString(chunk.Content, -1) {
		add(models.EntityTypeToolID, m, regexConfidenceTool)
	}

	return filterByConfidence(drafts, models.MinConfidenceFallback)
}

func filterByConfidence(drafts []models.EntityDraft, min float64) []models.EntityDraft {
	out := drafts[:0]
	for _, d := range drafts {
		if d.Confidence >= min {
			out = append(out, d)
		}
	}
	return out
}

// dedupeDrafts removes duplicate (type, value) pairs, keeping the first
// occurrence and its context.
func dedupeDrafts(drafts []models.EntityDraft) []models.EntityDraft {
	seen := make(map[string]bool, len(drafts))
	out := make([]models.EntityDraft, 0, len(drafts))
	for _, d := range drafts {
		key := string(d.Type) + "\x00" + d.Value
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, d)
	}
	return out
}

// contextWindow returns up to MaxContextWindow characters of content
// centered on value's first occurrence, or the first MaxContextWindow
// characters of content if value isn't found verbatim (LLM-paraphrased
// entities won't always appear literally).
func contextWindow(content, value string) string {
	idx := strings.Index(content, value)
	if idx < 0 {
		if len(content) <= models.MaxContextWindow {
			return content
		}
		return content[:models.MaxContextWindow]
	}

	half := models.MaxContextWindow / 2
	start := idx - half
	if start < 0 {
		start = 0
	}
	end := start + models.MaxContextWindow
	if end > len(content) {
		end = len(content)
		start = end - models.MaxContextWindow
		if start < 0 {
			start = 0
		}
	}
	return content[start:end]
}
