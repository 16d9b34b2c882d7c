// Package compactor implements chunk summarization and the recursive
// project-level reduce step.
package compactor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/earchibald/komorebi-sub001/pkg/events"
	"github.com/earchibald/komorebi-sub001/pkg/llmclient"
	"github.com/earchibald/komorebi-sub001/pkg/models"
	"github.com/earchibald/komorebi-sub001/pkg/storage"
)

// FallbackSummaryLength is the default character budget for the
// deterministic summary used when no LLM is available (spec.md §4.4/§9).
const FallbackSummaryLength = 240

// Config tunes compaction trigger thresholds and recursion depth.
type Config struct {
	ContextThresholdBytes int
	MaxDepth              int

	// MinBatch is the minimum number of processed chunks compact_project
	// requires before it does anything; spec.md §4.4 no-ops below this.
	MinBatch int
	// TriggerChunkCount is the processed-chunk count above which the
	// trigger heuristic fires regardless of summary size.
	TriggerChunkCount int
	// TriggerCooldown is the minimum time since a project's
	// LastCompactionAt before the trigger heuristic fires again.
	TriggerCooldown time.Duration
	// ContextWindowTokens estimates the LLM's context window, used to
	// compute the 75%-of-window token trigger.
	ContextWindowTokens int
}

// systemAnchor is prefixed onto every reduce prompt so the rolling summary
// never drifts away from Komorebi's own voice across repeated compaction
// passes.
const systemAnchor = "You are maintaining a running technical summary for an engineering project. " +
	"Preserve concrete facts: error messages, decisions made, URLs, and tool identifiers. " +
	"Do not invent information that is not present in the input."

// Compactor summarizes individual chunks and periodically reduces a
// project's chunks into its rolling ContextSummary.
type Compactor struct {
	repo storage.ChunkRepository
	proj interface {
		storage.ProjectRepository
		storage.CompactionApplier
	}
	llm *llmclient.Client
	bus *events.Bus
	cfg Config

	// projectLocks serializes compaction per project so two concurrent
	// triggers never reduce the same project twice at once; unrelated
	// projects proceed independently. Reinitialized lazily via sync.Map.
	projectLocks sync.Map // projectID -> *sync.Mutex

	logger *slog.Logger
}

// Repository is the subset of storage.Repository the compactor needs.
type Repository interface {
	storage.ChunkRepository
	storage.ProjectRepository
	storage.CompactionApplier
}

// NewCompactor constructs a Compactor. bus may be nil.
func NewCompactor(repo Repository, llm *llmclient.Client, bus *events.Bus, cfg Config) *Compactor {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = models.MaxCompactionDepth
	}
	if cfg.ContextThresholdBytes <= 0 {
		cfg.ContextThresholdBytes = 8192
	}
	if cfg.MinBatch <= 0 {
		cfg.MinBatch = 5
	}
	if cfg.TriggerChunkCount <= 0 {
		cfg.TriggerChunkCount = 20
	}
	if cfg.TriggerCooldown <= 0 {
		cfg.TriggerCooldown = 5 * time.Minute
	}
	if cfg.ContextWindowTokens <= 0 {
		cfg.ContextWindowTokens = 4096
	}
	return &Compactor{
		repo:   repo,
		proj:   repo,
		llm:    llm,
		bus:    bus,
		cfg:    cfg,
		logger: slog.Default().With("component", "compactor.Compactor"),
	}
}

func (c *Compactor) lockFor(projectID string) *sync.Mutex {
	actual, _ := c.projectLocks.LoadOrStore(projectID, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// ProcessChunk is the first-pass per-chunk map step: it summarizes the
// chunk's content, marks it processed, and checks whether the owning
// project has crossed the compaction trigger threshold. It never blocks
// on the reduce step succeeding — a failed trigger check only logs.
func (c *Compactor) ProcessChunk(ctx context.Context, chunkID string) (*models.Chunk, error) {
	chunk, err := c.repo.GetChunk(ctx, chunkID)
	if err != nil {
		return nil, err
	}

	if chunk.Status != models.ChunkStatusInbox {
		return chunk, nil
	}

	summary := fallbackSummary(chunk.Content)
	if c.llm != nil && c.llm.Available(ctx) {
		s, err := c.llm.Summarise(ctx, chunk.Content, 512)
		if err != nil {
			c.logger.Warn("chunk summarization failed, storing fallback summary", "chunk_id", chunkID, "error", err)
		} else {
			summary = s
		}
	}

	tokenCount := estimateTokens(summary)
	status := models.ChunkStatusProcessed
	updated, err := c.repo.UpdateChunk(ctx, chunkID, models.ChunkPatch{
		Summary:    &summary,
		Status:     &status,
		TokenCount: &tokenCount,
	})
	if err != nil {
		return nil, err
	}

	if c.bus != nil {
		c.bus.Publish(models.ChunkEvent{
			Type:    models.EventChunkUpdated,
			ChunkID: chunkID,
			Payload: models.ChunkUpdatedPayload{Status: updated.Status, Summary: updated.Summary, TokenCount: updated.TokenCount},
		})
	}

	if updated.ProjectID != nil {
		if shouldCompact, err := c.shouldTriggerCompaction(ctx, *updated.ProjectID); err != nil {
			c.logger.Warn("compaction trigger check failed", "project_id", *updated.ProjectID, "error", err)
		} else if shouldCompact {
			if _, err := c.CompactProject(ctx, *updated.ProjectID); err != nil {
				c.logger.Error("triggered compaction failed", "project_id", *updated.ProjectID, "error", err)
			}
		}
	}

	return updated, nil
}

// shouldTriggerCompaction implements spec.md §4.4's trigger heuristic:
// fire when either the estimated token sum of processed summaries exceeds
// 75% of the LLM context window, or the processed-chunk count exceeds
// TriggerChunkCount, provided the project isn't in its cooldown window
// since LastCompactionAt. Neither condition is checked until the project
// has at least MinBatch processed chunks.
func (c *Compactor) shouldTriggerCompaction(ctx context.Context, projectID string) (bool, error) {
	project, err := c.proj.GetProject(ctx, projectID)
	if err != nil {
		return false, err
	}
	if project.LastCompactionAt != nil && time.Since(*project.LastCompactionAt) < c.cfg.TriggerCooldown {
		return false, nil
	}

	chunks, err := c.repo.GetAllContent(ctx, projectID, []models.ChunkStatus{models.ChunkStatusProcessed})
	if err != nil {
		return false, err
	}
	if len(chunks) < c.cfg.MinBatch {
		return false, nil
	}
	if len(chunks) > c.cfg.TriggerChunkCount {
		return true, nil
	}

	var tokens int
	for _, ch := range chunks {
		if ch.Summary != nil {
			tokens += estimateTokens(*ch.Summary)
		} else {
			tokens += estimateTokens(ch.Content)
		}
	}
	return tokens > (c.cfg.ContextWindowTokens*75)/100, nil
}

// CompactProject runs the reduce step: gather every processed chunk,
// recursively fold their summaries into the project's rolling
// ContextSummary, bounded by MaxDepth. Included chunks advance to
// compacted status. Serialized per project by projectLocks.
func (c *Compactor) CompactProject(ctx context.Context, projectID string) (*models.Project, error) {
	lock := c.lockFor(projectID)
	lock.Lock()
	defer lock.Unlock()

	project, err := c.proj.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if project.CompactionDepth >= c.cfg.MaxDepth {
		c.logger.Info("project at max compaction depth, skipping", "project_id", projectID, "depth", project.CompactionDepth)
		return project, nil
	}

	chunks, err := c.repo.GetAllContent(ctx, projectID, []models.ChunkStatus{models.ChunkStatusProcessed})
	if err != nil {
		return nil, err
	}
	if len(chunks) < c.cfg.MinBatch {
		return project, nil
	}

	reduced, err := c.recursiveReduce(ctx, project, chunks)
	if err != nil {
		if c.bus != nil {
			c.bus.Publish(models.ChunkEvent{
				Type:      models.EventCompactionFailed,
				ProjectID: projectID,
				Payload:   models.CompactionFailedPayload{Error: err.Error()},
			})
		}
		return nil, fmt.Errorf("recursive reduce: %w", err)
	}

	chunkIDs := make([]string, len(chunks))
	for i, ch := range chunks {
		chunkIDs[i] = ch.ID
	}

	// The summary write and the included chunks' status transitions form a
	// single logical commit (spec.md §9): a partial failure must never
	// leave the project's depth/summary advanced while chunks are left
	// behind at processed.
	updatedProject, err := c.proj.ApplyCompaction(ctx, projectID, reduced, time.Now(), chunkIDs)
	if err != nil {
		return nil, fmt.Errorf("apply compaction: %w", err)
	}

	if c.bus != nil {
		c.bus.Publish(models.ChunkEvent{
			Type:      models.EventCompactionLevelComplete,
			ProjectID: projectID,
			Payload:   models.CompactionLevelCompletePayload{Depth: updatedProject.CompactionDepth, IncludedCount: len(chunks)},
		})
	}

	return updatedProject, nil
}

// recursiveReduce folds chunk summaries into a single rolling summary,
// batching to stay under ContextThresholdBytes per LLM call and recursing
// on its own output when a single pass still exceeds the threshold, bounded
// by MaxDepth recursion levels so a pathological input can't loop forever.
func (c *Compactor) recursiveReduce(ctx context.Context, project *models.Project, chunks []*models.Chunk) (string, error) {
	parts := make([]string, 0, len(chunks)+1)
	if project.ContextSummary != nil && *project.ContextSummary != "" {
		parts = append(parts, *project.ContextSummary)
	}
	for _, ch := range chunks {
		if ch.Summary != nil {
			parts = append(parts, *ch.Summary)
		} else {
			parts = append(parts, ch.Content)
		}
	}

	return c.reduceLevel(ctx, parts, 0)
}

func (c *Compactor) reduceLevel(ctx context.Context, parts []string, depth int) (string, error) {
	joined := strings.Join(parts, "\n\n")
	if len(joined) <= c.cfg.ContextThresholdBytes || depth >= c.cfg.MaxDepth {
		return c.reduceOnce(ctx, joined)
	}

	mid := len(parts) / 2
	if mid == 0 {
		return c.reduceOnce(ctx, joined)
	}

	left, err := c.reduceLevel(ctx, parts[:mid], depth+1)
	if err != nil {
		return "", err
	}
	right, err := c.reduceLevel(ctx, parts[mid:], depth+1)
	if err != nil {
		return "", err
	}
	return c.reduceOnce(ctx, left+"\n\n"+right)
}

func (c *Compactor) reduceOnce(ctx context.Context, text string) (string, error) {
	if c.llm == nil || !c.llm.Available(ctx) {
		if len(text) > c.cfg.ContextThresholdBytes {
			return text[:c.cfg.ContextThresholdBytes], nil
		}
		return text, nil
	}

	prompt := systemAnchor + "\n\n" + text
	summary, err := c.llm.Summarise(ctx, prompt, 1024)
	if err != nil {
		if errors.Is(err, llmclient.ErrUnavailable) || errors.Is(err, llmclient.ErrTimeout) {
			if len(text) > c.cfg.ContextThresholdBytes {
				return text[:c.cfg.ContextThresholdBytes], nil
			}
			return text, nil
		}
		return "", err
	}
	return summary, nil
}

// estimateTokens approximates token count at 4 characters per token, a
// standard rough heuristic when the inference server doesn't echo back
// usage statistics.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// fallbackSummary is the deterministic summary used when no LLM is
// available: the first FallbackSummaryLength characters, trimmed back to
// the preceding word boundary so it never ends mid-word.
func fallbackSummary(content string) string {
	if len(content) <= FallbackSummaryLength {
		return content
	}
	cut := content[:FallbackSummaryLength]
	if boundary := strings.LastIndexFunc(cut, unicode.IsSpace); boundary > 0 {
		cut = cut[:boundary]
	}
	return strings.TrimSpace(cut)
}
