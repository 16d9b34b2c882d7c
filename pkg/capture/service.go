package capture

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/earchibald/komorebi-sub001/pkg/events"
	"github.com/earchibald/komorebi-sub001/pkg/models"
	"github.com/earchibald/komorebi-sub001/pkg/storage"
)

// Enqueuer is the subset of *queue.WorkerPool that Service depends on.
// Declared locally so tests can substitute a fake without spinning up real
// workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, chunkID string) error
}

// Service implements the capture(draft) -> Chunk contract.
type Service struct {
	chunks     storage.ChunkRepository
	bus        *events.Bus
	queue      Enqueuer
	maxContent int
	logger     *slog.Logger
}

// New constructs a Service. maxContentBytes <= 0 disables the size check.
func New(chunks storage.ChunkRepository, bus *events.Bus, q Enqueuer, maxContentBytes int) *Service {
	return &Service{
		chunks:     chunks,
		bus:        bus,
		queue:      q,
		maxContent: maxContentBytes,
		logger:     slog.Default().With("component", "capture.Service"),
	}
}

// Capture validates, persists, publishes, and enqueues draft. It satisfies
// pkg/mcp.ChunkCapturer so MCP tool results can re-enter the pipeline as
// new chunks.
func (s *Service) Capture(ctx context.Context, draft models.ChunkDraft) (*models.Chunk, error) {
	if err := s.validate(draft); err != nil {
		return nil, err
	}

	chunk, err := s.chunks.CreateChunk(ctx, draft)
	if err != nil {
		if errors.Is(err, storage.ErrValidation) {
			return nil, &ValidationError{Err: err}
		}
		s.logger.Error("persisting chunk failed", "error", err)
		return nil, err
	}

	s.bus.Publish(models.ChunkEvent{
		Type:      models.EventChunkCreated,
		ChunkID:   chunk.ID,
		Timestamp: time.Now(),
		Payload: models.ChunkCreatedPayload{
			Status: chunk.Status,
			Source: chunk.Source,
		},
	})

	if err := s.queue.Enqueue(ctx, chunk.ID); err != nil {
		// Backpressure (QueueFull) is a retryable signal per spec.md §4.3/§7:
		// surfaced to the caller, not swallowed. The chunk stays at inbox —
		// it was syntactically valid and is already queryable — and becomes
		// eligible for a manual retry or the orphan scan.
		s.logger.Warn("enqueue after capture failed", "chunk_id", chunk.ID, "error", err)
		return nil, err
	}

	return chunk, nil
}

func (s *Service) validate(draft models.ChunkDraft) error {
	if draft.Content == "" {
		return &ValidationError{Err: ErrEmptyContent}
	}
	if s.maxContent > 0 && len(draft.Content) > s.maxContent {
		return &ValidationError{Err: ErrContentTooLarge}
	}
	return nil
}
