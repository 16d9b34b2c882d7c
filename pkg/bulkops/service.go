package bulkops

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/earchibald/komorebi-sub001/pkg/events"
	"github.com/earchibald/komorebi-sub001/pkg/models"
	"github.com/earchibald/komorebi-sub001/pkg/storage"
)

// listPageSize bounds how many chunks a single bulk op will match and
// mutate in one pass, leaving ample headroom for typical batch sizes
// without risking an unbounded full-table mutation.
const listPageSize = 10000

// Repository is the narrow slice of storage.Repository bulkops needs.
type Repository interface {
	storage.ChunkRepository
	storage.BulkActionRepository
}

// Service implements bulk_tag / bulk_archive / bulk_delete / bulk_restore
// and their shared undo mechanism.
type Service struct {
	repo   Repository
	bus    *events.Bus
	logger *slog.Logger
}

// New constructs a Service.
func New(repo Repository, bus *events.Bus) *Service {
	return &Service{repo: repo, bus: bus, logger: slog.Default().With("component", "bulkops.Service")}
}

// Tag adds tags (set union, existing tags are never dropped) to every
// chunk matching filter.
func (s *Service) Tag(ctx context.Context, filter models.ChunkFilter, tags []string) (*models.BulkAction, error) {
	return s.apply(ctx, filter, models.BulkActionTag, func(c *models.Chunk) (models.ChunkStatus, []string) {
		return c.Status, unionTags(c.Tags, tags)
	})
}

// Archive transitions every chunk matching filter to archived.
func (s *Service) Archive(ctx context.Context, filter models.ChunkFilter) (*models.BulkAction, error) {
	return s.apply(ctx, filter, models.BulkActionArchive, func(c *models.Chunk) (models.ChunkStatus, []string) {
		return models.ChunkStatusArchived, c.Tags
	})
}

// Delete soft-deletes every chunk matching filter.
func (s *Service) Delete(ctx context.Context, filter models.ChunkFilter) (*models.BulkAction, error) {
	return s.apply(ctx, filter, models.BulkActionDelete, func(c *models.Chunk) (models.ChunkStatus, []string) {
		return models.ChunkStatusDeleted, c.Tags
	})
}

// Restore reverts every chunk matching filter to inbox, bypassing the
// normal forward-only status invariant: restore is itself the sanctioned
// reversal path, same as Undo.
func (s *Service) Restore(ctx context.Context, filter models.ChunkFilter) (*models.BulkAction, error) {
	return s.apply(ctx, filter, models.BulkActionRestore, func(c *models.Chunk) (models.ChunkStatus, []string) {
		return models.ChunkStatusInbox, c.Tags
	})
}

func (s *Service) apply(ctx context.Context, filter models.ChunkFilter, actionType models.BulkActionType, next func(*models.Chunk) (models.ChunkStatus, []string)) (*models.BulkAction, error) {
	matched, _, err := s.repo.ListChunks(ctx, filter, listPageSize, 0)
	if err != nil {
		return nil, fmt.Errorf("bulkops: list matching chunks: %w", err)
	}

	snapshot := make([]models.ChunkSnapshot, len(matched))
	mutations := make([]storage.ChunkMutation, len(matched))
	affectedIDs := make([]string, len(matched))

	for i, c := range matched {
		snapshot[i] = models.ChunkSnapshot{ID: c.ID, Status: c.Status, Tags: append([]string{}, c.Tags...)}
		status, tags := next(c)
		mutations[i] = storage.ChunkMutation{ChunkID: c.ID, Status: status, Tags: tags}
		affectedIDs[i] = c.ID
	}

	if len(mutations) > 0 {
		if err := s.repo.ApplyChunkMutations(ctx, mutations); err != nil {
			return nil, fmt.Errorf("bulkops: apply mutations: %w", err)
		}
	}

	action := models.BulkAction{
		ID:            uuid.NewString(),
		ActionType:    actionType,
		FilterUsed:    filter,
		AffectedIDs:   affectedIDs,
		PreviousState: snapshot,
		AffectedCount: len(affectedIDs),
		CreatedAt:     time.Now(),
	}

	recorded, err := s.repo.RecordBulkAction(ctx, action)
	if err != nil {
		return nil, fmt.Errorf("bulkops: record action: %w", err)
	}

	s.logger.Info("bulk action applied", "action_id", recorded.ID, "type", actionType, "affected_count", recorded.AffectedCount)
	for _, id := range affectedIDs {
		s.bus.Publish(models.ChunkEvent{Type: models.EventChunkUpdated, ChunkID: id, Timestamp: time.Now()})
	}

	return recorded, nil
}

// Undo reverses a BulkAction by restoring every affected chunk's
// pre-mutation (status, tags) pair, provided the action is within its undo
// window and has not already been undone.
func (s *Service) Undo(ctx context.Context, actionID string) error {
	action, err := s.repo.GetBulkAction(ctx, actionID)
	if err != nil {
		return fmt.Errorf("bulkops: load action: %w", err)
	}
	if action.Undone {
		return ErrAlreadyUndone
	}
	if !action.CanUndo(time.Now()) {
		return ErrUndoWindowExpired
	}

	mutations := make([]storage.ChunkMutation, len(action.PreviousState))
	for i, snap := range action.PreviousState {
		mutations[i] = storage.ChunkMutation{ChunkID: snap.ID, Status: snap.Status, Tags: snap.Tags}
	}

	if len(mutations) > 0 {
		if err := s.repo.ApplyChunkMutations(ctx, mutations); err != nil {
			return fmt.Errorf("bulkops: revert mutations: %w", err)
		}
	}

	if err := s.repo.MarkBulkActionUndone(ctx, actionID); err != nil {
		return fmt.Errorf("bulkops: mark undone: %w", err)
	}

	for _, snap := range action.PreviousState {
		s.bus.Publish(models.ChunkEvent{Type: models.EventChunkUpdated, ChunkID: snap.ID, Timestamp: time.Now()})
	}

	return nil
}

func unionTags(existing, additions []string) []string {
	seen := make(map[string]bool, len(existing)+len(additions))
	out := make([]string, 0, len(existing)+len(additions))
	for _, t := range existing {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range additions {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
