package bulkops

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earchibald/komorebi-sub001/pkg/events"
	"github.com/earchibald/komorebi-sub001/pkg/models"
	"github.com/earchibald/komorebi-sub001/pkg/storage"
)

func seedInboxChunks(t *testing.T, repo *storage.MemoryRepository, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := repo.CreateChunk(context.Background(), models.ChunkDraft{Content: "chunk content"})
		require.NoError(t, err)
	}
}

func TestArchiveThenUndo(t *testing.T) {
	repo := storage.NewMemoryRepository()
	bus := events.NewBus(events.DefaultBufferSize)
	svc := New(repo, bus)
	seedInboxChunks(t, repo, 5)

	status := models.ChunkStatusInbox
	action, err := svc.Archive(context.Background(), models.ChunkFilter{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, 5, action.AffectedCount)

	archived, _, err := repo.ListChunks(context.Background(), models.ChunkFilter{}, 10, 0)
	require.NoError(t, err)
	for _, c := range archived {
		assert.Equal(t, models.ChunkStatusArchived, c.Status)
	}

	require.NoError(t, svc.Undo(context.Background(), action.ID))

	restored, _, err := repo.ListChunks(context.Background(), models.ChunkFilter{}, 10, 0)
	require.NoError(t, err)
	for _, c := range restored {
		assert.Equal(t, models.ChunkStatusInbox, c.Status)
	}
}

func TestUndo_FailsAfterWindowExpires(t *testing.T) {
	repo := storage.NewMemoryRepository()
	bus := events.NewBus(events.DefaultBufferSize)
	svc := New(repo, bus)
	seedInboxChunks(t, repo, 2)

	status := models.ChunkStatusInbox
	action, err := svc.Archive(context.Background(), models.ChunkFilter{Status: &status})
	require.NoError(t, err)

	action.CreatedAt = time.Now().Add(-31 * time.Minute)
	_, err = repo.RecordBulkAction(context.Background(), *action)
	require.NoError(t, err)

	err = svc.Undo(context.Background(), action.ID)
	assert.ErrorIs(t, err, ErrUndoWindowExpired)
}

func TestUndo_FailsWhenAlreadyUndone(t *testing.T) {
	repo := storage.NewMemoryRepository()
	bus := events.NewBus(events.DefaultBufferSize)
	svc := New(repo, bus)
	seedInboxChunks(t, repo, 1)

	status := models.ChunkStatusInbox
	action, err := svc.Archive(context.Background(), models.ChunkFilter{Status: &status})
	require.NoError(t, err)
	require.NoError(t, svc.Undo(context.Background(), action.ID))

	err = svc.Undo(context.Background(), action.ID)
	assert.ErrorIs(t, err, ErrAlreadyUndone)
}

func TestTag_UnionsWithExistingTags(t *testing.T) {
	repo := storage.NewMemoryRepository()
	bus := events.NewBus(events.DefaultBufferSize)
	svc := New(repo, bus)

	chunk, err := repo.CreateChunk(context.Background(), models.ChunkDraft{Content: "c", Tags: []string{"bug"}})
	require.NoError(t, err)

	status := models.ChunkStatusInbox
	_, err = svc.Tag(context.Background(), models.ChunkFilter{Status: &status}, []string{"urgent", "bug"})
	require.NoError(t, err)

	updated, err := repo.GetChunk(context.Background(), chunk.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bug", "urgent"}, updated.Tags)
}
