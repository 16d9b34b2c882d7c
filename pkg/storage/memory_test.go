package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earchibald/komorebi-sub001/pkg/models"
)

func TestMemoryRepository_CreateAndGetChunk(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	c, err := repo.CreateChunk(ctx, models.ChunkDraft{Content: "hello world"})
	require.NoError(t, err)
	assert.Equal(t, models.ChunkStatusInbox, c.Status)
	assert.NotEmpty(t, c.ID)

	got, err := repo.GetChunk(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello world", got.Content)
}

func TestMemoryRepository_CreateChunk_RejectsEmptyContent(t *testing.T) {
	repo := NewMemoryRepository()
	_, err := repo.CreateChunk(context.Background(), models.ChunkDraft{Content: "   "})
	require.ErrorIs(t, err, ErrConflict)
}

func TestMemoryRepository_GetChunk_NotFound(t *testing.T) {
	repo := NewMemoryRepository()
	_, err := repo.GetChunk(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRepository_UpdateChunk_RejectsStatusRegression(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	c, err := repo.CreateChunk(ctx, models.ChunkDraft{Content: "x"})
	require.NoError(t, err)

	processed := models.ChunkStatusProcessed
	_, err = repo.UpdateChunk(ctx, c.ID, models.ChunkPatch{Status: &processed})
	require.NoError(t, err)

	inbox := models.ChunkStatusInbox
	_, err = repo.UpdateChunk(ctx, c.ID, models.ChunkPatch{Status: &inbox})
	require.ErrorIs(t, err, ErrConflict)
}

func TestMemoryRepository_ListChunks_FiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	var ids []string
	for i := 0; i < 3; i++ {
		c, err := repo.CreateChunk(ctx, models.ChunkDraft{Content: "chunk"})
		require.NoError(t, err)
		ids = append(ids, c.ID)
	}

	status := models.ChunkStatusInbox
	out, total, err := repo.ListChunks(ctx, models.ChunkFilter{Status: &status}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, out, 3)
	assert.Equal(t, 3, total)
}

func TestMemoryRepository_BulkActionUndoFlow(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	c, err := repo.CreateChunk(ctx, models.ChunkDraft{Content: "x", Tags: []string{"a"}})
	require.NoError(t, err)

	action, err := repo.RecordBulkAction(ctx, models.BulkAction{
		ActionType:    models.BulkActionArchive,
		AffectedIDs:   []string{c.ID},
		PreviousState: []models.ChunkSnapshot{{ID: c.ID, Status: models.ChunkStatusInbox, Tags: []string{"a"}}},
		AffectedCount: 1,
	})
	require.NoError(t, err)
	assert.False(t, action.Undone)

	err = repo.ApplyChunkMutations(ctx, []ChunkMutation{{ChunkID: c.ID, Status: models.ChunkStatusArchived, Tags: []string{"a"}}})
	require.NoError(t, err)

	got, err := repo.GetChunk(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChunkStatusArchived, got.Status)

	require.NoError(t, repo.MarkBulkActionUndone(ctx, action.ID))
	fetched, err := repo.GetBulkAction(ctx, action.ID)
	require.NoError(t, err)
	assert.True(t, fetched.Undone)
}

func TestMemoryRepository_SearchChunks_EntityPredicateExistsSemantics(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	proj, err := repo.CreateProject(ctx, models.ProjectDraft{Name: "p1"})
	require.NoError(t, err)

	withEntity, err := repo.CreateChunk(ctx, models.ChunkDraft{Content: "has a url", ProjectID: &proj.ID})
	require.NoError(t, err)

	_, err = repo.CreateChunk(ctx, models.ChunkDraft{Content: "plain text", ProjectID: &proj.ID})
	require.NoError(t, err)

	_, err = repo.BulkCreateEntities(ctx, []models.EntityDraft{
		{ChunkID: withEntity.ID, ProjectID: proj.ID, Type: models.EntityTypeURL, Value: "http://x", Confidence: 0.9},
		{ChunkID: withEntity.ID, ProjectID: proj.ID, Type: models.EntityTypeError, Value: "boom", Confidence: 0.9},
	})
	require.NoError(t, err)

	entityType := models.EntityTypeURL
	out, total, err := repo.SearchChunks(ctx, models.ChunkFilter{ProjectID: &proj.ID, EntityType: &entityType}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, out, 1)
	assert.Equal(t, withEntity.ID, out[0].ID)
}

func TestMemoryRepository_EntitiesBulkCreateAndFilter(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	proj, err := repo.CreateProject(ctx, models.ProjectDraft{Name: "p1"})
	require.NoError(t, err)

	_, err = repo.BulkCreateEntities(ctx, []models.EntityDraft{
		{ChunkID: "c1", ProjectID: proj.ID, Type: models.EntityTypeURL, Value: "http://x", Confidence: 0.9},
		{ChunkID: "c1", ProjectID: proj.ID, Type: models.EntityTypeError, Value: "boom", Confidence: 0.4},
	})
	require.NoError(t, err)

	min := 0.6
	out, err := repo.ListEntitiesByProject(ctx, proj.ID, models.EntityFilter{MinConfidence: &min}, 10, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, models.EntityTypeURL, out[0].Type)
}
