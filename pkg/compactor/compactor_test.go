package compactor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earchibald/komorebi-sub001/pkg/models"
	"github.com/earchibald/komorebi-sub001/pkg/storage"
)

func TestProcessChunk_NoLLMStoresContentAsSummary(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryRepository()

	proj, err := repo.CreateProject(ctx, models.ProjectDraft{Name: "p"})
	require.NoError(t, err)
	projID := proj.ID

	chunk, err := repo.CreateChunk(ctx, models.ChunkDraft{Content: "some content here", ProjectID: &projID})
	require.NoError(t, err)

	c := NewCompactor(repo, nil, nil, Config{ContextThresholdBytes: 1_000_000, MaxDepth: 3})
	updated, err := c.ProcessChunk(ctx, chunk.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChunkStatusProcessed, updated.Status)
	require.NotNil(t, updated.Summary)
	assert.Equal(t, "some content here", *updated.Summary)
}

func TestCompactProject_SkipsAtMaxDepth(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryRepository()

	proj, err := repo.CreateProject(ctx, models.ProjectDraft{Name: "p"})
	require.NoError(t, err)

	for i := 0; i < models.MaxCompactionDepth; i++ {
		_, err := repo.ApplyCompaction(ctx, proj.ID, "", proj.CreatedAt, nil)
		require.NoError(t, err)
	}

	c := NewCompactor(repo, nil, nil, Config{ContextThresholdBytes: 10, MaxDepth: models.MaxCompactionDepth})
	got, err := c.CompactProject(ctx, proj.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MaxCompactionDepth, got.CompactionDepth)
}

func TestCompactProject_FoldsChunksAndAdvancesStatus(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryRepository()

	proj, err := repo.CreateProject(ctx, models.ProjectDraft{Name: "p"})
	require.NoError(t, err)
	projID := proj.ID

	c := NewCompactor(repo, nil, nil, Config{ContextThresholdBytes: 1_000_000, MaxDepth: 3, MinBatch: 3})

	var ids []string
	for i := 0; i < 3; i++ {
		chunk, err := repo.CreateChunk(ctx, models.ChunkDraft{Content: "content", ProjectID: &projID})
		require.NoError(t, err)
		_, err = c.ProcessChunk(ctx, chunk.ID)
		require.NoError(t, err)
		ids = append(ids, chunk.ID)
	}

	updatedProj, err := c.CompactProject(ctx, projID)
	require.NoError(t, err)
	assert.Equal(t, 1, updatedProj.CompactionDepth)
	require.NotNil(t, updatedProj.ContextSummary)

	for _, id := range ids {
		ch, err := repo.GetChunk(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.ChunkStatusCompacted, ch.Status)
	}
}
