package similarity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earchibald/komorebi-sub001/pkg/models"
	"github.com/earchibald/komorebi-sub001/pkg/storage"
)

func TestFinder_FindRelated_ExcludesSelfAndScopesToProject(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryRepository()

	proj, err := repo.CreateProject(ctx, models.ProjectDraft{Name: "p"})
	require.NoError(t, err)
	projID := proj.ID

	other, err := repo.CreateProject(ctx, models.ProjectDraft{Name: "other"})
	require.NoError(t, err)
	otherID := other.ID

	target, err := repo.CreateChunk(ctx, models.ChunkDraft{Content: "database connection timeout error", ProjectID: &projID})
	require.NoError(t, err)
	sibling, err := repo.CreateChunk(ctx, models.ChunkDraft{Content: "database connection timeout retry logic", ProjectID: &projID})
	require.NoError(t, err)
	_, err = repo.CreateChunk(ctx, models.ChunkDraft{Content: "sunny weather forecast today", ProjectID: &projID})
	require.NoError(t, err)
	// A fourth chunk in the project keeps idf = ln(N/(1+df)) positive for
	// the terms target and sibling share; with three, they would weigh 0.
	_, err = repo.CreateChunk(ctx, models.ChunkDraft{Content: "quarterly budget review meeting", ProjectID: &projID})
	require.NoError(t, err)
	_, err = repo.CreateChunk(ctx, models.ChunkDraft{Content: "database connection timeout error", ProjectID: &otherID})
	require.NoError(t, err)

	finder := NewFinder(repo)
	results, err := finder.FindRelated(ctx, target.ID, 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	for _, r := range results {
		assert.NotEqual(t, target.ID, r.ID)
		assert.Greater(t, r.Score, MinScore)
		assert.LessOrEqual(t, r.Score, 1.0)
	}
	assert.Equal(t, sibling.ID, results[0].ID)
	assert.NotEmpty(t, results[0].SharedTerms)
}

func TestFinder_FindRelated_UnknownChunkReturnsNotFound(t *testing.T) {
	repo := storage.NewMemoryRepository()
	finder := NewFinder(repo)

	_, err := finder.FindRelated(context.Background(), "missing", 5)
	require.Error(t, err)
}
