package similarity

import (
	"context"

	"github.com/earchibald/komorebi-sub001/pkg/models"
	"github.com/earchibald/komorebi-sub001/pkg/storage"
)

// DefaultTopK is find_related's default result count (spec.md §4.10).
const DefaultTopK = 5

// SharedTermsCount bounds how many top-weighted shared terms accompany each
// result.
const SharedTermsCount = 3

// maxCorpus bounds how many chunks a single find_related call loads before
// building the index, matching the up-to-10,000-document budget in
// spec.md §4.10.
const maxCorpus = 10000

// Finder implements find_related: on-demand TF-IDF similarity recomputed
// fresh from storage on every call, never persisted (spec.md §4.10).
type Finder struct {
	chunks storage.ChunkRepository
}

// NewFinder constructs a Finder over chunks.
func NewFinder(chunks storage.ChunkRepository) *Finder {
	return &Finder{chunks: chunks}
}

// FindRelated loads every chunk scoped to target's project (or the whole
// corpus if target has none), builds a fresh TF-IDF index, and returns the
// topK most similar chunks to target, excluding target itself.
func (f *Finder) FindRelated(ctx context.Context, targetID string, topK int) ([]Related, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	target, err := f.chunks.GetChunk(ctx, targetID)
	if err != nil {
		return nil, err
	}

	filter := models.ChunkFilter{ProjectID: target.ProjectID}
	items, _, err := f.chunks.ListChunks(ctx, filter, maxCorpus, 0)
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(items)+1)
	foundTarget := false
	for _, c := range items {
		docs = append(docs, Document{ID: c.ID, Content: c.Content})
		if c.ID == targetID {
			foundTarget = true
		}
	}
	if !foundTarget {
		docs = append(docs, Document{ID: target.ID, Content: target.Content})
	}

	idx := Build(docs)
	return idx.RelatedTo(targetID, topK, SharedTermsCount), nil
}
