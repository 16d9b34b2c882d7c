package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_IdenticalDocsScoreHighest(t *testing.T) {
	// Four documents keep idf = ln(N/(1+df)) positive for terms shared by
	// two of them; with three, those terms would weigh 0.
	idx := Build([]Document{
		{ID: "a", Content: "the database connection timed out"},
		{ID: "b", Content: "the database connection timed out"},
		{ID: "c", Content: "unrelated weather forecast sunny"},
		{ID: "d", Content: "quarterly budget review meeting"},
	})

	results := idx.SimilarTo("a", 5)
	require.NotEmpty(t, results)
	assert.Equal(t, "b", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestTopK_DropsBelowMinScore(t *testing.T) {
	// Three documents keep idf = ln(N/(1+df)) positive for terms found in
	// one of them; with two, every term would weigh 0.
	idx := Build([]Document{
		{ID: "a", Content: "alpha beta gamma"},
		{ID: "b", Content: "completely different topic entirely"},
		{ID: "c", Content: "quarterly budget review meeting"},
	})

	results := idx.TopK("alpha beta gamma", 10)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, MinScore)
	}
}

func TestTopK_RespectsLimit(t *testing.T) {
	idx := Build([]Document{
		{ID: "a", Content: "error connection refused"},
		{ID: "b", Content: "error connection refused retry"},
		{ID: "c", Content: "error connection refused again"},
	})

	results := idx.TopK("error connection refused", 1)
	assert.Len(t, results, 1)
}

func TestSimilarTo_UnknownDocReturnsNil(t *testing.T) {
	idx := Build([]Document{{ID: "a", Content: "x"}})
	assert.Nil(t, idx.SimilarTo("missing", 5))
}
