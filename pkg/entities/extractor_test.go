package entities

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earchibald/komorebi-sub001/pkg/llmclient"
	"github.com/earchibald/komorebi-sub001/pkg/models"
	"github.com/earchibald/komorebi-sub001/pkg/storage"
)

func TestExtract_RegexFallbackWhenLLMUnavailable(t *testing.T) {
	repo := storage.NewMemoryRepository()
	proj, err := repo.CreateProject(context.Background(), models.ProjectDraft{Name: "p"})
	require.NoError(t, err)

	llm := llmclient.NewClient(llmclient.Config{Host: "http://127.0.0.1:1", Model: "m"})
	x := NewExtractor(repo, llm, nil)

	projID := proj.ID
	chunk := &models.Chunk{
		ID:        "c1",
		ProjectID: &projID,
		Content:   "saw error: connection refused at https://example.com/api tool_name.call_id",
	}

	out, err := x.Extract(context.Background(), chunk)
	require.NoError(t, err)
	require.NotEmpty(t, out)

	var hasURL, hasError bool
	for _, e := range out {
		if e.Type == models.EntityTypeURL {
			hasURL = true
			assert.Equal(t, regexConfidenceURL, e.Confidence)
		}
		if e.Type == models.EntityTypeError {
			hasError = true
		}
	}
	assert.True(t, hasURL)
	assert.True(t, hasError)
}

func TestExtract_LLMPathDedupes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := struct {
			Choices []struct {
				Message struct{ Content string } `json:"message"`
			} `json:"choices"`
		}{}
		body.Choices = append(body.Choices, struct {
			Message struct{ Content string } `json:"message"`
		}{})
		body.Choices[0].Message.Content = `{"errors":["boom","boom"],"urls":[],"tool_ids":[],"semantic_tags":[]}`
		_ = json.NewEncoder(w).Encode(body)
	}))
	defer srv.Close()

	repo := storage.NewMemoryRepository()
	proj, err := repo.CreateProject(context.Background(), models.ProjectDraft{Name: "p"})
	require.NoError(t, err)

	llm := llmclient.NewClient(llmclient.Config{Host: srv.URL, Model: "m"})
	x := NewExtractor(repo, llm, nil)

	projID := proj.ID
	chunk := &models.Chunk{ID: "c1", ProjectID: &projID, Content: "boom happened here"}

	out, err := x.Extract(context.Background(), chunk)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestExtract_NoProjectSkipsExtraction(t *testing.T) {
	repo := storage.NewMemoryRepository()
	x := NewExtractor(repo, nil, nil)

	out, err := x.Extract(context.Background(), &models.Chunk{ID: "c1", Content: "no project here"})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestContextWindow_CentersOnMatch(t *testing.T) {
	content := "abc " + stringsRepeat("x", 200) + " needle " + stringsRepeat("y", 200)
	win := contextWindow(content, "needle")
	assert.LessOrEqual(t, len(win), models.MaxContextWindow)
	assert.Contains(t, win, "needle")
}

func stringsRepeat(s string, n int) string {
	out := make([]byte, 0, len(s)*n)
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}
