package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Summarise(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		_ = json.NewEncoder(w).Encode(chatResponse{
			Choices: []chatChoice{{Message: chatMessage{Role: "assistant", Content: "a short summary"}}},
		})
	}))
	defer srv.Close()

	c := NewClient(Config{Host: srv.URL, Model: "test-model"})
	out, err := c.Summarise(context.Background(), "some long content", 50)
	require.NoError(t, err)
	assert.Equal(t, "a short summary", out)
}

func TestClient_Available_CachesResult(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(Config{Host: srv.URL, Model: "test-model", AvailabilityCacheTTL: time.Minute})

	assert.True(t, c.Available(context.Background()))
	assert.True(t, c.Available(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestClient_Available_FalseWhenUnreachable(t *testing.T) {
	c := NewClient(Config{Host: "http://127.0.0.1:1", Model: "test-model"})
	assert.False(t, c.Available(context.Background()))
}

func TestClient_Complete_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{Host: srv.URL, Model: "test-model"})
	_, err := c.Generate(context.Background(), "prompt")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_ExtractEntitiesRaw_SetsJSONFormat(t *testing.T) {
	var gotFormat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotFormat = req.Format
		_ = json.NewEncoder(w).Encode(chatResponse{
			Choices: []chatChoice{{Message: chatMessage{Content: `{"errors":[],"urls":[],"tool_ids":[],"semantic_tags":[]}`}}},
		})
	}))
	defer srv.Close()

	c := NewClient(Config{Host: srv.URL, Model: "test-model"})
	_, err := c.ExtractEntitiesRaw(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, "json", gotFormat)
}
