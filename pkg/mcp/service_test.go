package mcp

import (
	"context"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earchibald/komorebi-sub001/pkg/models"
)

type fakeCapturer struct {
	captured []models.ChunkDraft
}

func (f *fakeCapturer) Capture(ctx context.Context, draft models.ChunkDraft) (*models.Chunk, error) {
	f.captured = append(f.captured, draft)
	return &models.Chunk{ID: "generated", Content: draft.Content}, nil
}

func TestService_CallTool_CapturesTextContent(t *testing.T) {
	ts := startTestServer(t, "test-server", map[string]mcpsdk.ToolHandler{
		"fetch": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "result text"}}}, nil
		},
	})

	client := connectClientDirect(t, "srv", ts.clientTransport)
	capturer := &fakeCapturer{}
	svc := NewService(client, nil, capturer)

	_, chunk, err := svc.CallTool(context.Background(), "srv", "fetch", nil, CallToolOptions{Capture: true})
	require.NoError(t, err)
	require.NotNil(t, chunk)
	require.Len(t, capturer.captured, 1)
	assert.Equal(t, "result text", capturer.captured[0].Content)
	assert.Equal(t, "mcp:srv:fetch", *capturer.captured[0].Source)
}

func TestService_CallTool_NoCaptureWhenNotRequested(t *testing.T) {
	ts := startTestServer(t, "test-server", map[string]mcpsdk.ToolHandler{
		"fetch": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "result text"}}}, nil
		},
	})

	client := connectClientDirect(t, "srv", ts.clientTransport)
	capturer := &fakeCapturer{}
	svc := NewService(client, nil, capturer)

	_, chunk, err := svc.CallTool(context.Background(), "srv", "fetch", nil, CallToolOptions{})
	require.NoError(t, err)
	assert.Nil(t, chunk)
	assert.Empty(t, capturer.captured)
}

func TestExtractText_FallsBackToJSON(t *testing.T) {
	result := &mcpsdk.CallToolResult{}
	text := extractText(result)
	assert.NotEmpty(t, text)
}
