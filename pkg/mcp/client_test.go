package mcp

import (
	"context"
	"encoding/json"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earchibald/komorebi-sub001/pkg/config"
)

var emptySchema = json.RawMessage(`{"type":"object"}`)

type testMCPServer struct {
	server          *mcpsdk.Server
	clientTransport *mcpsdk.InMemoryTransport
	serverTransport *mcpsdk.InMemoryTransport
}

func startTestServer(t *testing.T, name string, tools map[string]mcpsdk.ToolHandler) *testMCPServer {
	t.Helper()

	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: name, Version: "test"}, nil)
	for toolName, handler := range tools {
		server.AddTool(&mcpsdk.Tool{Name: toolName, Description: "test tool: " + toolName, InputSchema: emptySchema}, handler)
	}

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()

	go func() {
		_ = server.Run(context.Background(), serverTransport)
	}()

	return &testMCPServer{server: server, clientTransport: clientTransport, serverTransport: serverTransport}
}

func connectClientDirect(t *testing.T, serverID string, transport *mcpsdk.InMemoryTransport) *Client {
	t.Helper()
	ctx := context.Background()

	client := NewClient(config.NewMCPServerRegistry(config.MCPServersFile{}))

	sdkClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "komorebi-test", Version: "test"}, nil)
	session, err := sdkClient.Connect(ctx, transport, nil)
	require.NoError(t, err)

	client.mu.Lock()
	client.sessions[serverID] = session
	client.clients[serverID] = sdkClient
	client.mu.Unlock()

	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestClient_ListTools(t *testing.T) {
	ts := startTestServer(t, "test-server", map[string]mcpsdk.ToolHandler{
		"search_chunks": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "ok"}}}, nil
		},
	})

	client := connectClientDirect(t, "komorebi-tools", ts.clientTransport)
	ctx := context.Background()

	tools, err := client.ListTools(ctx, "komorebi-tools")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "search_chunks", tools[0].Name)
}

func TestClient_CallTool(t *testing.T) {
	ts := startTestServer(t, "test-server", map[string]mcpsdk.ToolHandler{
		"echo": func(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "hello"}}}, nil
		},
	})

	client := connectClientDirect(t, "srv", ts.clientTransport)
	ctx := context.Background()

	result, err := client.CallTool(ctx, "srv", "echo", nil)
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	tc, ok := result.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok)
	assert.Equal(t, "hello", tc.Text)
}

func TestClient_CallTool_UnknownServer(t *testing.T) {
	client := NewClient(config.NewMCPServerRegistry(config.MCPServersFile{}))
	_, err := client.CallTool(context.Background(), "missing", "tool", nil)
	require.ErrorIs(t, err, ErrServerNotReady)
}

func TestClassifyError_ContextCanceledIsNoRetry(t *testing.T) {
	assert.Equal(t, NoRetry, ClassifyError(context.Canceled))
}
