package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/earchibald/komorebi-sub001/pkg/models"
)

// ToolDescriptor is a flattened view of one tool across every connected
// server, the shape the MCP Aggregator's list_tools operation returns.
type ToolDescriptor struct {
	Server      string
	Name        string
	Description string
}

// ChunkCapturer is the narrow slice of pkg/capture.Service the service
// needs to turn a tool's response into a chunk. Declared locally rather
// than importing pkg/capture to avoid a dependency cycle (capture doesn't
// need to know about MCP); cmd/komorebi wires the concrete *capture.Service
// in.
type ChunkCapturer interface {
	Capture(ctx context.Context, draft models.ChunkDraft) (*models.Chunk, error)
}

// Service is the MCP Aggregator: a flattened tools/list view plus
// call_tool with optional automatic capture of the tool's response as a
// chunk.
type Service struct {
	client   *Client
	registry interface{ ServerIDs() []string }
	capturer ChunkCapturer
}

// NewService constructs a Service.
func NewService(client *Client, registry interface{ ServerIDs() []string }, capturer ChunkCapturer) *Service {
	return &Service{client: client, registry: registry, capturer: capturer}
}

// ListTools flattens every connected server's tools into one list,
// prefixing nothing — callers distinguish tools by the Server field.
func (s *Service) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	byServer, err := s.client.ListAllTools(ctx)
	if err != nil {
		return nil, err
	}

	var out []ToolDescriptor
	for server, tools := range byServer {
		for _, t := range tools {
			out = append(out, ToolDescriptor{Server: server, Name: t.Name, Description: t.Description})
		}
	}
	return out, nil
}

// CallToolOptions controls CallTool's optional capture-to-chunk behavior.
type CallToolOptions struct {
	Capture   bool
	ProjectID *string
	Tags      []string
}

// CallTool invokes a tool and, when opts.Capture is set, extracts plain
// text from the response and persists it as a chunk via ChunkCapturer.
// Text comes from the result's text content blocks, joined with newlines;
// if there are none, the whole result is JSON-encoded instead. A bare
// string result or a list of text blocks without the content wrapper is
// not recognised as such and goes through the JSON fallback.
func (s *Service) CallTool(ctx context.Context, serverID, toolName string, args map[string]any, opts CallToolOptions) (*mcpsdk.CallToolResult, *models.Chunk, error) {
	result, err := s.client.CallTool(ctx, serverID, toolName, args)
	if err != nil {
		return nil, nil, err
	}

	if !opts.Capture || s.capturer == nil {
		return result, nil, nil
	}

	text := extractText(result)
	if text == "" {
		return result, nil, nil
	}

	source := fmt.Sprintf("mcp:%s:%s", serverID, toolName)
	tags := append(append([]string{}, opts.Tags...), toolName)
	chunk, err := s.capturer.Capture(ctx, models.ChunkDraft{
		Content:   text,
		ProjectID: opts.ProjectID,
		Tags:      tags,
		Source:    &source,
	})
	if err != nil {
		return result, nil, fmt.Errorf("capture tool response: %w", err)
	}
	return result, chunk, nil
}

// extractText walks a CallToolResult's content blocks and returns their
// concatenated text, falling back to a JSON dump of the whole result if no
// text content is found.
func extractText(result *mcpsdk.CallToolResult) string {
	if result == nil {
		return ""
	}

	var text string
	for _, block := range result.Content {
		if tc, ok := block.(*mcpsdk.TextContent); ok {
			if text != "" {
				text += "\n"
			}
			text += tc.Text
		}
	}
	if text != "" {
		return text
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	return string(raw)
}
