package llmclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config configures a Client: host/model, timeout, and pooled-connection
// and availability-cache knobs layered on top of a generic HTTP client
// shape.
type Config struct {
	Host           string
	Model          string
	Timeout        time.Duration
	MaxConnections int // bounds pooled connections

	// AvailabilityCacheTTL controls how long Available() caches its last
	// health-check result before probing again.
	AvailabilityCacheTTL time.Duration

	HTTPClient *http.Client
}

// Client talks to a local OpenAI-compatible chat-completions endpoint,
// used for summarization, generation, entity extraction, and streaming
// summaries.
type Client struct {
	httpClient *http.Client
	host       string
	model      string
	limiter    *rate.Limiter

	availTTL time.Duration
	availMu  sync.Mutex
	availAt  time.Time
	availOK  bool

	logger *slog.Logger
}

// NewClient constructs a Client. A *rate.Limiter paces outgoing requests
// at MaxConnections-in-flight equivalent burst, complementing the
// transport's connection pool bound rather than replacing it.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 8
	}
	if cfg.AvailabilityCacheTTL <= 0 {
		cfg.AvailabilityCacheTTL = 5 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        cfg.MaxConnections,
				MaxIdleConnsPerHost: cfg.MaxConnections,
				MaxConnsPerHost:     cfg.MaxConnections,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	return &Client{
		httpClient: httpClient,
		host:       strings.TrimSuffix(cfg.Host, "/"),
		model:      cfg.Model,
		limiter:    rate.NewLimiter(rate.Limit(cfg.MaxConnections), cfg.MaxConnections),
		availTTL:   cfg.AvailabilityCacheTTL,
		logger:     slog.Default().With("component", "llmclient.Client"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
	Delta   chatMessage `json:"delta"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

// Available reports whether the inference server currently responds,
// caching the result for AvailabilityCacheTTL so callers on a hot path
// (every capture, every compaction trigger check) don't each pay a round
// trip.
func (c *Client) Available(ctx context.Context) bool {
	c.availMu.Lock()
	if time.Since(c.availAt) < c.availTTL {
		ok := c.availOK
		c.availMu.Unlock()
		return ok
	}
	c.availMu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.host+"/v1/models", nil)
	ok := false
	if err == nil {
		resp, doErr := c.httpClient.Do(req)
		if doErr == nil {
			resp.Body.Close()
			ok = resp.StatusCode < 500
		}
	}

	c.availMu.Lock()
	c.availOK = ok
	c.availAt = time.Now()
	c.availMu.Unlock()

	return ok
}

// Summarise produces a summary of content under maxTokens, used by the
// compactor's map and reduce steps.
func (c *Client) Summarise(ctx context.Context, content string, maxTokens int) (string, error) {
	prompt := fmt.Sprintf("Summarize the following in at most %d tokens, preserving concrete facts, decisions, and error messages verbatim:\n\n%s", maxTokens, content)
	return c.complete(ctx, prompt, "")
}

// Generate runs an arbitrary prompt through the chat endpoint.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, prompt, "")
}

// ExtractEntitiesRaw asks the model to return entities as JSON matching the
// schema {errors, urls, tool_ids, semantic_tags}, returning the raw JSON
// text for pkg/entities to unmarshal and validate.
func (c *Client) ExtractEntitiesRaw(ctx context.Context, content string) (string, error) {
	prompt := "Extract structured facts from the text below. Respond with ONLY a JSON object " +
		`of the shape {"errors":[string],"urls":[string],"tool_ids":[string],"semantic_tags":[string]}. ` +
		"No prose, no markdown fences.\n\nText:\n" + content
	return c.complete(ctx, prompt, "json")
}

func (c *Client) complete(ctx context.Context, prompt, format string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	body := chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
		Stream:   false,
		Format:   format,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", ErrInvalidResponse, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrInvalidResponse, err)
	}

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: server status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%w: status %d: %s", ErrInvalidResponse, resp.StatusCode, string(raw))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", ErrInvalidResponse)
	}
	return parsed.Choices[0].Message.Content, nil
}

// StreamSummary streams incremental summary tokens to onToken as they
// arrive over SSE. It returns once the stream ends or ctx is canceled.
func (c *Client) StreamSummary(ctx context.Context, content string, maxTokens int, onToken func(string)) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	prompt := fmt.Sprintf("Summarize the following in at most %d tokens:\n\n%s", maxTokens, content)
	body := chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
		Stream:   true,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: marshal request: %v", ErrInvalidResponse, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: server status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: status %d", ErrInvalidResponse, resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return nil
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // skip malformed SSE frames rather than aborting the stream
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			onToken(chunk.Choices[0].Delta.Content)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
