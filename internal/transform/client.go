// Package transform rewrites chunks into document sections and names
// documents using the Anthropic Messages API.
package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dgallion1/docforge/internal/chunker"
	"github.com/dgallion1/docforge/internal/doctree"
)

const (
	DefaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"

	titleMaxTokens = 64
	maxTitleLen    = 120

	minSectionTokens = 1024
	maxSectionTokens = 8192
)

var (
	ErrEmptyResponse = errors.New("empty response from model")
	ErrEmptySection  = errors.New("model returned an empty section body")
)

// Client calls the Anthropic Messages API. It implements both the section
// transformer and the document titler.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	stats      *LLMStats
	logger     *slog.Logger
}

// NewClient creates a client. An empty baseURL uses the public API; stats
// may be nil.
func NewClient(apiKey, model, baseURL string, stats *LLMStats, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if stats == nil {
		stats = NewLLMStats(time.Hour)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 180 * time.Second,
		},
		stats:  stats,
		logger: logger,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Stats returns a latency snapshot for calls made by this client.
func (c *Client) Stats() StatsSnapshot {
	snap := c.stats.Snapshot()
	snap.Model = c.model
	return snap
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type sectionResponse struct {
	Body          string                 `json:"body"`
	VisualMarkers []doctree.VisualMarker `json:"visual_markers"`
}

// Transform rewrites one chunk into a section. The returned section always
// carries the chunk's index.
func (c *Client) Transform(ctx context.Context, chunk doctree.Chunk, pos doctree.Position) (doctree.Section, error) {
	budget := min(max(chunker.EstimateTokens(chunk.Text)*2, minSectionTokens), maxSectionTokens)

	text, err := c.complete(ctx, OpTransform, sectionSystemPrompt, buildSectionPrompt(chunk, pos), budget)
	if err != nil {
		return doctree.Section{}, err
	}

	resp, err := parseJSON[sectionResponse](text)
	if err != nil {
		return doctree.Section{}, err
	}
	body := strings.TrimSpace(resp.Body)
	if body == "" {
		return doctree.Section{}, fmt.Errorf("chunk %d: %w", chunk.Index, ErrEmptySection)
	}

	markers := cleanMarkers(resp.VisualMarkers)
	if dropped := len(resp.VisualMarkers) - len(markers); dropped > 0 {
		c.logger.WarnContext(ctx, "dropped invalid visual markers", "chunk", chunk.Index, "dropped", dropped)
	}

	return doctree.Section{
		ChunkIndex:    chunk.Index,
		Body:          body,
		VisualMarkers: markers,
	}, nil
}

// TitleFor asks the model for a document title based on a preview of its body.
func (c *Client) TitleFor(ctx context.Context, preview string) (string, error) {
	text, err := c.complete(ctx, OpTitle, titleSystemPrompt, buildTitlePrompt(preview), titleMaxTokens)
	if err != nil {
		return "", err
	}
	return cleanTitle(text), nil
}

// cleanTitle keeps the first non-empty line and strips labels, markdown and quotes.
func cleanTitle(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = strings.TrimLeft(line, "# ")
		if i := strings.Index(line, ":"); i >= 0 && strings.EqualFold(strings.TrimSpace(line[:i]), "title") {
			line = strings.TrimSpace(line[i+1:])
		}
		line = strings.Trim(line, "\"'*_`“”")
		line = strings.TrimRight(line, ".")
		line = strings.TrimSpace(line)
		if len(line) > maxTitleLen {
			line = strings.TrimSpace(line[:maxTitleLen])
		}
		return line
	}
	return ""
}

func (c *Client) complete(ctx context.Context, op, system, prompt string, maxTokens int) (text string, err error) {
	start := time.Now()
	defer func() {
		c.stats.Record(op, time.Since(start), err != nil)
	}()

	body, err := json.Marshal(anthropicRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    system,
		Messages: []anthropicMessage{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("anthropic api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", &RetryableError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("anthropic api status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("anthropic error: %s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}

	var sb strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrEmptyResponse
	}
	if apiResp.StopReason == "max_tokens" {
		c.logger.WarnContext(ctx, "model output truncated", "op", op, "max_tokens", maxTokens)
	}
	return sb.String(), nil
}

// RetryableError indicates a transient API failure (rate limit or server error).
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
