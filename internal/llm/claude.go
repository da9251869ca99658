package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/leew666/aiNovel/internal/logging"
)

// ClaudeClient speaks the Anthropic messages API, which carries the system
// message in a dedicated request slot rather than the message list.
type ClaudeClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	pricing    Pricing
}

// ClaudeOptions configures a ClaudeClient.
type ClaudeOptions struct {
	APIKey  string
	BaseURL string // defaults to https://api.anthropic.com/v1
	Model   string // defaults to claude-3-haiku-20240307
	Timeout time.Duration
}

// NewClaudeClient validates the credential and builds the client.
func NewClaudeClient(opts ClaudeOptions) (*ClaudeClient, error) {
	if opts.APIKey == "" || opts.APIKey == "your_anthropic_api_key_here" {
		return nil, fmt.Errorf("%w: Anthropic API key not configured", ErrAuth)
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.anthropic.com/v1"
	}
	if opts.Model == "" {
		opts.Model = "claude-3-haiku-20240307"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	return &ClaudeClient{
		apiKey:     opts.APIKey,
		baseURL:    opts.BaseURL,
		model:      opts.Model,
		httpClient: &http.Client{Timeout: opts.Timeout},
		pricing:    lookupPricing(claudePricing, opts.Model, claudeDefaultPricing),
	}, nil
}

type claudeRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
}

type claudeResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate implements Client.
func (c *ClaudeClient) Generate(ctx context.Context, messages []Message, temperature float64, maxTokens int) (*GenerateResult, error) {
	return withRetry(ctx, "claude", func() (*GenerateResult, error) {
		return c.generateOnce(ctx, messages, temperature, maxTokens)
	})
}

func (c *ClaudeClient) generateOnce(ctx context.Context, messages []Message, temperature float64, maxTokens int) (*GenerateResult, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	// The messages API wants system content outside the message list.
	var system string
	chat := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		chat = append(chat, m)
	}

	body, err := json.Marshal(claudeRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		System:      system,
		Messages:    chat,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: claude request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTP("claude", resp.StatusCode, string(respBody))
	}

	var parsed claudeResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("llm: decode response: %w", err)
	}
	if parsed.Error != nil {
		return nil, classifyHTTP("claude", resp.StatusCode, parsed.Error.Message)
	}
	if len(parsed.Content) == 0 {
		return nil, fmt.Errorf("llm: claude returned no content blocks")
	}

	usage := Usage{
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
		TotalTokens:  parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
	}
	cost := c.EstimateCost(usage.InputTokens, usage.OutputTokens)

	model := parsed.Model
	if model == "" {
		model = c.model
	}

	logging.Named("llm").Infow("generation complete",
		"provider", "claude", "model", model,
		"input_tokens", usage.InputTokens, "output_tokens", usage.OutputTokens,
		"cost", cost, "finish_reason", normalizeClaudeStop(parsed.StopReason))

	return &GenerateResult{
		Content:      parsed.Content[0].Text,
		Usage:        usage,
		Cost:         cost,
		Model:        model,
		FinishReason: normalizeClaudeStop(parsed.StopReason),
	}, nil
}

func normalizeClaudeStop(stopReason string) string {
	switch stopReason {
	case "end_turn", "stop_sequence":
		return FinishStop
	case "max_tokens":
		return FinishLength
	default:
		return stopReason
	}
}

// CountTokens approximates with ~3.5 characters per token, which tracks
// Claude's tokenizer closely enough for budgeting.
func (c *ClaudeClient) CountTokens(text string) int {
	return int(float64(len(text)) / 3.5)
}

// EstimateCost implements Client.
func (c *ClaudeClient) EstimateCost(inputTokens, outputTokens int) float64 {
	return costFor(c.pricing, inputTokens, outputTokens)
}

// Provider implements Client.
func (c *ClaudeClient) Provider() string { return "claude" }

// Model implements Client.
func (c *ClaudeClient) Model() string { return c.model }
