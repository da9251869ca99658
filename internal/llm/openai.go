package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/leew666/aiNovel/internal/logging"
)

// OpenAIClient speaks the OpenAI chat-completions wire protocol. With an
// overridden base URL it services any OpenAI-compatible endpoint, which is
// how user-defined providers are implemented.
type OpenAIClient struct {
	provider   string
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	pricing    Pricing

	encOnce  sync.Once
	encoding *tiktoken.Tiktoken
}

// OpenAIOptions configures an OpenAI-compatible client.
type OpenAIOptions struct {
	Provider string // registry name; defaults to "openai"
	APIKey   string
	BaseURL  string // defaults to https://api.openai.com/v1
	Model    string // defaults to gpt-4o-mini
	Timeout  time.Duration
	Pricing  *Pricing // overrides the family table; used by user providers
}

// NewOpenAIClient validates the credential and builds the client.
// Placeholder keys fail construction with ErrAuth.
func NewOpenAIClient(opts OpenAIOptions) (*OpenAIClient, error) {
	if opts.APIKey == "" || opts.APIKey == "your_openai_api_key_here" {
		return nil, fmt.Errorf("%w: OpenAI API key not configured", ErrAuth)
	}
	if opts.Provider == "" {
		opts.Provider = "openai"
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.openai.com/v1"
	}
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}

	pricing := lookupPricing(openAIPricing, opts.Model, openAIDefaultPricing)
	if opts.Pricing != nil {
		pricing = *opts.Pricing
	}

	return &OpenAIClient{
		provider:   opts.Provider,
		apiKey:     opts.APIKey,
		baseURL:    opts.BaseURL,
		model:      opts.Model,
		httpClient: &http.Client{Timeout: opts.Timeout},
		pricing:    pricing,
	}, nil
}

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Generate implements Client.
func (c *OpenAIClient) Generate(ctx context.Context, messages []Message, temperature float64, maxTokens int) (*GenerateResult, error) {
	return withRetry(ctx, c.provider, func() (*GenerateResult, error) {
		return c.generateOnce(ctx, messages, temperature, maxTokens)
	})
}

func (c *OpenAIClient) generateOnce(ctx context.Context, messages []Message, temperature float64, maxTokens int) (*GenerateResult, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	log := logging.Named("llm")
	log.Debugw("openai-compatible request", "provider", c.provider, "model", c.model, "messages", len(messages))

	body, err := json.Marshal(openAIRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: %s request: %w", c.provider, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTP(c.provider, resp.StatusCode, string(respBody))
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("llm: decode response: %w", err)
	}
	if parsed.Error != nil {
		return nil, classifyHTTP(c.provider, resp.StatusCode, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("llm: %s returned no choices", c.provider)
	}

	choice := parsed.Choices[0]
	usage := Usage{
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
		TotalTokens:  parsed.Usage.TotalTokens,
	}
	cost := c.EstimateCost(usage.InputTokens, usage.OutputTokens)

	model := parsed.Model
	if model == "" {
		model = c.model
	}

	log.Infow("generation complete",
		"provider", c.provider, "model", model,
		"input_tokens", usage.InputTokens, "output_tokens", usage.OutputTokens,
		"cost", cost, "finish_reason", choice.FinishReason)

	return &GenerateResult{
		Content:      choice.Message.Content,
		Usage:        usage,
		Cost:         cost,
		Model:        model,
		FinishReason: choice.FinishReason,
	}, nil
}

// CountTokens uses tiktoken for OpenAI-family models, falling back to
// cl100k_base and finally to a chars/4 approximation when no encoder can
// be loaded.
func (c *OpenAIClient) CountTokens(text string) int {
	c.encOnce.Do(func() {
		enc, err := tiktoken.EncodingForModel(c.model)
		if err != nil {
			enc, err = tiktoken.GetEncoding("cl100k_base")
			if err != nil {
				logging.Named("llm").Warnw("tokenizer unavailable, using char heuristic", "model", c.model, "error", err)
				return
			}
		}
		c.encoding = enc
	})
	if c.encoding == nil {
		return len(text) / 4
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// EstimateCost implements Client.
func (c *OpenAIClient) EstimateCost(inputTokens, outputTokens int) float64 {
	return costFor(c.pricing, inputTokens, outputTokens)
}

// Provider implements Client.
func (c *OpenAIClient) Provider() string { return c.provider }

// Model implements Client.
func (c *OpenAIClient) Model() string { return c.model }
