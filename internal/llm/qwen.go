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

// QwenClient speaks the DashScope text-generation endpoint for the Qwen
// model family.
type QwenClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	pricing    Pricing
}

// QwenOptions configures a QwenClient.
type QwenOptions struct {
	APIKey  string
	BaseURL string // defaults to https://dashscope.aliyuncs.com/api/v1
	Model   string // defaults to qwen-max
	Timeout time.Duration
}

// NewQwenClient validates the credential and builds the client.
func NewQwenClient(opts QwenOptions) (*QwenClient, error) {
	if opts.APIKey == "" || opts.APIKey == "your_dashscope_api_key_here" {
		return nil, fmt.Errorf("%w: DashScope API key not configured", ErrAuth)
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://dashscope.aliyuncs.com/api/v1"
	}
	if opts.Model == "" {
		opts.Model = "qwen-max"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	return &QwenClient{
		apiKey:     opts.APIKey,
		baseURL:    opts.BaseURL,
		model:      opts.Model,
		httpClient: &http.Client{Timeout: opts.Timeout},
		pricing:    lookupPricing(qwenPricing, opts.Model, qwenDefaultPricing),
	}, nil
}

type qwenRequest struct {
	Model string `json:"model"`
	Input struct {
		Messages []Message `json:"messages"`
	} `json:"input"`
	Parameters struct {
		Temperature  float64 `json:"temperature"`
		MaxTokens    int     `json:"max_tokens"`
		ResultFormat string  `json:"result_format"`
	} `json:"parameters"`
}

type qwenResponse struct {
	Output struct {
		Choices []struct {
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	} `json:"output"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Generate implements Client.
func (c *QwenClient) Generate(ctx context.Context, messages []Message, temperature float64, maxTokens int) (*GenerateResult, error) {
	return withRetry(ctx, "qwen", func() (*GenerateResult, error) {
		return c.generateOnce(ctx, messages, temperature, maxTokens)
	})
}

func (c *QwenClient) generateOnce(ctx context.Context, messages []Message, temperature float64, maxTokens int) (*GenerateResult, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	var reqBody qwenRequest
	reqBody.Model = c.model
	reqBody.Input.Messages = messages
	reqBody.Parameters.Temperature = temperature
	reqBody.Parameters.MaxTokens = maxTokens
	reqBody.Parameters.ResultFormat = "message"

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/services/aigc/text-generation/generation", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: qwen request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTP("qwen", resp.StatusCode, string(respBody))
	}

	var parsed qwenResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("llm: decode response: %w", err)
	}
	if parsed.Code != "" {
		return nil, classifyHTTP("qwen", resp.StatusCode, parsed.Code+": "+parsed.Message)
	}
	if len(parsed.Output.Choices) == 0 {
		return nil, fmt.Errorf("llm: qwen returned no choices")
	}

	choice := parsed.Output.Choices[0]
	usage := Usage{
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
		TotalTokens:  parsed.Usage.TotalTokens,
	}
	if usage.TotalTokens == 0 {
		// DashScope omits usage on some endpoints; fall back to the
		// character-length heuristic.
		for _, m := range messages {
			usage.InputTokens += c.CountTokens(m.Content)
		}
		usage.OutputTokens = c.CountTokens(choice.Message.Content)
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}
	cost := c.EstimateCost(usage.InputTokens, usage.OutputTokens)

	logging.Named("llm").Infow("generation complete",
		"provider", "qwen", "model", c.model,
		"input_tokens", usage.InputTokens, "output_tokens", usage.OutputTokens,
		"cost", cost, "finish_reason", choice.FinishReason)

	return &GenerateResult{
		Content:      choice.Message.Content,
		Usage:        usage,
		Cost:         cost,
		Model:        c.model,
		FinishReason: choice.FinishReason,
	}, nil
}

// CountTokens approximates one token per two characters, calibrated for
// Chinese-heavy text where a Qwen token is roughly one hanzi.
func (c *QwenClient) CountTokens(text string) int {
	return len([]rune(text)) / 2
}

// EstimateCost implements Client.
func (c *QwenClient) EstimateCost(inputTokens, outputTokens int) float64 {
	return costFor(c.pricing, inputTokens, outputTokens)
}

// Provider implements Client.
func (c *QwenClient) Provider() string { return "qwen" }

// Model implements Client.
func (c *QwenClient) Model() string { return c.model }
