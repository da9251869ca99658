// Package llm provides the generation-provider abstraction: a uniform
// client contract across OpenAI-compatible, Anthropic, and DashScope
// endpoints, a runtime provider registry with client caching, and the
// daily-budget cost tracker.
package llm

import (
	"context"
	"errors"
	"time"

	"github.com/leew666/aiNovel/internal/logging"
)

// Finish reasons normalized across providers. FinishLength is load-bearing:
// the outline stage uses it to detect truncation and issue a continuation.
const (
	FinishStop   = "stop"
	FinishLength = "length"
)

// Message is one role-tagged turn in a chat-style request.
type Message struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

// Usage carries the per-call token counts reported by the provider, or a
// heuristic estimate when the provider omits them.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// GenerateResult is the uniform envelope returned by every client.
type GenerateResult struct {
	Content      string  `json:"content"`
	Usage        Usage   `json:"usage"`
	Cost         float64 `json:"cost"`
	Model        string  `json:"model"`
	FinishReason string  `json:"finish_reason"`
}

// Client is the uniform generation interface implemented by every provider.
// Implementations must be safe for concurrent Generate calls.
type Client interface {
	// Generate sends the message sequence and returns the completion.
	// Rate-limit failures are retried up to three times with exponential
	// backoff; auth and token-limit failures surface immediately.
	Generate(ctx context.Context, messages []Message, temperature float64, maxTokens int) (*GenerateResult, error)

	// CountTokens estimates the token count of text with the closest
	// available tokenizer for the client's model family.
	CountTokens(text string) int

	// EstimateCost projects the monetary cost of a call from token counts.
	EstimateCost(inputTokens, outputTokens int) float64

	// Provider returns the registry name this client was built under.
	Provider() string

	// Model returns the configured model name.
	Model() string
}

const (
	maxRetries       = 3
	retryBackoffBase = 2 * time.Second
	retryBackoffMax  = 10 * time.Second
)

// withRetry runs fn up to maxRetries times, backing off exponentially
// between attempts. Only rate-limit errors are retried; everything else
// surfaces on the first attempt.
func withRetry(ctx context.Context, provider string, fn func() (*GenerateResult, error)) (*GenerateResult, error) {
	log := logging.Named("llm")

	var lastErr error
	backoff := retryBackoffBase
	for attempt := 1; attempt <= maxRetries; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, ErrRateLimit) {
			return nil, err
		}
		lastErr = err
		if attempt == maxRetries {
			break
		}
		log.Warnw("rate limited, retrying", "provider", provider, "attempt", attempt, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > retryBackoffMax {
			backoff = retryBackoffMax
		}
	}
	return nil, lastErr
}
