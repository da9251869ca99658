package llm

import (
	"errors"
	"fmt"
	"strings"
)

// Provider error kinds. Callers branch with errors.Is; only ErrRateLimit
// is retryable.
var (
	// ErrAuth marks a missing, placeholder, or rejected credential.
	ErrAuth = errors.New("llm: authentication failed")

	// ErrRateLimit marks a 429 / throttling response.
	ErrRateLimit = errors.New("llm: rate limited")

	// ErrTokenLimit marks a request that exceeds the model context window.
	ErrTokenLimit = errors.New("llm: token limit exceeded")

	// ErrBudgetExceeded is raised by the cost tracker when an append would
	// push the day total past the configured daily budget.
	ErrBudgetExceeded = errors.New("llm: daily budget exceeded")

	// ErrUnknownProvider marks a registry lookup for a name that is neither
	// built in nor registered.
	ErrUnknownProvider = errors.New("llm: unknown provider")
)

// classifyHTTP maps a provider HTTP status and error body to a typed error.
// Unrecognized failures come back as plain wrapped errors and are surfaced
// without retry.
func classifyHTTP(provider string, status int, body string) error {
	lower := strings.ToLower(body)
	switch {
	case status == 429 || strings.Contains(lower, "rate_limit") || strings.Contains(lower, "throttling"):
		return fmt.Errorf("%w: %s returned %d: %s", ErrRateLimit, provider, status, body)
	case status == 401 || status == 403 || strings.Contains(lower, "invalid_api_key") || strings.Contains(lower, "unauthorized"):
		return fmt.Errorf("%w: %s returned %d: %s", ErrAuth, provider, status, body)
	case strings.Contains(lower, "maximum context") || strings.Contains(lower, "context length") || strings.Contains(lower, "tokens exceed"):
		return fmt.Errorf("%w: %s: %s", ErrTokenLimit, provider, body)
	default:
		return fmt.Errorf("llm: %s request failed with status %d: %s", provider, status, body)
	}
}
