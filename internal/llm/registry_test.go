package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryRejectsPlaceholderKeys(t *testing.T) {
	r := NewRegistry()

	for provider, key := range map[string]string{
		"openai": "your_openai_api_key_here",
		"claude": "your_anthropic_api_key_here",
		"qwen":   "your_dashscope_api_key_here",
	} {
		_, err := r.Client(provider, Options{APIKey: key})
		require.ErrorIs(t, err, ErrAuth, "provider %s", provider)
	}
}

func TestRegistryCaseInsensitiveAndCached(t *testing.T) {
	r := NewRegistry()

	a, err := r.Client("OpenAI", Options{APIKey: "sk-test", Model: "gpt-4o"})
	require.NoError(t, err)
	b, err := r.Client("openai", Options{APIKey: "sk-test", Model: "gpt-4o"})
	require.NoError(t, err)
	require.Same(t, a, b)

	c, err := r.Client("openai", Options{APIKey: "sk-test", Model: "gpt-4o-mini"})
	require.NoError(t, err)
	require.NotSame(t, a, c)
}

func TestRegistryUnknownProviderNeedsBaseURL(t *testing.T) {
	r := NewRegistry()

	_, err := r.Client("deepseek", Options{APIKey: "sk-test", Model: "deepseek-chat"})
	require.ErrorIs(t, err, ErrUnknownProvider)

	c, err := r.Client("deepseek", Options{
		APIKey:  "sk-test",
		BaseURL: "https://api.deepseek.com/v1",
		Model:   "deepseek-chat",
	})
	require.NoError(t, err)
	require.Equal(t, "deepseek", c.Provider())
	require.Equal(t, "deepseek-chat", c.Model())
}

func TestRegistryUserProviderPricing(t *testing.T) {
	r := NewRegistry()
	r.RegisterOpenAICompatible("kimi", "https://api.moonshot.cn/v1", "MOONSHOT_API_KEY", &Pricing{Input: 0.002, Output: 0.002})

	c, err := r.Client("kimi", Options{APIKey: "sk-test", Model: "moonshot-v1-8k"})
	require.NoError(t, err)
	require.InDelta(t, 0.004, c.EstimateCost(1000, 1000), 1e-9)
}

func TestOpenAIGenerateAgainstStub(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		require.Equal(t, "/chat/completions", req.URL.Path)
		require.Equal(t, "Bearer sk-test", req.Header.Get("Authorization"))

		var body openAIRequest
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		require.Equal(t, "gpt-4o-mini", body.Model)

		json.NewEncoder(w).Encode(map[string]any{
			"model": "gpt-4o-mini",
			"choices": []map[string]any{{
				"message":       map[string]string{"role": "assistant", "content": "第一章内容"},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 34, "total_tokens": 46},
		})
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(OpenAIOptions{APIKey: "sk-test", BaseURL: srv.URL, Model: "gpt-4o-mini"})
	require.NoError(t, err)

	res, err := c.Generate(context.Background(), []Message{{Role: "user", Content: "写一章"}}, 0.7, 2000)
	require.NoError(t, err)
	require.Equal(t, "第一章内容", res.Content)
	require.Equal(t, FinishStop, res.FinishReason)
	require.Equal(t, 46, res.Usage.TotalTokens)
	require.InDelta(t, 12.0/1000*0.00015+34.0/1000*0.0006, res.Cost, 1e-12)
}

func TestOpenAIRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"message":"rate_limit_exceeded"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]string{"role": "assistant", "content": "ok"},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
		})
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(OpenAIOptions{APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)

	res, err := c.Generate(context.Background(), []Message{{Role: "user", Content: "hi"}}, 0.7, 100)
	require.NoError(t, err)
	require.Equal(t, "ok", res.Content)
	require.Equal(t, int32(2), calls.Load())
}

func TestOpenAIDoesNotRetryAuthError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid_api_key"}}`))
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(OpenAIOptions{APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), []Message{{Role: "user", Content: "hi"}}, 0.7, 100)
	require.ErrorIs(t, err, ErrAuth)
	require.Equal(t, int32(1), calls.Load())
}

func TestClaudeSystemPromptExtraction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		require.Equal(t, "/messages", req.URL.Path)
		require.Equal(t, "sk-ant-test", req.Header.Get("x-api-key"))

		var body claudeRequest
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		require.Equal(t, "你是小说家", body.System)
		require.Len(t, body.Messages, 1)

		json.NewEncoder(w).Encode(map[string]any{
			"model":       "claude-3-haiku-20240307",
			"content":     []map[string]string{{"type": "text", "text": "好的"}},
			"stop_reason": "max_tokens",
			"usage":       map[string]int{"input_tokens": 5, "output_tokens": 7},
		})
	}))
	defer srv.Close()

	c, err := NewClaudeClient(ClaudeOptions{APIKey: "sk-ant-test", BaseURL: srv.URL})
	require.NoError(t, err)

	res, err := c.Generate(context.Background(), []Message{
		{Role: "system", Content: "你是小说家"},
		{Role: "user", Content: "继续"},
	}, 0.7, 100)
	require.NoError(t, err)
	require.Equal(t, "好的", res.Content)
	require.Equal(t, FinishLength, res.FinishReason)
	require.Equal(t, 12, res.Usage.TotalTokens)
}

func TestQwenUsageFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"output": map[string]any{
				"choices": []map[string]any{{
					"message":       map[string]string{"role": "assistant", "content": "一段续写的文字内容"},
					"finish_reason": "stop",
				}},
			},
		})
	}))
	defer srv.Close()

	c, err := NewQwenClient(QwenOptions{APIKey: "sk-qwen-test", BaseURL: srv.URL})
	require.NoError(t, err)

	res, err := c.Generate(context.Background(), []Message{{Role: "user", Content: "续写这一段"}}, 0.7, 100)
	require.NoError(t, err)
	require.NotZero(t, res.Usage.TotalTokens)
	require.Equal(t, res.Usage.InputTokens+res.Usage.OutputTokens, res.Usage.TotalTokens)
}

func TestClassifyHTTP(t *testing.T) {
	require.ErrorIs(t, classifyHTTP("openai", 429, "slow down"), ErrRateLimit)
	require.ErrorIs(t, classifyHTTP("openai", 400, "rate_limit_exceeded"), ErrRateLimit)
	require.ErrorIs(t, classifyHTTP("claude", 401, "nope"), ErrAuth)
	require.ErrorIs(t, classifyHTTP("openai", 400, "maximum context length exceeded"), ErrTokenLimit)
	require.NotErrorIs(t, classifyHTTP("openai", 500, "boom"), ErrRateLimit)
}
