// Package memory supplies the knowledge-injection layer of context
// assembly: the keyword-triggered lorebook, the plot-arc lifecycle
// tracker, and the embedding-backed arc retriever.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/leew666/aiNovel/internal/logging"
)

// Backend turns text into a vector for similarity ranking.
type Backend interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Dimensions() int
	Name() string
}

// NewBackend picks the OpenAI-compatible endpoint when a key is configured
// and the offline hashing fallback otherwise.
func NewBackend(apiKey, baseURL string) Backend {
	if apiKey != "" {
		return NewOpenAIBackend(apiKey, baseURL)
	}
	logging.Named("memory").Infow("no embedding key configured, using hash backend")
	return HashBackend{}
}

// Cosine computes similarity in plain arithmetic. Zero-length, mismatched,
// or zero-norm vectors score 0.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// OpenAIBackend calls an OpenAI-compatible /embeddings endpoint.
type OpenAIBackend struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

const embeddingModel = "text-embedding-3-small"

// NewOpenAIBackend builds the cloud backend. An empty baseURL targets the
// OpenAI API.
func NewOpenAIBackend(apiKey, baseURL string) *OpenAIBackend {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIBackend{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      embeddingModel,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed implements Backend.
func (b *OpenAIBackend) Embed(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(embeddingRequest{Model: b.model, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("memory: marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("memory: build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("memory: embedding request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("memory: read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("memory: embedding endpoint returned %d: %s", resp.StatusCode, respBody)
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("memory: decode embedding response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("memory: embedding endpoint error: %s", parsed.Error.Message)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("memory: embedding endpoint returned no vector")
	}
	return parsed.Data[0].Embedding, nil
}

// Dimensions implements Backend.
func (b *OpenAIBackend) Dimensions() int { return 1536 }

// Name implements Backend.
func (b *OpenAIBackend) Name() string { return "openai:" + b.model }

// HashBackend is the offline fallback: token shingles hashed with FNV-1a
// into a fixed 512-dimensional vector, L2-normalized. It never fails and
// needs no network, which keeps retrieval usable without credentials.
type HashBackend struct{}

const hashDimensions = 512

// Embed implements Backend.
func (HashBackend) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, hashDimensions)
	for _, token := range shingles(text) {
		h := fnv.New32a()
		h.Write([]byte(token))
		vec[h.Sum32()%hashDimensions]++
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

// Dimensions implements Backend.
func (HashBackend) Dimensions() int { return hashDimensions }

// Name implements Backend.
func (HashBackend) Name() string { return "hash-fnv1a-512" }

// shingles emits whitespace tokens, plus rune bigrams for tokens that carry
// no word segmentation (CJK prose arrives as one long field per clause).
func shingles(text string) []string {
	var out []string
	for _, field := range strings.Fields(strings.ToLower(text)) {
		out = append(out, field)
		runes := []rune(field)
		if len(runes) >= 2 && !isASCIIWord(field) {
			for i := 0; i+1 < len(runes); i++ {
				out = append(out, string(runes[i:i+2]))
			}
		}
	}
	return out
}

func isASCIIWord(s string) bool {
	for _, r := range s {
		if r > 127 {
			return false
		}
	}
	return true
}
