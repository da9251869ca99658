package llm

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/leew666/aiNovel/internal/logging"
)

// Options carries the resolved settings a factory needs to build a client.
type Options struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Pricing *Pricing // optional price override for user-defined providers
}

// Descriptor declares how a named provider is constructed.
type Descriptor struct {
	// Factory builds a client from resolved options.
	Factory func(name string, opts Options) (Client, error)

	// CredentialEnv names the environment variable that carries the key,
	// for diagnostics when construction fails.
	CredentialEnv string

	// AllowBaseURL reports whether the provider honors a base-URL override.
	AllowBaseURL bool
}

// Registry maps case-insensitive provider names to descriptors and caches
// constructed clients by provider:model. Any name that is neither built in
// nor registered is treated as OpenAI-compatible.
type Registry struct {
	mu          sync.Mutex
	descriptors map[string]Descriptor
	clients     map[string]Client
}

// NewRegistry returns a registry with the three built-in providers.
func NewRegistry() *Registry {
	r := &Registry{
		descriptors: make(map[string]Descriptor),
		clients:     make(map[string]Client),
	}

	r.register("openai", Descriptor{
		CredentialEnv: "OPENAI_API_KEY",
		AllowBaseURL:  true,
		Factory: func(name string, opts Options) (Client, error) {
			return NewOpenAIClient(OpenAIOptions{
				Provider: name,
				APIKey:   opts.APIKey,
				BaseURL:  opts.BaseURL,
				Model:    opts.Model,
				Timeout:  opts.Timeout,
				Pricing:  opts.Pricing,
			})
		},
	})
	r.register("claude", Descriptor{
		CredentialEnv: "ANTHROPIC_API_KEY",
		Factory: func(name string, opts Options) (Client, error) {
			return NewClaudeClient(ClaudeOptions{
				APIKey:  opts.APIKey,
				Model:   opts.Model,
				Timeout: opts.Timeout,
			})
		},
	})
	r.register("qwen", Descriptor{
		CredentialEnv: "DASHSCOPE_API_KEY",
		Factory: func(name string, opts Options) (Client, error) {
			return NewQwenClient(QwenOptions{
				APIKey:  opts.APIKey,
				Model:   opts.Model,
				Timeout: opts.Timeout,
			})
		},
	})

	return r
}

func (r *Registry) register(name string, d Descriptor) {
	r.descriptors[strings.ToLower(name)] = d
}

// Register adds or replaces a named provider descriptor at runtime.
func (r *Registry) Register(name string, d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.register(name, d)
	logging.Named("llm").Infow("provider registered", "name", strings.ToLower(name))
}

// RegisterOpenAICompatible registers a user-defined provider serviced by
// the OpenAI-compatible client with a fixed base URL and optional pricing.
func (r *Registry) RegisterOpenAICompatible(name, baseURL, credentialEnv string, pricing *Pricing) {
	r.Register(name, Descriptor{
		CredentialEnv: credentialEnv,
		AllowBaseURL:  true,
		Factory: func(provider string, opts Options) (Client, error) {
			if opts.BaseURL == "" {
				opts.BaseURL = baseURL
			}
			if opts.Pricing == nil {
				opts.Pricing = pricing
			}
			return NewOpenAIClient(OpenAIOptions{
				Provider: provider,
				APIKey:   opts.APIKey,
				BaseURL:  opts.BaseURL,
				Model:    opts.Model,
				Timeout:  opts.Timeout,
				Pricing:  opts.Pricing,
			})
		},
	})
}

// Client returns a cached client for (provider, model), constructing one
// through the provider's factory on first use. Unknown names fall through
// to the OpenAI-compatible factory, which requires a base URL in opts.
func (r *Registry) Client(provider string, opts Options) (Client, error) {
	name := strings.ToLower(strings.TrimSpace(provider))
	if name == "" {
		return nil, fmt.Errorf("%w: empty provider name", ErrUnknownProvider)
	}

	cacheKey := name + ":" + opts.Model

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[cacheKey]; ok {
		return c, nil
	}

	desc, ok := r.descriptors[name]
	if !ok {
		// Names not built in are serviced by the OpenAI-compatible client.
		if opts.BaseURL == "" {
			return nil, fmt.Errorf("%w: %q has no registered descriptor and no base URL", ErrUnknownProvider, name)
		}
		desc = Descriptor{
			AllowBaseURL: true,
			Factory: func(provider string, o Options) (Client, error) {
				return NewOpenAIClient(OpenAIOptions{
					Provider: provider,
					APIKey:   o.APIKey,
					BaseURL:  o.BaseURL,
					Model:    o.Model,
					Timeout:  o.Timeout,
					Pricing:  o.Pricing,
				})
			},
		}
	}

	if !desc.AllowBaseURL {
		opts.BaseURL = ""
	}

	client, err := desc.Factory(name, opts)
	if err != nil {
		return nil, err
	}
	r.clients[cacheKey] = client
	logging.Named("llm").Infow("client constructed", "provider", name, "model", opts.Model)
	return client, nil
}
