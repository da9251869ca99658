// Package config maps environment variables into the engine's typed
// configuration and loads optional user-defined provider declarations
// from a YAML file. Config is immutable after Load; components receive
// it through their constructors.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration for the engine.
type Config struct {
	Debug bool `env:"AINOVEL_DEBUG" envDefault:"false"`

	// Provider selection
	DefaultProvider string `env:"DEFAULT_LLM_PROVIDER" envDefault:"openai"`

	// OpenAI-compatible
	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIAPIBase string `env:"OPENAI_API_BASE" envDefault:"https://api.openai.com/v1"`
	OpenAIModel   string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`

	// Anthropic
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	AnthropicModel  string `env:"ANTHROPIC_MODEL" envDefault:"claude-3-haiku-20240307"`

	// DashScope (Qwen)
	DashScopeAPIKey string `env:"DASHSCOPE_API_KEY"`
	QwenModel       string `env:"QIANWEN_MODEL" envDefault:"qwen-max"`

	// Embeddings (optional; offline hash fallback is used when unset)
	EmbeddingAPIKey  string `env:"EMBEDDING_API_KEY"`
	EmbeddingAPIBase string `env:"EMBEDDING_API_BASE"`

	// Cost control
	DailyBudget float64 `env:"DAILY_BUDGET" envDefault:"5.0"`

	// Storage
	DatabasePath string `env:"AINOVEL_DB" envDefault:"data/ainovel.db"`
	DataDir      string `env:"AINOVEL_DATA_DIR" envDefault:"data"`

	// Optional YAML file declaring extra OpenAI-compatible providers.
	ProvidersFile string `env:"AINOVEL_PROVIDERS_FILE"`

	// Generation defaults
	Temperature    float64 `env:"DEFAULT_TEMPERATURE" envDefault:"0.7"`
	MaxTokens      int     `env:"DEFAULT_MAX_TOKENS" envDefault:"2000"`
	TimeoutSeconds int     `env:"LLM_TIMEOUT" envDefault:"60"`
}

// UserProvider declares an additional OpenAI-compatible provider loaded
// from the providers file. APIKeyEnv names the environment variable that
// carries the credential so keys never live in the file itself.
type UserProvider struct {
	Name        string  `yaml:"name"`
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model"`
	InputPrice  float64 `yaml:"input_price"`  // USD per 1k input tokens
	OutputPrice float64 `yaml:"output_price"` // USD per 1k output tokens
}

type providersFile struct {
	Providers []UserProvider `yaml:"providers"`
}

// Load parses environment variables into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	return cfg, nil
}

// LedgerPath returns the location of the cost ledger JSON document.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.DataDir, "cost_tracker.json")
}

// HistoryDir returns the directory holding per-chapter rewrite history files.
func (c *Config) HistoryDir() string {
	return filepath.Join(c.DataDir, "projects")
}

// UserProviders reads the optional providers file. A missing path or a
// ProvidersFile left unset yields an empty slice, not an error.
func (c *Config) UserProviders() ([]UserProvider, error) {
	if c.ProvidersFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.ProvidersFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read providers file: %w", err)
	}
	var pf providersFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("config: parse providers file: %w", err)
	}
	for i, p := range pf.Providers {
		if p.Name == "" {
			return nil, fmt.Errorf("config: providers[%d] missing name", i)
		}
		if p.BaseURL == "" {
			return nil, fmt.Errorf("config: provider %q missing base_url", p.Name)
		}
	}
	return pf.Providers, nil
}
