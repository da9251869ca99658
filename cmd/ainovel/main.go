// Command ainovel drives the novel generation workflow from the shell:
// project lifecycle, stage generation, batch pipeline, rewrites, style
// profiles, and spend reporting.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/leew666/aiNovel/internal/config"
	"github.com/leew666/aiNovel/internal/llm"
	"github.com/leew666/aiNovel/internal/logging"
	"github.com/leew666/aiNovel/internal/memory"
	"github.com/leew666/aiNovel/internal/store"
	"github.com/leew666/aiNovel/internal/style"
	"github.com/leew666/aiNovel/internal/workflow"
)

// app is the composition root: every component is constructed once at
// startup and handed down explicitly.
type app struct {
	cfg      *config.Config
	store    *store.Store
	client   llm.Client
	tracker  *llm.CostTracker
	orch     *workflow.Orchestrator
	analyzer *style.Analyzer
}

var (
	theApp  *app
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "ainovel",
	Short: "ainovel - staged long-form novel generation engine",
	Long: `ainovel turns a seed idea into a multi-volume novel through a staged
workflow: planning, world building, outline, detail outlines, chapter
writing, and quality review, with batch pipelining, consistency audits,
rewrites with rollback, style profiles, and a daily cost budget.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		theApp, err = newApp()
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if theApp != nil {
			theApp.close()
		}
		logging.Sync()
	},
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Debug = true
	}
	if err := logging.Init(cfg.Debug); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	registry := llm.NewRegistry()
	userProviders, err := cfg.UserProviders()
	if err != nil {
		return nil, err
	}
	for _, p := range userProviders {
		var pricing *llm.Pricing
		if p.InputPrice > 0 || p.OutputPrice > 0 {
			pricing = &llm.Pricing{Input: p.InputPrice, Output: p.OutputPrice}
		}
		registry.RegisterOpenAICompatible(p.Name, p.BaseURL, p.APIKeyEnv, pricing)
	}

	client, err := buildClient(cfg, registry, userProviders)
	if err != nil {
		return nil, err
	}

	tracker, err := llm.NewCostTracker(cfg.LedgerPath(), cfg.DailyBudget)
	if err != nil {
		return nil, err
	}
	backend := memory.NewBackend(cfg.EmbeddingAPIKey, cfg.EmbeddingAPIBase)

	return &app{
		cfg:      cfg,
		store:    s,
		client:   client,
		tracker:  tracker,
		orch:     workflow.New(s, client, tracker, backend, cfg.HistoryDir()),
		analyzer: style.NewAnalyzer(s.Queries, client, tracker),
	}, nil
}

// buildClient resolves the default provider's options from config. User
// providers get their key from the environment variable they declared.
func buildClient(cfg *config.Config, registry *llm.Registry, userProviders []config.UserProvider) (llm.Client, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	opts := llm.Options{Timeout: timeout}

	switch cfg.DefaultProvider {
	case "openai":
		opts.APIKey = cfg.OpenAIAPIKey
		opts.BaseURL = cfg.OpenAIAPIBase
		opts.Model = cfg.OpenAIModel
	case "claude":
		opts.APIKey = cfg.AnthropicAPIKey
		opts.Model = cfg.AnthropicModel
	case "qwen":
		opts.APIKey = cfg.DashScopeAPIKey
		opts.Model = cfg.QwenModel
	default:
		for _, p := range userProviders {
			if p.Name != cfg.DefaultProvider {
				continue
			}
			opts.APIKey = os.Getenv(p.APIKeyEnv)
			opts.Model = p.Model
			break
		}
	}
	return registry.Client(cfg.DefaultProvider, opts)
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logging.Named("main").Warnw("close store", "error", err)
		}
	}
}

// printJSON renders a command result for the shell.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		initCmd, listCmd, statusCmd, completeCmd, deleteCmd,
		planCmd, updatePlanCmd, worldCmd, updateWorldCmd, outlineCmd, spoilerCmd,
		detailCmd, writeCmd, qualityCmd, qualityBatchCmd, consistencyCmd,
		rewriteCmd, rollbackCmd,
		pipelineCmd, pipelineStatusCmd,
		costCmd,
		styleCmd, arcCmd,
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
