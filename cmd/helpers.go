package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/ziadkadry99/tracegraph/internal/audit"
	"github.com/ziadkadry99/tracegraph/internal/config"
	"github.com/ziadkadry99/tracegraph/internal/db"
	"github.com/ziadkadry99/tracegraph/internal/graph"
	"github.com/ziadkadry99/tracegraph/internal/llm"
	"github.com/ziadkadry99/tracegraph/internal/logging"
	"github.com/ziadkadry99/tracegraph/internal/pipeline"
	"github.com/ziadkadry99/tracegraph/internal/progress"
	"github.com/ziadkadry99/tracegraph/internal/workflow"
)

// loadConfig loads and validates the config, providing a user-friendly error.
// A missing config file yields the built-in defaults.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w\nRun `tracegraph init` to create a config file", err)
	}
	if dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgFile, err)
	}
	return cfg, nil
}

// newLogger writes to stderr so stdout stays free for command output and
// the MCP protocol.
func newLogger() *slog.Logger {
	return logging.New(os.Stderr, logging.LevelFromVerbose(verbose))
}

// stores bundles the open database with the stores built on it.
type stores struct {
	db      *db.DB
	graph   *graph.Store
	catalog *workflow.Store
	audit   *audit.Store
}

func (s *stores) Close() error { return s.db.Close() }

// record appends an audit entry for a completed mutation. Failures only
// warn since the mutation itself already succeeded.
func (s *stores) record(ctx context.Context, action audit.Action, target, summary string, services []string, report any) {
	if _, err := s.audit.Record(ctx, actor(), action, target, summary, services, report); err != nil {
		newLogger().Warn("recording audit entry failed", "action", action, "error", err)
	}
}

// actor names who ran the command in the audit trail.
func actor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}

func openStores(cfg *config.Config) (*stores, error) {
	database, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", cfg.DatabasePath, err)
	}
	return &stores{
		db:      database,
		graph:   graph.NewStore(database),
		catalog: workflow.NewStore(database),
		audit:   audit.NewStore(database),
	}, nil
}

func newPipeline(cfg *config.Config, st *stores) *pipeline.Pipeline {
	var reporters pipeline.ReporterFunc
	if !verbose {
		reporters = progress.NewReporter
	}
	return pipeline.New(cfg, st.graph, st.catalog, newLogger(), reporters)
}

// createLLMProviderFromConfig creates an LLM provider based on config settings,
// rate limited when annotation.requests_per_minute is set.
func createLLMProviderFromConfig(cfg *config.Config) (llm.Provider, error) {
	provider, err := llm.NewProvider(string(cfg.Annotation.Provider), cfg.Annotation.Model)
	if err != nil {
		return nil, err
	}
	return llm.NewRateLimitedProvider(provider, cfg.Annotation.RequestsPerMinute), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
