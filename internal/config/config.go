package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// DefaultFile is the config file name looked up in the working directory.
const DefaultFile = ".tracegraph.yml"

// EnvPrefix is the prefix of environment variable overrides.
const EnvPrefix = "TRACEGRAPH_"

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (TRACEGRAPH_*). Nested keys use a double
// underscore: TRACEGRAPH_WORKFLOWS__MAX_DEPTH -> workflows.max_depth.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return cfg, nil
}

// envKey maps TRACEGRAPH_LINKER__SERVICE_CONTEXT_LIMIT to
// linker.service_context_limit. Comma-separated values become lists.
func envKey(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	key = strings.ReplaceAll(key, "__", ".")
	if strings.Contains(value, ",") {
		return key, splitAndTrim(value)
	}
	return key, value
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

var validAnnotationProviders = map[AnnotationProvider]bool{
	AnnotationFile:   true,
	AnnotationOpenAI: true,
	AnnotationOllama: true,
}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	if c.SourceDir == "" {
		return fmt.Errorf("source_dir is required")
	}
	if c.LogsDir == "" {
		return fmt.Errorf("logs_dir is required")
	}
	if len(c.SourceInclude) == 0 {
		return fmt.Errorf("source_include must list at least one pattern")
	}
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("max_concurrency must be non-negative")
	}

	if c.Workflows.OrchestratorService == "" {
		return fmt.Errorf("workflows.orchestrator_service is required")
	}
	if c.Workflows.MaxDepth <= 0 {
		return fmt.Errorf("workflows.max_depth must be positive")
	}
	if c.Workflows.SummarySteps <= 0 {
		return fmt.Errorf("workflows.summary_steps must be positive")
	}
	if c.Workflows.FieldsAccessedLimit < 0 {
		return fmt.Errorf("workflows.fields_accessed_limit must be non-negative")
	}
	if c.Linker.ServiceContextLimit < 0 {
		return fmt.Errorf("linker.service_context_limit must be non-negative")
	}
	for i, p := range c.Linker.ErrorPatterns {
		if p.Pattern == "" || p.Function == "" {
			return fmt.Errorf("linker.error_patterns[%d]: pattern and function are required", i)
		}
	}

	if c.Annotation.Provider != "" && !validAnnotationProviders[c.Annotation.Provider] {
		return fmt.Errorf("invalid annotation.provider %q: must be one of file, openai, ollama", c.Annotation.Provider)
	}
	if c.Annotation.RequestsPerMinute < 0 {
		return fmt.Errorf("annotation.requests_per_minute must be non-negative")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}

	return nil
}

// APIKeyEnvVar returns the conventional environment variable name for
// the API key of the given annotation provider.
func APIKeyEnvVar(provider AnnotationProvider) string {
	switch provider {
	case AnnotationOpenAI:
		return "OPENAI_API_KEY"
	default:
		return ""
	}
}

// splitAndTrim splits s on commas and drops empty entries.
func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
