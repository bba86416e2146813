package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/manifoldco/promptui"
)

// serviceLayoutMarkers are directory names commonly holding one folder per
// microservice.
var serviceLayoutMarkers = []string{"src", "services", "apps"}

// detectSourceDir returns the first conventional services root found in
// the current directory.
func detectSourceDir() string {
	for _, marker := range serviceLayoutMarkers {
		if info, err := os.Stat(marker); err == nil && info.IsDir() {
			return marker
		}
	}
	return "src"
}

// RunWizard runs an interactive configuration wizard and returns the
// resulting Config. It also saves the config to path.
func RunWizard(path string) (*Config, error) {
	fmt.Println("Welcome to tracegraph! Let's configure your project.")
	fmt.Println()

	cfg := DefaultConfig()

	srcPrompt := promptui.Prompt{
		Label:   "Source root (one directory per service)",
		Default: detectSourceDir(),
	}
	srcDir, err := srcPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("source dir: %w", err)
	}
	cfg.SourceDir = srcDir

	logsPrompt := promptui.Prompt{
		Label:   "Trace log directory",
		Default: cfg.LogsDir,
	}
	logsDir, err := logsPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("logs dir: %w", err)
	}
	cfg.LogsDir = logsDir

	orchPrompt := promptui.Prompt{
		Label:   "Orchestrator service (workflow entry points)",
		Default: cfg.Workflows.OrchestratorService,
	}
	orch, err := orchPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("orchestrator service: %w", err)
	}
	cfg.Workflows.OrchestratorService = orch

	depthPrompt := promptui.Prompt{
		Label:   "Maximum workflow depth",
		Default: strconv.Itoa(cfg.Workflows.MaxDepth),
		Validate: func(s string) error {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return fmt.Errorf("must be a positive integer")
			}
			return nil
		},
	}
	depthStr, err := depthPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("max depth: %w", err)
	}
	cfg.Workflows.MaxDepth, _ = strconv.Atoi(depthStr)

	excludePrompt := promptui.Prompt{
		Label:   "Extra exclude patterns (comma-separated, leave blank for defaults)",
		Default: "",
	}
	excludeStr, err := excludePrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("exclude patterns: %w", err)
	}
	if excludeStr != "" {
		cfg.Exclude = append(cfg.Exclude, splitAndTrim(excludeStr)...)
	}

	annotatePrompt := promptui.Select{
		Label: "Summary annotation source",
		Items: []string{"file", "openai", "ollama"},
	}
	_, provider, err := annotatePrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("annotation provider: %w", err)
	}
	cfg.Annotation.Provider = AnnotationProvider(provider)
	if cfg.Annotation.Provider == AnnotationOllama {
		cfg.Annotation.Model = "llama3.1"
	}

	if envVar := APIKeyEnvVar(cfg.Annotation.Provider); envVar != "" && os.Getenv(envVar) == "" {
		fmt.Printf("\nNote: Set %s in your environment before running tracegraph annotate.\n", envVar)
	}

	cfg.DatabasePath = filepath.ToSlash(filepath.Join(".tracegraph", "tracegraph.db"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Save(path); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\nConfiguration saved to %s\n", path)
	return cfg, nil
}
