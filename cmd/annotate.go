package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/tracegraph/internal/annotate"
	"github.com/ziadkadry99/tracegraph/internal/audit"
	"github.com/ziadkadry99/tracegraph/internal/config"
	"github.com/ziadkadry99/tracegraph/internal/progress"
)

var annotateCmd = &cobra.Command{
	Use:   "annotate",
	Short: "Enrich code node summaries from a file or a language model",
	Long: `Replaces the generic summaries of functions, methods and classes. With
--export the nodes are written to a JSON file for editing; the file provider
reads the edited file back, applying every changed "summary" or
"new_summary". The openai and ollama providers ask a language model for
each node's summary. Workflows are recomputed afterwards so their step
summaries follow.`,
	Args: cobra.NoArgs,
	RunE: runAnnotate,
}

func init() {
	annotateCmd.Flags().String("provider", "", "annotation source: file, openai, ollama (overrides config)")
	annotateCmd.Flags().String("file", "", "annotation file for the file provider (overrides config)")
	annotateCmd.Flags().String("export", "", "write the nodes to annotate to this JSON file and exit")
	annotateCmd.Flags().String("service", "", "only annotate nodes of this service")
	annotateCmd.Flags().Int("concurrency", 0, "max parallel model requests (overrides config)")
	rootCmd.AddCommand(annotateCmd)
}

func runAnnotate(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if p, _ := cmd.Flags().GetString("provider"); p != "" {
		cfg.Annotation.Provider = config.AnnotationProvider(p)
	}
	if f, _ := cmd.Flags().GetString("file"); f != "" {
		cfg.Annotation.File = f
	}
	if c, _ := cmd.Flags().GetInt("concurrency"); c > 0 {
		cfg.MaxConcurrency = c
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	exportPath, _ := cmd.Flags().GetString("export")
	service, _ := cmd.Flags().GetString("service")

	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if exportPath != "" {
		reqs, err := annotate.Requests(ctx, st.graph, service)
		if err != nil {
			return err
		}
		if err := annotate.ExportFile(exportPath, reqs); err != nil {
			return err
		}
		fmt.Printf("Exported %d nodes to %s\n", len(reqs), exportPath)
		return nil
	}

	logger := newLogger()
	var annotator annotate.Annotator
	var llmAnnotator *annotate.LLMAnnotator
	switch cfg.Annotation.Provider {
	case config.AnnotationFile, "":
		annotator = &annotate.FileAnnotator{Path: cfg.Annotation.File}
	default:
		provider, err := createLLMProviderFromConfig(cfg)
		if err != nil {
			return fmt.Errorf("creating LLM provider: %w", err)
		}
		reporter := progress.NewReporter("annotate")
		defer reporter.Finish()
		llmAnnotator = &annotate.LLMAnnotator{
			Provider:    provider,
			Concurrency: cfg.MaxConcurrency,
			Logger:      logger,
			Progress:    progress.Bind(reporter),
		}
		annotator = llmAnnotator
	}

	report, err := annotate.Run(ctx, st.graph, annotator, service, logger)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("  Candidates: %d\n", report.Candidates)
	fmt.Printf("  Returned:   %d\n", report.Returned)
	fmt.Printf("  Updated:    %d\n", report.Updated)
	if llmAnnotator != nil {
		u := llmAnnotator.Usage()
		fmt.Printf("  Tokens:     %d input, %d output in %d requests\n", u.InputTokens, u.OutputTokens, u.Requests)
	}

	var services []string
	if service != "" {
		services = []string{service}
	}
	target := cfg.Annotation.File
	if cfg.Annotation.Provider != config.AnnotationFile && cfg.Annotation.Provider != "" {
		target = string(cfg.Annotation.Provider)
	}
	st.record(ctx, audit.ActionAnnotate, target, fmt.Sprintf("%d of %d summaries updated", report.Updated, report.Candidates), services, report)

	if report.Updated > 0 {
		wr, err := newPipeline(cfg, st).Workflows(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: recomputing workflows failed: %v\n", err)
		} else {
			printWorkflowReport(wr)
		}
	}
	return nil
}
