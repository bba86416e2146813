package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/tracegraph/internal/audit"
	"github.com/ziadkadry99/tracegraph/internal/link"
	"github.com/ziadkadry99/tracegraph/internal/logs"
	"github.com/ziadkadry99/tracegraph/internal/pipeline"
	"github.com/ziadkadry99/tracegraph/internal/workflow"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [root]",
	Short: "Build the knowledge graph from source code and trace logs",
	Long: `Extracts the code graph of every service under root, resolves cross-service
API calls, ingests the per-trace log files, links log events to the functions
that emitted them, and precomputes the workflow catalog. Root defaults to the
current directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

var extractCmd = &cobra.Command{
	Use:   "extract [root]",
	Short: "Extract and store the code graph only",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := rootArg(args)
		return withPipeline(func(ctx context.Context, st *stores, p *pipeline.Pipeline) error {
			report, err := p.Code(ctx, root)
			if err != nil {
				return err
			}
			printCodeReport(report)
			st.record(ctx, audit.ActionExtract, root, codeSummary(report), report.Services, report)
			return nil
		})
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs [root]",
	Short: "Ingest per-trace log files only",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		incremental, _ := cmd.Flags().GetBool("incremental")
		root := rootArg(args)
		return withPipeline(func(ctx context.Context, st *stores, p *pipeline.Pipeline) error {
			report, err := p.Logs(ctx, root, incremental)
			if err != nil {
				return err
			}
			printLogsReport(report)
			st.record(ctx, audit.ActionLogs, root, logsSummary(report), nil, report)
			return nil
		})
	},
}

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Recompute the links between log events and code",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPipeline(func(ctx context.Context, st *stores, p *pipeline.Pipeline) error {
			report, err := p.Link(ctx)
			if err != nil {
				return err
			}
			printLinkReport(report)
			st.record(ctx, audit.ActionLink, st.db.Path(), fmt.Sprintf("%d links", report.Total()), nil, report)
			return nil
		})
	},
}

var workflowsCmd = &cobra.Command{
	Use:   "workflows",
	Short: "Recompute the workflow catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPipeline(func(ctx context.Context, st *stores, p *pipeline.Pipeline) error {
			report, err := p.Workflows(ctx)
			if err != nil {
				return err
			}
			printWorkflowReport(report)
			st.record(ctx, audit.ActionWorkflows, st.db.Path(), fmt.Sprintf("%d workflows", report.Workflows), nil, report)
			return nil
		})
	},
}

func init() {
	ingestCmd.Flags().Bool("skip-logs", false, "do not ingest log files")
	ingestCmd.Flags().Bool("skip-link", false, "do not link log events to code")
	ingestCmd.Flags().Bool("skip-workflows", false, "do not precompute workflows")
	ingestCmd.Flags().Bool("incremental-logs", false, "skip traces that are already stored")
	ingestCmd.Flags().Int("concurrency", 0, "max parallel file workers (overrides config)")
	ingestCmd.Flags().Bool("json", false, "print the phase report as JSON")
	logsCmd.Flags().Bool("incremental", false, "skip traces that are already stored")

	rootCmd.AddCommand(ingestCmd, extractCmd, logsCmd, linkCmd, workflowsCmd)
}

func rootArg(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return "."
}

// signalContext is canceled on interrupt so worker pools stop early.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// withPipeline loads the config, opens the stores and runs fn with a
// pipeline over them.
func withPipeline(fn func(context.Context, *stores, *pipeline.Pipeline) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signalContext()
	defer stop()
	return fn(ctx, st, newPipeline(cfg, st))
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if concurrency, _ := cmd.Flags().GetInt("concurrency"); concurrency > 0 {
		cfg.MaxConcurrency = concurrency
	}
	jsonOutput, _ := cmd.Flags().GetBool("json")

	var opts pipeline.RunOptions
	opts.SkipLogs, _ = cmd.Flags().GetBool("skip-logs")
	opts.SkipLink, _ = cmd.Flags().GetBool("skip-link")
	opts.SkipWorkflows, _ = cmd.Flags().GetBool("skip-workflows")
	opts.IncrementalLogs, _ = cmd.Flags().GetBool("incremental-logs")

	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signalContext()
	defer stop()

	root := rootArg(args)
	if verbose {
		fmt.Fprintf(os.Stderr, "Ingesting %s into %s...\n", root, cfg.DatabasePath)
	}
	report, err := newPipeline(cfg, st).Run(ctx, root, opts)
	if err != nil {
		return err
	}
	st.record(ctx, audit.ActionIngest, root, codeSummary(report.Code), report.Code.Services, report)

	if jsonOutput {
		return printJSON(report)
	}

	fmt.Println()
	fmt.Println("Ingestion complete!")
	printCodeReport(report.Code)
	if report.Logs != nil {
		printLogsReport(report.Logs)
	}
	if report.Link != nil {
		printLinkReport(report.Link)
	}
	if report.Workflows != nil {
		printWorkflowReport(report.Workflows)
	}
	fmt.Printf("  Duration:            %s\n", report.Duration.Round(time.Millisecond))
	fmt.Printf("  Database:            %s\n", cfg.DatabasePath)
	return nil
}

func codeSummary(r *pipeline.CodeReport) string {
	return fmt.Sprintf("%d services, %d nodes, %d relationships",
		len(r.Services), r.Store.NodesCreated+r.Store.NodesUpdated, r.Store.Relationships)
}

func logsSummary(r *logs.Report) string {
	return fmt.Sprintf("%d events in %d traces", r.Events, r.Traces)
}

func printCodeReport(r *pipeline.CodeReport) {
	fmt.Printf("  Services:            %d\n", len(r.Services))
	fmt.Printf("  Files parsed:        %d of %d (%d failed)\n", r.Extract.Parsed, r.Extract.Files, r.Extract.Failed)
	fmt.Printf("  Nodes:               %d created, %d updated, %d pruned, %d kept from unparseable files\n",
		r.Store.NodesCreated, r.Store.NodesUpdated, r.Store.NodesPruned, r.Store.NodesPreserved)
	fmt.Printf("  Relationships:       %d stored, %d dropped\n", r.Store.Relationships, r.Sanitize.Dropped()+r.Store.Dropped)
	fmt.Printf("  API calls:           %d resolved, %d unmapped\n", r.Resolve.Resolved, r.Resolve.Unmapped)

	if len(r.Failures) > 0 {
		fmt.Fprintf(os.Stderr, "\nParse failures (%d):\n", len(r.Failures))
		for _, f := range r.Failures {
			fmt.Fprintf(os.Stderr, "  - %v\n", f)
		}
	}
	if verbose {
		for _, u := range r.Unmapped {
			fmt.Fprintf(os.Stderr, "  unmapped: %s [%s] %s %s -> %s\n", u.Source, u.Service, u.Method, u.Endpoint, u.ServiceKey)
		}
		for _, i := range r.Issues {
			fmt.Fprintf(os.Stderr, "  unknown %s of %s edge: %s [%s]\n", i.End, i.Type, i.Name, i.Service)
		}
	}
}

func printLogsReport(r *logs.Report) {
	fmt.Printf("  Log files:           %d (%d skipped)\n", r.Files, r.SkippedFiles)
	fmt.Printf("  Log events:          %d in %d traces (%d replaced)\n", r.Events, r.Traces, r.TracesReplaced)
	fmt.Printf("  Malformed lines:     %d\n", r.Malformed)
	fmt.Printf("  next_log edges:      %d\n", r.ChainEdges)
}

func printLinkReport(r *link.Report) {
	fmt.Printf("  executed_in:         %d\n", r.ExecutedIn)
	fmt.Printf("  logged_error:        %d\n", r.LoggedError)
	fmt.Printf("  service_context:     %d\n", r.ServiceContext)
	for _, p := range r.UnmatchedPatterns {
		fmt.Fprintf(os.Stderr, "Warning: error pattern %q names a function found in no service\n", p)
	}
}

func printWorkflowReport(r *workflow.Report) {
	fmt.Printf("  Workflows:           %d from %d entry points (%d steps)\n", r.Workflows, r.EntryPoints, r.Steps)
}
