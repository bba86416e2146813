package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/tracegraph/internal/diagrams"
	"github.com/ziadkadry99/tracegraph/internal/graph"
	"github.com/ziadkadry99/tracegraph/internal/rca"
)

var traceCmd = &cobra.Command{
	Use:   "trace [traceId]",
	Short: "Analyze one trace, or list the stored traces",
	Long:  `Shows a trace's log events in order, the functions they were linked to, the errors and the service transitions. Without an argument, lists the stored traces.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTrace,
}

func init() {
	traceCmd.Flags().Bool("json", false, "output the report as JSON")
	traceCmd.Flags().Bool("mermaid", false, "print the trace as a mermaid sequence diagram")
	rootCmd.AddCommand(traceCmd)
}

func runTrace(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	jsonOutput, _ := cmd.Flags().GetBool("json")
	mermaid, _ := cmd.Flags().GetBool("mermaid")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	svc := rca.NewService(st.graph, st.catalog)

	if len(args) == 0 {
		traces, err := svc.Traces(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(traces)
		}
		if len(traces) == 0 {
			fmt.Println("No traces stored. Run `tracegraph logs` first.")
			return nil
		}
		for _, t := range traces {
			fmt.Printf("  %-24s %4d events  %s .. %s\n", t.TraceID, t.Events,
				t.FirstLog.Format("2006-01-02 15:04:05"), t.LastLog.Format("15:04:05"))
		}
		return nil
	}

	report, err := svc.Trace(ctx, args[0])
	if errors.Is(err, graph.ErrNotFound) {
		return fmt.Errorf("trace %q has no stored log events", args[0])
	}
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(report)
	}
	if mermaid {
		fmt.Print(diagrams.TraceSequence(report.Events))
		return nil
	}

	fmt.Printf("Trace %s\n", report.TraceID)
	fmt.Printf("  Events:   %d (%.1f%% linked to code)\n", len(report.Events), report.Coverage())
	fmt.Printf("  next_log: %d\n\n", report.NextLogLinks)
	fmt.Println("Timeline:")
	for _, e := range report.Events {
		fmt.Printf("  %s %-5s [%s] %s\n", e.Timestamp.Format("15:04:05.000"), e.Level, e.Service, truncate(e.Message, 100))
	}
	if len(report.Functions) > 0 {
		fmt.Println("\nFunctions executed:")
		for _, f := range report.Functions {
			fmt.Printf("  %-32s [%s] %d log(s)\n", f.Name, f.Service, f.Logs)
		}
	}
	if len(report.Errors) > 0 {
		fmt.Println("\nErrors:")
		for _, e := range report.Errors {
			fmt.Printf("  %s [%s]: %s\n", e.Function, e.Service, truncate(e.Event.Message, 100))
		}
	}
	if len(report.Transitions) > 0 {
		fmt.Println("\nService transitions:")
		for _, t := range report.Transitions {
			fmt.Printf("  %s -> %s (%d)\n", t.From, t.To, t.Count)
		}
	}
	return nil
}
