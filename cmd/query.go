package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/tracegraph/internal/diagrams"
	"github.com/ziadkadry99/tracegraph/internal/rca"
	"github.com/ziadkadry99/tracegraph/internal/workflow"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the workflow catalog for root-cause analysis",
	Long: `Answers which workflows and services are affected by a function or service,
shows the full workflows around a function, lists the catalog, or renders
the RCA context of a function as text ready for a language model.`,
	Args: cobra.NoArgs,
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().String("function", "", "workflows containing this function")
	queryCmd.Flags().String("service", "", "workflows with a step in a service matching this name")
	queryCmd.Flags().String("workflow", "", "full workflows started by or containing this function")
	queryCmd.Flags().Bool("list", false, "list every workflow")
	queryCmd.Flags().String("context", "", "RCA context text for this function")
	queryCmd.Flags().String("out", "", "write the RCA context to this file")
	queryCmd.Flags().Bool("json", false, "output results as JSON")
	queryCmd.Flags().Bool("mermaid", false, "print --workflow results as mermaid flowcharts")
	queryCmd.MarkFlagsMutuallyExclusive("function", "service", "workflow", "list", "context")
	queryCmd.MarkFlagsOneRequired("function", "service", "workflow", "list", "context")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	function, _ := cmd.Flags().GetString("function")
	service, _ := cmd.Flags().GetString("service")
	wfName, _ := cmd.Flags().GetString("workflow")
	list, _ := cmd.Flags().GetBool("list")
	contextFn, _ := cmd.Flags().GetString("context")
	outPath, _ := cmd.Flags().GetString("out")
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

	switch {
	case contextFn != "":
		text, err := svc.Context(ctx, contextFn)
		if err != nil {
			return fmt.Errorf("building RCA context: %w", err)
		}
		if outPath != "" {
			if err := os.WriteFile(outPath, []byte(text), 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", outPath, err)
			}
			fmt.Printf("RCA context written to %s\n", outPath)
			return nil
		}
		fmt.Print(text)
		return nil

	case wfName != "":
		d, err := svc.Workflows(ctx, wfName)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(d)
		}
		if len(d.Workflows) == 0 {
			fmt.Printf("No workflows found for %q.\n", wfName)
			return nil
		}
		if mermaid {
			for _, wf := range d.Workflows {
				fmt.Printf("%%%% workflow %d: %s\n", wf.ID, wf.EntryPointName)
				fmt.Println(diagrams.WorkflowFlowchart(wf.Workflow, wf.Steps))
			}
			return nil
		}
		if d.EntryPoint {
			fmt.Printf("%s is the entry point of:\n\n", wfName)
		} else {
			fmt.Printf("%s takes part in %d workflow(s):\n\n", wfName, len(d.Workflows))
		}
		for _, wf := range d.Workflows {
			printWorkflowDetails(wf, wfName)
		}
		return nil

	case list:
		wfs, err := svc.List(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(wfs)
		}
		if len(wfs) == 0 {
			fmt.Println("Workflow catalog is empty. Run `tracegraph ingest` first.")
			return nil
		}
		fmt.Printf("Found %d workflows:\n\n", len(wfs))
		for _, wf := range wfs {
			fmt.Printf("  %3d. %-32s %-14s %2d steps  %s\n",
				wf.ID, wf.EntryPointName, wf.Type, wf.TotalSteps, strings.Join(wf.ServicesInvolved, ", "))
		}
		return nil
	}

	var hits []workflow.Hit
	if function != "" {
		hits, err = svc.ByFunction(ctx, function)
	} else {
		hits, err = svc.ByService(ctx, service)
	}
	if err != nil {
		return err
	}
	if jsonOutput {
		if hits == nil {
			hits = []workflow.Hit{}
		}
		return printJSON(hits)
	}
	if len(hits) == 0 {
		fmt.Println("No workflows found.")
		return nil
	}
	printHitsTable(hits)
	return nil
}

func printHitsTable(hits []workflow.Hit) {
	fmt.Printf("Found %d affected workflows:\n\n", len(hits))
	for i, h := range hits {
		fmt.Printf("  %d. %s (%s)\n", i+1, h.EntryPointName, h.Type)
		fmt.Printf("     Step %d of %d: %s [%s]\n", h.StepOrder, h.TotalSteps, h.Function, h.Service)
		fmt.Printf("     Services: %s\n", strings.Join(h.ServicesInvolved, ", "))
		fmt.Printf("     %s\n\n", truncate(h.Summary, 120))
	}
}

func printWorkflowDetails(wf *workflow.Details, target string) {
	fmt.Printf("Workflow %d: %s (%s)\n", wf.ID, wf.EntryPointName, wf.Type)
	fmt.Printf("  %s\n", wf.Summary)
	for _, step := range wf.Steps {
		marker := ""
		if step.FunctionName == target {
			marker = "  <<<"
		}
		fmt.Printf("  %2d. %s [%s]%s\n", step.StepOrder, step.FunctionName, step.ServiceName, marker)
	}
	fmt.Println()
}
