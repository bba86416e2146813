package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/tracegraph/internal/audit"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the audit trail of changes to the knowledge graph",
	Long: `Lists the ingest, annotate and reset runs that changed the knowledge
graph, newest first. With --prune-before the entries older than the given
age are deleted instead.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().String("action", "", "only show entries of this action (ingest, extract, logs, link, workflows, annotate, reset)")
	historyCmd.Flags().String("service", "", "only show entries touching this service")
	historyCmd.Flags().Int("limit", 20, "max entries to show (0 for all)")
	historyCmd.Flags().Bool("json", false, "output entries as JSON")
	historyCmd.Flags().Duration("prune-before", 0, "delete entries older than this age, e.g. 720h")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	action, _ := cmd.Flags().GetString("action")
	service, _ := cmd.Flags().GetString("service")
	limit, _ := cmd.Flags().GetInt("limit")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	pruneAge, _ := cmd.Flags().GetDuration("prune-before")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if pruneAge > 0 {
		n, err := st.audit.DeleteBefore(ctx, time.Now().Add(-pruneAge))
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d audit entries older than %s.\n", n, pruneAge)
		return nil
	}

	entries, err := st.audit.Query(ctx, audit.QueryFilter{
		Action:  audit.Action(action),
		Service: service,
		Limit:   limit,
	})
	if err != nil {
		return err
	}
	if jsonOutput {
		if entries == nil {
			entries = []audit.Entry{}
		}
		return printJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Println("No audit entries found.")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  %-9s %-10s %s\n", e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Action, e.Actor, e.Target)
		fmt.Printf("    %s\n", e.Summary)
		if len(e.Services) > 0 {
			fmt.Printf("    services: %s\n", strings.Join(e.Services, ", "))
		}
	}
	return nil
}
