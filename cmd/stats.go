package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/tracegraph/internal/model"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print knowledge graph counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStores(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.graph.Stats(context.Background())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(stats)
		}

		fmt.Printf("Database: %s\n\n", cfg.DatabasePath)
		fmt.Printf("Services:       %d\n", stats.Services)
		fmt.Printf("Code nodes:     %d\n", stats.TotalNodes())
		kinds := make([]string, 0, len(stats.Nodes))
		for k := range stats.Nodes {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Printf("  %-16s %d\n", k, stats.Nodes[model.NodeKind(k)])
		}
		fmt.Printf("Log events:     %d (%d errors) in %d traces\n", stats.LogEvents, stats.ErrorEvents, stats.Traces)
		fmt.Printf("Relationships:  %d\n", stats.TotalRelationships())
		types := make([]string, 0, len(stats.Relationships))
		for t := range stats.Relationships {
			types = append(types, string(t))
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Printf("  %-16s %d\n", t, stats.Relationships[model.RelType(t)])
		}
		fmt.Printf("Workflows:      %d\n", stats.Workflows)
		return nil
	},
}

func init() {
	statsCmd.Flags().Bool("json", false, "output counts as JSON")
	rootCmd.AddCommand(statsCmd)
}
