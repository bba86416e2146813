package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	mcpserver "github.com/ziadkadry99/tracegraph/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server for AI agent integration",
	Long:  `Starts a Model Context Protocol (MCP) server on stdio, exposing workflow, RCA and trace tools for AI agents.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
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
		if stats.Workflows == 0 {
			fmt.Fprintf(os.Stderr, "Warning: workflow catalog in %s is empty. Run `tracegraph ingest` first.\n", cfg.DatabasePath)
		}

		// Set version from the cmd package variable.
		mcpserver.Version = Version

		fmt.Fprintf(os.Stderr, "tracegraph MCP server started on stdio (db=%s, nodes=%d, workflows=%d)\n",
			cfg.DatabasePath, stats.TotalNodes(), stats.Workflows)

		return mcpserver.NewServer(st.graph, st.catalog).Serve()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
