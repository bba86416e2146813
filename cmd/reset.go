package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/tracegraph/internal/audit"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the whole knowledge graph",
	Long:  `Deletes every code node, log event, relationship and workflow from the database. The audit trail is kept. Asks for confirmation unless --yes is given.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if !yes {
			prompt := promptui.Prompt{
				Label:     fmt.Sprintf("Delete the knowledge graph in %s", cfg.DatabasePath),
				IsConfirm: true,
			}
			if _, err := prompt.Run(); err != nil {
				if errors.Is(err, promptui.ErrAbort) || errors.Is(err, promptui.ErrInterrupt) {
					fmt.Println("Aborted.")
					return nil
				}
				return err
			}
		}

		st, err := openStores(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := context.Background()
		if err := st.graph.Reset(ctx); err != nil {
			return err
		}
		st.record(ctx, audit.ActionReset, cfg.DatabasePath, "knowledge graph deleted", nil, nil)
		fmt.Println("Knowledge graph deleted.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}
