package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/tracegraph/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize tracegraph configuration with an interactive wizard",
	Long:  `Runs an interactive wizard to configure tracegraph for your system and generates a .tracegraph.yml file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := config.RunWizard(cfgFile)
		return err
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
