package cmd

import (
	"github.com/spf13/cobra"

	"github.com/relic-hub/relic/cli/pkg/output"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long:  "Print the configuration as YAML after file, environment and default resolution, with secrets redacted.",
	Example: `  relic config
  RELIC_CONFIG_DIR=./deploy relic config`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return output.YAML(cfg.Redacted())
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
