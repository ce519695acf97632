package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/relic-hub/relic/cli/pkg/output"
	"github.com/relic-hub/relic/common/dlq"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect error records the store rejected",
	Long: `When the pipeline cannot write an error record to Postgres it spills the
record to pipeline.dlq_dir. These commands read and clear that directory.`,
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List spilled error records",
	Example: `  relic dlq list --dir /var/lib/relic/dlq
  relic dlq list --limit 10 --output json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := openDLQ(cmd)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := q.List(limit)
		if err != nil {
			return err
		}

		if format, _ := cmd.Flags().GetString("output"); format == "json" {
			return output.JSON(entries)
		}
		if len(entries) == 0 {
			output.Info("No spilled error records in %s", q.Dir())
			return nil
		}
		table := output.NewTable([]string{"ERROR ID", "SPILLED AT", "CAUSE"})
		for _, e := range entries {
			table.AddRow([]string{e.Record.ID, e.SpilledAt.Format(time.RFC3339), e.Cause})
		}
		table.Render()
		return nil
	},
}

var dlqRemoveCmd = &cobra.Command{
	Use:   "rm <error-id>...",
	Short: "Delete spilled error records",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := openDLQ(cmd)
		if err != nil {
			return err
		}
		for _, id := range args {
			if err := q.Remove(id); err != nil {
				return err
			}
			output.Success("Removed %s", id)
		}
		return nil
	},
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every spilled error record",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := openDLQ(cmd)
		if err != nil {
			return err
		}
		n, err := q.Purge()
		if err != nil {
			return err
		}
		output.Success("Purged %d records from %s", n, q.Dir())
		return nil
	},
}

func openDLQ(cmd *cobra.Command) (*dlq.Queue, error) {
	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		dir = cfg.Pipeline.DLQDir
	}
	if dir == "" {
		return nil, fmt.Errorf("no dead-letter directory: set pipeline.dlq_dir or pass --dir")
	}
	return dlq.NewQueue(dir)
}

func init() {
	rootCmd.AddCommand(dlqCmd)
	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqRemoveCmd)
	dlqCmd.AddCommand(dlqPurgeCmd)

	dlqCmd.PersistentFlags().String("dir", "", "dead-letter directory (default: pipeline.dlq_dir)")
	dlqListCmd.Flags().Int("limit", 0, "show at most this many records (0 for all)")
	dlqListCmd.Flags().StringP("output", "o", "table", "output format: table, json")
}
