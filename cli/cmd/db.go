package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/relic-hub/relic/cli/internal/replay"
	"github.com/relic-hub/relic/cli/pkg/output"
	"github.com/relic-hub/relic/common/config"
	"github.com/relic-hub/relic/common/store"
)

var initdbCmd = &cobra.Command{
	Use:   "initdb",
	Short: "Create the database tables",
	Long:  "Create the datum, engram and error tables if they do not exist. Safe to run repeatedly.",
	Example: `  relic initdb
  relic initdb --host localhost`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyPostgresHost(cmd, cfg)
		logger := newLogger(cfg, "initdb")

		ctx, stop := signalContext(cmd)
		defer stop()

		st, err := store.Open(ctx, cfg.Postgres, store.WithLogger(logger))
		if err != nil {
			return err
		}
		defer closeStore(st)

		if err := st.Init(ctx); err != nil {
			return err
		}
		output.Success("Tables ready on %s", cfg.Postgres.Host)
		return nil
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Export raw data points for replay",
	Long: `Write the payloads of every raw data point with unix_ts in [--from, --to]
to a JSON array file named after the export time (YYYYMMDD-HHMMSS.json).

Without flags the last hour is exported.`,
	Example: `  relic replay
  relic replay --from 1700000000 --to 1700003600 --out ./replays`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyPostgresHost(cmd, cfg)
		logger := newLogger(cfg, "replay")

		now := time.Now()
		from, to, err := replayRange(cmd, now)
		if err != nil {
			return err
		}
		dir, _ := cmd.Flags().GetString("out")

		ctx, stop := signalContext(cmd)
		defer stop()

		st, err := store.Open(ctx, cfg.Postgres, store.WithLogger(logger))
		if err != nil {
			return err
		}
		defer closeStore(st)

		path, n, err := replay.Export(ctx, st, from, to, dir, now)
		if err != nil {
			return err
		}
		output.Success("Generated replay file %s with %d records", path, n)
		return nil
	},
}

// replayRange resolves --from/--to, defaulting to the hour before now.
func replayRange(cmd *cobra.Command, now time.Time) (int64, int64, error) {
	to := now.Unix()
	if cmd.Flags().Changed("to") {
		to, _ = cmd.Flags().GetInt64("to")
	}
	from := to - int64(time.Hour/time.Second)
	if cmd.Flags().Changed("from") {
		from, _ = cmd.Flags().GetInt64("from")
	}
	if from > to {
		return 0, 0, fmt.Errorf("--from %d is after --to %d", from, to)
	}
	return from, to, nil
}

func applyPostgresHost(cmd *cobra.Command, cfg *config.Config) {
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Postgres.Host = host
	}
}

func closeStore(st *store.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := st.Close(ctx); err != nil {
		output.Warn("failed to close database connection: %v", err)
	}
}

func init() {
	rootCmd.AddCommand(initdbCmd)
	rootCmd.AddCommand(replayCmd)

	for _, c := range []*cobra.Command{initdbCmd, replayCmd} {
		c.Flags().String("host", "", "override postgres.host")
	}
	replayCmd.Flags().Int64("from", 0, "start of the range, unix seconds (default: to - 1h)")
	replayCmd.Flags().Int64("to", 0, "end of the range, unix seconds (default: now)")
	replayCmd.Flags().String("out", "replays", "directory to write the replay file to")
}
