package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/relic-hub/relic/cli/internal/mock"
	"github.com/relic-hub/relic/cli/pkg/output"
	"github.com/relic-hub/relic/common/queue"
)

var mockCmd = &cobra.Command{
	Use:   "mock",
	Short: "Push synthetic data points onto the queue",
	Long: `Clear the inbox channel, then push one synthetic data point per interval
directly onto the queue, bypassing the gateway.`,
	Example: `  relic mock --network localhost
  relic mock --interval 100ms --count 50`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyNetwork(cmd, cfg)
		logger := newLogger(cfg, "mock")

		interval, _ := cmd.Flags().GetDuration("interval")
		count, _ := cmd.Flags().GetInt("count")
		seed, _ := cmd.Flags().GetInt64("seed")

		ctx, stop := signalContext(cmd)
		defer stop()

		q, err := queue.NewRedisQueue(ctx, queue.OptionsFromConfig(cfg.Redis))
		if err != nil {
			return err
		}
		defer q.Close()

		channel := cfg.Pipeline.Channel
		if channel == "" {
			channel = queue.InboxChannel
		}
		sender := &mock.Sender{
			Generator: mock.NewGenerator(seed),
			Sink:      q,
			Channel:   channel,
			Interval:  interval,
			Count:     count,
			Logger:    logger,
		}
		sent, err := sender.Run(ctx)
		if err != nil {
			return err
		}
		output.Success("Sent %d mock data points to %s", sent, channel)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mockCmd)

	addNetworkFlag(mockCmd)
	mockCmd.Flags().Duration("interval", time.Second, "delay between data points")
	mockCmd.Flags().IntP("count", "c", 0, "stop after this many data points (0 runs until interrupted)")
	mockCmd.Flags().Int64("seed", 0, "random seed (0 picks one)")
}
