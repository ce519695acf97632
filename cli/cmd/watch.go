package cmd

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/relic-hub/relic/cli/pkg/output"
	"github.com/relic-hub/relic/common/messaging"
	natsclient "github.com/relic-hub/relic/common/messaging/nats"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow pipeline outcomes",
	Long: `Subscribe to the record notifications the pipeline publishes on NATS and
print one line per processed or failed data point.`,
	Example: `  relic watch
  relic watch --url nats://localhost:4222 --failed`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg, "watch")

		settings := natsclient.ConfigFromSettings(cfg.NATS, "relic-watch")
		if url, _ := cmd.Flags().GetString("url"); url != "" {
			settings.URL = url
		}
		settings.Logger = logger.Logger
		client, err := natsclient.NewClient(settings)
		if err != nil {
			return err
		}
		defer client.Close()

		subject := messaging.SubjectRecordsAll
		if failedOnly, _ := cmd.Flags().GetBool("failed"); failedOnly {
			subject = messaging.SubjectRecordsFailed
		}

		sub, err := client.Subscribe(subject, printEvent)
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()

		output.Info("Watching %s on %s (Ctrl+C to stop)", subject, settings.URL)

		ctx, stop := signalContext(cmd)
		defer stop()
		<-ctx.Done()
		return nil
	},
}

func printEvent(_ context.Context, msg *messaging.Message) error {
	var ev messaging.RecordEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		output.Warn("undecodable event on %s: %v", msg.Subject, err)
		return nil
	}
	output.Info("%s", formatEvent(ev))
	return nil
}

func formatEvent(ev messaging.RecordEvent) string {
	ts := ev.Timestamp.UTC().Format(time.RFC3339)
	line := ts + "  " + ev.Outcome + "  " + ev.UUID + "  " + ev.Collector + "/" + ev.SourceType
	if ev.Error != "" {
		line += "  " + ev.Error
	}
	return line
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().String("url", "", "override nats.url")
	watchCmd.Flags().Bool("failed", false, "only show failed data points")
}
