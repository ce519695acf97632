package cmd

import (
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/relic-hub/relic/cli/pkg/output"
	"github.com/relic-hub/relic/common/queue"
	"github.com/relic-hub/relic/common/usage"
)

var usageCmd = &cobra.Command{
	Use:   "usage [client-id...]",
	Short: "Show per-client ingress usage",
	Long: `Show how many data points each client has had accepted by the gateway.

Without arguments every client seen within --since is listed.`,
	Example: `  relic usage
  relic usage sensor-a sensor-b --network localhost
  relic usage --since 168h --output json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyNetwork(cmd, cfg)

		ctx, stop := signalContext(cmd)
		defer stop()

		q, err := queue.NewRedisQueue(ctx, queue.OptionsFromConfig(cfg.Redis))
		if err != nil {
			return err
		}
		st := usage.NewStore(q.Client(), "relic-cli")
		defer st.Close()

		ids := args
		if len(ids) == 0 {
			since, _ := cmd.Flags().GetDuration("since")
			if ids, err = st.ListActive(ctx, since); err != nil {
				return err
			}
			sort.Strings(ids)
		}

		all := make([]*usage.Stats, 0, len(ids))
		for _, id := range ids {
			s, err := st.Get(ctx, id)
			if err != nil {
				return err
			}
			all = append(all, s)
		}

		if format, _ := cmd.Flags().GetString("output"); format == "json" {
			return output.JSON(all)
		}
		if len(all) == 0 {
			output.Info("No client activity recorded")
			return nil
		}
		renderUsage(all)
		return nil
	},
}

func renderUsage(all []*usage.Stats) {
	table := output.NewTable([]string{"CLIENT", "TOTAL", "LAST HOUR", "LAST 24H", "IPS TODAY", "LAST SEEN"})
	for _, s := range all {
		lastSeen := "-"
		if s.LastSeenAt != nil {
			lastSeen = s.LastSeenAt.Format(time.RFC3339)
		}
		table.AddRow([]string{
			s.ClientID,
			strconv.FormatInt(s.TotalAccepted, 10),
			strconv.FormatInt(s.AcceptedLastHour, 10),
			strconv.FormatInt(s.AcceptedLast24h, 10),
			strconv.FormatInt(s.UniqueIPsToday, 10),
			lastSeen,
		})
	}
	table.Render()
}

func init() {
	rootCmd.AddCommand(usageCmd)

	addNetworkFlag(usageCmd)
	usageCmd.Flags().Duration("since", 24*time.Hour, "window for listing active clients")
	usageCmd.Flags().StringP("output", "o", "table", "output format: table, json")
}
