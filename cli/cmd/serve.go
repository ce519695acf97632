package cmd

import (
	"github.com/spf13/cobra"

	"github.com/relic-hub/relic/ingress"
	"github.com/relic-hub/relic/pipeline"
)

var ingressCmd = &cobra.Command{
	Use:   "ingress",
	Short: "Run the ingress gateway",
	Long:  "Serve POST /send, authenticating each client and pushing accepted data points onto the queue.",
	Example: `  relic ingress
  REDIS_HOST=localhost CLIENT_ID=c1 CLIENT_API_KEY=s1 relic ingress`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			cfg.Server.Port = port
		}
		logger := newLogger(cfg, "ingress")

		ctx, stop := signalContext(cmd)
		defer stop()
		return ingress.Run(ctx, cfg, logger)
	},
}

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run the pipeline worker",
	Long:  "Consume the queue, persisting each data point raw, transformed, or as an error record.",
	Example: `  relic pipeline
  relic pipeline --network localhost`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyNetwork(cmd, cfg)
		logger := newLogger(cfg, "pipeline")

		ctx, stop := signalContext(cmd)
		defer stop()
		return pipeline.Run(ctx, cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(ingressCmd)
	rootCmd.AddCommand(pipelineCmd)

	ingressCmd.Flags().Int("port", 0, "override server.port")
	addNetworkFlag(pipelineCmd)
}
