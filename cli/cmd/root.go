package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/relic-hub/relic/cli/pkg/output"
	"github.com/relic-hub/relic/common/config"
	"github.com/relic-hub/relic/common/logging"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "relic",
	Short: "Relic data hub",
	Long: `relic runs and operates the Relic data hub.

Start the ingress gateway or the pipeline worker, create the database
tables, export stored data for replay and push synthetic data onto the
queue.`,
	Version:      "0.1.0",
	SilenceUsage: true,
}

func Execute() error {
	err := rootCmd.ExecuteContext(context.Background())
	if err != nil {
		output.Error("%v", err)
	}
	return err
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $RELIC_CONFIG_DIR/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
}

// loadConfig reads the shared configuration and applies root flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, service string) *logging.Logger {
	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service(service))
	logging.SetDefault(logger)
	return logger
}

// addNetworkFlag registers --network, which points the Redis connection at
// another host (typically localhost when running outside compose).
func addNetworkFlag(c *cobra.Command) {
	c.Flags().String("network", "", "override the Redis host, e.g. 'localhost'")
}

func applyNetwork(c *cobra.Command, cfg *config.Config) {
	if host, _ := c.Flags().GetString("network"); host != "" {
		cfg.Redis.Host = host
	}
}

func signalContext(c *cobra.Command) (context.Context, context.CancelFunc) {
	parent := c.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
