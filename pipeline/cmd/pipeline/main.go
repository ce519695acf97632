package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/relic-hub/relic/common/config"
	"github.com/relic-hub/relic/common/logging"
	"github.com/relic-hub/relic/pipeline"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("pipeline"))
	logging.SetDefault(logger)

	slog.Info("Starting pipeline",
		slog.String("redis", cfg.Redis.Addr()),
		slog.String("postgres", cfg.Postgres.Host),
		slog.String("channel", cfg.Pipeline.Channel),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := pipeline.Run(ctx, cfg, logger); err != nil {
		slog.Error("pipeline exited", logging.Error(err))
		stop()
		log.Fatal(err)
	}
}
