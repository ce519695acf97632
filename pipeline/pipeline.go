// Package pipeline runs the worker that moves data points from the queue
// into Postgres, transforming each one on the way.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/relic-hub/relic/common/config"
	"github.com/relic-hub/relic/common/dlq"
	"github.com/relic-hub/relic/common/logging"
	"github.com/relic-hub/relic/common/messaging"
	natsclient "github.com/relic-hub/relic/common/messaging/nats"
	"github.com/relic-hub/relic/common/queue"
	"github.com/relic-hub/relic/common/store"
	"github.com/relic-hub/relic/pipeline/internal/notify"
	"github.com/relic-hub/relic/pipeline/internal/server"
	"github.com/relic-hub/relic/pipeline/internal/transform"
	"github.com/relic-hub/relic/pipeline/internal/worker"
)

// recordStore is what the pipeline needs from the store beyond the worker's
// inserts.
type recordStore interface {
	worker.Store
	Close(ctx context.Context) error
}

// Pipeline is an assembled worker with its connections.
type Pipeline struct {
	cfg      *config.Config
	logger   *logging.Logger
	queue    queue.Queue
	store    recordStore
	notifier *notify.Notifier
	worker   *worker.Worker
}

// New connects to Redis and Postgres and creates the tables. Either
// connection failing is fatal. NATS is optional: if it is enabled but
// unreachable the pipeline runs without notifications.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Pipeline, error) {
	q, err := queue.NewRedisQueue(ctx, queue.OptionsFromConfig(cfg.Redis))
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Postgres, store.WithLogger(logger))
	if err != nil {
		_ = q.Close()
		return nil, err
	}
	if err := st.Init(ctx); err != nil {
		_ = st.Close(ctx)
		_ = q.Close()
		return nil, err
	}
	logger.Info("database tables ready")

	var spill *dlq.Queue
	if dir := cfg.Pipeline.DLQDir; dir != "" {
		if spill, err = dlq.NewQueue(dir); err != nil {
			_ = st.Close(ctx)
			_ = q.Close()
			return nil, err
		}
		logger.Info("dead-letter directory enabled", "dir", dir)
	}

	var pub messaging.Publisher
	if cfg.NATS.Enabled {
		ncfg := natsclient.ConfigFromSettings(cfg.NATS, "relic-pipeline")
		ncfg.Logger = logger.Logger
		client, err := natsclient.NewClient(ncfg)
		if err != nil {
			logger.Warn("notifications disabled", logging.Error(err))
		} else {
			pub = client
			logger.Info("publishing record notifications", "url", cfg.NATS.URL)
		}
	}

	return assemble(cfg, logger, q, st, pub, nil, spill), nil
}

func assemble(cfg *config.Config, logger *logging.Logger, q queue.Queue, st recordStore, pub messaging.Publisher, tr transform.Transformer, spill *dlq.Queue) *Pipeline {
	n := notify.New(pub, logger)
	w := worker.New(q, st, tr, n, worker.Config{
		Channel:     cfg.Pipeline.Channel,
		PollTimeout: cfg.Pipeline.PollTimeout,
		ErrorPause:  cfg.Pipeline.ErrorPause,
		DeadLetter:  spill,
	}, logger)
	return &Pipeline{
		cfg:      cfg,
		logger:   logger,
		queue:    q,
		store:    st,
		notifier: n,
		worker:   w,
	}
}

// Stats reports the worker's counters.
func (p *Pipeline) Stats() worker.Stats {
	return p.worker.Stats()
}

// Run consumes until ctx is cancelled and then releases every connection.
// Cancelling ctx also closes the queue so a pop blocked without a timeout
// returns.
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.close()

	var srv *http.Server
	if port := p.cfg.Pipeline.MetricsPort; port > 0 {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           server.NewRouter(p.worker),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			p.logger.Info("pipeline metrics listening", logging.Addr(srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				p.logger.Error("metrics listener failed", logging.Error(err))
			}
		}()
	}

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			_ = p.queue.Close()
		case <-stopped:
		}
	}()

	err := p.worker.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			p.logger.Warn("metrics listener shutdown failed", logging.Error(serr))
		}
	}

	s := p.worker.Stats()
	p.logger.Info("pipeline stopped",
		"processed", s.Processed, "failed", s.Failed, "malformed", s.Malformed)
	return err
}

func (p *Pipeline) close() {
	if err := p.notifier.Close(); err != nil {
		p.logger.Warn("failed to close notifier", logging.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.Close(ctx); err != nil {
		p.logger.Warn("failed to close store", logging.Error(err))
	}
	// Already closed on cancellation; a second Close is harmless.
	_ = p.queue.Close()
}

// Run builds the pipeline and consumes until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	p, err := New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return p.Run(ctx)
}
