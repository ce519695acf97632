// Package ingress runs the authenticated HTTP gateway that accepts data
// points and pushes them onto the queue.
package ingress

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/relic-hub/relic/common/config"
	"github.com/relic-hub/relic/common/logging"
	"github.com/relic-hub/relic/common/middleware"
	"github.com/relic-hub/relic/common/queue"
	"github.com/relic-hub/relic/common/usage"
	"github.com/relic-hub/relic/ingress/internal/auth"
	"github.com/relic-hub/relic/ingress/internal/handlers"
	"github.com/relic-hub/relic/ingress/internal/ratelimit"
	"github.com/relic-hub/relic/ingress/internal/server"
	"github.com/relic-hub/relic/ingress/internal/service"
)

// Gateway is an assembled, not yet listening, ingress server.
type Gateway struct {
	cfg        *config.Config
	logger     *logging.Logger
	handle     *service.QueueHandle
	limiter    ratelimit.RateLimiter
	usage      *usage.Collector
	usageStore *usage.Store
	srv        *http.Server
}

// New connects to the queue and builds the HTTP server. It fails if the
// queue is unreachable.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Gateway, error) {
	opts := queue.OptionsFromConfig(cfg.Redis)
	handle := service.NewQueueHandle(func(ctx context.Context) (queue.Queue, error) {
		return queue.NewRedisQueue(ctx, opts)
	})
	if err := handle.Open(ctx); err != nil {
		return nil, err
	}

	creds := auth.Credentials(cfg.Ingress.Credentials())
	if len(creds) == 0 {
		logger.Warn("no client credentials configured; every /send request will be rejected")
	}

	var limiter ratelimit.RateLimiter = ratelimit.NoOpRateLimiter{}
	if rl := cfg.Ingress.RateLimit; rl.Enabled {
		l, err := ratelimit.NewRedisRateLimiter(ctx, queue.NewClient(opts), rl.Requests, rl.Window)
		if err != nil {
			_ = handle.Release()
			return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
		}
		limiter = l
		logger.Info("rate limiting enabled", "requests", rl.Requests, "window", rl.Window.String())
	}

	cors := middleware.DefaultCORSConfig()
	if len(cfg.Ingress.CORSOrigins) > 0 {
		cors.AllowedOrigins = cfg.Ingress.CORSOrigins
	}

	svc := service.NewIngressService(handle, queue.InboxChannel)
	h := handlers.NewSendHandler(svc, creds, limiter, cfg.Ingress.MaxBodyBytes, logger)

	var (
		collector  *usage.Collector
		usageStore *usage.Store
	)
	if interval := cfg.Ingress.UsageFlushInterval; interval > 0 {
		instance, _ := os.Hostname()
		usageStore = usage.NewStore(queue.NewClient(opts), instance)
		collector = usage.NewCollector(usageStore, interval, logger)
		h.WithUsage(collector)
	}

	return &Gateway{
		cfg:        cfg,
		logger:     logger,
		handle:     handle,
		limiter:    limiter,
		usage:      collector,
		usageStore: usageStore,
		srv: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      server.NewRouter(h, cors, logger),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
	}, nil
}

// Handler exposes the routed handler.
func (g *Gateway) Handler() http.Handler {
	return g.srv.Handler
}

// Serve listens until ctx is cancelled, then shuts down gracefully and
// releases the queue connection.
func (g *Gateway) Serve(ctx context.Context) error {
	defer g.Close()

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("ingress listening", logging.Addr(g.srv.Addr))
		if err := g.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	g.logger.Info("shutting down ingress")
	timeout := g.cfg.Server.WriteTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := g.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	g.logger.Info("ingress stopped")
	return nil
}

// Close flushes usage counters and releases the gateway's Redis connections.
// Serve calls it on return.
func (g *Gateway) Close() {
	if g.usage != nil {
		g.usage.Stop()
		_ = g.usageStore.Close()
	}
	if err := g.limiter.Close(); err != nil {
		g.logger.Warn("failed to close rate limiter", logging.Error(err))
	}
	if err := g.handle.Release(); err != nil {
		g.logger.Warn("failed to release queue connection", logging.Error(err))
	}
}

// Run builds and serves the gateway.
func Run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	g, err := New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return g.Serve(ctx)
}
