// Package app wires configuration, logging, metrics and the server into a
// process that runs until its context is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/searchktools/tiny-server/config"
	"github.com/searchktools/tiny-server/core"
	"github.com/searchktools/tiny-server/core/fileserver"
	"github.com/searchktools/tiny-server/core/http"
	"github.com/searchktools/tiny-server/core/observability"
)

// App is the application instance
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	server  *core.Server
	metrics *observability.Metrics
}

// New builds the server described by cfg and registers the built-in
// routes (static files, metrics, stats).
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{cfg: cfg, logger: logger}

	opts := []core.Option{
		core.WithLogger(logger),
		core.WithWorkers(cfg.Server.Workers),
		core.WithPollInterval(cfg.Server.PollInterval),
		core.WithQueueWait(cfg.Server.QueueWait),
		core.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		core.WithLimits(http.Limits{
			MaxHeaders:   cfg.Server.MaxHeaders,
			MaxBodyBytes: cfg.Server.MaxBodyBytes,
		}),
	}
	if cfg.Metrics.Enabled {
		mcfg := observability.DefaultMetricsConfig()
		mcfg.Namespace = cfg.Metrics.Namespace
		mcfg.ProcessCollectors = true
		a.metrics = observability.NewMetrics(mcfg)
		opts = append(opts, core.WithMetrics(a.metrics))
	}
	a.server = core.New(opts...)

	if err := a.registerBuiltins(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) registerBuiltins() error {
	if a.cfg.Static.Prefix != "" {
		var fsOpts []fileserver.Option
		if a.cfg.Static.CacheTTL > 0 {
			fsOpts = append(fsOpts, fileserver.WithCache(a.cfg.Static.CacheTTL))
		}
		if err := a.server.ServeFiles(a.cfg.Static.Prefix, a.cfg.Static.Dir, fsOpts...); err != nil {
			return fmt.Errorf("static files: %w", err)
		}
	}
	if a.metrics != nil {
		if err := a.server.Handle(http.MethodGet, a.cfg.Metrics.Path, a.metrics.Handler()); err != nil {
			return fmt.Errorf("metrics route: %w", err)
		}
	}
	if a.cfg.Stats.Enabled {
		if err := a.server.Handle(http.MethodGet, a.cfg.Stats.Path, a.server.StatsHandler()); err != nil {
			return fmt.Errorf("stats route: %w", err)
		}
	}
	return nil
}

// Server returns the underlying server for route registration
func (a *App) Server() *core.Server {
	return a.server
}

// Run serves until ctx is cancelled or the server's shutdown flag is set,
// then drains queued connections for at most server.shutdown_timeout.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// the acceptor may also stop through Server.Close; wake the
		// shutdown goroutine either way
		defer cancel()
		err := a.server.ListenAndServe(a.cfg.Server.Addr)
		if errors.Is(err, core.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down", "timeout", a.cfg.Server.ShutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		st := a.server.Stats()
		a.logger.Info("shutdown complete",
			"accepted", st.Accepted,
			"completed", st.Completed,
			"protocol_errors", st.ProtocolErrors)
		return nil
	})

	return g.Wait()
}

// RunWithSignals runs until SIGINT or SIGTERM.
func (a *App) RunWithSignals() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Run(ctx)
}
