// Package app provides the top-level application lifecycle for the options
// paper-trading simulator. It wires together the engine, market-data feed,
// caches, stores, and notifications, and runs them until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/optionsim/internal/config"
	"github.com/alanyoungcy/optionsim/internal/domain"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, starts the tick
// ingestor and the market-data feed, and blocks until the context is
// cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting simulator",
		slog.String("log_level", a.cfg.LogLevel),
		slog.Float64("initial_balance", a.cfg.Engine.InitialBalance),
		slog.Bool("auto_exit", a.cfg.Engine.AutoExit),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Ingestor.Run(ctx)
	})

	if deps.Feed != nil {
		g.Go(func() error {
			return deps.Feed.Run(ctx)
		})
		a.closers = append(a.closers, deps.Feed.Close)
	} else {
		a.logger.Info("no market data feed configured, engine waits for direct trade requests")
	}

	if deps.Server != nil {
		g.Go(func() error {
			return deps.Server.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return deps.Server.Shutdown(shutdownCtx)
		})
	}

	runErr := g.Wait()

	a.finalize(deps)

	if runErr != nil && ctx.Err() == nil {
		return fmt.Errorf("app: run: %w", runErr)
	}
	return nil
}

// finalize ends the paper session deterministically: any still-open position
// is force-closed at its last known price, then the closed-trade record and
// a final account snapshot are archived when an archiver is configured. It
// runs on a fresh context so shutdown work is not cut off by the
// cancellation that triggered it.
func (a *App) finalize(deps *Dependencies) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if n := deps.Engine.ForceCloseAll(ctx, domain.ExitReasonManual); n > 0 {
		a.logger.Info("closed remaining positions at shutdown", slog.Int("count", n))
	}

	if deps.Archiver == nil {
		return
	}
	now := time.Now().UTC()
	if count, err := deps.Archiver.ArchiveClosedPositions(ctx, now); err != nil {
		a.logger.Warn("closed position archive failed at shutdown", slog.String("error", err.Error()))
	} else if count > 0 {
		a.logger.Info("archived closed positions", slog.Int64("count", count))
	}
	if err := deps.Archiver.ArchiveAccountSnapshot(ctx, deps.Engine.AccountSummary(), now); err != nil {
		a.logger.Warn("account snapshot archive failed at shutdown", slog.String("error", err.Error()))
	}
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down simulator")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
