// Package app owns the process lifecycle: it wires the configured backends,
// starts the goroutines of the selected mode and tears everything down on
// shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/pricebet/internal/config"
)

// App is the root application object. Cleanup functions run in reverse
// registration order on Close.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from a validated configuration.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies and blocks in the configured mode until ctx is
// cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.Int64("chain_id", a.cfg.Chain.ChainID),
		slog.String("storage", a.cfg.Storage.Driver),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if deps.Notifier != nil {
		msg := fmt.Sprintf("mode %s, chain %d, operator %s", a.cfg.Mode, a.cfg.Chain.ChainID, deps.Operator.Address().Hex())
		if err := deps.Notifier.NotifyAll(ctx, "pricebet started", msg); err != nil {
			a.logger.WarnContext(ctx, "startup announcement failed", slog.String("error", err.Error()))
		}
	}

	switch a.cfg.Mode {
	case config.ModeReconcile:
		return a.ReconcileMode(ctx, deps)
	case config.ModeBot:
		return a.BotMode(ctx, deps)
	case config.ModeFull:
		return a.FullMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close releases every resource. Calling it again is a no-op.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
