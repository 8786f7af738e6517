package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/pricebet/internal/bot"
	"github.com/alanyoungcy/pricebet/internal/server"
	"github.com/alanyoungcy/pricebet/internal/server/handler"
	"github.com/alanyoungcy/pricebet/internal/service"
)

// ReconcileMode runs the settlement loop and the operator API.
func (a *App) ReconcileMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting reconcile mode")
	g, ctx := errgroup.WithContext(ctx)

	wallets := a.walletService(deps)
	rec, counter, err := a.buildReconciler(ctx, deps, wallets)
	if err != nil {
		return err
	}
	g.Go(func() error { return ignoreCancel(rec.Run(ctx)) })
	a.startHTTPServer(ctx, g, deps, rec, counter)

	return g.Wait()
}

// BotMode runs the chat command surface and the operator API.
func (a *App) BotMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting bot mode")
	g, ctx := errgroup.WithContext(ctx)

	wallets := a.walletService(deps)
	if err := a.startBot(ctx, g, deps, wallets); err != nil {
		return err
	}
	a.startHTTPServer(ctx, g, deps, nil, nil)

	return g.Wait()
}

// FullMode runs the settlement loop, the bot and the operator API in one
// process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)

	wallets := a.walletService(deps)
	rec, counter, err := a.buildReconciler(ctx, deps, wallets)
	if err != nil {
		return err
	}
	g.Go(func() error { return ignoreCancel(rec.Run(ctx)) })

	if err := a.startBot(ctx, g, deps, wallets); err != nil {
		return err
	}
	a.startHTTPServer(ctx, g, deps, rec, counter)

	return g.Wait()
}

func (a *App) walletService(deps *Dependencies) *service.WalletService {
	return service.NewWalletService(deps.Wallets, a.cfg.Chain.ChainID, a.logger)
}

func (a *App) buildReconciler(ctx context.Context, deps *Dependencies, wallets *service.WalletService) (*service.Reconciler, *service.SequenceCounter, error) {
	counter, err := service.NewSequenceCounter(ctx, deps.Sequences, service.MintSequenceName,
		a.cfg.Reconciler.MintSequenceStart, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("app: mint sequence: %w", err)
	}

	rdeps := service.ReconcilerDeps{
		Ledger:   deps.Ledger,
		Wallets:  wallets,
		Journal:  deps.Journal,
		Counter:  counter,
		Notifier: deps.Notifier,
		Alerts:   deps.Notifier,
		Audit:    deps.Audit,
		Locks:    deps.Locks,
		Reports:  deps.Reports,
		Metrics:  deps.Registry,
	}
	// A nil *EventBus must not become a non-nil interface.
	if deps.Events != nil {
		rdeps.Events = deps.Events
	}

	rec, err := service.NewReconciler(rdeps, service.ReconcilerConfig{
		Interval:     a.cfg.Reconciler.Interval.Duration,
		Concurrency:  a.cfg.Reconciler.Concurrency,
		LockTTL:      a.cfg.Reconciler.LockTTL.Duration,
		ReportPrefix: a.cfg.Reconciler.ReportPrefix,
		EventStream:  a.cfg.Reconciler.EventStream,
	}, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("app: %w", err)
	}
	return rec, counter, nil
}

func (a *App) startBot(ctx context.Context, g *errgroup.Group, deps *Dependencies, wallets *service.WalletService) error {
	minStake, err := service.ParseEther(a.cfg.Bot.MinStake)
	if err != nil {
		return fmt.Errorf("app: bot min_stake: %w", err)
	}
	bets := service.NewBetService(deps.Ledger, wallets, service.BetServiceConfig{
		Tokens:   a.cfg.Bot.Tokens,
		MinStake: minStake,
	}, a.logger)

	b, err := bot.New(bot.Config{
		Token:          a.cfg.BotToken(),
		PollTimeout:    a.cfg.Bot.PollTimeout.Duration,
		CommandTimeout: a.cfg.Bot.CommandTimeout.Duration,
	}, bets, a.logger)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	g.Go(func() error { return b.Start(ctx) })
	return nil
}

// startHTTPServer adds the operator API to g when enabled. rec and counter
// are nil in modes without the reconciler.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, rec *service.Reconciler, counter *service.SequenceCounter) {
	if !a.cfg.Server.Enabled {
		return
	}

	var runner handler.TickRunner
	if rec != nil {
		runner = rec
	}
	var recent handler.RecentEvents
	if deps.Events != nil {
		stream := a.cfg.Reconciler.EventStream
		recent = func(ctx context.Context, count int64) ([][]byte, error) {
			entries, err := deps.Events.Recent(ctx, stream, count)
			if err != nil {
				return nil, err
			}
			out := make([][]byte, len(entries))
			for i, e := range entries {
				out[i] = e.Payload
			}
			return out, nil
		}
	}

	srv := server.NewServer(server.Config{
		Port:   a.cfg.Server.Port,
		APIKey: a.cfg.Server.APIKey,
	}, server.Handlers{
		Health:      handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Settlements: handler.NewSettlementHandler(deps.Journal, deps.Audit, a.logger),
		Status:      handler.NewStatusHandler(a.cfg.Mode, a.cfg.Chain.ChainID, runner, counter, recent, a.logger),
	}, deps.Registry, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutCtx)
		if errors.Is(err, context.DeadlineExceeded) {
			// A manual tick may still hold its request open; the reconciler
			// waits for it independently.
			a.logger.Warn("http shutdown timed out with requests in flight")
			return nil
		}
		return err
	})
}

// ignoreCancel treats a shutdown-triggered return as a clean exit.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
