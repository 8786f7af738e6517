// Command pricebet runs the custodial price-bet service: the settlement
// reconciler, the Telegram bot and the operator API, selected by mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/pricebet/internal/app"
	"github.com/alanyoungcy/pricebet/internal/config"
	"github.com/alanyoungcy/pricebet/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	sealOut := flag.String("seal-key", "", "encrypt PRICEBET_WALLET_PRIVATE_KEY with PRICEBET_WALLET_KEY_PASSWORD, write it to this path and exit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if *sealOut != "" {
		if err := sealKey(*sealOut); err != nil {
			logger.Error("seal key failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("sealed operator key written", slog.String("path", *sealOut))
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("pricebet starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)
	logger.Debug("effective configuration", slog.Any("config", config.RedactedConfig(cfg)))

	application := app.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = application.Run(ctx)
	application.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	logger.Info("pricebet stopped")
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// sealKey writes the operator key from the environment as an encrypted key
// file for wallet.sealed_key_path.
func sealKey(path string) error {
	key := os.Getenv("PRICEBET_WALLET_PRIVATE_KEY")
	password := os.Getenv("PRICEBET_WALLET_KEY_PASSWORD")
	if key == "" || password == "" {
		return errors.New("PRICEBET_WALLET_PRIVATE_KEY and PRICEBET_WALLET_KEY_PASSWORD must be set")
	}
	sealed, err := crypto.SealKey(key, password)
	if err != nil {
		return err
	}
	return os.WriteFile(path, sealed, 0o600)
}
