package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/pricebet/internal/blob/s3"
	"github.com/alanyoungcy/pricebet/internal/cache/redis"
	"github.com/alanyoungcy/pricebet/internal/config"
	"github.com/alanyoungcy/pricebet/internal/crypto"
	"github.com/alanyoungcy/pricebet/internal/domain"
	"github.com/alanyoungcy/pricebet/internal/notify"
	"github.com/alanyoungcy/pricebet/internal/platform/contract"
	"github.com/alanyoungcy/pricebet/internal/server/handler"
	"github.com/alanyoungcy/pricebet/internal/store/postgres"
	"github.com/alanyoungcy/pricebet/internal/store/sqlite"
)

// Dependencies is the explicit set of backends the modes run on. Optional
// members are nil when their backend is disabled.
type Dependencies struct {
	Ledger   *contract.Client
	Operator *crypto.Signer

	// Storage
	Wallets   domain.WalletRepository
	Journal   domain.SettlementRepository
	Sequences domain.SequenceRepository
	Audit     domain.AuditStore

	// Optional infrastructure
	Locks   domain.LockManager
	Events  *redis.EventBus
	Reports domain.BlobWriter

	// Notifications
	Notifier *notify.Notifier

	Registry     *prometheus.Registry
	HealthChecks map[string]handler.HealthCheck
}

// Wire builds every backend named by cfg. The returned cleanup releases them
// in reverse order; it is also run when Wire fails partway.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Registry:     prometheus.NewRegistry(),
		HealthChecks: make(map[string]handler.HealthCheck),
	}
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// --- Operator key and ledger ---
	key, err := crypto.LoadOperatorKey(crypto.KeySource{
		RawPrivateKey: cfg.Wallet.PrivateKey,
		SealedKeyPath: cfg.Wallet.SealedKeyPath,
		Password:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: operator key: %w", err))
	}
	deps.Operator, err = crypto.NewSigner(key, cfg.Chain.ChainID)
	if err != nil {
		return fail(fmt.Errorf("wire: operator signer: %w", err))
	}

	eth, err := contract.Dial(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	closers = append(closers, eth.Close)

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return fail(fmt.Errorf("wire: read chain id: %w", err))
	}
	if chainID.Int64() != cfg.Chain.ChainID {
		return fail(fmt.Errorf("wire: rpc reports chain id %s, configured %d", chainID, cfg.Chain.ChainID))
	}
	deps.HealthChecks["rpc"] = func(ctx context.Context) error {
		_, err := eth.BlockNumber(ctx)
		return err
	}

	deps.Ledger, err = contract.New(eth, contract.Config{
		BettingAddress: cfg.Chain.BettingAddress,
		NFTAddress:     cfg.Chain.NFTAddress,
		GasLimit:       cfg.Chain.GasLimit,
		CreateGasLimit: cfg.Chain.CreateGasLimit,
		ConfirmTimeout: cfg.Chain.ConfirmTimeout.Duration,
		PollInterval:   cfg.Chain.PollInterval.Duration,
	}, deps.Operator, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}

	// --- Storage ---
	switch cfg.Storage.Driver {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.Wallets = postgres.NewWalletStore(pool)
		deps.Journal = postgres.NewSettlementStore(pool)
		deps.Sequences = postgres.NewSequenceStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.HealthChecks["database"] = pgClient.Ping

	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		closers = append(closers, func() { _ = db.Close() })

		deps.Wallets = sqlite.NewWalletStore(db)
		deps.Journal = sqlite.NewSettlementStore(db)
		deps.Sequences = sqlite.NewSequenceStore(db)
		deps.Audit = sqlite.NewAuditStore(db)
		deps.HealthChecks["database"] = db.Ping

	default:
		return fail(fmt.Errorf("wire: unknown storage driver %q", cfg.Storage.Driver))
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Locks = redis.NewLockManager(redisClient)
		deps.Events = redis.NewEventBus(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	}

	// --- S3 report archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Reports = s3blob.NewWriter(s3Client)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var (
		senders []notify.Sender
		direct  notify.DirectSender
	)
	if cfg.Notify.TelegramToken != "" {
		tg := notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
			notify.WithTelegramAPI(cfg.Notify.TelegramAPIURL),
			notify.WithTelegramRateLimit(cfg.Notify.TelegramRate, cfg.Notify.TelegramBurst),
		)
		direct = tg
		if cfg.Notify.TelegramChatID != "" {
			senders = append(senders, tg)
		}
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL, cfg.Notify.DiscordUsername))
	}
	deps.Notifier = notify.NewNotifier(senders, direct, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
