package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path onto Defaults, loads .env when present
// and applies PRICEBET_* overrides. An empty path skips the file. The result
// is not validated; call Config.Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// .env is optional.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets and deploy-time settings
// without touching the TOML file. Unset or empty variables leave the field
// alone.
func applyEnvOverrides(cfg *Config) {
	// Wallet
	setStr(&cfg.Wallet.PrivateKey, "PRICEBET_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.SealedKeyPath, "PRICEBET_WALLET_SEALED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "PRICEBET_WALLET_KEY_PASSWORD")

	// Chain
	setStr(&cfg.Chain.RPCURL, "PRICEBET_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "PRICEBET_CHAIN_ID")
	setStr(&cfg.Chain.BettingAddress, "PRICEBET_CHAIN_BETTING_ADDRESS")
	setStr(&cfg.Chain.NFTAddress, "PRICEBET_CHAIN_NFT_ADDRESS")
	setUint64(&cfg.Chain.GasLimit, "PRICEBET_CHAIN_GAS_LIMIT")
	setUint64(&cfg.Chain.CreateGasLimit, "PRICEBET_CHAIN_CREATE_GAS_LIMIT")
	setDuration(&cfg.Chain.ConfirmTimeout, "PRICEBET_CHAIN_CONFIRM_TIMEOUT")
	setDuration(&cfg.Chain.PollInterval, "PRICEBET_CHAIN_POLL_INTERVAL")

	// Storage
	setStr(&cfg.Storage.Driver, "PRICEBET_STORAGE_DRIVER")
	setStr(&cfg.Postgres.DSN, "PRICEBET_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform alias
	setStr(&cfg.Postgres.Host, "PRICEBET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PRICEBET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PRICEBET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PRICEBET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PRICEBET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PRICEBET_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PRICEBET_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PRICEBET_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PRICEBET_POSTGRES_RUN_MIGRATIONS")
	setStr(&cfg.SQLite.Path, "PRICEBET_SQLITE_PATH")

	// Redis
	setBool(&cfg.Redis.Enabled, "PRICEBET_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PRICEBET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PRICEBET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PRICEBET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PRICEBET_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "PRICEBET_REDIS_TLS_ENABLED")

	// S3
	setBool(&cfg.S3.Enabled, "PRICEBET_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PRICEBET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PRICEBET_S3_REGION")
	setStr(&cfg.S3.Bucket, "PRICEBET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PRICEBET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PRICEBET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PRICEBET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PRICEBET_S3_FORCE_PATH_STYLE")

	// Reconciler
	setDuration(&cfg.Reconciler.Interval, "PRICEBET_RECONCILER_INTERVAL")
	setInt(&cfg.Reconciler.Concurrency, "PRICEBET_RECONCILER_CONCURRENCY")
	setDuration(&cfg.Reconciler.LockTTL, "PRICEBET_RECONCILER_LOCK_TTL")
	setUint64(&cfg.Reconciler.MintSequenceStart, "PRICEBET_RECONCILER_MINT_SEQUENCE_START")

	// Notify
	setStr(&cfg.Notify.TelegramToken, "PRICEBET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PRICEBET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PRICEBET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PRICEBET_NOTIFY_EVENTS")

	// Bot
	setStr(&cfg.Bot.Token, "PRICEBET_BOT_TOKEN")
	setStringSlice(&cfg.Bot.Tokens, "PRICEBET_BOT_TOKENS")
	setStr(&cfg.Bot.MinStake, "PRICEBET_BOT_MIN_STAKE")

	// Server
	setBool(&cfg.Server.Enabled, "PRICEBET_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PRICEBET_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "PRICEBET_SERVER_API_KEY")

	setStr(&cfg.Mode, "PRICEBET_MODE")
	setStr(&cfg.LogLevel, "PRICEBET_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
