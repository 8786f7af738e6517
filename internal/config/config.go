// Package config defines the service configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Config is the root configuration. Fields come from a TOML file merged on
// Defaults and are then overridden by PRICEBET_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Chain      ChainConfig      `toml:"chain"`
	Storage    StorageConfig    `toml:"storage"`
	Postgres   PostgresConfig   `toml:"postgres"`
	SQLite     SQLiteConfig     `toml:"sqlite"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Reconciler ReconcilerConfig `toml:"reconciler"`
	Notify     NotifyConfig     `toml:"notify"`
	Bot        BotConfig        `toml:"bot"`
	Server     ServerConfig     `toml:"server"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig locates the operator key that administers the contracts.
type WalletConfig struct {
	PrivateKey    string `toml:"private_key"`
	SealedKeyPath string `toml:"sealed_key_path"`
	KeyPassword   string `toml:"key_password"`
}

// ChainConfig holds the RPC endpoint, contract addresses and the write-path
// tuning.
type ChainConfig struct {
	RPCURL         string   `toml:"rpc_url"`
	ChainID        int64    `toml:"chain_id"`
	BettingAddress string   `toml:"betting_address"`
	NFTAddress     string   `toml:"nft_address"`
	GasLimit       uint64   `toml:"gas_limit"`
	CreateGasLimit uint64   `toml:"create_gas_limit"`
	ConfirmTimeout duration `toml:"confirm_timeout"`
	PollInterval   duration `toml:"poll_interval"`
}

// StorageConfig picks the journal and wallet backend.
type StorageConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver string `toml:"driver"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// SQLiteConfig holds the single-node database file.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RedisConfig holds Redis connection parameters. Redis is optional; when
// enabled it provides the tick lock and the settlement event stream.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds object storage parameters for the tick report archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ReconcilerConfig tunes the settlement loop.
type ReconcilerConfig struct {
	Interval          duration `toml:"interval"`
	Concurrency       int      `toml:"concurrency"`
	LockTTL           duration `toml:"lock_ttl"`
	MintSequenceStart uint64   `toml:"mint_sequence_start"`
	ReportPrefix      string   `toml:"report_prefix"`
	EventStream       string   `toml:"event_stream"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	TelegramAPIURL    string   `toml:"telegram_api_url"`
	TelegramRate      float64  `toml:"telegram_rate"`
	TelegramBurst     int      `toml:"telegram_burst"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	DiscordUsername   string   `toml:"discord_username"`
	Events            []string `toml:"events"`
}

// BotConfig configures the chat command surface.
type BotConfig struct {
	// Token defaults to notify.telegram_token.
	Token          string   `toml:"token"`
	Tokens         []string `toml:"tokens"`
	MinStake       string   `toml:"min_stake"`
	CommandTimeout duration `toml:"command_timeout"`
	PollTimeout    duration `toml:"poll_timeout"`
}

// ServerConfig holds operator HTTP parameters.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"api_key"`
}

// duration wraps time.Duration so TOML strings like "5m" decode.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config with the values of config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:         "http://localhost:8545",
			ChainID:        31337,
			GasLimit:       5_000_000,
			ConfirmTimeout: duration{2 * time.Minute},
			PollInterval:   duration{2 * time.Second},
		},
		Storage: StorageConfig{Driver: "sqlite"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "pricebet",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{Path: "pricebet.db"},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			KeyPrefix:  "pricebet",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "pricebet-reports",
			ForcePathStyle: true,
		},
		Reconciler: ReconcilerConfig{
			Interval:     duration{60 * time.Second},
			Concurrency:  4,
			LockTTL:      duration{10 * time.Minute},
			ReportPrefix: "reconciler/ticks",
			EventStream:  "settlements",
		},
		Notify: NotifyConfig{
			TelegramRate:  25,
			TelegramBurst: 5,
			Events:        []string{"claim_failed", "mint_failed", "tick_failed"},
		},
		Bot: BotConfig{
			Tokens:         []string{"ETH", "BTC", "LINK"},
			MinStake:       "0.001",
			CommandTimeout: duration{3 * time.Minute},
			PollTimeout:    duration{10 * time.Second},
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// Mode values.
const (
	ModeReconcile = "reconcile"
	ModeBot       = "bot"
	ModeFull      = "full"
)

var validModes = map[string]bool{
	ModeReconcile: true,
	ModeBot:       true,
	ModeFull:      true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// RunsReconciler reports whether the mode starts the settlement loop.
func (c *Config) RunsReconciler() bool {
	return c.Mode == ModeReconcile || c.Mode == ModeFull
}

// RunsBot reports whether the mode starts the chat bot.
func (c *Config) RunsBot() bool {
	return c.Mode == ModeBot || c.Mode == ModeFull
}

// BotToken returns the bot token, falling back to the notifier's.
func (c *Config) BotToken() string {
	if c.Bot.Token != "" {
		return c.Bot.Token
	}
	return c.Notify.TelegramToken
}

// Validate checks for invalid or missing values and returns one error
// describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if !validModes[c.Mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: reconcile, bot, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Wallet.PrivateKey == "" && c.Wallet.SealedKeyPath == "" {
		errs = append(errs, "wallet: either private_key or sealed_key_path must be set")
	}
	if c.Wallet.PrivateKey == "" && c.Wallet.SealedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when sealed_key_path is set")
	}

	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if !common.IsHexAddress(c.Chain.BettingAddress) {
		errs = append(errs, fmt.Sprintf("chain: betting_address %q is not a valid address", c.Chain.BettingAddress))
	}
	if !common.IsHexAddress(c.Chain.NFTAddress) {
		errs = append(errs, fmt.Sprintf("chain: nft_address %q is not a valid address", c.Chain.NFTAddress))
	}
	if c.Chain.GasLimit == 0 {
		errs = append(errs, "chain: gas_limit must be > 0")
	}
	if c.Chain.ConfirmTimeout.Duration <= 0 {
		errs = append(errs, "chain: confirm_timeout must be > 0")
	}
	if c.Chain.PollInterval.Duration <= 0 {
		errs = append(errs, "chain: poll_interval must be > 0")
	}

	switch c.Storage.Driver {
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	case "sqlite":
		if c.SQLite.Path == "" {
			errs = append(errs, "sqlite: path must not be empty")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown driver %q (valid: postgres, sqlite)", c.Storage.Driver))
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if c.RunsReconciler() {
		if c.Reconciler.Interval.Duration <= 0 {
			errs = append(errs, "reconciler: interval must be > 0")
		}
		if c.Reconciler.Concurrency < 1 {
			errs = append(errs, "reconciler: concurrency must be >= 1")
		}
		if c.Redis.Enabled && c.Reconciler.LockTTL.Duration < c.Reconciler.Interval.Duration {
			errs = append(errs, "reconciler: lock_ttl must be at least the interval")
		}
	}

	if c.Notify.TelegramChatID != "" && c.Notify.TelegramToken == "" {
		errs = append(errs, "notify: telegram_chat_id requires telegram_token")
	}
	if c.Notify.TelegramRate < 0 {
		errs = append(errs, "notify: telegram_rate must be >= 0")
	}

	if c.RunsBot() {
		if c.BotToken() == "" {
			errs = append(errs, "bot: token (or notify.telegram_token) is required for mode "+c.Mode)
		}
		if len(c.Bot.Tokens) == 0 {
			errs = append(errs, "bot: tokens must list at least one symbol")
		}
		if d, err := decimal.NewFromString(c.Bot.MinStake); err != nil || d.Sign() <= 0 {
			errs = append(errs, fmt.Sprintf("bot: min_stake %q must be a positive ETH amount", c.Bot.MinStake))
		}
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
