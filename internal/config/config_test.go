package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	cfg.Chain.BettingAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	cfg.Chain.NFTAddress = "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
	cfg.Notify.TelegramToken = "123:abc"
	return cfg
}

func TestValidate_DefaultsWithCredentials(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.RunsReconciler())
	assert.True(t, cfg.RunsBot())
	assert.Equal(t, "123:abc", cfg.BotToken())
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Storage.Driver = "mongo"
	cfg.Chain.ChainID = 0

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "trade"`)
	assert.Contains(t, msg, "wallet: either private_key or sealed_key_path must be set")
	assert.Contains(t, msg, "chain: chain_id must be positive")
	assert.Contains(t, msg, "chain: betting_address")
	assert.Contains(t, msg, `storage: unknown driver "mongo"`)
}

func TestValidate_ModeScopedChecks(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "bot"
	cfg.Reconciler.Concurrency = 0
	require.NoError(t, cfg.Validate(), "reconciler settings are ignored in bot mode")

	cfg = validConfig()
	cfg.Mode = "Reconcile"
	cfg.Notify.TelegramToken = ""
	cfg.Bot.MinStake = "nope"
	require.NoError(t, cfg.Validate(), "bot settings are ignored in reconcile mode")
	assert.Equal(t, ModeReconcile, cfg.Mode)

	cfg = validConfig()
	cfg.Bot.MinStake = "-1"
	cfg.Redis.Enabled = true
	cfg.Reconciler.LockTTL.Duration = time.Second
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot: min_stake")
	assert.Contains(t, err.Error(), "lock_ttl must be at least the interval")
}

func TestValidate_SealedKeyNeedsPassword(t *testing.T) {
	cfg := validConfig()
	cfg.Wallet.PrivateKey = ""
	cfg.Wallet.SealedKeyPath = "/etc/pricebet/operator.json"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key_password is required")
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "reconcile"

[chain]
rpc_url = "http://node:8545"
chain_id = 11155111
confirm_timeout = "90s"

[reconciler]
interval = "30s"
concurrency = 8

[storage]
driver = "postgres"
`), 0o600))

	t.Setenv("PRICEBET_CHAIN_BETTING_ADDRESS", "0x5FbDB2315678afecb367f032d93F642f64180aa3")
	t.Setenv("PRICEBET_RECONCILER_MINT_SEQUENCE_START", "500")
	t.Setenv("PRICEBET_NOTIFY_EVENTS", "claim_failed, tick_failed ,")
	t.Setenv("PRICEBET_RECONCILER_INTERVAL", "45s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "reconcile", cfg.Mode)
	assert.Equal(t, "http://node:8545", cfg.Chain.RPCURL)
	assert.Equal(t, int64(11155111), cfg.Chain.ChainID)
	assert.Equal(t, 90*time.Second, cfg.Chain.ConfirmTimeout.Duration)
	assert.Equal(t, 2*time.Second, cfg.Chain.PollInterval.Duration, "default kept")
	assert.Equal(t, 45*time.Second, cfg.Reconciler.Interval.Duration, "env wins over file")
	assert.Equal(t, 8, cfg.Reconciler.Concurrency)
	assert.Equal(t, uint64(500), cfg.Reconciler.MintSequenceStart)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "0x5FbDB2315678afecb367f032d93F642f64180aa3", cfg.Chain.BettingAddress)
	assert.Equal(t, []string{"claim_failed", "tick_failed"}, cfg.Notify.Events)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "pg"
	cfg.Server.APIKey = "ops"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Wallet.PrivateKey)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Empty(t, out.Wallet.KeyPassword, "empty secrets stay empty")
	assert.Equal(t, cfg.Chain.BettingAddress, out.Chain.BettingAddress)

	out.Bot.Tokens[0] = "DOGE"
	assert.Equal(t, "ETH", cfg.Bot.Tokens[0])
	assert.Equal(t, "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", cfg.Wallet.PrivateKey)
}
