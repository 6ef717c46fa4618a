package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tradingKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	relayKey   = "8da4ef21b864d2cc526dbdb2a120bd2874c36c9d0a1fb7f8c63d7f7a8b41de8f"
	wethAddr   = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	routerAddr = "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"
)

// tradeConfig returns a Config that passes validation in trade mode.
func tradeConfig() Config {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = tradingKey
	cfg.Chain.RPCURL = "https://eth.example.com"
	cfg.Feed.WsURL = "wss://pools.example.com/ws"
	cfg.Relay.SigningKey = relayKey
	cfg.Graph.StartTokens = []string{wethAddr}
	cfg.Engine.Routers = map[string]string{"univ2": routerAddr}
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "trade", cfg.Mode)
	assert.Equal(t, int64(1), cfg.Chain.ChainID)
	assert.Equal(t, []string{"https://relay.flashbots.net"}, cfg.Relay.Endpoints)
	assert.Equal(t, 30*time.Second, cfg.Graph.StaleTTL.Duration)
	assert.Equal(t, 4, cfg.Pathfind.MaxHops)
	assert.Equal(t, 200, cfg.Alloc.MonteCarloTrials)
	assert.Equal(t, 0.01, cfg.Engine.MinProfitThreshold)
	assert.Equal(t, int64(4), cfg.Engine.MaxConcurrentExecutions)
	assert.Equal(t, uint64(2), cfg.Engine.BlocksIntoFuture)
	assert.Equal(t, uint64(5), cfg.Engine.MaxWaitBlocks)
	assert.Equal(t, 1.2, cfg.Gas.PriceMultiplier)
}

func TestValidateTradeConfig(t *testing.T) {
	cfg := tradeConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := tradeConfig()
	cfg.Mode = "bogus"
	cfg.Pathfind.MaxHops = 1
	cfg.Engine.DefaultCapital = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "max_hops")
	assert.Contains(t, err.Error(), "default_capital")
}

func TestValidateRejectsSharedRelayKey(t *testing.T) {
	cfg := tradeConfig()
	cfg.Relay.SigningKey = cfg.Wallet.PrivateKey

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must differ from the trading key")
}

func TestValidateRequiresRelayKeyForTrading(t *testing.T) {
	cfg := tradeConfig()
	cfg.Relay.SigningKey = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signing_key is required")
}

func TestValidateScanModeNeedsNoWallet(t *testing.T) {
	cfg := tradeConfig()
	cfg.Mode = "scan"
	cfg.Wallet = WalletConfig{}
	cfg.Relay.SigningKey = ""
	cfg.Engine.Routers = nil

	require.NoError(t, cfg.Validate())
}

func TestValidateArchiveMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archive"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: must be enabled")

	cfg.Postgres.Enabled = true
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadAddresses(t *testing.T) {
	cfg := tradeConfig()
	cfg.Graph.StartTokens = []string{"not-an-address"}
	cfg.Engine.Routers = map[string]string{"univ2": "0x123"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start_token")
	assert.Contains(t, err.Error(), "router")
}

func TestLoadAppliesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "scan"

[chain]
rpc_url = "https://eth.example.com"
chain_id = 137

[feed]
ws_url = "wss://pools.example.com/ws"

[graph]
stale_ttl = "45s"
start_tokens = ["`+wethAddr+`"]

[pathfind]
max_hops = 3
`), 0o600))

	t.Setenv("FLASHARB_PATHFIND_MAX_HOPS", "5")
	t.Setenv("FLASHARB_ENGINE_DEFAULT_CAPITAL", "25.5")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "scan", cfg.Mode)
	assert.Equal(t, int64(137), cfg.Chain.ChainID)
	assert.Equal(t, 45*time.Second, cfg.Graph.StaleTTL.Duration)
	assert.Equal(t, 5, cfg.Pathfind.MaxHops, "env override beats the file value")
	assert.Equal(t, 25.5, cfg.Engine.DefaultCapital)
	// Untouched keys keep their defaults.
	assert.Equal(t, 8, cfg.Pathfind.MaxResults)

	require.NoError(t, cfg.Validate())
}

func TestAddressAccessors(t *testing.T) {
	cfg := tradeConfig()
	cfg.Engine.Capital = map[string]float64{wethAddr: 42}

	require.NoError(t, cfg.Validate())
	assert.Equal(t, []common.Address{common.HexToAddress(wethAddr)}, cfg.StartTokens())
	assert.Equal(t, common.HexToAddress(routerAddr), cfg.RouterAddresses()["univ2"])
	assert.Equal(t, 42.0, cfg.CapitalByAddress()[common.HexToAddress(wethAddr)])
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := tradeConfig()
	cfg.Postgres.Password = "hunter2"
	cfg.Redis.Password = "hunter2"
	cfg.S3.SecretKey = "hunter2"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Wallet.PrivateKey)
	assert.Equal(t, "***", red.Relay.SigningKey)
	assert.NotEqual(t, "hunter2", red.Postgres.Password)
	assert.NotEqual(t, "hunter2", red.Redis.Password)
	assert.NotEqual(t, "hunter2", red.S3.SecretKey)

	// The original must be untouched.
	assert.Equal(t, tradingKey, cfg.Wallet.PrivateKey)
}
