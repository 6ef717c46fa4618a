// Package config defines the top-level configuration for the arbitrage
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by FLASHARB_* environment
// variables.
type Config struct {
	Wallet    WalletConfig    `toml:"wallet"`
	Chain     ChainConfig     `toml:"chain"`
	Feed      FeedConfig      `toml:"feed"`
	Relay     RelayConfig     `toml:"relay"`
	Graph     GraphConfig     `toml:"graph"`
	Pathfind  PathfindConfig  `toml:"pathfind"`
	Alloc     AllocConfig     `toml:"alloc"`
	Engine    EngineConfig    `toml:"engine"`
	Gas       GasConfig       `toml:"gas"`
	FlashLoan FlashLoanConfig `toml:"flashloan"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Archive   ArchiveConfig   `toml:"archive"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// WalletConfig holds the trading key. Either a raw private key or an
// encrypted key file plus password.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig holds execution-chain RPC parameters.
type ChainConfig struct {
	RPCURL  string `toml:"rpc_url"`
	ChainID int64  `toml:"chain_id"`
}

// FeedConfig holds the pool-adapter WebSocket parameters.
type FeedConfig struct {
	WsURL string `toml:"ws_url"`
	// Pools restricts the subscription; empty subscribes to everything the
	// adapter tracks.
	Pools []string `toml:"pools"`
}

// RelayConfig holds bundle relay endpoints and the dedicated relay signing
// key. The relay key only authenticates requests; it never touches funds
// and must differ from the trading key.
type RelayConfig struct {
	Endpoints        []string `toml:"endpoints"`
	SigningKey       string   `toml:"signing_key"`
	Timeout          duration `toml:"timeout"`
	MaxSubmitRetries int      `toml:"max_submit_retries"`
	RetryBackoff     duration `toml:"retry_backoff"`
}

// GraphConfig holds liquidity graph parameters.
type GraphConfig struct {
	// StaleTTL is the age past which pool reserves are excluded from
	// snapshots and eventually pruned.
	StaleTTL duration `toml:"stale_ttl"`
	// StartTokens are the hex addresses cycles are anchored on.
	StartTokens []string `toml:"start_tokens"`
}

// PathfindConfig holds cycle search parameters.
type PathfindConfig struct {
	MaxHops      int `toml:"max_hops"`
	MaxResults   int `toml:"max_results"`
	MaxImpactBps int `toml:"max_impact_bps"`
}

// AllocConfig holds capital allocation parameters.
type AllocConfig struct {
	MonteCarloTrials int     `toml:"monte_carlo_trials"`
	MinAllocation    float64 `toml:"min_allocation"`
	GasCostPerPath   float64 `toml:"gas_cost_per_path"`
}

// EngineConfig holds execution pipeline parameters.
type EngineConfig struct {
	MinProfitThreshold      float64            `toml:"min_profit_threshold"`
	MaxConcurrentExecutions int64              `toml:"max_concurrent_executions"`
	BlocksIntoFuture        uint64             `toml:"blocks_into_future"`
	MaxWaitBlocks           uint64             `toml:"max_wait_blocks"`
	ScanInterval            duration           `toml:"scan_interval"`
	PollInterval            duration           `toml:"poll_interval"`
	SwapDeadline            duration           `toml:"swap_deadline"`
	DefaultCapital          float64            `toml:"default_capital"`
	Capital                 map[string]float64 `toml:"capital"`
	SubmitLimit             int                `toml:"submit_limit"`
	SubmitWindow            duration           `toml:"submit_window"`
	// Routers maps venue name to router contract address.
	Routers map[string]string `toml:"routers"`
}

// GasConfig holds the bundle gas strategy.
type GasConfig struct {
	PriceMultiplier    float64 `toml:"price_multiplier"`
	MaxPriorityFeeGwei int64   `toml:"max_priority_fee_gwei"`
	SwapGasLimit       uint64  `toml:"swap_gas_limit"`
	MaxSlippageBps     int     `toml:"max_slippage_bps"`
}

// FlashLoanConfig holds the flash-loan executor parameters.
type FlashLoanConfig struct {
	Enabled         bool   `toml:"enabled"`
	ExecutorAddress string `toml:"executor_address"`
	PremiumBps      int    `toml:"premium_bps"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds execution history retention parameters.
type ArchiveConfig struct {
	RetentionDays int `toml:"retention_days"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID: 1,
		},
		Relay: RelayConfig{
			Endpoints:        []string{"https://relay.flashbots.net"},
			Timeout:          duration{5 * time.Second},
			MaxSubmitRetries: 3,
			RetryBackoff:     duration{250 * time.Millisecond},
		},
		Graph: GraphConfig{
			StaleTTL: duration{30 * time.Second},
		},
		Pathfind: PathfindConfig{
			MaxHops:      4,
			MaxResults:   8,
			MaxImpactBps: 100,
		},
		Alloc: AllocConfig{
			MonteCarloTrials: 200,
			MinAllocation:    0.01,
		},
		Engine: EngineConfig{
			MinProfitThreshold:      0.01,
			MaxConcurrentExecutions: 4,
			BlocksIntoFuture:        2,
			MaxWaitBlocks:           5,
			ScanInterval:            duration{2 * time.Second},
			PollInterval:            duration{3 * time.Second},
			SwapDeadline:            duration{60 * time.Second},
			DefaultCapital:          10.0,
			Capital:                 map[string]float64{},
			SubmitLimit:             0,
			SubmitWindow:            duration{12 * time.Second},
			Routers:                 map[string]string{},
		},
		Gas: GasConfig{
			PriceMultiplier:    1.2,
			MaxPriorityFeeGwei: 2,
			SwapGasLimit:       200_000,
			MaxSlippageBps:     50,
		},
		FlashLoan: FlashLoanConfig{
			Enabled:    false,
			PremiumBps: 5,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "flasharb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "flasharb-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
		},
		Notify: NotifyConfig{
			Events: []string{"opportunity_executed", "error"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"scan":    true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, scan, archive)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	mode := strings.ToLower(c.Mode)
	trading := mode == "trade"

	// Wallet is required for trading.
	if trading {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode trade")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Chain
	if mode != "archive" {
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url must not be empty")
		}
		if c.Chain.ChainID <= 0 {
			errs = append(errs, fmt.Sprintf("chain: chain_id must be positive, got %d", c.Chain.ChainID))
		}
		if c.Feed.WsURL == "" {
			errs = append(errs, "feed: ws_url must not be empty")
		}
	}

	// Relay is required for trading.
	if trading {
		if len(c.Relay.Endpoints) == 0 {
			errs = append(errs, "relay: at least one endpoint is required")
		}
		if c.Relay.SigningKey == "" {
			errs = append(errs, "relay: signing_key is required (dedicated key, never the trading key)")
		}
		if c.Relay.SigningKey != "" && c.Relay.SigningKey == c.Wallet.PrivateKey {
			errs = append(errs, "relay: signing_key must differ from the trading key")
		}
	}

	// Graph
	if mode != "archive" {
		if c.Graph.StaleTTL.Duration <= 0 {
			errs = append(errs, "graph: stale_ttl must be > 0")
		}
		if len(c.Graph.StartTokens) == 0 {
			errs = append(errs, "graph: at least one start_token is required")
		}
		for _, t := range c.Graph.StartTokens {
			if !common.IsHexAddress(t) {
				errs = append(errs, fmt.Sprintf("graph: start_token %q is not a hex address", t))
			}
		}
	}

	// Pathfind
	if c.Pathfind.MaxHops < 2 {
		errs = append(errs, fmt.Sprintf("pathfind: max_hops must be >= 2, got %d", c.Pathfind.MaxHops))
	}
	if c.Pathfind.MaxResults < 1 {
		errs = append(errs, "pathfind: max_results must be >= 1")
	}
	if c.Pathfind.MaxImpactBps <= 0 || c.Pathfind.MaxImpactBps >= 10_000 {
		errs = append(errs, fmt.Sprintf("pathfind: max_impact_bps must be in (0, 10000), got %d", c.Pathfind.MaxImpactBps))
	}

	// Alloc
	if c.Alloc.MonteCarloTrials < 1 {
		errs = append(errs, "alloc: monte_carlo_trials must be >= 1")
	}
	if c.Alloc.MinAllocation < 0 {
		errs = append(errs, "alloc: min_allocation must be >= 0")
	}

	// Engine
	if c.Engine.MinProfitThreshold <= 0 {
		errs = append(errs, "engine: min_profit_threshold must be > 0")
	}
	if c.Engine.MaxConcurrentExecutions < 1 {
		errs = append(errs, "engine: max_concurrent_executions must be >= 1")
	}
	if c.Engine.BlocksIntoFuture < 1 {
		errs = append(errs, "engine: blocks_into_future must be >= 1")
	}
	if c.Engine.DefaultCapital <= 0 {
		errs = append(errs, "engine: default_capital must be > 0")
	}
	if trading && len(c.Engine.Routers) == 0 {
		errs = append(errs, "engine: at least one router is required for mode trade")
	}
	for venue, addr := range c.Engine.Routers {
		if !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Sprintf("engine: router %s address %q is not a hex address", venue, addr))
		}
	}
	for token := range c.Engine.Capital {
		if !common.IsHexAddress(token) {
			errs = append(errs, fmt.Sprintf("engine: capital key %q is not a hex address", token))
		}
	}

	// Gas
	if c.Gas.PriceMultiplier < 1.0 {
		errs = append(errs, fmt.Sprintf("gas: price_multiplier must be >= 1.0, got %g", c.Gas.PriceMultiplier))
	}
	if c.Gas.MaxSlippageBps < 0 || c.Gas.MaxSlippageBps >= 10_000 {
		errs = append(errs, fmt.Sprintf("gas: max_slippage_bps must be in [0, 10000), got %d", c.Gas.MaxSlippageBps))
	}

	// FlashLoan
	if c.FlashLoan.Enabled {
		if !common.IsHexAddress(c.FlashLoan.ExecutorAddress) {
			errs = append(errs, fmt.Sprintf("flashloan: executor_address %q is not a hex address", c.FlashLoan.ExecutorAddress))
		}
		if c.FlashLoan.PremiumBps < 0 {
			errs = append(errs, "flashloan: premium_bps must be >= 0")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
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
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Archive mode needs both the database and the object store.
	if mode == "archive" {
		if !c.Postgres.Enabled {
			errs = append(errs, "postgres: must be enabled for mode archive")
		}
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty for mode archive")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty for mode archive")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// StartTokens returns the configured start tokens as addresses. Call only
// after Validate.
func (c *Config) StartTokens() []common.Address {
	out := make([]common.Address, 0, len(c.Graph.StartTokens))
	for _, t := range c.Graph.StartTokens {
		out = append(out, common.HexToAddress(t))
	}
	return out
}

// RouterAddresses returns the configured routers keyed by venue. Call only
// after Validate.
func (c *Config) RouterAddresses() map[string]common.Address {
	out := make(map[string]common.Address, len(c.Engine.Routers))
	for venue, addr := range c.Engine.Routers {
		out[venue] = common.HexToAddress(addr)
	}
	return out
}

// CapitalByAddress returns the per-token capital overrides keyed by address.
// Call only after Validate.
func (c *Config) CapitalByAddress() map[common.Address]float64 {
	out := make(map[common.Address]float64, len(c.Engine.Capital))
	for token, amount := range c.Engine.Capital {
		out[common.HexToAddress(token)] = amount
	}
	return out
}
