package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FLASHARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FLASHARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// Wallet
	setStr(&cfg.Wallet.PrivateKey, "FLASHARB_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "FLASHARB_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "FLASHARB_WALLET_KEY_PASSWORD")

	// Chain
	setStr(&cfg.Chain.RPCURL, "FLASHARB_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "FLASHARB_CHAIN_ID")

	// Feed
	setStr(&cfg.Feed.WsURL, "FLASHARB_FEED_WS_URL")
	setStringSlice(&cfg.Feed.Pools, "FLASHARB_FEED_POOLS")

	// Relay
	setStringSlice(&cfg.Relay.Endpoints, "FLASHARB_RELAY_ENDPOINTS")
	setStr(&cfg.Relay.SigningKey, "FLASHARB_RELAY_SIGNING_KEY")
	setDuration(&cfg.Relay.Timeout, "FLASHARB_RELAY_TIMEOUT")
	setInt(&cfg.Relay.MaxSubmitRetries, "FLASHARB_RELAY_MAX_SUBMIT_RETRIES")
	setDuration(&cfg.Relay.RetryBackoff, "FLASHARB_RELAY_RETRY_BACKOFF")

	// Graph
	setDuration(&cfg.Graph.StaleTTL, "FLASHARB_GRAPH_STALE_TTL")
	setStringSlice(&cfg.Graph.StartTokens, "FLASHARB_GRAPH_START_TOKENS")

	// Pathfind
	setInt(&cfg.Pathfind.MaxHops, "FLASHARB_PATHFIND_MAX_HOPS")
	setInt(&cfg.Pathfind.MaxResults, "FLASHARB_PATHFIND_MAX_RESULTS")
	setInt(&cfg.Pathfind.MaxImpactBps, "FLASHARB_PATHFIND_MAX_IMPACT_BPS")

	// Alloc
	setInt(&cfg.Alloc.MonteCarloTrials, "FLASHARB_ALLOC_MONTE_CARLO_TRIALS")
	setFloat64(&cfg.Alloc.MinAllocation, "FLASHARB_ALLOC_MIN_ALLOCATION")
	setFloat64(&cfg.Alloc.GasCostPerPath, "FLASHARB_ALLOC_GAS_COST_PER_PATH")

	// Engine
	setFloat64(&cfg.Engine.MinProfitThreshold, "FLASHARB_ENGINE_MIN_PROFIT_THRESHOLD")
	setInt64(&cfg.Engine.MaxConcurrentExecutions, "FLASHARB_ENGINE_MAX_CONCURRENT_EXECUTIONS")
	setUint64(&cfg.Engine.BlocksIntoFuture, "FLASHARB_ENGINE_BLOCKS_INTO_FUTURE")
	setUint64(&cfg.Engine.MaxWaitBlocks, "FLASHARB_ENGINE_MAX_WAIT_BLOCKS")
	setDuration(&cfg.Engine.ScanInterval, "FLASHARB_ENGINE_SCAN_INTERVAL")
	setDuration(&cfg.Engine.PollInterval, "FLASHARB_ENGINE_POLL_INTERVAL")
	setDuration(&cfg.Engine.SwapDeadline, "FLASHARB_ENGINE_SWAP_DEADLINE")
	setFloat64(&cfg.Engine.DefaultCapital, "FLASHARB_ENGINE_DEFAULT_CAPITAL")
	setInt(&cfg.Engine.SubmitLimit, "FLASHARB_ENGINE_SUBMIT_LIMIT")
	setDuration(&cfg.Engine.SubmitWindow, "FLASHARB_ENGINE_SUBMIT_WINDOW")

	// Gas
	setFloat64(&cfg.Gas.PriceMultiplier, "FLASHARB_GAS_PRICE_MULTIPLIER")
	setInt64(&cfg.Gas.MaxPriorityFeeGwei, "FLASHARB_GAS_MAX_PRIORITY_FEE_GWEI")
	setUint64(&cfg.Gas.SwapGasLimit, "FLASHARB_GAS_SWAP_GAS_LIMIT")
	setInt(&cfg.Gas.MaxSlippageBps, "FLASHARB_GAS_MAX_SLIPPAGE_BPS")

	// FlashLoan
	setBool(&cfg.FlashLoan.Enabled, "FLASHARB_FLASHLOAN_ENABLED")
	setStr(&cfg.FlashLoan.ExecutorAddress, "FLASHARB_FLASHLOAN_EXECUTOR_ADDRESS")
	setInt(&cfg.FlashLoan.PremiumBps, "FLASHARB_FLASHLOAN_PREMIUM_BPS")

	// Postgres
	setBool(&cfg.Postgres.Enabled, "FLASHARB_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "FLASHARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FLASHARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FLASHARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FLASHARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FLASHARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FLASHARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FLASHARB_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FLASHARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FLASHARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FLASHARB_POSTGRES_RUN_MIGRATIONS")

	// Redis
	setBool(&cfg.Redis.Enabled, "FLASHARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "FLASHARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FLASHARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FLASHARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FLASHARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FLASHARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FLASHARB_REDIS_TLS_ENABLED")

	// S3
	setStr(&cfg.S3.Endpoint, "FLASHARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FLASHARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "FLASHARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FLASHARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FLASHARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FLASHARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FLASHARB_S3_FORCE_PATH_STYLE")

	// Archive
	setInt(&cfg.Archive.RetentionDays, "FLASHARB_ARCHIVE_RETENTION_DAYS")

	// Notify
	setStr(&cfg.Notify.TelegramToken, "FLASHARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FLASHARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FLASHARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FLASHARB_NOTIFY_EVENTS")

	// Top-level
	setStr(&cfg.Mode, "FLASHARB_MODE")
	setStr(&cfg.LogLevel, "FLASHARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
