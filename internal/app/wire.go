package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tomredd/flasharb/internal/alloc"
	s3blob "github.com/tomredd/flasharb/internal/blob/s3"
	"github.com/tomredd/flasharb/internal/cache/redis"
	"github.com/tomredd/flasharb/internal/chain"
	"github.com/tomredd/flasharb/internal/config"
	"github.com/tomredd/flasharb/internal/crypto"
	"github.com/tomredd/flasharb/internal/domain"
	"github.com/tomredd/flasharb/internal/events"
	"github.com/tomredd/flasharb/internal/flashloan"
	"github.com/tomredd/flasharb/internal/graph"
	"github.com/tomredd/flasharb/internal/notify"
	"github.com/tomredd/flasharb/internal/pathfind"
	"github.com/tomredd/flasharb/internal/relay"
	"github.com/tomredd/flasharb/internal/store/postgres"
	"github.com/tomredd/flasharb/internal/txbuild"
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function. Fields for subsystems the current mode does not need stay nil.
type Dependencies struct {
	// Core pipeline (always built).
	Graph     *graph.Maintainer
	Finder    *pathfind.Finder
	Optimizer *alloc.Optimizer
	Publisher *events.Publisher

	// Execution path (trade mode only).
	Chain   *chain.Client
	Relay   *relay.Client
	Builder *txbuild.Builder
	Flash   flashloan.Provider

	// Redis-backed guards and bus (nil when Redis is disabled).
	Bus         domain.EventBus
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	// Persistence and cold storage.
	ExecutionStore domain.ExecutionStore
	Archiver       domain.Archiver

	// Notifications. Nil when no sender is configured.
	Notifier *notify.Notifier
}

// needsPostgres returns true for modes that require the execution database.
func needsPostgres(cfg *config.Config) bool {
	return cfg.Postgres.Enabled || cfg.Mode == "archive"
}

// needsS3 returns true for modes that require object storage.
func needsS3(cfg *config.Config) bool {
	return cfg.Mode == "archive"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that must
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Graph:  graph.NewMaintainer(cfg.Graph.StaleTTL.Duration, logger),
		Finder: pathfind.NewFinder(pathfind.Config{MaxImpactBps: cfg.Pathfind.MaxImpactBps}, logger),
		Optimizer: alloc.NewOptimizer(alloc.Config{
			Trials:         cfg.Alloc.MonteCarloTrials,
			MinAllocation:  cfg.Alloc.MinAllocation,
			GasCostPerPath: cfg.Alloc.GasCostPerPath,
		}, logger),
	}

	// --- PostgreSQL (execution history) ---
	if needsPostgres(cfg) {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.ExecutionStore = postgres.NewExecutionStore(pgClient.Pool())
	}

	// --- Redis (event bus, locks, rate limiting) ---
	var bus domain.EventBus = events.NopBus{}
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		eventBus := redis.NewEventBus(redisClient)
		bus = eventBus
		deps.Bus = eventBus
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Publisher = events.NewPublisher(bus, eventBus, logger)
	} else {
		deps.Publisher = events.NewPublisher(bus, nil, logger)
	}

	// --- S3 (cold storage for archived executions) ---
	if needsS3(cfg) {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.ExecutionStore,
			logger,
		)
	}

	// --- Chain, relay, signing (trade mode only) ---
	if cfg.Mode == "trade" {
		if err := wireTrading(ctx, cfg, logger, deps, &closers); err != nil {
			cleanup()
			return nil, nil, err
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	return deps, cleanup, nil
}

// wireTrading builds the key material, chain client, relay client, and
// transaction builder. The relay signing key is loaded separately from the
// trading key; config validation guarantees they differ.
func wireTrading(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps *Dependencies, closers *[]func()) error {
	tradingKey, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("wire: trading key: %w", err)
	}
	txSigner, err := crypto.NewTxSigner(tradingKey, cfg.Chain.ChainID)
	if err != nil {
		return fmt.Errorf("wire: tx signer: %w", err)
	}
	authSigner, err := crypto.NewAuthSigner(cfg.Relay.SigningKey)
	if err != nil {
		return fmt.Errorf("wire: relay auth signer: %w", err)
	}

	chainClient, err := chain.Dial(ctx, cfg.Chain.RPCURL, logger)
	if err != nil {
		return fmt.Errorf("wire: chain: %w", err)
	}
	*closers = append(*closers, chainClient.Close)
	deps.Chain = chainClient

	relayClient, err := relay.NewClient(relay.Config{
		Endpoints:        cfg.Relay.Endpoints,
		Timeout:          cfg.Relay.Timeout.Duration,
		MaxSubmitRetries: cfg.Relay.MaxSubmitRetries,
		RetryBackoff:     cfg.Relay.RetryBackoff.Duration,
	}, authSigner, logger)
	if err != nil {
		return fmt.Errorf("wire: relay: %w", err)
	}
	deps.Relay = relayClient

	priorityFeeWei := new(big.Int).Mul(
		big.NewInt(cfg.Gas.MaxPriorityFeeGwei),
		big.NewInt(1_000_000_000),
	)
	deps.Builder = txbuild.NewBuilder(txSigner, cfg.RouterAddresses(), txbuild.GasConfig{
		PriceMultiplier:   cfg.Gas.PriceMultiplier,
		MaxPriorityFeeWei: priorityFeeWei,
		SwapGasLimit:      cfg.Gas.SwapGasLimit,
		MaxSlippageBps:    cfg.Gas.MaxSlippageBps,
	})

	if cfg.FlashLoan.Enabled {
		deps.Flash = flashloan.NewAaveV3(
			common.HexToAddress(cfg.FlashLoan.ExecutorAddress),
			txSigner,
			cfg.FlashLoan.PremiumBps,
		)
	}
	return nil
}
