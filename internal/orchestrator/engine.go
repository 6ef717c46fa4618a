// Package orchestrator drives discovered paths through allocation, bundle
// construction, relay simulation, submission, and inclusion monitoring.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"github.com/tomredd/flasharb/internal/alloc"
	"github.com/tomredd/flasharb/internal/domain"
	"github.com/tomredd/flasharb/internal/events"
	"github.com/tomredd/flasharb/internal/flashloan"
	"github.com/tomredd/flasharb/internal/txbuild"
)

// BundleClient is the relay surface the engine drives. Implemented by the
// relay package.
type BundleClient interface {
	Simulate(ctx context.Context, bundle domain.Bundle) (domain.SimulationResult, error)
	Submit(ctx context.Context, bundle domain.Bundle, minProfit *big.Int) (domain.SubmissionHandle, error)
	Status(ctx context.Context, handle domain.SubmissionHandle) (domain.BundleStatus, error)
}

// ChainReader supplies the chain state bundle construction depends on.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BaseFee(ctx context.Context) (*big.Int, error)
	Nonce(ctx context.Context, account common.Address) (uint64, error)
	TokenBalance(ctx context.Context, token, wallet common.Address) (*big.Int, error)
}

// TxBuilder turns sized paths into signed swap transactions.
type TxBuilder interface {
	Wallet() common.Address
	SwapCalls(path domain.ArbitragePath, amountIn float64, deadline time.Time) ([]txbuild.Call, error)
	SignCalls(calls []txbuild.Call, startNonce uint64, baseFee *big.Int) ([]*types.Transaction, error)
	Fees(baseFee *big.Int, lead bool) (feeCap, tipCap *big.Int)
}

// PoolFreshness reports whether a pool's reserves are still current.
// Implemented by the graph maintainer.
type PoolFreshness interface {
	Fresh(addr common.Address) bool
}

// Config tunes the execution pipeline.
type Config struct {
	// MinProfitThreshold is the minimum simulated net profit, in start-token
	// units, required before a bundle is submitted.
	MinProfitThreshold float64
	// MaxConcurrent caps in-flight executions. Opportunities arriving at
	// capacity are dropped, never queued.
	MaxConcurrent int64
	// BlocksIntoFuture is how far ahead of head the first target block sits.
	BlocksIntoFuture uint64
	// MaxWaitBlocks bounds inclusion monitoring past the target block.
	MaxWaitBlocks uint64
	// CallTimeout bounds each chain or relay call.
	CallTimeout time.Duration
	// PollInterval is the inclusion-monitoring cadence.
	PollInterval time.Duration
	// SwapDeadline is the validity window stamped into router calls.
	SwapDeadline time.Duration
	// DefaultCapital is the sizing capital, in start-token units, for tokens
	// without an explicit entry in Capital. Flash loans cover the gap when
	// it exceeds the wallet balance.
	DefaultCapital float64
	// Capital overrides sizing capital per start-token address.
	Capital map[common.Address]float64
	// LockTTL bounds how long a per-start-token execution lock is held.
	LockTTL time.Duration
	// SubmitLimit and SubmitWindow throttle submissions per start token.
	// A zero SubmitLimit disables throttling.
	SubmitLimit  int
	SubmitWindow time.Duration
}

func (c *Config) defaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.BlocksIntoFuture == 0 {
		c.BlocksIntoFuture = 2
	}
	if c.MaxWaitBlocks == 0 {
		c.MaxWaitBlocks = 5
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.SwapDeadline <= 0 {
		c.SwapDeadline = 60 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	if c.SubmitWindow <= 0 {
		c.SubmitWindow = 12 * time.Second
	}
}

// Engine reads path batches from a channel, sizes them into opportunities,
// and walks each through the execution state machine. Every opportunity
// terminates in Included, Failed, or Expired exactly once.
type Engine struct {
	pathCh    <-chan []domain.ArbitragePath
	cfg       Config
	bundles   BundleClient
	chain     ChainReader
	builder   TxBuilder
	flash     flashloan.Provider
	pools     PoolFreshness
	optimizer *alloc.Optimizer
	policy    alloc.GroupPolicy
	publisher *events.Publisher
	store     domain.ExecutionStore // optional
	locks     domain.LockManager    // optional
	limiter   domain.RateLimiter    // optional
	sem       *semaphore.Weighted
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine wires the execution pipeline. store, locks, and limiter may be
// nil; the corresponding guard is skipped.
func NewEngine(
	pathCh <-chan []domain.ArbitragePath,
	cfg Config,
	bundles BundleClient,
	chain ChainReader,
	builder TxBuilder,
	flash flashloan.Provider,
	pools PoolFreshness,
	optimizer *alloc.Optimizer,
	publisher *events.Publisher,
	logger *slog.Logger,
) *Engine {
	cfg.defaults()
	return &Engine{
		pathCh:    pathCh,
		cfg:       cfg,
		bundles:   bundles,
		chain:     chain,
		builder:   builder,
		flash:     flash,
		pools:     pools,
		optimizer: optimizer,
		policy:    alloc.StartTokenPolicy{},
		publisher: publisher,
		sem:       semaphore.NewWeighted(cfg.MaxConcurrent),
		logger:    logger.With(slog.String("component", "engine")),
		now:       time.Now,
	}
}

// SetStore enables terminal-record persistence.
func (e *Engine) SetStore(store domain.ExecutionStore) { e.store = store }

// SetGuards enables the distributed per-start-token lock and the submission
// rate limiter. Either may be nil.
func (e *Engine) SetGuards(locks domain.LockManager, limiter domain.RateLimiter) {
	e.locks = locks
	e.limiter = limiter
}

// SetGroupPolicy overrides the default start-token grouping.
func (e *Engine) SetGroupPolicy(p alloc.GroupPolicy) {
	if p != nil {
		e.policy = p
	}
}

// Run processes path batches until the context is cancelled. In-flight
// executions run on their own goroutines and finish independently.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine started",
		slog.Int64("max_concurrent", e.cfg.MaxConcurrent),
		slog.Float64("min_profit", e.cfg.MinProfitThreshold),
	)
	defer e.logger.Info("engine stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case paths, ok := <-e.pathCh:
			if !ok {
				return nil
			}
			e.handlePaths(ctx, paths)
		}
	}
}

// handlePaths groups and sizes a discovery batch, then launches an execution
// per viable opportunity, dropping those that arrive at capacity.
func (e *Engine) handlePaths(ctx context.Context, paths []domain.ArbitragePath) {
	for _, opp := range e.optimizer.BuildOpportunities(paths, e.policy, e.capitalFor) {
		if len(opp.Allocations) == 0 {
			// Nothing worth funding after gas. Terminal immediately.
			e.finish(ctx, &execution{opp: opp, startedAt: e.now().UTC()},
				domain.StateFailed, "unprofitable", domain.BundleStatus{})
			continue
		}

		e.publisher.Discovered(ctx, opp)

		if !e.sem.TryAcquire(1) {
			e.logger.Warn("execution capacity exhausted, dropping opportunity",
				slog.String("opportunity_id", opp.ID),
				slog.String("start_token", opp.StartToken.Symbol),
			)
			e.finish(ctx, &execution{opp: opp, startedAt: e.now().UTC()},
				domain.StateFailed, domain.ErrCapacityExhausted.Error(), domain.BundleStatus{})
			continue
		}
		go func(opp domain.MultiPathOpportunity) {
			defer e.sem.Release(1)
			e.execute(ctx, opp)
		}(opp)
	}
}

func (e *Engine) capitalFor(t domain.Token) float64 {
	if c, ok := e.cfg.Capital[t.Address]; ok {
		return c
	}
	return e.cfg.DefaultCapital
}

// execution carries the mutable pipeline state for one opportunity.
type execution struct {
	opp       domain.MultiPathOpportunity
	state     domain.OpportunityState
	bundle    domain.Bundle
	sim       domain.SimulationResult
	handle    domain.SubmissionHandle
	flashLoan bool
	startedAt time.Time
}

// execute walks one opportunity Allocated -> BundleBuilt -> Simulated ->
// Submitted and on to a terminal state. Any guard or step failure is
// terminal; there is no retry at this level.
func (e *Engine) execute(ctx context.Context, opp domain.MultiPathOpportunity) {
	ex := &execution{opp: opp, state: domain.StateAllocated, startedAt: e.now().UTC()}
	log := e.logger.With(
		slog.String("opportunity_id", opp.ID),
		slog.String("start_token", opp.StartToken.Symbol),
	)

	lockKey := "exec:" + opp.StartToken.Address.Hex()
	if e.locks != nil {
		unlock, err := e.locks.Acquire(ctx, lockKey, e.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				log.Debug("start token locked by another execution, dropping")
			} else {
				log.Warn("lock acquire failed", slog.String("error", err.Error()))
			}
			e.finish(ctx, ex, domain.StateFailed, "start token locked", domain.BundleStatus{})
			return
		}
		defer unlock()
	}

	if e.limiter != nil && e.cfg.SubmitLimit > 0 {
		allowed, err := e.limiter.Allow(ctx, "submit:"+opp.StartToken.Address.Hex(),
			e.cfg.SubmitLimit, e.cfg.SubmitWindow)
		if err != nil {
			log.Warn("rate limiter unavailable, proceeding", slog.String("error", err.Error()))
		} else if !allowed {
			log.Debug("submission rate limited, dropping")
			e.finish(ctx, ex, domain.StateFailed, "rate limited", domain.BundleStatus{})
			return
		}
	}

	// Reserve data may have moved since discovery. Cancel rather than
	// simulate against a graph the chain no longer agrees with.
	if stale := e.stalePool(opp); stale != (common.Address{}) {
		log.Info("pool invalidated before submission, cancelling",
			slog.String("pool", stale.Hex()),
		)
		e.finish(ctx, ex, domain.StateFailed, domain.ErrStalePool.Error(), domain.BundleStatus{})
		return
	}

	if err := e.buildBundle(ctx, ex); err != nil {
		log.Warn("bundle build failed", slog.String("error", err.Error()))
		e.finish(ctx, ex, domain.StateFailed, "bundle build: "+err.Error(), domain.BundleStatus{})
		return
	}
	ex.state = domain.StateBundleBuilt
	log.Info("bundle built",
		slog.Int("txs", ex.bundle.Len()),
		slog.Uint64("target_block", ex.bundle.TargetBlock()),
		slog.Bool("flash_loan", ex.flashLoan),
	)

	minProfitWei := opp.StartToken.ToWei(e.cfg.MinProfitThreshold)

	simCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	sim, err := e.bundles.Simulate(simCtx, ex.bundle)
	cancel()
	if err != nil {
		log.Warn("simulation failed", slog.String("error", err.Error()))
		e.finish(ctx, ex, domain.StateFailed, failReason(err, sim), domain.BundleStatus{})
		return
	}
	if sim.NetProfit == nil {
		sim.NetProfit = new(big.Int)
	}
	ex.sim = sim
	ex.state = domain.StateSimulated
	log.Info("bundle simulated",
		slog.Uint64("gas_used", sim.GasUsed),
		slog.String("net_profit", sim.NetProfit.String()),
	)

	if sim.NetProfit.Cmp(minProfitWei) < 0 {
		log.Info("simulated profit below threshold, dropping",
			slog.String("net_profit", sim.NetProfit.String()),
			slog.String("min_profit", minProfitWei.String()),
		)
		e.finish(ctx, ex, domain.StateFailed, domain.ErrBelowThreshold.Error(), domain.BundleStatus{})
		return
	}

	handle, err := e.bundles.Submit(ctx, ex.bundle, minProfitWei)
	if err != nil {
		log.Error("bundle submission failed", slog.String("error", err.Error()))
		e.finish(ctx, ex, domain.StateFailed, "submit: "+err.Error(), domain.BundleStatus{})
		return
	}
	ex.handle = handle
	ex.state = domain.StateSubmitted
	log.Info("bundle submitted",
		slog.String("bundle_hash", handle.BundleHash.Hex()),
		slog.Uint64("target_block", handle.TargetBlock),
	)

	e.monitor(ctx, ex, log)
}

// buildBundle signs swap transactions for every active path against the
// current head, wrapping them in a flash loan when the required capital
// exceeds the wallet balance.
func (e *Engine) buildBundle(ctx context.Context, ex *execution) error {
	tctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	head, err := e.chain.BlockNumber(tctx)
	if err != nil {
		return err
	}
	baseFee, err := e.chain.BaseFee(tctx)
	if err != nil {
		return err
	}
	nonce, err := e.chain.Nonce(tctx, e.builder.Wallet())
	if err != nil {
		return err
	}
	balance, err := e.chain.TokenBalance(tctx, ex.opp.StartToken.Address, e.builder.Wallet())
	if err != nil {
		return err
	}

	active, allocs := ex.opp.ActivePaths()
	deadline := e.now().Add(e.cfg.SwapDeadline)
	var calls []txbuild.Call
	for i, path := range active {
		cs, err := e.builder.SwapCalls(path, allocs[i], deadline)
		if err != nil {
			return fmt.Errorf("path %d: %w", i, err)
		}
		calls = append(calls, cs...)
	}

	target := head + e.cfg.BlocksIntoFuture
	required := ex.opp.StartToken.ToWei(ex.opp.TotalAllocated())

	if balance.Cmp(required) >= 0 {
		txs, err := e.builder.SignCalls(calls, nonce, baseFee)
		if err != nil {
			return err
		}
		ex.bundle = domain.NewBundle(txs, target)
		return nil
	}

	// Wallet can't fund the allocation directly; borrow it for the block.
	if e.flash == nil {
		return fmt.Errorf("%w: wallet balance %s below required %s and flash loans are disabled",
			domain.ErrInsufficientBalance, balance, required)
	}
	fee := e.flash.QuoteFee(ex.opp.StartToken, required)
	profitWei := ex.opp.StartToken.ToWei(ex.opp.ExpectedProfit)
	if profitWei.Cmp(fee) <= 0 {
		return fmt.Errorf("%w: expected profit %s does not cover flash loan fee %s",
			domain.ErrUnprofitable, profitWei, fee)
	}
	feeCap, tipCap := e.builder.Fees(baseFee, true)
	tx, err := e.flash.Wrap(calls, ex.opp.StartToken, required, nonce, feeCap, tipCap)
	if err != nil {
		return err
	}
	ex.flashLoan = true
	ex.bundle = domain.NewBundle([]*types.Transaction{tx}, target)
	return nil
}

// monitor polls relay status until inclusion, rejection, or the wait window
// closing past the target block.
func (e *Engine) monitor(ctx context.Context, ex *execution, log *slog.Logger) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	giveUpAfter := ex.handle.TargetBlock + e.cfg.MaxWaitBlocks

	for {
		select {
		case <-ctx.Done():
			e.finish(context.WithoutCancel(ctx), ex, domain.StateExpired, "shutdown during monitoring", domain.BundleStatus{})
			return
		case <-ticker.C:
		}

		tctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		status, err := e.bundles.Status(tctx, ex.handle)
		cancel()
		if err != nil {
			log.Warn("bundle status poll failed", slog.String("error", err.Error()))
		} else {
			switch status.State {
			case domain.BundleIncluded:
				log.Info("bundle included",
					slog.Uint64("block", status.IncludedBlock),
					slog.String("net_profit", ex.sim.NetProfit.String()),
				)
				e.finish(ctx, ex, domain.StateIncluded, "", status)
				return
			case domain.BundleRejected:
				log.Warn("bundle rejected by relay", slog.String("reason", status.Reason))
				e.finish(ctx, ex, domain.StateFailed, "relay rejected: "+status.Reason, status)
				return
			}
		}

		tctx, cancel = context.WithTimeout(ctx, e.cfg.CallTimeout)
		head, err := e.chain.BlockNumber(tctx)
		cancel()
		if err != nil {
			log.Warn("head poll failed", slog.String("error", err.Error()))
			continue
		}
		if head > giveUpAfter {
			log.Info("inclusion window closed",
				slog.Uint64("head", head),
				slog.Uint64("target_block", ex.handle.TargetBlock),
			)
			e.finish(ctx, ex, domain.StateExpired, domain.ErrInclusionTimeout.Error(), domain.BundleStatus{})
			return
		}
	}
}

// finish records the terminal state exactly once: event publish plus an
// execution record when a store is configured.
func (e *Engine) finish(ctx context.Context, ex *execution, state domain.OpportunityState, reason string, status domain.BundleStatus) {
	ex.state = state
	now := e.now().UTC()

	realized := 0.0
	if state == domain.StateIncluded && ex.sim.NetProfit != nil {
		realized = ex.opp.StartToken.FromWei(ex.sim.NetProfit)
	}

	e.publisher.Executed(ctx, domain.OpportunityExecutedEvent{
		OpportunityID: ex.opp.ID,
		Status:        state,
		Profit:        realized,
		FailReason:    reason,
		IncludedBlock: status.IncludedBlock,
		Timestamp:     now,
	})

	if e.store == nil {
		return
	}
	active, _ := ex.opp.ActivePaths()
	hops := 0
	for _, p := range active {
		hops += p.Hops()
	}
	rec := domain.ExecutionRecord{
		ID:             uuid.New().String(),
		OpportunityID:  ex.opp.ID,
		StartToken:     ex.opp.StartToken.Address.Hex(),
		PathCount:      len(active),
		Hops:           hops,
		Status:         state,
		FailReason:     reason,
		FlashLoan:      ex.flashLoan,
		TargetBlock:    ex.handle.TargetBlock,
		IncludedBlock:  status.IncludedBlock,
		GasUsed:        ex.sim.GasUsed,
		ExpectedProfit: decimal.NewFromFloat(ex.opp.ExpectedProfit),
		RealizedProfit: decimal.NewFromFloat(realized),
		StartedAt:      ex.startedAt,
		CompletedAt:    &now,
	}
	if rec.TargetBlock == 0 {
		rec.TargetBlock = ex.bundle.TargetBlock()
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CallTimeout)
	defer cancel()
	if err := e.store.Create(sctx, rec); err != nil {
		e.logger.Warn("execution record write failed",
			slog.String("opportunity_id", ex.opp.ID),
			slog.String("error", err.Error()),
		)
	}
}

// stalePool returns the address of the first pool in the opportunity whose
// reserves the graph no longer considers fresh, or the zero address.
func (e *Engine) stalePool(opp domain.MultiPathOpportunity) common.Address {
	active, _ := opp.ActivePaths()
	for _, path := range active {
		for _, pool := range path.Pools {
			if !e.pools.Fresh(pool.Address) {
				return pool.Address
			}
		}
	}
	return common.Address{}
}

func failReason(err error, sim domain.SimulationResult) string {
	if sim.Revert != "" {
		return "simulation reverted: " + sim.Revert
	}
	if err != nil {
		return err.Error()
	}
	return "simulation failed"
}
