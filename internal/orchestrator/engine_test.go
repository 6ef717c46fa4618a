package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomredd/flasharb/internal/alloc"
	"github.com/tomredd/flasharb/internal/domain"
	"github.com/tomredd/flasharb/internal/events"
	"github.com/tomredd/flasharb/internal/txbuild"
)

var testStart = domain.Token{Address: common.BytesToAddress([]byte{1}), Symbol: "WETH", Decimals: 18}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signedTx(t *testing.T, nonce uint64) *types.Transaction {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	tx, err := types.SignNewTx(key, types.LatestSignerForChainID(big.NewInt(1)), &types.DynamicFeeTx{
		ChainID:   big.NewInt(1),
		Nonce:     nonce,
		GasFeeCap: big.NewInt(30_000_000_000),
		GasTipCap: big.NewInt(1_000_000_000),
		Gas:       200_000,
	})
	require.NoError(t, err)
	return tx
}

// profitablePath is a two-pool cycle with a 5% edge on the first pool.
func profitablePath() domain.ArbitragePath {
	mid := domain.Token{Address: common.BytesToAddress([]byte{2}), Symbol: "USDC", Decimals: 18}
	return domain.ArbitragePath{
		Tokens: []domain.Token{testStart, mid, testStart},
		Pools: []domain.PoolRef{
			{Address: common.BytesToAddress([]byte{0xAA, 1}), TokenIn: testStart, TokenOut: mid, ReserveIn: 1000, ReserveOut: 1050},
			{Address: common.BytesToAddress([]byte{0xAA, 2}), TokenIn: mid, TokenOut: testStart, ReserveIn: 1000, ReserveOut: 1000},
		},
		Yield:         1.05,
		RequiredInput: 10,
		Confidence:    1,
	}
}

func testOpportunity() domain.MultiPathOpportunity {
	return domain.MultiPathOpportunity{
		ID:             "opp-1",
		StartToken:     testStart,
		Paths:          []domain.ArbitragePath{profitablePath()},
		Allocations:    []float64{1.0},
		ExpectedProfit: 0.5,
		Confidence:     1,
		DiscoveredAt:   time.Now().UTC(),
	}
}

type fakeBundles struct {
	mu       sync.Mutex
	sim      domain.SimulationResult
	simErr   error
	statuses []domain.BundleStatus

	simCalls    int
	submitCalls int
}

func (f *fakeBundles) Simulate(_ context.Context, _ domain.Bundle) (domain.SimulationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simCalls++
	return f.sim, f.simErr
}

func (f *fakeBundles) Submit(_ context.Context, bundle domain.Bundle, _ *big.Int) (domain.SubmissionHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	return domain.SubmissionHandle{
		BundleHash:  common.BytesToHash([]byte{0xBB}),
		TargetBlock: bundle.TargetBlock(),
	}, nil
}

func (f *fakeBundles) Status(_ context.Context, _ domain.SubmissionHandle) (domain.BundleStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return domain.BundleStatus{State: domain.BundlePending}, nil
	}
	st := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return st, nil
}

type fakeChain struct {
	mu      sync.Mutex
	heads   []uint64
	balance *big.Int
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	head := f.heads[0]
	if len(f.heads) > 1 {
		f.heads = f.heads[1:]
	}
	return head, nil
}

func (f *fakeChain) BaseFee(context.Context) (*big.Int, error) {
	return big.NewInt(20_000_000_000), nil
}

func (f *fakeChain) Nonce(context.Context, common.Address) (uint64, error) {
	return 7, nil
}

func (f *fakeChain) TokenBalance(context.Context, common.Address, common.Address) (*big.Int, error) {
	return f.balance, nil
}

type fakeBuilder struct {
	t *testing.T
}

func (f *fakeBuilder) Wallet() common.Address {
	return common.BytesToAddress([]byte{0xCC})
}

func (f *fakeBuilder) SwapCalls(path domain.ArbitragePath, _ float64, _ time.Time) ([]txbuild.Call, error) {
	calls := make([]txbuild.Call, path.Hops())
	for i := range calls {
		calls[i] = txbuild.Call{To: path.Pools[i].Address, Gas: 200_000}
	}
	return calls, nil
}

func (f *fakeBuilder) SignCalls(calls []txbuild.Call, startNonce uint64, _ *big.Int) ([]*types.Transaction, error) {
	txs := make([]*types.Transaction, len(calls))
	for i := range calls {
		txs[i] = signedTx(f.t, startNonce+uint64(i))
	}
	return txs, nil
}

func (f *fakeBuilder) Fees(*big.Int, bool) (*big.Int, *big.Int) {
	return big.NewInt(30_000_000_000), big.NewInt(1_000_000_000)
}

type fakeFlash struct {
	t       *testing.T
	fee     *big.Int
	wrapped bool
}

func (f *fakeFlash) QuoteFee(_ domain.Token, _ *big.Int) *big.Int {
	return new(big.Int).Set(f.fee)
}

func (f *fakeFlash) Wrap([]txbuild.Call, domain.Token, *big.Int, uint64, *big.Int, *big.Int) (*types.Transaction, error) {
	f.wrapped = true
	return signedTx(f.t, 7), nil
}

type fakePools struct {
	stale map[common.Address]bool
}

func (f *fakePools) Fresh(addr common.Address) bool {
	return !f.stale[addr]
}

type fakeStore struct {
	mu      sync.Mutex
	records []domain.ExecutionRecord
}

func (f *fakeStore) Create(_ context.Context, rec domain.ExecutionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeStore) GetByID(context.Context, string) (domain.ExecutionRecord, error) {
	return domain.ExecutionRecord{}, domain.ErrNotFound
}

func (f *fakeStore) ListBefore(context.Context, time.Time, int) ([]domain.ExecutionRecord, error) {
	return nil, nil
}

func (f *fakeStore) DeleteBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeStore) last(t *testing.T) domain.ExecutionRecord {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.records)
	return f.records[len(f.records)-1]
}

type engineFixture struct {
	engine  *Engine
	bundles *fakeBundles
	chain   *fakeChain
	flash   *fakeFlash
	pools   *fakePools
	store   *fakeStore
}

func newFixture(t *testing.T, cfg Config) *engineFixture {
	t.Helper()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	if cfg.BlocksIntoFuture == 0 {
		cfg.BlocksIntoFuture = 1
	}
	if cfg.MaxWaitBlocks == 0 {
		cfg.MaxWaitBlocks = 2
	}
	if cfg.DefaultCapital == 0 {
		cfg.DefaultCapital = 10
	}

	fx := &engineFixture{
		bundles: &fakeBundles{
			sim: domain.SimulationResult{
				Success:   true,
				GasUsed:   210_000,
				NetProfit: testStart.ToWei(0.5),
			},
		},
		chain: &fakeChain{
			heads:   []uint64{100},
			balance: testStart.ToWei(10),
		},
		flash: &fakeFlash{t: t, fee: testStart.ToWei(0.01)},
		pools: &fakePools{stale: map[common.Address]bool{}},
		store: &fakeStore{},
	}

	logger := testLogger()
	pathCh := make(chan []domain.ArbitragePath)
	fx.engine = NewEngine(
		pathCh,
		cfg,
		fx.bundles,
		fx.chain,
		&fakeBuilder{t: t},
		fx.flash,
		fx.pools,
		alloc.NewOptimizer(alloc.Config{Trials: 50, Seed: 1}, logger),
		events.NewPublisher(events.NopBus{}, nil, logger),
		logger,
	)
	fx.engine.SetStore(fx.store)
	return fx
}

func TestExecuteIncludedBundle(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.bundles.statuses = []domain.BundleStatus{
		{State: domain.BundlePending},
		{State: domain.BundleIncluded, IncludedBlock: 102},
	}

	fx.engine.execute(context.Background(), testOpportunity())

	rec := fx.store.last(t)
	assert.Equal(t, domain.StateIncluded, rec.Status)
	assert.Equal(t, uint64(102), rec.IncludedBlock)
	assert.Equal(t, uint64(101), rec.TargetBlock)
	assert.False(t, rec.FlashLoan)
	assert.InDelta(t, 0.5, rec.RealizedProfit.InexactFloat64(), 1e-9)
	assert.Equal(t, 1, fx.bundles.simCalls)
	assert.Equal(t, 1, fx.bundles.submitCalls)
}

func TestExecuteBelowThresholdNeverSubmits(t *testing.T) {
	fx := newFixture(t, Config{MinProfitThreshold: 1.0})
	fx.bundles.sim.NetProfit = testStart.ToWei(0.5)

	fx.engine.execute(context.Background(), testOpportunity())

	rec := fx.store.last(t)
	assert.Equal(t, domain.StateFailed, rec.Status)
	assert.Equal(t, domain.ErrBelowThreshold.Error(), rec.FailReason)
	assert.Equal(t, 1, fx.bundles.simCalls, "simulation must run before the threshold check")
	assert.Zero(t, fx.bundles.submitCalls)
}

func TestExecuteSimulationRevertIsTerminal(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.bundles.sim = domain.SimulationResult{Success: false, Revert: "UniswapV2: K"}
	fx.bundles.simErr = domain.ErrSimulationFailed

	fx.engine.execute(context.Background(), testOpportunity())

	rec := fx.store.last(t)
	assert.Equal(t, domain.StateFailed, rec.Status)
	assert.Contains(t, rec.FailReason, "UniswapV2: K")
	assert.Zero(t, fx.bundles.submitCalls)
}

func TestExecuteStalePoolCancels(t *testing.T) {
	fx := newFixture(t, Config{})
	opp := testOpportunity()
	fx.pools.stale[opp.Paths[0].Pools[1].Address] = true

	fx.engine.execute(context.Background(), opp)

	rec := fx.store.last(t)
	assert.Equal(t, domain.StateFailed, rec.Status)
	assert.Equal(t, domain.ErrStalePool.Error(), rec.FailReason)
	assert.Zero(t, fx.bundles.simCalls, "stale opportunities must not be simulated")
}

func TestExecuteExpiresPastWaitWindow(t *testing.T) {
	fx := newFixture(t, Config{MaxWaitBlocks: 2})
	// Head jumps past target+MaxWaitBlocks while the bundle stays pending.
	fx.chain.heads = []uint64{100, 110}

	fx.engine.execute(context.Background(), testOpportunity())

	rec := fx.store.last(t)
	assert.Equal(t, domain.StateExpired, rec.Status)
	assert.Equal(t, domain.ErrInclusionTimeout.Error(), rec.FailReason)
	assert.Equal(t, 1, fx.bundles.submitCalls)
}

func TestExecuteFlashLoanWhenBalanceShort(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.chain.balance = testStart.ToWei(0.1) // allocation needs 1.0
	fx.bundles.statuses = []domain.BundleStatus{
		{State: domain.BundleIncluded, IncludedBlock: 101},
	}

	fx.engine.execute(context.Background(), testOpportunity())

	assert.True(t, fx.flash.wrapped)
	rec := fx.store.last(t)
	assert.Equal(t, domain.StateIncluded, rec.Status)
	assert.True(t, rec.FlashLoan)
}

func TestExecuteFlashLoanFeeMustBeCovered(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.chain.balance = testStart.ToWei(0.1)
	fx.flash.fee = testStart.ToWei(2.0) // exceeds the 0.5 expected profit

	fx.engine.execute(context.Background(), testOpportunity())

	assert.False(t, fx.flash.wrapped)
	rec := fx.store.last(t)
	assert.Equal(t, domain.StateFailed, rec.Status)
	assert.Contains(t, rec.FailReason, "does not cover")
}

func TestHandlePathsDropsAtCapacity(t *testing.T) {
	fx := newFixture(t, Config{MaxConcurrent: 1})

	// Occupy the only execution slot.
	require.True(t, fx.engine.sem.TryAcquire(1))
	defer fx.engine.sem.Release(1)

	fx.engine.handlePaths(context.Background(), []domain.ArbitragePath{profitablePath()})

	rec := fx.store.last(t)
	assert.Equal(t, domain.StateFailed, rec.Status)
	assert.Equal(t, domain.ErrCapacityExhausted.Error(), rec.FailReason)
	assert.Zero(t, fx.bundles.simCalls)
}

func TestHandlePathsUnprofitableGroupIsTerminal(t *testing.T) {
	fx := newFixture(t, Config{})

	// A path losing money on every input produces no allocation.
	losing := profitablePath()
	losing.Pools[0].ReserveOut = 900
	losing.Yield = 0.9

	fx.engine.handlePaths(context.Background(), []domain.ArbitragePath{losing})

	rec := fx.store.last(t)
	assert.Equal(t, domain.StateFailed, rec.Status)
	assert.Equal(t, "unprofitable", rec.FailReason)
	assert.Zero(t, fx.bundles.simCalls)
}
