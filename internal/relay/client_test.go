package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomredd/flasharb/internal/crypto"
	"github.com/tomredd/flasharb/internal/domain"
)

const testAuthKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAuthSigner(t *testing.T) *crypto.AuthSigner {
	t.Helper()
	auth, err := crypto.NewAuthSigner(testAuthKey)
	require.NoError(t, err)
	return auth
}

func testBundle(t *testing.T, target uint64) domain.Bundle {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	signer := types.LatestSignerForChainID(big.NewInt(1))
	tx, err := types.SignNewTx(key, signer, &types.DynamicFeeTx{
		ChainID:   big.NewInt(1),
		Nonce:     0,
		GasFeeCap: big.NewInt(30_000_000_000),
		GasTipCap: big.NewInt(1_000_000_000),
		Gas:       200_000,
	})
	require.NoError(t, err)
	return domain.NewBundle([]*types.Transaction{tx}, target)
}

// fakeRelay records requests and serves canned JSON-RPC responses per method.
type fakeRelay struct {
	mu       sync.Mutex
	requests []rpcRequest
	headers  []string

	simNetProfit string
	simRevert    string
	sendFailures int // count of eth_sendBundle calls to reject with 503
	sendTargets  []uint64
	stats        bundleStatsResult
}

func (f *fakeRelay) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req rpcRequest
		_ = json.Unmarshal(body, &req)

		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.headers = append(f.headers, r.Header.Get("X-Flashbots-Signature"))
		f.mu.Unlock()

		var result any
		switch req.Method {
		case "eth_callBundle":
			res := callBundleResult{
				TotalGasUsed: 210_000,
				NetProfit:    f.simNetProfit,
				Results:      []txSimResult{{GasUsed: 210_000, Revert: f.simRevert}},
			}
			result = res
		case "eth_sendBundle":
			var params []sendBundleParams
			raw, _ := json.Marshal(req.Params)
			_ = json.Unmarshal(raw, &params)
			f.mu.Lock()
			if len(params) == 1 {
				f.sendTargets = append(f.sendTargets, uint64(params[0].BlockNumber))
			}
			reject := f.sendFailures > 0
			if reject {
				f.sendFailures--
			}
			f.mu.Unlock()
			if reject {
				http.Error(w, "over capacity", http.StatusServiceUnavailable)
				return
			}
			result = sendBundleResult{BundleHash: "0x" + strings.Repeat("ab", 32)}
		case "flashbots_getBundleStatsV2":
			result = f.stats
		default:
			http.Error(w, "unknown method", http.StatusBadRequest)
			return
		}

		raw, _ := json.Marshal(result)
		_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: raw})
	}
}

func newTestClient(t *testing.T, endpoints ...string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		Endpoints:        endpoints,
		Timeout:          2 * time.Second,
		MaxSubmitRetries: 3,
		RetryBackoff:     time.Millisecond,
	}, testAuthSigner(t), testLogger())
	require.NoError(t, err)
	return c
}

func TestSimulateSignsRequests(t *testing.T) {
	relay := &fakeRelay{simNetProfit: "1000"}
	srv := httptest.NewServer(relay.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	sim, err := c.Simulate(context.Background(), testBundle(t, 100))
	require.NoError(t, err)
	assert.True(t, sim.Success)
	assert.Equal(t, uint64(210_000), sim.GasUsed)
	assert.Equal(t, "1000", sim.NetProfit.String())

	require.Len(t, relay.headers, 1)
	header := relay.headers[0]
	addr, _, found := strings.Cut(header, ":")
	require.True(t, found, "signature header must be <address>:<signature>")
	assert.Equal(t, testAuthSigner(t).Address().Hex(), addr)
}

func TestSimulateRevertFails(t *testing.T) {
	relay := &fakeRelay{simRevert: "UniswapV2: K"}
	srv := httptest.NewServer(relay.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	sim, err := c.Simulate(context.Background(), testBundle(t, 100))
	require.ErrorIs(t, err, domain.ErrSimulationFailed)
	assert.False(t, sim.Success)
	assert.Equal(t, "UniswapV2: K", sim.Revert)
}

func TestSubmitRequiresSimulation(t *testing.T) {
	relay := &fakeRelay{simNetProfit: "1000"}
	srv := httptest.NewServer(relay.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Submit(context.Background(), testBundle(t, 100), nil)
	require.ErrorIs(t, err, domain.ErrSimulationFailed)

	// No eth_sendBundle must have reached the relay.
	for _, req := range relay.requests {
		assert.NotEqual(t, "eth_sendBundle", req.Method)
	}
}

func TestSubmitEnforcesMinProfit(t *testing.T) {
	relay := &fakeRelay{simNetProfit: "500"}
	srv := httptest.NewServer(relay.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	bundle := testBundle(t, 100)
	_, err := c.Simulate(context.Background(), bundle)
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), bundle, big.NewInt(1000))
	require.ErrorIs(t, err, domain.ErrBelowThreshold)

	// Clearance is single-use: the refused submission consumed it, so the
	// bundle must be simulated again before the next attempt.
	_, err = c.Simulate(context.Background(), bundle)
	require.NoError(t, err)
	handle, err := c.Submit(context.Background(), bundle, big.NewInt(500))
	require.NoError(t, err)
	assert.Equal(t, uint64(100), handle.TargetBlock)
}

func TestSubmitReleasesClearance(t *testing.T) {
	relay := &fakeRelay{simNetProfit: "1000"}
	srv := httptest.NewServer(relay.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	for i := 0; i < 50; i++ {
		bundle := testBundle(t, 100+uint64(i))
		_, err := c.Simulate(context.Background(), bundle)
		require.NoError(t, err)
		_, err = c.Submit(context.Background(), bundle, nil)
		require.NoError(t, err)
	}

	c.mu.Lock()
	retained := len(c.cleared)
	c.mu.Unlock()
	assert.Zero(t, retained, "submitted bundles must not accumulate clearance entries")
}

func TestSubmitConsumesClearance(t *testing.T) {
	relay := &fakeRelay{simNetProfit: "1000"}
	srv := httptest.NewServer(relay.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	bundle := testBundle(t, 100)
	_, err := c.Simulate(context.Background(), bundle)
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), bundle, nil)
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), bundle, nil)
	require.ErrorIs(t, err, domain.ErrSimulationFailed)
}

func TestSubmitRetryAdvancesTargetBlock(t *testing.T) {
	relay := &fakeRelay{simNetProfit: "1000", sendFailures: 2}
	srv := httptest.NewServer(relay.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	bundle := testBundle(t, 100)
	_, err := c.Simulate(context.Background(), bundle)
	require.NoError(t, err)

	handle, err := c.Submit(context.Background(), bundle, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(102), handle.TargetBlock, "two retries advance the target by two blocks")
	assert.Equal(t, []uint64{100, 101, 102}, relay.sendTargets)
}

func TestSubmitGivesUpAfterMaxRetries(t *testing.T) {
	relay := &fakeRelay{simNetProfit: "1000", sendFailures: 10}
	srv := httptest.NewServer(relay.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	bundle := testBundle(t, 100)
	_, err := c.Simulate(context.Background(), bundle)
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), bundle, nil)
	require.ErrorIs(t, err, domain.ErrRelayUnavailable)
	assert.Len(t, relay.sendTargets, 3)
}

func TestCallFailsOverAcrossEndpoints(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer dead.Close()

	relay := &fakeRelay{simNetProfit: "1000"}
	live := httptest.NewServer(relay.handler())
	defer live.Close()

	c := newTestClient(t, dead.URL, live.URL)
	sim, err := c.Simulate(context.Background(), testBundle(t, 100))
	require.NoError(t, err)
	assert.True(t, sim.Success)
	assert.Len(t, relay.requests, 1, "second endpoint must have served the call")
}

func TestStatusMapsRelayVerdicts(t *testing.T) {
	cases := []struct {
		name  string
		stats bundleStatsResult
		want  domain.BundleState
	}{
		{"pending", bundleStatsResult{IsSimulated: true}, domain.BundlePending},
		{"included", bundleStatsResult{IncludedBlock: 105}, domain.BundleIncluded},
		{"rejected", bundleStatsResult{Rejected: true, RejectReason: "reverted"}, domain.BundleRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			relay := &fakeRelay{stats: tc.stats}
			srv := httptest.NewServer(relay.handler())
			defer srv.Close()

			c := newTestClient(t, srv.URL)
			status, err := c.Status(context.Background(), domain.SubmissionHandle{TargetBlock: 100})
			require.NoError(t, err)
			assert.Equal(t, tc.want, status.State)
		})
	}
}

func TestEncodeTxsPreservesBundleOrder(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	signer := types.LatestSignerForChainID(big.NewInt(1))

	txs := make([]*types.Transaction, 3)
	for i := range txs {
		tx, err := types.SignNewTx(key, signer, &types.DynamicFeeTx{
			ChainID:   big.NewInt(1),
			Nonce:     uint64(i),
			GasFeeCap: big.NewInt(30_000_000_000),
			GasTipCap: big.NewInt(1_000_000_000),
			Gas:       200_000,
		})
		require.NoError(t, err)
		txs[i] = tx
	}
	bundle := domain.NewBundle(txs, 100)

	got := bundle.Transactions()
	require.Len(t, got, 3)
	for i, tx := range got {
		assert.Equal(t, txs[i].Hash(), tx.Hash(), "transaction %d out of order", i)
	}

	encoded, err := encodeTxs(bundle)
	require.NoError(t, err)
	require.Len(t, encoded, 3)
	for i, tx := range txs {
		raw, err := tx.MarshalBinary()
		require.NoError(t, err)
		assert.Equal(t, raw, []byte(encoded[i]), "encoded blob %d out of order", i)
	}
}

func TestNewClientRequiresEndpoints(t *testing.T) {
	_, err := NewClient(Config{}, testAuthSigner(t), testLogger())
	require.Error(t, err)
	assert.Contains(t, fmt.Sprint(err), "no endpoints")
}
