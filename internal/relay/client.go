// Package relay is the private-relay bundle protocol client. Transactions
// are never broadcast to the public network individually: bundles are
// simulated and submitted over authenticated JSON-RPC, and atomicity is the
// relay's contract.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/tomredd/flasharb/internal/crypto"
	"github.com/tomredd/flasharb/internal/domain"
)

const signatureHeader = "X-Flashbots-Signature"

// Config tunes the relay client.
type Config struct {
	// Endpoints lists relay URLs in failover order.
	Endpoints []string
	// Timeout bounds each simulation or submission call.
	Timeout time.Duration
	// MaxSubmitRetries bounds eth_sendBundle retries. Every retry advances
	// the target block by one: the previous target has already passed or
	// is about to.
	MaxSubmitRetries int
	// RetryBackoff is the initial backoff between submit retries; it
	// doubles per attempt.
	RetryBackoff time.Duration
}

// Client simulates and submits bundles against one or more private relays.
type Client struct {
	cfg        Config
	httpClient *http.Client
	auth       *crypto.AuthSigner
	logger     *slog.Logger
	reqID      atomic.Int64

	// cleared records bundles whose simulation succeeded, keyed by the
	// transaction-list digest. Submit refuses anything not in this set:
	// simulate-before-submit is a protocol precondition, not a hint.
	mu      sync.Mutex
	cleared map[common.Hash]domain.SimulationResult
}

// NewClient creates a relay client authenticated with the given signer.
func NewClient(cfg Config, auth *crypto.AuthSigner, logger *slog.Logger) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("relay: no endpoints configured")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxSubmitRetries <= 0 {
		cfg.MaxSubmitRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 250 * time.Millisecond
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		auth:       auth,
		logger:     logger.With(slog.String("component", "relay")),
		cleared:    make(map[common.Hash]domain.SimulationResult),
	}, nil
}

// Simulate runs the bundle through eth_callBundle. On success the bundle is
// marked cleared for submission. A failed simulation returns
// domain.ErrSimulationFailed wrapped with the revert reason; the caller must
// discard the opportunity rather than retry the same bundle.
func (c *Client) Simulate(ctx context.Context, bundle domain.Bundle) (domain.SimulationResult, error) {
	txs, err := encodeTxs(bundle)
	if err != nil {
		return domain.SimulationResult{}, err
	}

	params := callBundleParams{
		Txs:              txs,
		BlockNumber:      hexutil.Uint64(bundle.TargetBlock()),
		StateBlockNumber: "latest",
	}
	var result callBundleResult
	if err := c.call(ctx, "eth_callBundle", params, &result); err != nil {
		return domain.SimulationResult{}, err
	}

	sim := domain.SimulationResult{
		Success:     true,
		GasUsed:     result.TotalGasUsed,
		TokenDeltas: make(map[common.Address]*big.Int, len(result.BalanceChanges)),
	}
	for _, r := range result.Results {
		if r.Error != "" || r.Revert != "" {
			sim.Success = false
			sim.Revert = r.Revert
			if sim.Revert == "" {
				sim.Revert = r.Error
			}
			break
		}
	}
	for addr, delta := range result.BalanceChanges {
		v, ok := new(big.Int).SetString(delta, 10)
		if !ok {
			continue
		}
		sim.TokenDeltas[common.HexToAddress(addr)] = v
	}
	if result.NetProfit != "" {
		if v, ok := new(big.Int).SetString(result.NetProfit, 10); ok {
			sim.NetProfit = v
		}
	}

	if !sim.Success {
		return sim, fmt.Errorf("%w: %s", domain.ErrSimulationFailed, sim.Revert)
	}

	c.mu.Lock()
	c.cleared[bundleDigest(bundle)] = sim
	c.mu.Unlock()
	return sim, nil
}

// Submit sends a cleared bundle via eth_sendBundle. minProfit is the
// caller's threshold in start-token base units: submission is refused unless
// the recorded simulation succeeded with at least that net profit. Transient
// failures are retried with backoff, advancing the target block each time.
func (c *Client) Submit(ctx context.Context, bundle domain.Bundle, minProfit *big.Int) (domain.SubmissionHandle, error) {
	// Clearance is single-use: submission consumes it whatever the outcome.
	// Failed bundles are discarded by the caller, never resubmitted, and a
	// long-running engine must not accumulate one entry per bundle ever
	// simulated.
	digest := bundleDigest(bundle)
	c.mu.Lock()
	sim, ok := c.cleared[digest]
	delete(c.cleared, digest)
	c.mu.Unlock()
	if !ok {
		return domain.SubmissionHandle{}, fmt.Errorf("relay: %w: bundle was never simulated", domain.ErrSimulationFailed)
	}
	if minProfit != nil && (sim.NetProfit == nil || sim.NetProfit.Cmp(minProfit) < 0) {
		return domain.SubmissionHandle{}, fmt.Errorf("relay: %w", domain.ErrBelowThreshold)
	}

	txs, err := encodeTxs(bundle)
	if err != nil {
		return domain.SubmissionHandle{}, err
	}

	attemptBundle := bundle
	backoff := c.cfg.RetryBackoff
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxSubmitRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return domain.SubmissionHandle{}, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			attemptBundle = attemptBundle.WithTargetBlock(attemptBundle.TargetBlock() + 1)
		}

		var result sendBundleResult
		err := c.call(ctx, "eth_sendBundle", sendBundleParams{
			Txs:         txs,
			BlockNumber: hexutil.Uint64(attemptBundle.TargetBlock()),
		}, &result)
		if err == nil {
			return domain.SubmissionHandle{
				BundleHash:  common.HexToHash(result.BundleHash),
				TargetBlock: attemptBundle.TargetBlock(),
			}, nil
		}
		lastErr = err
		if !errors.Is(err, domain.ErrRelayUnavailable) {
			break // protocol-level rejection, retrying won't help
		}
		c.logger.Warn("bundle submit retry",
			slog.Int("attempt", attempt+1),
			slog.Uint64("target_block", attemptBundle.TargetBlock()),
			slog.String("error", err.Error()),
		)
	}
	return domain.SubmissionHandle{}, fmt.Errorf("relay: submit: %w", lastErr)
}

// Status reports the relay-side disposition of a submitted bundle.
func (c *Client) Status(ctx context.Context, handle domain.SubmissionHandle) (domain.BundleStatus, error) {
	var result bundleStatsResult
	err := c.call(ctx, "flashbots_getBundleStatsV2", bundleStatsParams{
		BundleHash:  handle.BundleHash.Hex(),
		BlockNumber: hexutil.Uint64(handle.TargetBlock),
	}, &result)
	if err != nil {
		return domain.BundleStatus{}, err
	}

	switch {
	case result.IncludedBlock > 0:
		return domain.BundleStatus{State: domain.BundleIncluded, IncludedBlock: result.IncludedBlock}, nil
	case result.Rejected:
		return domain.BundleStatus{State: domain.BundleRejected, Reason: result.RejectReason}, nil
	default:
		return domain.BundleStatus{State: domain.BundlePending}, nil
	}
}

// call performs one signed JSON-RPC call, failing over across endpoints on
// transport errors. Transport and 5xx failures surface as
// domain.ErrRelayUnavailable so callers can distinguish transient trouble
// from protocol rejections.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.reqID.Add(1),
		Method:  method,
		Params:  []any{params},
	})
	if err != nil {
		return fmt.Errorf("relay: marshal %s: %w", method, err)
	}

	signature, err := c.auth.SignRequest(body)
	if err != nil {
		return fmt.Errorf("relay: %w: %v", domain.ErrSigningKeyMissing, err)
	}

	var lastErr error
	for _, endpoint := range c.cfg.Endpoints {
		resp, err := c.post(ctx, endpoint, body, signature)
		if err != nil {
			lastErr = err
			c.logger.Warn("relay endpoint failed",
				slog.String("endpoint", endpoint),
				slog.String("method", method),
				slog.String("error", err.Error()),
			)
			continue // failover
		}
		if resp.Error != nil {
			return fmt.Errorf("relay: %s: rpc error %d: %s", method, resp.Error.Code, resp.Error.Message)
		}
		if out != nil {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return fmt.Errorf("relay: %s: decode result: %w", method, err)
			}
		}
		return nil
	}
	return lastErr
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte, signature string) (*rpcResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("relay: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signatureHeader, signature)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport errors (refused, reset, timeout) are all transient
		// from the caller's point of view.
		return nil, fmt.Errorf("%w: %v", domain.ErrRelayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", domain.ErrRelayUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("relay: status %d: %s", resp.StatusCode, string(data))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("relay: decode response: %w", err)
	}
	return &rpcResp, nil
}

// encodeTxs RLP-encodes the bundle's transactions as 0x-prefixed blobs.
func encodeTxs(bundle domain.Bundle) ([]hexutil.Bytes, error) {
	txs := bundle.Transactions()
	out := make([]hexutil.Bytes, 0, len(txs))
	for i, tx := range txs {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("relay: encode tx %d: %w", i, err)
		}
		out = append(out, raw)
	}
	return out, nil
}

// bundleDigest identifies a bundle by its ordered transaction hashes. The
// target block is excluded: submit retries advance the block without
// re-simulating.
func bundleDigest(bundle domain.Bundle) common.Hash {
	var buf bytes.Buffer
	for _, tx := range bundle.Transactions() {
		h := tx.Hash()
		buf.Write(h[:])
	}
	return common.BytesToHash(ethcrypto.Keccak256(buf.Bytes()))
}
