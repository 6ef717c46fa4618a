// Package txbuild turns sized arbitrage paths into signed transactions.
// Each hop becomes one router swap call; the lead transaction of a bundle
// carries the priority fee and the trailing ones ride bundle atomicity
// with a zero tip.
package txbuild

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/tomredd/flasharb/internal/crypto"
	"github.com/tomredd/flasharb/internal/domain"
)

// routerABI is the venue-router surface the builder needs. UniswapV2-style
// routers across venues share this signature.
const routerABI = `[
	{
		"name": "swapExactTokensForTokens",
		"type": "function",
		"inputs": [
			{"name": "amountIn", "type": "uint256"},
			{"name": "amountOutMin", "type": "uint256"},
			{"name": "path", "type": "address[]"},
			{"name": "to", "type": "address"},
			{"name": "deadline", "type": "uint256"}
		],
		"outputs": [{"name": "amounts", "type": "uint256[]"}]
	}
]`

var routerParsedABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		panic(fmt.Sprintf("txbuild: parsing router ABI: %v", err))
	}
	return parsed
}()

// Call is one unsigned contract invocation. Calls are either signed into
// individual bundle transactions or encoded into a flash-loan wrapper.
type Call struct {
	To    common.Address
	Value *big.Int
	Data  []byte
	Gas   uint64
}

// GasConfig drives the bundle fee strategy.
type GasConfig struct {
	// PriceMultiplier scales the current base fee into the fee cap,
	// absorbing base-fee drift between build and inclusion.
	PriceMultiplier float64
	// MaxPriorityFeeWei bounds the lead transaction's tip.
	MaxPriorityFeeWei *big.Int
	// SwapGasLimit is the per-swap gas allowance.
	SwapGasLimit uint64
	// MaxSlippageBps sets each hop's minimum-output guard below the
	// simulated output.
	MaxSlippageBps int
}

// Builder constructs and signs swap transactions for arbitrage paths.
type Builder struct {
	signer  *crypto.TxSigner
	routers map[string]common.Address // venue -> router
	gas     GasConfig
}

// NewBuilder creates a Builder. routers maps venue identifiers to their
// router contract addresses.
func NewBuilder(signer *crypto.TxSigner, routers map[string]common.Address, gas GasConfig) *Builder {
	if gas.PriceMultiplier <= 0 {
		gas.PriceMultiplier = 1.2
	}
	if gas.SwapGasLimit == 0 {
		gas.SwapGasLimit = 200_000
	}
	if gas.MaxPriorityFeeWei == nil {
		gas.MaxPriorityFeeWei = big.NewInt(2_000_000_000) // 2 gwei
	}
	return &Builder{signer: signer, routers: routers, gas: gas}
}

// Wallet returns the trading wallet address swaps execute from.
func (b *Builder) Wallet() common.Address { return b.signer.Address() }

// SwapCalls builds one router call per hop of the path for the given input,
// chaining each hop's simulated output into the next hop's input with the
// configured slippage guard.
func (b *Builder) SwapCalls(path domain.ArbitragePath, amountIn float64, deadline time.Time) ([]Call, error) {
	if amountIn <= 0 {
		return nil, fmt.Errorf("txbuild: non-positive input %f", amountIn)
	}

	calls := make([]Call, 0, len(path.Pools))
	amount := amountIn
	for i, pool := range path.Pools {
		router, ok := b.routers[pool.Venue]
		if !ok {
			return nil, fmt.Errorf("txbuild: no router configured for venue %q", pool.Venue)
		}

		out := pool.AmountOut(amount)
		if out <= 0 {
			return nil, fmt.Errorf("txbuild: hop %d yields no output", i)
		}
		minOut := out * (1 - float64(b.gas.MaxSlippageBps)/10_000)

		data, err := routerParsedABI.Pack("swapExactTokensForTokens",
			pool.TokenIn.ToWei(amount),
			pool.TokenOut.ToWei(minOut),
			[]common.Address{pool.TokenIn.Address, pool.TokenOut.Address},
			b.signer.Address(),
			big.NewInt(deadline.Unix()),
		)
		if err != nil {
			return nil, fmt.Errorf("txbuild: pack hop %d: %w", i, err)
		}

		calls = append(calls, Call{
			To:    router,
			Value: new(big.Int),
			Data:  data,
			Gas:   b.gas.SwapGasLimit,
		})
		amount = out
	}
	return calls, nil
}

// SignCalls signs each call as its own transaction with sequential nonces.
// The first transaction carries the priority fee; the rest ride the bundle
// with a zero tip.
func (b *Builder) SignCalls(calls []Call, startNonce uint64, baseFee *big.Int) ([]*types.Transaction, error) {
	txs := make([]*types.Transaction, 0, len(calls))
	for i, call := range calls {
		feeCap, tipCap := b.Fees(baseFee, i == 0)
		to := call.To
		tx := types.NewTx(&types.DynamicFeeTx{
			ChainID:   b.signer.ChainID(),
			Nonce:     startNonce + uint64(i),
			GasTipCap: tipCap,
			GasFeeCap: feeCap,
			Gas:       call.Gas,
			To:        &to,
			Value:     call.Value,
			Data:      call.Data,
		})
		signed, err := b.signer.SignTx(tx)
		if err != nil {
			return nil, fmt.Errorf("txbuild: sign tx %d: %w", i, err)
		}
		txs = append(txs, signed)
	}
	return txs, nil
}

// Fees computes (feeCap, tipCap) for one bundle transaction: the fee cap is
// the base fee scaled by the configured multiplier plus the tip, and the tip
// is the bounded priority premium on the lead transaction only.
func (b *Builder) Fees(baseFee *big.Int, lead bool) (feeCap, tipCap *big.Int) {
	tipCap = new(big.Int)
	if lead {
		tipCap.Set(b.gas.MaxPriorityFeeWei)
	}
	scaled, _ := new(big.Float).Mul(
		new(big.Float).SetInt(baseFee),
		big.NewFloat(b.gas.PriceMultiplier),
	).Int(nil)
	feeCap = scaled.Add(scaled, tipCap)
	return feeCap, tipCap
}
