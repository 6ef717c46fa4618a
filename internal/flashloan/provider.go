// Package flashloan wraps arbitrage calls in a single atomic borrow/execute/
// repay transaction for opportunities larger than the wallet's balance.
package flashloan

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/tomredd/flasharb/internal/crypto"
	"github.com/tomredd/flasharb/internal/domain"
	"github.com/tomredd/flasharb/internal/txbuild"
)

// Provider quotes fees for and wraps transactions in a flash loan.
type Provider interface {
	// QuoteFee returns the loan fee (base units) for borrowing amount of
	// token.
	QuoteFee(token domain.Token, amount *big.Int) *big.Int

	// Wrap produces a single signed transaction whose on-chain execution
	// borrows amount of token, runs the given calls, and repays the loan
	// plus fee within one atomic call. feeCap/tipCap follow the bundle's
	// lead-transaction gas strategy.
	Wrap(calls []txbuild.Call, token domain.Token, amount *big.Int, nonce uint64, feeCap, tipCap *big.Int) (*types.Transaction, error)
}

// executorABI is the arb-executor contract entry point. The contract takes
// the loan from the lending pool, replays the encoded calls, and repays
// amount + premium before returning.
const executorABI = `[
	{
		"name": "executeFlashArb",
		"type": "function",
		"inputs": [
			{"name": "asset", "type": "address"},
			{"name": "amount", "type": "uint256"},
			{
				"name": "calls",
				"type": "tuple[]",
				"components": [
					{"name": "target", "type": "address"},
					{"name": "value", "type": "uint256"},
					{"name": "data", "type": "bytes"}
				]
			}
		],
		"outputs": []
	}
]`

var executorParsedABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(executorABI))
	if err != nil {
		panic(fmt.Sprintf("flashloan: parsing executor ABI: %v", err))
	}
	return parsed
}()

// wrappedCall mirrors the executor ABI tuple.
type wrappedCall struct {
	Target common.Address `abi:"target"`
	Value  *big.Int       `abi:"value"`
	Data   []byte         `abi:"data"`
}

// AaveV3 borrows from an Aave-V3-style lending pool through a dedicated
// executor contract. The pool charges a flat premium in basis points.
type AaveV3 struct {
	executor   common.Address
	signer     *crypto.TxSigner
	premiumBps int
	gasLimit   uint64
}

// NewAaveV3 creates a provider calling the executor contract at addr.
// premiumBps is the pool's flash-loan premium (Aave V3 mainnet: 5 bps).
func NewAaveV3(executor common.Address, signer *crypto.TxSigner, premiumBps int) *AaveV3 {
	if premiumBps <= 0 {
		premiumBps = 5
	}
	return &AaveV3{
		executor:   executor,
		signer:     signer,
		premiumBps: premiumBps,
		gasLimit:   400_000, // loan overhead on top of the inner calls
	}
}

// QuoteFee returns amount * premiumBps / 10000, rounded up so repayment
// never comes in short.
func (a *AaveV3) QuoteFee(_ domain.Token, amount *big.Int) *big.Int {
	fee := new(big.Int).Mul(amount, big.NewInt(int64(a.premiumBps)))
	fee.Add(fee, big.NewInt(9_999))
	return fee.Div(fee, big.NewInt(10_000))
}

// Wrap encodes the calls into one executeFlashArb transaction signed with
// the trading key.
func (a *AaveV3) Wrap(calls []txbuild.Call, token domain.Token, amount *big.Int, nonce uint64, feeCap, tipCap *big.Int) (*types.Transaction, error) {
	if len(calls) == 0 {
		return nil, fmt.Errorf("flashloan: no calls to wrap")
	}

	wrapped := make([]wrappedCall, len(calls))
	var innerGas uint64
	for i, c := range calls {
		value := c.Value
		if value == nil {
			value = new(big.Int)
		}
		wrapped[i] = wrappedCall{Target: c.To, Value: value, Data: c.Data}
		innerGas += c.Gas
	}

	data, err := executorParsedABI.Pack("executeFlashArb", token.Address, amount, wrapped)
	if err != nil {
		return nil, fmt.Errorf("flashloan: pack executeFlashArb: %w", err)
	}

	to := a.executor
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   a.signer.ChainID(),
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       a.gasLimit + innerGas,
		To:        &to,
		Value:     new(big.Int),
		Data:      data,
	})
	signed, err := a.signer.SignTx(tx)
	if err != nil {
		return nil, fmt.Errorf("flashloan: sign wrapper: %w", err)
	}
	return signed, nil
}
