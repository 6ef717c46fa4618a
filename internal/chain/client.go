// Package chain wraps the execution-chain RPC surface the engine needs:
// head tracking for inclusion windows, base fees for the gas strategy, and
// wallet balances for capital checks.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

const erc20ABI = `[
	{
		"name": "balanceOf",
		"type": "function",
		"stateMutability": "view",
		"inputs": [{"name": "owner", "type": "address"}],
		"outputs": [{"name": "", "type": "uint256"}]
	}
]`

var erc20ParsedABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		panic(fmt.Sprintf("chain: parsing erc20 ABI: %v", err))
	}
	return parsed
}()

// Client is a thin wrapper over go-ethereum's ethclient.
type Client struct {
	ec     *ethclient.Client
	logger *slog.Logger
}

// Dial connects to the chain RPC endpoint.
func Dial(ctx context.Context, rpcURL string, logger *slog.Logger) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	return &Client{
		ec:     ec,
		logger: logger.With(slog.String("component", "chain")),
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() { c.ec.Close() }

// BlockNumber returns the current head block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.ec.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain: block number: %w", err)
	}
	return n, nil
}

// BaseFee returns the latest header's base fee.
func (c *Client) BaseFee(ctx context.Context) (*big.Int, error) {
	header, err := c.ec.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: latest header: %w", err)
	}
	if header.BaseFee == nil {
		return nil, fmt.Errorf("chain: chain has no base fee (pre-EIP-1559?)")
	}
	return new(big.Int).Set(header.BaseFee), nil
}

// Nonce returns the pending nonce for the given account.
func (c *Client) Nonce(ctx context.Context, account common.Address) (uint64, error) {
	n, err := c.ec.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("chain: pending nonce %s: %w", account.Hex(), err)
	}
	return n, nil
}

// TokenBalance returns the wallet's balance of an ERC-20 token in base units.
func (c *Client) TokenBalance(ctx context.Context, token, wallet common.Address) (*big.Int, error) {
	data, err := erc20ParsedABI.Pack("balanceOf", wallet)
	if err != nil {
		return nil, fmt.Errorf("chain: pack balanceOf: %w", err)
	}
	raw, err := c.ec.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: balanceOf %s: %w", token.Hex(), err)
	}
	out, err := erc20ParsedABI.Unpack("balanceOf", raw)
	if err != nil || len(out) != 1 {
		return nil, fmt.Errorf("chain: decode balanceOf: %w", err)
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: unexpected balanceOf type %T", out[0])
	}
	return balance, nil
}
