package relay

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// rpcRequest is the JSON-RPC 2.0 envelope the relay speaks.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// callBundleParams is the eth_callBundle argument object.
type callBundleParams struct {
	Txs              []hexutil.Bytes `json:"txs"`
	BlockNumber      hexutil.Uint64  `json:"blockNumber"`
	StateBlockNumber string          `json:"stateBlockNumber"`
}

// callBundleResult is the relay's simulation verdict. Balance changes are
// reported per token for the bundle's signer wallet.
type callBundleResult struct {
	BundleHash       common0x          `json:"bundleHash"`
	StateBlockNumber hexutil.Uint64    `json:"stateBlockNumber"`
	TotalGasUsed     uint64            `json:"totalGasUsed"`
	CoinbaseDiff     string            `json:"coinbaseDiff"`
	BalanceChanges   map[string]string `json:"balanceChanges"`
	NetProfit        string            `json:"netProfit"`
	Results          []txSimResult     `json:"results"`
}

type txSimResult struct {
	TxHash  common0x `json:"txHash"`
	GasUsed uint64   `json:"gasUsed"`
	Error   string   `json:"error,omitempty"`
	Revert  string   `json:"revert,omitempty"`
}

// sendBundleParams is the eth_sendBundle argument object.
type sendBundleParams struct {
	Txs         []hexutil.Bytes `json:"txs"`
	BlockNumber hexutil.Uint64  `json:"blockNumber"`
}

type sendBundleResult struct {
	BundleHash common0x `json:"bundleHash"`
}

// bundleStatsParams is the flashbots_getBundleStatsV2 argument object.
type bundleStatsParams struct {
	BundleHash  common0x       `json:"bundleHash"`
	BlockNumber hexutil.Uint64 `json:"blockNumber"`
}

type bundleStatsResult struct {
	IsSimulated    bool   `json:"isSimulated"`
	IsHighPriority bool   `json:"isHighPriority"`
	SimulatedAt    string `json:"simulatedAt,omitempty"`
	ReceivedAt     string `json:"receivedAt,omitempty"`
	SealedAt       string `json:"sealedByBuildersAt,omitempty"`
	IncludedBlock  uint64 `json:"includedBlock,omitempty"`
	Rejected       bool   `json:"rejected,omitempty"`
	RejectReason   string `json:"rejectReason,omitempty"`
}

// common0x is a 0x-prefixed 32-byte hash rendered as a plain string; kept
// as string on the wire to stay tolerant of relay-side formatting.
type common0x = string
