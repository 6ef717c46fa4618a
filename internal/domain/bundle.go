package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Bundle is an ordered group of signed transactions targeting one block,
// submitted atomically through a private relay. A bundle is built fresh per
// opportunity and never mutated after simulation; if simulation fails the
// opportunity is discarded rather than the bundle patched.
type Bundle struct {
	txs         []*types.Transaction
	targetBlock uint64
}

// NewBundle builds a Bundle from the given transactions in order.
func NewBundle(txs []*types.Transaction, targetBlock uint64) Bundle {
	cp := make([]*types.Transaction, len(txs))
	copy(cp, txs)
	return Bundle{txs: cp, targetBlock: targetBlock}
}

// Transactions returns the bundle's transactions in submission order.
func (b Bundle) Transactions() []*types.Transaction {
	cp := make([]*types.Transaction, len(b.txs))
	copy(cp, b.txs)
	return cp
}

// TargetBlock returns the block number the bundle is aimed at.
func (b Bundle) TargetBlock() uint64 { return b.targetBlock }

// WithTargetBlock returns a copy of the bundle aimed at a later block. Used
// when a submission retry advances the target; the transaction list is shared.
func (b Bundle) WithTargetBlock(block uint64) Bundle {
	return Bundle{txs: b.txs, targetBlock: block}
}

// Len returns the number of transactions in the bundle.
func (b Bundle) Len() int { return len(b.txs) }

// SimulationResult is the relay's verdict on a bundle. Consumed once to gate
// submission; the engine does not persist it.
type SimulationResult struct {
	Success bool   `json:"success"`
	Revert  string `json:"revert,omitempty"`
	GasUsed uint64 `json:"gas_used"`

	// TokenDeltas maps token address to the signed balance change (base
	// units) the bundle produces for the trading wallet.
	TokenDeltas map[common.Address]*big.Int `json:"token_deltas"`

	// NetProfit is the start-token balance delta minus gas, in base units.
	NetProfit *big.Int `json:"net_profit"`
}

// SubmissionHandle identifies a submitted bundle for status polling.
type SubmissionHandle struct {
	BundleHash  common.Hash `json:"bundle_hash"`
	TargetBlock uint64      `json:"target_block"`
}

// BundleState is the relay-side disposition of a submitted bundle.
type BundleState string

const (
	BundlePending  BundleState = "pending"
	BundleIncluded BundleState = "included"
	BundleRejected BundleState = "rejected"
)

// BundleStatus reports where a submitted bundle ended up.
type BundleStatus struct {
	State         BundleState `json:"state"`
	IncludedBlock uint64      `json:"included_block,omitempty"`
	Reason        string      `json:"reason,omitempty"`
}
