package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PoolUpdate is one reserve snapshot pushed by an external pool adapter.
// Delivery is at-least-once; consumers deduplicate by (pool, block number).
type PoolUpdate struct {
	Address     common.Address `json:"address"`
	Venue       string         `json:"venue"`
	Token0      Token          `json:"token0"`
	Token1      Token          `json:"token1"`
	Reserve0    *big.Int       `json:"reserve0"`
	Reserve1    *big.Int       `json:"reserve1"`
	FeeBps      int            `json:"fee_bps"`
	BlockNumber uint64         `json:"block_number"`
	ReceivedAt  time.Time      `json:"received_at"`
}

// PoolRef is a point-in-time view of one directed pool edge as captured by a
// graph snapshot. Reserves are normalized to human units so the discovery and
// allocation layers can run plain float math; the transaction builder converts
// back to base units.
type PoolRef struct {
	Address    common.Address `json:"address"`
	Venue      string         `json:"venue"`
	TokenIn    Token          `json:"token_in"`
	TokenOut   Token          `json:"token_out"`
	ReserveIn  float64        `json:"reserve_in"`
	ReserveOut float64        `json:"reserve_out"`
	FeeBps     int            `json:"fee_bps"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Rate returns the marginal output per unit input after fees, for an
// infinitesimally small trade.
func (p PoolRef) Rate() float64 {
	if p.ReserveIn <= 0 {
		return 0
	}
	return p.ReserveOut / p.ReserveIn * p.feeFactor()
}

// AmountOut applies the constant-product formula with fees:
//
//	out = in' * Rout / (Rin + in')   where in' = in * (1 - fee)
func (p PoolRef) AmountOut(amountIn float64) float64 {
	if amountIn <= 0 || p.ReserveIn <= 0 || p.ReserveOut <= 0 {
		return 0
	}
	effIn := amountIn * p.feeFactor()
	return effIn * p.ReserveOut / (p.ReserveIn + effIn)
}

func (p PoolRef) feeFactor() float64 {
	return 1 - float64(p.FeeBps)/10_000
}
