// Package domain defines the core types shared by the arbitrage engine:
// tokens, pools, paths, opportunities, bundles, and the store/sink
// interfaces the infrastructure layers implement.
package domain

import (
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Token identifies an ERC-20 token on the target chain. Identity only;
// tokens are immutable once observed.
type Token struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

// ToWei converts a human-unit amount into the token's base units, rounding
// down. Precision loss past the token's decimals is acceptable here: amounts
// come from the float-domain optimizer and are always re-checked by bundle
// simulation before anything is submitted.
func (t Token) ToWei(amount float64) *big.Int {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return new(big.Int)
	}
	scaled := new(big.Float).Mul(
		big.NewFloat(amount),
		new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(t.Decimals)), nil)),
	)
	wei, _ := scaled.Int(nil)
	return wei
}

// FromWei converts base units into a human-unit float.
func (t Token) FromWei(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f := new(big.Float).SetInt(wei)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(t.Decimals)), nil))
	out, _ := new(big.Float).Quo(f, scale).Float64()
	return out
}
