package domain

import "time"

// ArbitragePath is one candidate arbitrage cycle: an ordered token sequence
// that starts and ends at the same token, with the pools traversed at each
// hop. Immutable once produced by discovery; consumed by the optimizer.
type ArbitragePath struct {
	// Tokens has len(Pools)+1 entries; Tokens[0] == Tokens[len-1].
	Tokens []Token `json:"tokens"`
	// Pools[i] converts Tokens[i] into Tokens[i+1].
	Pools []PoolRef `json:"pools"`

	// Yield is the multiplicative return for an infinitesimal input
	// (product of per-hop marginal rates). Discovery never returns
	// paths with Yield <= 1.
	Yield float64 `json:"yield"`

	// RequiredInput is the input amount (start-token units) that maximizes
	// profit against the snapshot reserves.
	RequiredInput float64 `json:"required_input"`

	// Confidence in [0,1], decaying with the age of the stalest pool.
	Confidence float64 `json:"confidence"`

	DiscoveredAt time.Time `json:"discovered_at"`
}

// Start returns the path's start (and end) token.
func (p ArbitragePath) Start() Token {
	if len(p.Tokens) == 0 {
		return Token{}
	}
	return p.Tokens[0]
}

// Hops returns the number of pool traversals in the cycle.
func (p ArbitragePath) Hops() int { return len(p.Pools) }

// SimulateOut runs amountIn through every hop against the snapshot reserves
// and returns the final output in start-token units.
func (p ArbitragePath) SimulateOut(amountIn float64) float64 {
	amount := amountIn
	for _, pool := range p.Pools {
		amount = pool.AmountOut(amount)
		if amount <= 0 {
			return 0
		}
	}
	return amount
}

// SimulateProfit returns SimulateOut(amountIn) - amountIn.
func (p ArbitragePath) SimulateProfit(amountIn float64) float64 {
	if amountIn <= 0 {
		return 0
	}
	return p.SimulateOut(amountIn) - amountIn
}

// StalestPool returns the oldest update time across the path's pools.
func (p ArbitragePath) StalestPool() time.Time {
	var oldest time.Time
	for i, pool := range p.Pools {
		if i == 0 || pool.UpdatedAt.Before(oldest) {
			oldest = pool.UpdatedAt
		}
	}
	return oldest
}
