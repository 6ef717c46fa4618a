package domain

import "time"

// OpportunityState is the per-opportunity execution lifecycle. Transitions
// are strictly forward; Included, Failed, and Expired are terminal.
type OpportunityState string

const (
	StateDiscovered  OpportunityState = "discovered"
	StateAllocated   OpportunityState = "allocated"
	StateBundleBuilt OpportunityState = "bundle_built"
	StateSimulated   OpportunityState = "simulated"
	StateSubmitted   OpportunityState = "submitted"
	StateIncluded    OpportunityState = "included"
	StateFailed      OpportunityState = "failed"
	StateExpired     OpportunityState = "expired"
)

// Terminal reports whether the state ends the opportunity's lifecycle.
func (s OpportunityState) Terminal() bool {
	return s == StateIncluded || s == StateFailed || s == StateExpired
}

// MultiPathOpportunity groups paths that share a start token together with
// the capital assigned to each. Produced by the optimizer, consumed by the
// orchestrator, and discarded once a terminal state is reached.
type MultiPathOpportunity struct {
	ID         string  `json:"id"`
	StartToken Token   `json:"start_token"`
	// Allocations[i] is the capital (start-token units) assigned to
	// Paths[i]. sum(Allocations) <= the capital offered to the optimizer.
	Paths       []ArbitragePath `json:"paths"`
	Allocations []float64       `json:"allocations"`

	// ExpectedProfit is the simulated aggregate profit (start-token units)
	// after gas, at the moment of allocation.
	ExpectedProfit float64 `json:"expected_profit"`
	Confidence     float64 `json:"confidence"`

	DiscoveredAt time.Time `json:"discovered_at"`
}

// TotalAllocated returns the sum of per-path allocations.
func (o MultiPathOpportunity) TotalAllocated() float64 {
	var sum float64
	for _, a := range o.Allocations {
		sum += a
	}
	return sum
}

// ActivePaths returns the paths that received a non-zero allocation, paired
// with their amounts, preserving order.
func (o MultiPathOpportunity) ActivePaths() ([]ArbitragePath, []float64) {
	paths := make([]ArbitragePath, 0, len(o.Paths))
	amounts := make([]float64, 0, len(o.Paths))
	for i, p := range o.Paths {
		if i < len(o.Allocations) && o.Allocations[i] > 0 {
			paths = append(paths, p)
			amounts = append(amounts, o.Allocations[i])
		}
	}
	return paths, amounts
}
