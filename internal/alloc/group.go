package alloc

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/tomredd/flasharb/internal/domain"
)

// GroupPolicy decides which paths are related enough to be sized together
// against a shared capital pot. Kept pluggable: path-similarity grouping is
// a judgment call, not a fixed rule.
type GroupPolicy interface {
	Group(paths []domain.ArbitragePath) [][]domain.ArbitragePath
}

// StartTokenPolicy groups paths by their shared start token. This is the
// default: paths starting from the same token compete for the same wallet
// balance, so they must be co-allocated.
type StartTokenPolicy struct{}

// Group partitions paths by start-token address, preserving order within
// each group.
func (StartTokenPolicy) Group(paths []domain.ArbitragePath) [][]domain.ArbitragePath {
	byStart := make(map[common.Address][]domain.ArbitragePath)
	var order []common.Address
	for _, p := range paths {
		addr := p.Start().Address
		if _, ok := byStart[addr]; !ok {
			order = append(order, addr)
		}
		byStart[addr] = append(byStart[addr], p)
	}
	out := make([][]domain.ArbitragePath, 0, len(order))
	for _, addr := range order {
		out = append(out, byStart[addr])
	}
	return out
}

// BuildOpportunities groups paths with the given policy, runs the optimizer
// on every group, and returns one MultiPathOpportunity per non-empty group.
// Groups where nothing is worth funding come back with nil Allocations so
// callers can record the rejection instead of silently losing the group.
// capitalFor supplies the capital available for a given start token.
func (o *Optimizer) BuildOpportunities(
	paths []domain.ArbitragePath,
	policy GroupPolicy,
	capitalFor func(domain.Token) float64,
) []domain.MultiPathOpportunity {
	if policy == nil {
		policy = StartTokenPolicy{}
	}

	var out []domain.MultiPathOpportunity
	for _, group := range policy.Group(paths) {
		if len(group) == 0 {
			continue
		}
		start := group[0].Start()
		allocation := o.Optimize(group, capitalFor(start))

		opp := domain.MultiPathOpportunity{
			ID:           uuid.New().String(),
			StartToken:   start,
			Paths:        group,
			Allocations:  allocation,
			DiscoveredAt: time.Now().UTC(),
		}
		if allocation != nil {
			opp.ExpectedProfit = o.profit(group, allocation)
			opp.Confidence = groupConfidence(group, allocation)
		}
		out = append(out, opp)
	}
	return out
}

// groupConfidence is the allocation-weighted mean of per-path confidence.
func groupConfidence(paths []domain.ArbitragePath, alloc []float64) float64 {
	var weighted, total float64
	for i, p := range paths {
		if i >= len(alloc) || alloc[i] <= 0 {
			continue
		}
		weighted += p.Confidence * alloc[i]
		total += alloc[i]
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}
