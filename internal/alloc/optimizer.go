// Package alloc sizes capital across candidate arbitrage paths. The
// optimizer is a bounded randomized search: an equal-split baseline,
// a fixed number of Monte Carlo perturbation trials, then a local
// hill-climbing refinement. It promises monotonic improvement over the
// baseline, not global optimality.
package alloc

import (
	"log/slog"
	"math/rand"
	"time"

	"github.com/tomredd/flasharb/internal/domain"
)

// Config tunes the optimizer.
type Config struct {
	// Trials is the number of randomized perturbation trials per call.
	Trials int
	// MinAllocation zeroes out assignments smaller than this (start-token
	// units) instead of leaving them as noise.
	MinAllocation float64
	// GasCostPerPath is the fixed per-path cost (start-token units)
	// subtracted from every active path's simulated profit.
	GasCostPerPath float64
	// Seed fixes the random source for reproducible tests; 0 seeds from
	// the clock.
	Seed int64
}

// Optimizer assigns capital to paths. Optimize is a pure function over
// (paths, capital) aside from its internal random source.
type Optimizer struct {
	cfg    Config
	logger *slog.Logger
}

// NewOptimizer creates an Optimizer. Zero Trials defaults to 200.
func NewOptimizer(cfg Config, logger *slog.Logger) *Optimizer {
	if cfg.Trials <= 0 {
		cfg.Trials = 200
	}
	return &Optimizer{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "alloc")),
	}
}

// Optimize returns allocation[i] = capital assigned to paths[i], with
// sum(allocation) <= totalCapital. Allocations below MinAllocation are
// zeroed. If no allocation yields positive aggregate profit the result is
// nil, signalling no viable opportunity.
func (o *Optimizer) Optimize(paths []domain.ArbitragePath, totalCapital float64) []float64 {
	n := len(paths)
	if n == 0 || totalCapital <= 0 {
		return nil
	}

	seed := o.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	baseline := o.equalSplit(paths, totalCapital)
	o.zeroDust(baseline)
	baselineProfit := o.profit(paths, baseline)

	best := append([]float64(nil), baseline...)
	bestProfit := baselineProfit

	// Monte Carlo trials: random weight vectors, each clipped to the
	// path's useful input so capital is not wasted past the optimum.
	for t := 0; t < o.cfg.Trials; t++ {
		cand := o.randomSplit(rng, paths, totalCapital)
		if p := o.profit(paths, cand); p > bestProfit {
			best, bestProfit = cand, p
		}
	}

	best, bestProfit = o.hillClimb(paths, best, bestProfit, totalCapital)

	// Zero the dust and re-check under the same model. The baseline stays
	// the floor: randomized search must never hand back something worse.
	o.zeroDust(best)
	bestProfit = o.profit(paths, best)
	if bestProfit < baselineProfit {
		best, bestProfit = baseline, baselineProfit
	}

	if bestProfit <= 0 {
		o.logger.Debug("no profitable allocation",
			slog.Int("paths", n),
			slog.Float64("capital", totalCapital),
		)
		return nil
	}
	return best
}

// Profit exposes the optimizer's profit model so callers can report the
// expected value of an allocation.
func (o *Optimizer) Profit(paths []domain.ArbitragePath, alloc []float64) float64 {
	return o.profit(paths, alloc)
}

// profit simulates the aggregate net profit of an allocation: exact AMM
// output per path (diminishing returns come from the reserves themselves)
// minus a fixed gas cost for every active path.
func (o *Optimizer) profit(paths []domain.ArbitragePath, alloc []float64) float64 {
	var total float64
	for i, p := range paths {
		if i >= len(alloc) || alloc[i] <= 0 {
			continue
		}
		total += p.SimulateProfit(alloc[i]) - o.cfg.GasCostPerPath
	}
	return total
}

func (o *Optimizer) zeroDust(alloc []float64) {
	for i := range alloc {
		if alloc[i] < o.cfg.MinAllocation {
			alloc[i] = 0
		}
	}
}

func (o *Optimizer) equalSplit(paths []domain.ArbitragePath, capital float64) []float64 {
	alloc := make([]float64, len(paths))
	share := capital / float64(len(paths))
	for i, p := range paths {
		alloc[i] = clip(share, p)
	}
	return alloc
}

func (o *Optimizer) randomSplit(rng *rand.Rand, paths []domain.ArbitragePath, capital float64) []float64 {
	n := len(paths)
	weights := make([]float64, n)
	var sum float64
	for i := 0; i < n; i++ {
		weights[i] = rng.Float64()
		sum += weights[i]
	}
	alloc := make([]float64, n)
	if sum == 0 {
		return alloc
	}
	for i, p := range paths {
		alloc[i] = clip(capital*weights[i]/sum, p)
	}
	return alloc
}

// hillClimb moves a small step of capital between every ordered pair of
// paths while doing so improves profit, shrinking the step when a full pass
// finds nothing.
func (o *Optimizer) hillClimb(paths []domain.ArbitragePath, alloc []float64, profit, capital float64) ([]float64, float64) {
	step := capital * 0.05
	const minStep = 1e-6
	for step > minStep {
		improved := false
		for i := range alloc {
			for j := range alloc {
				if i == j || alloc[i] < step {
					continue
				}
				cand := make([]float64, len(alloc))
				copy(cand, alloc)
				cand[i] -= step
				cand[j] = clip(cand[j]+step, paths[j])
				if p := o.profit(paths, cand); p > profit {
					alloc, profit = cand, p
					improved = true
				}
			}
		}
		if !improved {
			step /= 2
		}
	}
	return alloc, profit
}

// clip caps an assignment at the path's required input; capital past the
// profit optimum only adds slippage.
func clip(amount float64, p domain.ArbitragePath) float64 {
	if p.RequiredInput > 0 && amount > p.RequiredInput {
		return p.RequiredInput
	}
	if amount < 0 {
		return 0
	}
	return amount
}
