// Package pathfind discovers candidate arbitrage cycles in a graph
// snapshot. The search is a bounded-depth Bellman-Ford-style relaxation:
// weights are arbitrary signed reals and true negative cycles are the
// signal of interest, so each relaxation tracks the actual predecessor
// path, letting a completed negative cycle be materialized rather than
// merely detected.
package pathfind

import (
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tomredd/flasharb/internal/domain"
	"github.com/tomredd/flasharb/internal/graph"
)

const (
	// weightEps guards against float noise being reported as profit: a
	// cycle must beat this margin of negative weight to count.
	weightEps = 1e-9

	// tieEps is the relative profit band within which two cycles are
	// considered equally good and the shorter one wins.
	tieEps = 0.01

	// confidenceHalfLife controls how fast confidence decays with the age
	// of a path's stalest pool.
	confidenceHalfLife = 20 * time.Second
)

// Config tunes the discovery engine.
type Config struct {
	// MaxImpactBps caps the share of the shallowest pool's input-side
	// reserve a path's required input may consume. Paths needing more are
	// discarded, not flagged.
	MaxImpactBps int
}

// Finder runs cycle discovery against graph snapshots.
type Finder struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewFinder creates a Finder. A zero MaxImpactBps defaults to 100 (1%).
func NewFinder(cfg Config, logger *slog.Logger) *Finder {
	if cfg.MaxImpactBps <= 0 {
		cfg.MaxImpactBps = 100
	}
	return &Finder{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "pathfind")),
		now:    time.Now,
	}
}

// label is the best known simple path from the start token to one node.
type label struct {
	dist   float64
	tokens []domain.Token
	pools  []domain.PoolRef
}

// FindCycles returns up to maxResults profitable cycles from start, each at
// most maxHops pools long. Every returned path begins and ends at start and
// has multiplicative yield > 1. The result is recomputed fresh from the
// snapshot on every call.
func (f *Finder) FindCycles(snap *graph.Snapshot, start common.Address, maxHops, maxResults int) []domain.ArbitragePath {
	startTok, ok := snap.Token(start)
	if !ok || maxHops < 2 || maxResults <= 0 {
		return nil
	}

	cur := map[common.Address]label{
		start: {dist: 0, tokens: []domain.Token{startTok}},
	}
	cycles := make(map[string]domain.ArbitragePath)

	for hop := 1; hop <= maxHops; hop++ {
		nxt := make(map[common.Address]label, len(cur))
		for addr, lb := range cur {
			nxt[addr] = lb
		}

		for from, lb := range cur {
			// Labels shorter than hop-1 were already fully relaxed in
			// earlier rounds.
			if len(lb.pools) != hop-1 {
				continue
			}
			for _, e := range snap.Edges(from) {
				to := e.TokenOut.Address

				if to == start {
					// Closing the cycle. A single-pool round trip is
					// never profitable after fees; require >= 2 hops.
					if hop < 2 {
						continue
					}
					total := lb.dist + e.Weight
					if total < -weightEps {
						f.recordCycle(cycles, lb, e, total)
					}
					continue
				}

				if containsToken(lb.tokens, to) {
					continue // simple paths only
				}
				cand := label{
					dist:   lb.dist + e.Weight,
					tokens: appendTokens(lb.tokens, e.TokenOut),
					pools:  appendPools(lb.pools, e.PoolRef),
				}
				if old, ok := nxt[to]; !ok || cand.dist < old.dist {
					nxt[to] = cand
				}
			}
		}
		cur = nxt
	}

	return f.rank(cycles, maxResults)
}

// recordCycle materializes a completed negative cycle, sizing it against the
// snapshot reserves and applying the slippage-aware liquidity filter.
func (f *Finder) recordCycle(cycles map[string]domain.ArbitragePath, lb label, closing graph.Edge, total float64) {
	pools := appendPools(lb.pools, closing.PoolRef)
	key := cycleKey(pools)
	if _, ok := cycles[key]; ok {
		return
	}

	path := domain.ArbitragePath{
		Tokens:       appendTokens(lb.tokens, closing.TokenOut),
		Pools:        pools,
		Yield:        math.Exp(-total),
		DiscoveredAt: f.now(),
	}

	maxInput := f.maxInputForImpact(pools)
	if maxInput <= 0 {
		return
	}
	optimal := optimalInput(path, maxInput)
	if optimal <= 0 || path.SimulateProfit(optimal) <= 0 {
		return
	}
	path.RequiredInput = optimal
	path.Confidence = f.confidence(path)
	cycles[key] = path
}

// maxInputForImpact translates the per-pool impact cap back into start-token
// units: each hop's input-side reserve bound is divided through the marginal
// rates of the hops before it, and the tightest bound wins.
func (f *Finder) maxInputForImpact(pools []domain.PoolRef) float64 {
	impact := float64(f.cfg.MaxImpactBps) / 10_000
	bound := math.Inf(1)
	scale := 1.0 // product of marginal rates up to the current hop
	for _, p := range pools {
		if p.ReserveIn <= 0 || scale <= 0 {
			return 0
		}
		if b := impact * p.ReserveIn / scale; b < bound {
			bound = b
		}
		scale *= p.Rate()
	}
	if math.IsInf(bound, 1) {
		return 0
	}
	return bound
}

// optimalInput finds the profit-maximizing input on (0, upper] by ternary
// search; profit through a chain of constant-product pools is unimodal.
func optimalInput(path domain.ArbitragePath, upper float64) float64 {
	lo, hi := 0.0, upper
	for i := 0; i < 64; i++ {
		m1 := lo + (hi-lo)/3
		m2 := hi - (hi-lo)/3
		if path.SimulateProfit(m1) < path.SimulateProfit(m2) {
			lo = m1
		} else {
			hi = m2
		}
	}
	mid := (lo + hi) / 2
	// The unconstrained optimum may sit past the impact cap; the cap wins.
	if path.SimulateProfit(upper) >= path.SimulateProfit(mid) {
		return upper
	}
	return mid
}

// confidence decays exponentially with the age of the stalest pool.
func (f *Finder) confidence(path domain.ArbitragePath) float64 {
	age := f.now().Sub(path.StalestPool())
	if age < 0 {
		age = 0
	}
	return math.Exp2(-age.Seconds() / confidenceHalfLife.Seconds())
}

// rank orders cycles by simulated profit at their required input, preferring
// fewer hops when profits land in the same tieEps-wide bucket, and truncates
// to maxResults. Bucketing keys the comparison on a per-path value, so the
// order is a strict weak order regardless of which pairs sort happens to
// compare.
func (f *Finder) rank(cycles map[string]domain.ArbitragePath, maxResults int) []domain.ArbitragePath {
	type ranked struct {
		path   domain.ArbitragePath
		profit float64
		bucket float64
	}
	out := make([]ranked, 0, len(cycles))
	for _, p := range cycles {
		profit := p.SimulateProfit(p.RequiredInput)
		// Profits whose ratio is within 1+tieEps share a log bucket.
		bucket := math.Inf(-1)
		if profit > 0 {
			bucket = math.Round(math.Log(profit) / math.Log(1+tieEps))
		}
		out = append(out, ranked{path: p, profit: profit, bucket: bucket})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].bucket != out[j].bucket {
			return out[i].bucket > out[j].bucket
		}
		if hi, hj := out[i].path.Hops(), out[j].path.Hops(); hi != hj {
			return hi < hj
		}
		return out[i].profit > out[j].profit
	})
	if len(out) > maxResults {
		out = out[:maxResults]
	}
	paths := make([]domain.ArbitragePath, len(out))
	for i, r := range out {
		paths[i] = r.path
	}
	return paths
}

func containsToken(tokens []domain.Token, addr common.Address) bool {
	for _, t := range tokens {
		if t.Address == addr {
			return true
		}
	}
	return false
}

func appendTokens(ts []domain.Token, t domain.Token) []domain.Token {
	out := make([]domain.Token, len(ts)+1)
	copy(out, ts)
	out[len(ts)] = t
	return out
}

func appendPools(ps []domain.PoolRef, p domain.PoolRef) []domain.PoolRef {
	out := make([]domain.PoolRef, len(ps)+1)
	copy(out, ps)
	out[len(ps)] = p
	return out
}

func cycleKey(pools []domain.PoolRef) string {
	var b strings.Builder
	for _, p := range pools {
		b.WriteString(p.Address.Hex())
		b.WriteByte('>')
		b.WriteString(p.TokenOut.Address.Hex())
		b.WriteByte('|')
	}
	return b.String()
}
