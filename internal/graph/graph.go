// Package graph maintains the live view of tradable pools as a weighted
// directed graph. Nodes are tokens, edges are pool directions, and each
// edge weight is the negative log of the post-fee exchange rate, so a
// negative-weight cycle is a multiplicative gain greater than one.
//
// The Maintainer is the single writer; every other component works from
// immutable snapshots and never sees a half-applied update.
package graph

import (
	"bytes"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tomredd/flasharb/internal/domain"
)

// Edge is one pool direction plus its additive weight.
type Edge struct {
	domain.PoolRef
	Weight float64
}

// pool is the mutable graph entry for one venue pool. Both directions are
// recomputed together on every reserve update.
type pool struct {
	update   domain.PoolUpdate
	reserve0 float64
	reserve1 float64
	// weight01 prices token0 -> token1; weight10 the reverse.
	weight01 float64
	weight10 float64
}

// Maintainer owns the liquidity graph and serializes all mutations.
type Maintainer struct {
	mu     sync.RWMutex
	tokens map[common.Address]domain.Token
	pools  map[common.Address]*pool

	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	// changes carries coalesced change notifications so discovery can be
	// triggered by updates instead of polling a timer.
	changes chan struct{}
}

// NewMaintainer creates an empty graph. Edges not refreshed within ttl are
// treated as stale: excluded from snapshots but kept until PruneStale.
func NewMaintainer(ttl time.Duration, logger *slog.Logger) *Maintainer {
	return &Maintainer{
		tokens:  make(map[common.Address]domain.Token),
		pools:   make(map[common.Address]*pool),
		ttl:     ttl,
		logger:  logger.With(slog.String("component", "graph")),
		now:     time.Now,
		changes: make(chan struct{}, 1),
	}
}

// Changes returns the coalesced change-notification channel. At most one
// pending signal is retained regardless of how many updates arrived.
func (m *Maintainer) Changes() <-chan struct{} { return m.changes }

// ApplyUpdate validates a pool snapshot and updates or inserts its two
// directed edges, recomputing weights from the new reserves. Updates for a
// block the pool has already seen are dropped (at-least-once delivery
// upstream). Malformed updates are rejected, never inserted.
func (m *Maintainer) ApplyUpdate(u domain.PoolUpdate) error {
	if err := validateUpdate(u); err != nil {
		m.logger.Warn("pool update rejected",
			slog.String("pool", u.Address.Hex()),
			slog.String("venue", u.Venue),
			slog.String("error", err.Error()),
		)
		return err
	}

	m.mu.Lock()
	if existing, ok := m.pools[u.Address]; ok && existing.update.BlockNumber >= u.BlockNumber {
		m.mu.Unlock()
		m.logger.Debug("duplicate pool update dropped",
			slog.String("pool", u.Address.Hex()),
			slog.Uint64("block", u.BlockNumber),
		)
		return nil
	}

	if u.ReceivedAt.IsZero() {
		u.ReceivedAt = m.now()
	}

	r0 := u.Token0.FromWei(u.Reserve0)
	r1 := u.Token1.FromWei(u.Reserve1)
	fee := 1 - float64(u.FeeBps)/10_000

	m.tokens[u.Token0.Address] = u.Token0
	m.tokens[u.Token1.Address] = u.Token1
	m.pools[u.Address] = &pool{
		update:   u,
		reserve0: r0,
		reserve1: r1,
		weight01: -math.Log(r1 / r0 * fee),
		weight10: -math.Log(r0 / r1 * fee),
	}
	m.mu.Unlock()

	// Non-blocking: a pending notification already covers this update.
	select {
	case m.changes <- struct{}{}:
	default:
	}
	return nil
}

// Remove deletes a pool outright, used when a venue de-lists it.
func (m *Maintainer) Remove(addr common.Address) {
	m.mu.Lock()
	delete(m.pools, addr)
	m.mu.Unlock()
}

// PruneStale deletes pools whose last update is older than ttl and returns
// how many were removed.
func (m *Maintainer) PruneStale(ttl time.Duration) int {
	cutoff := m.now().Add(-ttl)

	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int
	for addr, p := range m.pools {
		if p.update.ReceivedAt.Before(cutoff) {
			delete(m.pools, addr)
			removed++
		}
	}
	return removed
}

// Fresh reports whether the pool at addr exists and was updated within the
// maintainer's TTL. The orchestrator uses this to cancel pipelines whose
// underlying pools went stale before submission.
func (m *Maintainer) Fresh(addr common.Address) bool {
	cutoff := m.now().Add(-m.ttl)

	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pools[addr]
	return ok && !p.update.ReceivedAt.Before(cutoff)
}

// Stats returns node, fresh-edge, and stale-edge counts. Edge counts are
// directed (one pool contributes two).
func (m *Maintainer) Stats() (nodes, edges, stale int) {
	cutoff := m.now().Add(-m.ttl)

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.pools {
		if p.update.ReceivedAt.Before(cutoff) {
			stale += 2
		} else {
			edges += 2
		}
	}
	return len(m.tokens), edges, stale
}

// Snapshot returns an immutable point-in-time copy of the graph containing
// only fresh edges. Safe for concurrent readers; the maintainer keeps no
// reference to the returned value.
func (m *Maintainer) Snapshot() *Snapshot {
	now := m.now()
	cutoff := now.Add(-m.ttl)

	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := &Snapshot{
		TakenAt: now,
		tokens:  make(map[common.Address]domain.Token, len(m.tokens)),
		adj:     make(map[common.Address][]Edge),
	}
	for addr, tok := range m.tokens {
		snap.tokens[addr] = tok
	}
	for _, p := range m.pools {
		if p.update.ReceivedAt.Before(cutoff) {
			continue
		}
		u := p.update
		snap.addEdge(Edge{
			PoolRef: domain.PoolRef{
				Address:    u.Address,
				Venue:      u.Venue,
				TokenIn:    u.Token0,
				TokenOut:   u.Token1,
				ReserveIn:  p.reserve0,
				ReserveOut: p.reserve1,
				FeeBps:     u.FeeBps,
				UpdatedAt:  u.ReceivedAt,
			},
			Weight: p.weight01,
		})
		snap.addEdge(Edge{
			PoolRef: domain.PoolRef{
				Address:    u.Address,
				Venue:      u.Venue,
				TokenIn:    u.Token1,
				TokenOut:   u.Token0,
				ReserveIn:  p.reserve1,
				ReserveOut: p.reserve0,
				FeeBps:     u.FeeBps,
				UpdatedAt:  u.ReceivedAt,
			},
			Weight: p.weight10,
		})
	}
	// Adjacency lists are ordered by pool address so consecutive snapshots
	// of an unchanged graph are identical, not map-iteration-dependent.
	for _, edges := range snap.adj {
		sort.Slice(edges, func(i, j int) bool {
			return bytes.Compare(edges[i].Address[:], edges[j].Address[:]) < 0
		})
	}
	return snap
}

// validateUpdate rejects updates that must never reach the graph: zero or
// missing reserves, self-pairs, and nonsensical fees.
func validateUpdate(u domain.PoolUpdate) error {
	switch {
	case u.Address == (common.Address{}):
		return fmt.Errorf("%w: zero pool address", domain.ErrMalformedUpdate)
	case u.Token0.Address == u.Token1.Address:
		return fmt.Errorf("%w: pool pairs token with itself", domain.ErrMalformedUpdate)
	case u.Reserve0 == nil || u.Reserve1 == nil:
		return fmt.Errorf("%w: missing reserves", domain.ErrMalformedUpdate)
	case u.Reserve0.Sign() <= 0 || u.Reserve1.Sign() <= 0:
		return fmt.Errorf("%w: zero liquidity", domain.ErrMalformedUpdate)
	case u.FeeBps < 0 || u.FeeBps >= 10_000:
		return fmt.Errorf("%w: fee %d bps out of range", domain.ErrMalformedUpdate, u.FeeBps)
	}
	return nil
}
