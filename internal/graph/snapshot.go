package graph

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tomredd/flasharb/internal/domain"
)

// Snapshot is an immutable point-in-time view of the liquidity graph.
// Discovery and allocation operate exclusively on snapshots, so they need
// no locking of their own.
type Snapshot struct {
	TakenAt time.Time

	tokens map[common.Address]domain.Token
	adj    map[common.Address][]Edge
}

func (s *Snapshot) addEdge(e Edge) {
	s.adj[e.TokenIn.Address] = append(s.adj[e.TokenIn.Address], e)
}

// Edges returns the outgoing edges from the given token.
func (s *Snapshot) Edges(from common.Address) []Edge {
	return s.adj[from]
}

// Token looks up token metadata by address.
func (s *Snapshot) Token(addr common.Address) (domain.Token, bool) {
	t, ok := s.tokens[addr]
	return t, ok
}

// Tokens returns every node in the snapshot.
func (s *Snapshot) Tokens() []domain.Token {
	out := make([]domain.Token, 0, len(s.tokens))
	for _, t := range s.tokens {
		out = append(out, t)
	}
	return out
}

// NumNodes returns the node count.
func (s *Snapshot) NumNodes() int { return len(s.tokens) }

// NumEdges returns the directed edge count.
func (s *Snapshot) NumEdges() int {
	var n int
	for _, edges := range s.adj {
		n += len(edges)
	}
	return n
}
