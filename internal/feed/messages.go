package feed

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tomredd/flasharb/internal/domain"
)

// subscribeCommand is the subscription request sent after connecting. An
// empty Pools list subscribes to every pool the adapter tracks.
type subscribeCommand struct {
	Op    string   `json:"op"`
	Pools []string `json:"pools,omitempty"`
}

// tokenInfo is the adapter's wire representation of one side of a pair.
type tokenInfo struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// reservesMessage is one reserve snapshot as pushed by a pool adapter.
// Reserves arrive as decimal strings: they routinely exceed uint64.
type reservesMessage struct {
	Event       string    `json:"event"`
	Pool        string    `json:"pool"`
	Venue       string    `json:"venue"`
	Token0      tokenInfo `json:"token0"`
	Token1      tokenInfo `json:"token1"`
	Reserve0    string    `json:"reserve0"`
	Reserve1    string    `json:"reserve1"`
	FeeBps      int       `json:"fee_bps"`
	BlockNumber uint64    `json:"block_number"`
}

// toPoolUpdate converts a wire message into a domain update, stamping the
// local receive time used for staleness tracking.
func (m *reservesMessage) toPoolUpdate(now time.Time) (domain.PoolUpdate, error) {
	r0, ok := new(big.Int).SetString(m.Reserve0, 10)
	if !ok {
		return domain.PoolUpdate{}, fmt.Errorf("feed: bad reserve0 %q", m.Reserve0)
	}
	r1, ok := new(big.Int).SetString(m.Reserve1, 10)
	if !ok {
		return domain.PoolUpdate{}, fmt.Errorf("feed: bad reserve1 %q", m.Reserve1)
	}
	if !common.IsHexAddress(m.Pool) || !common.IsHexAddress(m.Token0.Address) || !common.IsHexAddress(m.Token1.Address) {
		return domain.PoolUpdate{}, fmt.Errorf("feed: bad address in update for pool %q", m.Pool)
	}
	return domain.PoolUpdate{
		Address: common.HexToAddress(m.Pool),
		Venue:   m.Venue,
		Token0: domain.Token{
			Address:  common.HexToAddress(m.Token0.Address),
			Symbol:   m.Token0.Symbol,
			Decimals: m.Token0.Decimals,
		},
		Token1: domain.Token{
			Address:  common.HexToAddress(m.Token1.Address),
			Symbol:   m.Token1.Symbol,
			Decimals: m.Token1.Decimals,
		},
		Reserve0:    r0,
		Reserve1:    r1,
		FeeBps:      m.FeeBps,
		BlockNumber: m.BlockNumber,
		ReceivedAt:  now,
	}, nil
}
