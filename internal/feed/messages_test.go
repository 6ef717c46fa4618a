package feed

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validReservesMessage() reservesMessage {
	return reservesMessage{
		Event: "reserves",
		Pool:  "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc",
		Venue: "univ2",
		Token0: tokenInfo{
			Address:  "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
			Symbol:   "USDC",
			Decimals: 6,
		},
		Token1: tokenInfo{
			Address:  "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
			Symbol:   "WETH",
			Decimals: 18,
		},
		Reserve0:    "31415926535897932384626433",
		Reserve1:    "12000000000000000000000",
		FeeBps:      30,
		BlockNumber: 19_000_000,
	}
}

func TestToPoolUpdate(t *testing.T) {
	msg := validReservesMessage()
	now := time.Now().UTC()

	u, err := msg.toPoolUpdate(now)
	require.NoError(t, err)

	assert.Equal(t, common.HexToAddress(msg.Pool), u.Address)
	assert.Equal(t, "univ2", u.Venue)
	assert.Equal(t, "USDC", u.Token0.Symbol)
	assert.Equal(t, uint8(6), u.Token0.Decimals)
	assert.Equal(t, "WETH", u.Token1.Symbol)
	assert.Equal(t, msg.Reserve0, u.Reserve0.String(), "reserves beyond uint64 survive intact")
	assert.Equal(t, msg.Reserve1, u.Reserve1.String())
	assert.Equal(t, 30, u.FeeBps)
	assert.Equal(t, uint64(19_000_000), u.BlockNumber)
	assert.Equal(t, now, u.ReceivedAt)
}

func TestToPoolUpdateRejectsMalformed(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*reservesMessage)
	}{
		{"non-numeric reserve0", func(m *reservesMessage) { m.Reserve0 = "12.5" }},
		{"empty reserve1", func(m *reservesMessage) { m.Reserve1 = "" }},
		{"hex reserve", func(m *reservesMessage) { m.Reserve0 = "0xff" }},
		{"bad pool address", func(m *reservesMessage) { m.Pool = "uniswap-usdc-weth" }},
		{"bad token0 address", func(m *reservesMessage) { m.Token0.Address = "0x123" }},
		{"bad token1 address", func(m *reservesMessage) { m.Token1.Address = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := validReservesMessage()
			tc.mutate(&msg)
			_, err := msg.toPoolUpdate(time.Now().UTC())
			require.Error(t, err)
		})
	}
}
