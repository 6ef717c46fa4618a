package crypto

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known test vector: this key derives the address below.
const (
	testKeyHex  = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testKeyAddr = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
)

func TestNewTxSignerDerivesAddress(t *testing.T) {
	s, err := NewTxSigner(testKeyHex, 1)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testKeyAddr), s.Address())
	assert.Equal(t, big.NewInt(1), s.ChainID())
}

func TestNewTxSignerAcceptsPrefixedKey(t *testing.T) {
	s, err := NewTxSigner("0x"+testKeyHex, 1)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testKeyAddr), s.Address())
}

func TestNewTxSignerRejectsBadKey(t *testing.T) {
	_, err := NewTxSigner("zz", 1)
	require.Error(t, err)
}

func TestSignTxRecoversSender(t *testing.T) {
	s, err := NewTxSigner(testKeyHex, 1)
	require.NoError(t, err)

	to := common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(1),
		Nonce:     7,
		GasTipCap: big.NewInt(1_000_000_000),
		GasFeeCap: big.NewInt(30_000_000_000),
		Gas:       200_000,
		To:        &to,
		Value:     big.NewInt(0),
	})

	signed, err := s.SignTx(tx)
	require.NoError(t, err)

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1)), signed)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), sender)
}

func TestAuthSignerSignRequest(t *testing.T) {
	s, err := NewAuthSigner(testKeyHex)
	require.NoError(t, err)

	body := []byte(`{"jsonrpc":"2.0","method":"eth_sendBundle","params":[],"id":1}`)
	header, err := s.SignRequest(body)
	require.NoError(t, err)

	addr, sigHex, ok := strings.Cut(header, ":")
	require.True(t, ok, "header must be address:signature")
	assert.Equal(t, s.Address().Hex(), addr)

	// Verify the signature recovers the signing address over the EIP-191
	// digest of the hex-encoded body hash.
	sig, err := hexutil.Decode(sigHex)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	digest := accountsTextHash([]byte(hexutil.Encode(ethcrypto.Keccak256(body))))
	pub, err := ethcrypto.SigToPub(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), ethcrypto.PubkeyToAddress(*pub))
}

func TestAuthSignerDifferentBodiesDifferentSignatures(t *testing.T) {
	s, err := NewAuthSigner(testKeyHex)
	require.NoError(t, err)

	h1, err := s.SignRequest([]byte("body one"))
	require.NoError(t, err)
	h2, err := s.SignRequest([]byte("body two"))
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}
