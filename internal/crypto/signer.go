package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// TxSigner signs transactions with the trading key for the configured chain.
type TxSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	signer     types.Signer
	chainID    *big.Int
}

// NewTxSigner creates a TxSigner from a hex-encoded secp256k1 private key.
func NewTxSigner(privateKeyHex string, chainID int64) (*TxSigner, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	id := big.NewInt(chainID)
	return &TxSigner{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		signer:     types.LatestSignerForChainID(id),
		chainID:    id,
	}, nil
}

// Address returns the trading wallet address.
func (s *TxSigner) Address() common.Address { return s.address }

// ChainID returns the chain the signer targets.
func (s *TxSigner) ChainID() *big.Int { return new(big.Int).Set(s.chainID) }

// SignTx signs the transaction with the trading key.
func (s *TxSigner) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, s.signer, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: sign tx: %w", err)
	}
	return signed, nil
}

// AuthSigner produces the relay authentication header. It must hold a key
// distinct from the trading key: the relay uses it only for searcher
// identity and reputation, never for funds.
type AuthSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewAuthSigner creates an AuthSigner from a hex-encoded private key.
func NewAuthSigner(privateKeyHex string) (*AuthSigner, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid relay key: %w", err)
	}
	return &AuthSigner{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the identity address the relay sees.
func (s *AuthSigner) Address() common.Address { return s.address }

// SignRequest returns the value for the X-Flashbots-Signature header:
// "<address>:<signature>", where the signature is an EIP-191 personal-sign
// over the hex-encoded keccak256 hash of the request body.
func (s *AuthSigner) SignRequest(body []byte) (string, error) {
	hashed := hexutil.Encode(ethcrypto.Keccak256(body))
	digest := accountsTextHash([]byte(hashed))

	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: sign request: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return s.address.Hex() + ":" + hexutil.Encode(sig), nil
}

// accountsTextHash is the EIP-191 "Ethereum Signed Message" digest.
func accountsTextHash(data []byte) []byte {
	msg := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(data), data)
	return ethcrypto.Keccak256([]byte(msg))
}
