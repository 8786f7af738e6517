package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer signs transactions with a single secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
}

// NewSigner creates a Signer from a hex-encoded private key for the given
// chain. A zero chainID is accepted for address derivation only; SignTx
// rejects it.
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    big.NewInt(chainID),
	}, nil
}

// GenerateKey creates a fresh random key and returns it as hex (no 0x)
// together with its checksummed address.
func GenerateKey() (privateKeyHex string, address string, err error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return "", "", fmt.Errorf("crypto/signer: generate key: %w", err)
	}
	return hex.EncodeToString(ethcrypto.FromECDSA(pk)), ethcrypto.PubkeyToAddress(pk.PublicKey).Hex(), nil
}

// AddressFromKey derives the checksummed address of a hex private key.
func AddressFromKey(privateKeyHex string) (string, error) {
	s, err := NewSigner(privateKeyHex, 0)
	if err != nil {
		return "", err
	}
	return s.Address().Hex(), nil
}

// NormalizeAddress returns the EIP-55 form of a hex address, or an error if
// s is not a 20-byte hex address.
func NormalizeAddress(s string) (string, error) {
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("crypto: invalid address %q", s)
	}
	return common.HexToAddress(s).Hex(), nil
}

// Address returns the address derived from the signer's key.
func (s *Signer) Address() common.Address {
	return s.address
}

// ChainID returns the chain the signer signs for.
func (s *Signer) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// SignTx signs tx for the signer's chain using the latest signer rules
// (EIP-155 replay protection for legacy transactions).
func (s *Signer) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	if s.chainID.Sign() == 0 {
		return nil, fmt.Errorf("crypto/signer: chain id not set")
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: signing: %w", err)
	}
	return signed, nil
}
