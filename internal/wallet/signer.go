package wallet

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"nodewatch/internal/types"
)

// KeySigner signs challenge messages with a local secp256k1 key using
// EIP-191 personal_sign, the same format browser wallets produce.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewKeySigner(hexKey string) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid wallet key: %w", err)
	}
	return &KeySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// GenerateKeySigner creates a throwaway wallet, used by the mock service and tests.
func GenerateKeySigner() (*KeySigner, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return &KeySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address returns the lowercase hex address.
func (s *KeySigner) Address() string {
	return types.NormalizeWallet(s.address.Hex())
}

func (s *KeySigner) Sign(ctx context.Context, message, address string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if types.NormalizeWallet(address) != s.Address() {
		return "", fmt.Errorf("%w: key does not control %s", types.ErrSigningDeclined, address)
	}

	sig, err := crypto.Sign(personalHash(message), s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign message: %w", err)
	}

	// Adjust V value to Ethereum convention (27/28)
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// personalHash is keccak256("\x19Ethereum Signed Message:\n" + len(msg) + msg).
func personalHash(message string) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return crypto.Keccak256([]byte(prefixed))
}

// Recover returns the lowercase address that produced signature over message.
func Recover(message, signature string) (string, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return "", errors.New("invalid signature length")
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(personalHash(message), sig)
	if err != nil {
		return "", fmt.Errorf("failed to recover public key: %w", err)
	}
	return types.NormalizeWallet(crypto.PubkeyToAddress(*pub).Hex()), nil
}

// Verify reports whether signature over message was produced by address.
func Verify(address, message, signature string) bool {
	recovered, err := Recover(message, signature)
	if err != nil {
		return false
	}
	return recovered == types.NormalizeWallet(address)
}

// IsAddress reports whether s looks like a 0x-prefixed 20-byte hex address.
func IsAddress(s string) bool {
	return common.IsHexAddress(s) && strings.HasPrefix(strings.TrimSpace(s), "0x")
}
