package solanarpc

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// KeyGenerator implements ports.KeyGenerator with ed25519 Solana keys.
type KeyGenerator struct{}

// NewKeyGenerator creates a KeyGenerator.
func NewKeyGenerator() KeyGenerator {
	return KeyGenerator{}
}

// Generate returns base58 public and private keys.
func (KeyGenerator) Generate() (string, string, error) {
	pk, err := solana.NewRandomPrivateKey()
	if err != nil {
		return "", "", fmt.Errorf("generate keypair: %w", err)
	}
	return pk.PublicKey().String(), pk.String(), nil
}
