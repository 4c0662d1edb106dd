package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// LocalSigner signs proposals directly with a private key held in memory
type LocalSigner struct {
	privateKey *ecdsa.PrivateKey
}

// NewLocalSigner parses a hex-encoded ECDSA key. A malformed credential is
// a fatal configuration error, not a retryable one.
func NewLocalSigner(privateKeyHex string) (*LocalSigner, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	privateKey, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	return &LocalSigner{privateKey: privateKey}, nil
}

// Sign produces an ECDSA signature over the keccak256 digest of the payload
func (s *LocalSigner) Sign(_ context.Context, payload []byte) ([]byte, error) {
	digest := crypto.Keccak256(payload)
	sig, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign proposal: %w", err)
	}
	return sig, nil
}

// CapabilityKind returns KindLocal
func (s *LocalSigner) CapabilityKind() Kind {
	return KindLocal
}
