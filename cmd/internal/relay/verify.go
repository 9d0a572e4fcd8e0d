package relay

import (
	"context"
	"errors"

	"courier/cmd/security/token"
)

// IdentityVerifier resolves an inbound registration to a verified identity.
// A single call: it either accepts the (identity, token) pair or fails.
type IdentityVerifier interface {
	Verify(ctx context.Context, identity, tok string) error
}

// HMACVerifier verifies registration tokens against a shared HMAC key.
type HMACVerifier struct {
	key []byte
}

// NewHMACVerifier constructs a verifier over key.
func NewHMACVerifier(key []byte) (*HMACVerifier, error) {
	if len(key) == 0 {
		return nil, errors.New("relay: empty HMAC key")
	}
	return &HMACVerifier{key: key}, nil
}

// Verify checks tok for identity.
func (v *HMACVerifier) Verify(_ context.Context, identity, tok string) error {
	return token.VerifyRegisterToken(identity, tok, v.key)
}

// InsecureVerifier accepts every registration. Dev-only: the identity the
// client claims is the identity it gets.
type InsecureVerifier struct{}

// Verify always succeeds.
func (InsecureVerifier) Verify(context.Context, string, string) error { return nil }
