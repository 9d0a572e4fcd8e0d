package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
)

const (
	// HMACEnvKey is the env var name for the token HMAC secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "COURIER_TOKEN_HMAC_KEY"
)

// RegisterTokenHex returns the registration token for identity under key:
// HMAC-SHA256(identity, key) as 64 hex chars.
func RegisterTokenHex(identity string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(identity))
	return hex.EncodeToString(m.Sum(nil))
}

// VerifyRegisterToken checks tok against the expected token for identity in
// constant time. Returns ErrTokenMismatch on failure.
func VerifyRegisterToken(identity, tok string, key []byte) error {
	want := RegisterTokenHex(identity, key)
	if !hmac.Equal([]byte(want), []byte(strings.ToLower(strings.TrimSpace(tok)))) {
		return ErrTokenMismatch
	}
	return nil
}

// HMACKeyFromEnv returns the configured HMAC key bytes (trimmed), enforcing a minimum byte length.
// If the env var is missing/blank -> ErrHMACKeyMissing.
// If too short -> ErrHMACKeyTooShort.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		return nil, ErrHMACKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return b, nil
}

// HMACEnabled reports whether the env key is present (non-empty after trim).
// Note: This does not enforce minimum length. Use HMACKeyFromEnv for policy checks.
func HMACEnabled() bool {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	return raw != ""
}
