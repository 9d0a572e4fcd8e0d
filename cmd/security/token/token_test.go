package token

import (
	"errors"
	"strings"
	"testing"
)

func TestRegisterTokenHex_StableHexOutput(t *testing.T) {
	t.Parallel()

	key := []byte("0123456789abcdef0123456789abcdef")

	tok := RegisterTokenHex("alice", key)
	if len(tok) != 64 {
		t.Fatalf("token length=%d want=64", len(tok))
	}
	if tok != strings.ToLower(tok) {
		t.Fatalf("token not lowercase hex: %q", tok)
	}
	if tok != RegisterTokenHex("alice", key) {
		t.Fatal("token not deterministic")
	}
	if tok == RegisterTokenHex("bob", key) {
		t.Fatal("distinct identities produced the same token")
	}
}

func TestVerifyRegisterToken(t *testing.T) {
	t.Parallel()

	key := []byte("0123456789abcdef0123456789abcdef")
	tok := RegisterTokenHex("alice", key)

	if err := VerifyRegisterToken("alice", tok, key); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	if err := VerifyRegisterToken("alice", "  "+strings.ToUpper(tok)+" ", key); err != nil {
		t.Fatalf("normalized token rejected: %v", err)
	}
	if err := VerifyRegisterToken("bob", tok, key); !errors.Is(err, ErrTokenMismatch) {
		t.Fatalf("expected ErrTokenMismatch, got %v", err)
	}
	if err := VerifyRegisterToken("alice", "deadbeef", key); !errors.Is(err, ErrTokenMismatch) {
		t.Fatalf("expected ErrTokenMismatch, got %v", err)
	}
}

func TestHMACKeyFromEnv(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	if _, err := HMACKeyFromEnv(32); !errors.Is(err, ErrHMACKeyMissing) {
		t.Fatalf("expected ErrHMACKeyMissing, got %v", err)
	}

	t.Setenv(HMACEnvKey, "short")
	if _, err := HMACKeyFromEnv(32); !errors.Is(err, ErrHMACKeyTooShort) {
		t.Fatalf("expected ErrHMACKeyTooShort, got %v", err)
	}

	t.Setenv(HMACEnvKey, strings.Repeat("k", 32))
	key, err := HMACKeyFromEnv(32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("key length=%d want=32", len(key))
	}
}
