package app

import (
	"errors"

	"courier/cmd/security/token"
)

// ValidateSecurityConfig enforces the registration token policy at startup.
// Fail-fast: a deployment that asks for verified registration but has no
// usable key must not come up accepting every identity claim.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireRegisterHMAC {
		return nil
	}

	// Minimum 32 bytes for an HMAC-SHA256 secret, measured as raw bytes.
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: COURIER_REQUIRE_REGISTER_HMAC=true but COURIER_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: COURIER_REQUIRE_REGISTER_HMAC=true but COURIER_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	if !token.HMACEnabled() {
		return errors.New("security policy: COURIER_REQUIRE_REGISTER_HMAC=true but register token verification is not in HMAC mode")
	}

	return nil
}
