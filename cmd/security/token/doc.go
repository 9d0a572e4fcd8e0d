// Package token provides registration-token primitives for Courier.
//
// Identity verification is a single call: a client presents an identity and a
// token, and the token either checks out or it does not. Tokens are
// HMAC-SHA256 digests of the identity under a shared key, issued out-of-band.
//
// Design goals:
// - Default dev mode: no key configured, verification is skipped by the caller.
// - Production-enforced mode: HMAC-SHA256(identity, key) required to register.
// - Stable 64-char hex output and constant-time comparison.
//
// Environment:
// - COURIER_TOKEN_HMAC_KEY: when set, enables HMAC mode.
// Policy:
//   - If RequireRegisterHMAC=true, callers MUST enforce a minimum key size
//     (>= 32 bytes) and MUST reject unverified registrations.
package token
