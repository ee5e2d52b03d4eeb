// Package token provides bearer-token fingerprinting primitives for Clavero.
//
// Raw session tokens must never reach logs, metrics labels, or signal
// payloads. Every place that needs to correlate a token uses a fingerprint
// from this package instead.
//
// Design goals:
// - Default dev/back-compat mode: SHA-256(token) when no HMAC key is configured.
// - Production-enforced mode: HMAC-SHA256(token, key) when policy requires it,
//   so fingerprints cannot be correlated offline against captured tokens.
// - Stable 64-char hex output, plus a short prefix form for log lines.
//
// Environment:
// - CLAVERO_TOKEN_HMAC_KEY: when set, enables HMAC mode.
// Policy:
//   - If RequireTokenHMAC=true, callers MUST enforce a minimum key size (>= 32 bytes)
//     and MUST use HMAC (no SHA fallback).
package token
