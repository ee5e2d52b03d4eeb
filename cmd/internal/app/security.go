package app

import (
	"errors"

	"clavero/cmd/security/token"
)

// ValidateSecurityConfig enforces Clavero's security policy at startup.
//
// Fail-fast is intentional: a terminal that silently fingerprints tokens with
// plain SHA-256 when the fleet policy demands keyed fingerprints should not
// come up at all.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	// Minimum 32 bytes for an HMAC-SHA256 secret, measured as raw bytes.
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: CLAVERO_REQUIRE_TOKEN_HMAC=true but CLAVERO_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: CLAVERO_REQUIRE_TOKEN_HMAC=true but CLAVERO_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	if !token.HMACEnabled() {
		return errors.New("security policy: CLAVERO_REQUIRE_TOKEN_HMAC=true but token fingerprinting is not in HMAC mode")
	}

	return nil
}
