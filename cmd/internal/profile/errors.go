package profile

import (
	"errors"
	"fmt"
)

// Sentinel error kinds (stable for errors.Is and for session-manager policy).
var (
	// ErrUnauthorized is returned when the backend rejects the token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidProfile is returned when a fetched or cached profile fails
	// the organization-identifier invariant or lacks an email.
	ErrInvalidProfile = errors.New("invalid profile")

	// ErrNetwork is returned for transport failures.
	ErrNetwork = errors.New("network error")

	// ErrConfig is returned for invalid client configuration.
	ErrConfig = errors.New("invalid profile client config")
)

// OpError is a typed operation error with a stable Op + Kind contract.
// Kind MUST be one of the sentinel kinds above. Msg may include
// human-readable context; do not include tokens.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

// IsUnauthorized reports whether err represents ErrUnauthorized.
func IsUnauthorized(err error) bool { return errors.Is(err, ErrUnauthorized) }

// IsInvalidProfile reports whether err represents ErrInvalidProfile.
func IsInvalidProfile(err error) bool { return errors.Is(err, ErrInvalidProfile) }

// IsNetwork reports whether err represents ErrNetwork.
func IsNetwork(err error) bool { return errors.Is(err, ErrNetwork) }
