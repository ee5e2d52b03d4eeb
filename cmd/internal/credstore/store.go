package credstore

import (
	"context"
	"errors"
)

// Persisted state keys. All backends share this layout.
const (
	KeyToken   = "session_token"
	KeyProfile = "user_profile"
	KeyArea    = "area_vertical"

	// Broadcast marker keys. The value is a timestamped ULID; the write
	// itself is the cross-terminal message (see the signal package).
	KeyLoginEvent  = "login_event"
	KeyLogoutEvent = "logout_event"
)

var (
	// ErrUnavailable is returned when the backing storage cannot be
	// reached. Callers degrade it to "no session"; it is never fatal.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrConfig is returned for invalid store configuration.
	ErrConfig = errors.New("invalid credstore config")
)

// Store abstracts durable key-value persistence for session state.
//
// Implementations must make Delete remove the key entirely (not store an
// empty value) and must keep Put/Delete atomic at the key level.
type Store interface {
	// Get returns the value for key. ok=false means absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Put persists value under key, replacing any previous value.
	Put(ctx context.Context, key, value string) error

	// Delete removes key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}
