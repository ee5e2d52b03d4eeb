package session

import (
	"net/url"
	"strings"
	"time"
)

// Config defines runtime configuration for the session manager.
type Config struct {
	// LoginURL is the external login surface. Anonymous terminals are sent
	// to LoginURL?next=<return-url>.
	LoginURL string

	// HydrateMaxTries bounds profile-fetch attempts during startup
	// hydration when the failure is a transient network error. Backend
	// rejections are never retried. Minimum 1.
	HydrateMaxTries uint

	// FetchTimeout bounds each individual profile fetch.
	FetchTimeout time.Duration
}

// DefaultConfig returns defaults suitable for development.
func DefaultConfig() Config {
	return Config{
		HydrateMaxTries: 3,
		FetchTimeout:    10 * time.Second,
	}
}

// Validate checks invariants; the zero LoginURL is rejected because teardown
// paths need somewhere to send the user.
func (c Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.LoginURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ErrConfig
	}
	if c.HydrateMaxTries < 1 {
		return ErrConfig
	}
	if c.FetchTimeout <= 0 {
		return ErrConfig
	}
	return nil
}
