package credstore

import (
	"context"
	"encoding/json"
	"log/slog"

	"clavero/cmd/internal/profile"
)

// Credentials is the typed facade over a Store that the session manager uses.
//
// Reads never fail: storage errors and undecodable values degrade to "absent"
// (fail-closed towards anonymous). Writes report errors so callers can decide,
// but an error never leaves a key half-written.
type Credentials struct {
	store Store
	log   *slog.Logger
}

// NewCredentials wraps store.
func NewCredentials(store Store, log *slog.Logger) *Credentials {
	return &Credentials{store: store, log: log}
}

// Store exposes the underlying Store (signal transports share it).
func (c *Credentials) Store() Store { return c.store }

// Token returns the persisted session token, or "" when absent or unreadable.
func (c *Credentials) Token(ctx context.Context) string {
	v, ok, err := c.store.Get(ctx, KeyToken)
	if err != nil {
		c.log.Warn("credstore.token.read_degraded", "err", err)
		return ""
	}
	if !ok {
		return ""
	}
	return v
}

// SetToken persists tok; an empty token removes the key entirely.
func (c *Credentials) SetToken(ctx context.Context, tok string) error {
	if tok == "" {
		return c.store.Delete(ctx, KeyToken)
	}
	return c.store.Put(ctx, KeyToken, tok)
}

// Profile returns the cached profile. ok=false when absent, unreadable, or
// failing the organization-identifier invariant (invalid caches are discarded).
func (c *Credentials) Profile(ctx context.Context) (profile.Profile, bool) {
	v, ok, err := c.store.Get(ctx, KeyProfile)
	if err != nil {
		c.log.Warn("credstore.profile.read_degraded", "err", err)
		return profile.Profile{}, false
	}
	if !ok {
		return profile.Profile{}, false
	}

	var p profile.Profile
	if err := json.Unmarshal([]byte(v), &p); err != nil || !p.Valid() {
		c.log.Warn("credstore.profile.cache_discarded")
		_ = c.store.Delete(ctx, KeyProfile)
		return profile.Profile{}, false
	}
	return p, true
}

// SetProfile persists p; nil removes the key entirely so readers can treat
// absence and "no profile" identically.
func (c *Credentials) SetProfile(ctx context.Context, p *profile.Profile) error {
	if p == nil {
		return c.store.Delete(ctx, KeyProfile)
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := c.store.Put(ctx, KeyProfile, string(raw)); err != nil {
		return err
	}
	if p.Area != "" {
		// Cached vertical hint for screens that render before hydration.
		return c.store.Put(ctx, KeyArea, p.Area)
	}
	return nil
}

// Area returns the cached vertical hint, or "" when absent.
func (c *Credentials) Area(ctx context.Context) string {
	v, _, err := c.store.Get(ctx, KeyArea)
	if err != nil {
		return ""
	}
	return v
}

// SetArea caches the vertical hint; empty removes it.
func (c *Credentials) SetArea(ctx context.Context, area string) error {
	if area == "" {
		return c.store.Delete(ctx, KeyArea)
	}
	return c.store.Put(ctx, KeyArea, area)
}

// Clear removes token and profile (logout / teardown). The area hint is kept;
// it only steers cosmetic defaults for the next login.
func (c *Credentials) Clear(ctx context.Context) error {
	errTok := c.store.Delete(ctx, KeyToken)
	errProf := c.store.Delete(ctx, KeyProfile)
	if errTok != nil {
		return errTok
	}
	return errProf
}
