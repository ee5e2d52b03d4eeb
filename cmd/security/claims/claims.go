package claims

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the normalized identity payload embedded in a bearer token.
//
// Wire aliases (organizacion_id vs organization_id, numeric vs string values)
// are resolved here, at the boundary; everything downstream sees this shape only.
type Claims struct {
	Subject   string
	Email     string
	OrgID     int64
	Role      string
	Area      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Result is the outcome of decoding a token payload.
// Valid=false carries a stable machine-readable Reason; callers must treat
// such tokens as opaque (they may still be honored by the backend).
type Result struct {
	Valid  bool
	Claims Claims
	Reason string
}

// Decode reasons (stable for logs and tests).
const (
	ReasonEmpty     = "empty_token"
	ReasonMalformed = "malformed_token"
)

// Expired reports whether the claims carry an expiry in the past at now.
// Tokens without an exp claim are never considered locally expired; the
// backend decides.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !c.ExpiresAt.After(now)
}

// Decode performs an unverified decode of a JWT-shaped bearer token.
//
// It never errors on missing identity claims: absent fields stay zero and the
// profile-validity rules downstream decide what to do with them.
func Decode(raw string) Result {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Result{Reason: ReasonEmpty}
	}

	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, mc); err != nil {
		return Result{Reason: ReasonMalformed}
	}

	var c Claims

	if sub, err := mc.GetSubject(); err == nil {
		c.Subject = sub
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}

	c.Email = stringClaim(mc, "email")
	c.Role = firstStringClaim(mc, "rol", "role")
	c.Area = firstStringClaim(mc, "area_vertical", "area")
	c.OrgID, _ = firstInt64Claim(mc, "organizacion_id", "organization_id")

	return Result{Valid: true, Claims: c}
}

func stringClaim(mc jwt.MapClaims, key string) string {
	if v, ok := mc[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func firstStringClaim(mc jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		if v := stringClaim(mc, k); v != "" {
			return v
		}
	}
	return ""
}

func firstInt64Claim(mc jwt.MapClaims, keys ...string) (int64, bool) {
	for _, k := range keys {
		if v, ok := mc[k]; ok {
			if n, ok := asInt64(v); ok {
				return n, true
			}
		}
	}
	return 0, false
}

// asInt64 accepts the JSON encodings seen in the wild for numeric IDs:
// float64 (default decoding), json.Number, and numeric strings.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}
