package profile

import (
	"encoding/json"
	"strconv"
	"strings"

	"clavero/cmd/security/claims"
)

// Normalize maps a raw wire object (the `usuario` / `perfil` payloads) to the
// canonical Profile. It accepts every alias the backends have been observed to
// emit and returns ErrInvalidProfile when the result fails Valid().
func Normalize(wire map[string]any) (Profile, error) {
	p := Profile{
		Email:     wireString(wire, "email"),
		Role:      firstWireString(wire, "rol", "role"),
		Area:      firstWireString(wire, "area_vertical", "area"),
		FirstName: firstWireString(wire, "nombre", "first_name"),
		LastName:  firstWireString(wire, "apellido", "last_name"),
		AvatarURL: wireString(wire, "avatar_url"),
		Phone:     wireString(wire, "phone"),
	}

	if id, ok := firstWireInt64(wire, "organizacion_id", "organization_id"); ok {
		p.OrgID = id
	}

	if !p.Valid() {
		return Profile{}, OpError{Op: "profile.Normalize", Kind: ErrInvalidProfile, Msg: "missing email or organization id"}
	}
	return p, nil
}

// FromClaims builds a provisional Profile from decoded token claims.
// The result may be invalid; callers must check Valid() and must still
// confirm it against the backend.
func FromClaims(c claims.Claims) Profile {
	email := c.Email
	if email == "" {
		email = c.Subject
	}
	return Profile{
		OrgID: c.OrgID,
		Email: email,
		Role:  c.Role,
		Area:  c.Area,
	}
}

func wireString(wire map[string]any, key string) string {
	if v, ok := wire[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func firstWireString(wire map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := wireString(wire, k); v != "" {
			return v
		}
	}
	return ""
}

func firstWireInt64(wire map[string]any, keys ...string) (int64, bool) {
	for _, k := range keys {
		v, ok := wire[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return int64(n), true
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return i, true
			}
		case string:
			if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
				return i, true
			}
		}
	}
	return 0, false
}
