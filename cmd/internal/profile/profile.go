package profile

import "strings"

// Profile is the canonical identity record for an authenticated user.
//
// OrgID, Email, and Role are required; a profile without a resolvable
// organization identifier is invalid and must be discarded.
type Profile struct {
	OrgID int64  `json:"org_id"`
	Email string `json:"email"`
	Role  string `json:"role"`

	Area      string `json:"area,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// Valid reports whether the profile satisfies the organization-identifier
// invariant and carries an email.
func (p Profile) Valid() bool {
	return p.OrgID > 0 && strings.TrimSpace(p.Email) != ""
}

// DisplayName returns the best human-readable name available.
func (p Profile) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(p.FirstName) + " " + strings.TrimSpace(p.LastName))
	if name != "" {
		return name
	}
	return p.Email
}

// Update is a partial edit of the profile's display attributes, as accepted
// by the profile-update endpoint. Nil fields are left untouched.
type Update struct {
	FirstName *string `json:"nombre,omitempty"`
	LastName  *string `json:"apellido,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
	Phone     *string `json:"phone,omitempty"`
}

// Merge returns a copy of p with the update's non-nil fields applied.
// Identity fields (OrgID, Email, Role, Area) are never touched by a merge.
func (p Profile) Merge(u Update) Profile {
	if u.FirstName != nil {
		p.FirstName = strings.TrimSpace(*u.FirstName)
	}
	if u.LastName != nil {
		p.LastName = strings.TrimSpace(*u.LastName)
	}
	if u.AvatarURL != nil {
		p.AvatarURL = strings.TrimSpace(*u.AvatarURL)
	}
	if u.Phone != nil {
		p.Phone = strings.TrimSpace(*u.Phone)
	}
	return p
}
