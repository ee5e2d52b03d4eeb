package claims

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, mc jwt.MapClaims) string {
	t.Helper()

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, mc)
	raw, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return raw
}

func TestDecode_NormalizesAliases(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		claims  jwt.MapClaims
		wantOrg int64
		wantRol string
	}{
		{
			name:    "spanish alias numeric",
			claims:  jwt.MapClaims{"email": "a@b.com", "organizacion_id": 7, "rol": "admin"},
			wantOrg: 7,
			wantRol: "admin",
		},
		{
			name:    "english alias string value",
			claims:  jwt.MapClaims{"email": "a@b.com", "organization_id": "42", "role": "cajero"},
			wantOrg: 42,
			wantRol: "cajero",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			res := Decode(signedToken(t, tc.claims))
			if !res.Valid {
				t.Fatalf("Decode: valid=false reason=%q", res.Reason)
			}
			if res.Claims.OrgID != tc.wantOrg {
				t.Fatalf("OrgID = %d, want %d", res.Claims.OrgID, tc.wantOrg)
			}
			if res.Claims.Role != tc.wantRol {
				t.Fatalf("Role = %q, want %q", res.Claims.Role, tc.wantRol)
			}
			if res.Claims.Email != "a@b.com" {
				t.Fatalf("Email = %q", res.Claims.Email)
			}
		})
	}
}

func TestDecode_MalformedAndEmpty(t *testing.T) {
	t.Parallel()

	if res := Decode(""); res.Valid || res.Reason != ReasonEmpty {
		t.Fatalf("empty: %+v", res)
	}
	if res := Decode("   "); res.Valid || res.Reason != ReasonEmpty {
		t.Fatalf("blank: %+v", res)
	}
	if res := Decode("not-a-jwt"); res.Valid || res.Reason != ReasonMalformed {
		t.Fatalf("malformed: %+v", res)
	}
}

func TestClaims_Expired(t *testing.T) {
	t.Parallel()

	now := time.Now()

	res := Decode(signedToken(t, jwt.MapClaims{
		"email": "a@b.com",
		"exp":   now.Add(-time.Minute).Unix(),
	}))
	if !res.Valid {
		t.Fatalf("valid=false reason=%q", res.Reason)
	}
	if !res.Claims.Expired(now) {
		t.Fatalf("expected expired claims")
	}

	fresh := Decode(signedToken(t, jwt.MapClaims{"email": "a@b.com"}))
	if fresh.Claims.Expired(now) {
		t.Fatalf("claims without exp must never be locally expired")
	}
}
