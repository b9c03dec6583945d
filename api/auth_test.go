package api

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"prism-board/domain"
)

func signHS256(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{name: "ok", header: "Bearer header.payload.signature", want: "header.payload.signature"},
		{name: "padded", header: "  Bearer a.b.c  ", want: "a.b.c"},
		{name: "missing", header: "", wantErr: errMissingAuthorization},
		{name: "scheme", header: "Basic a.b.c", wantErr: errBadAuthorization},
		{name: "notJWT", header: "Bearer abc", wantErr: errBadAuthorization},
		{name: "manyPeriods", header: "Bearer " + strings.Repeat(".", 1000), wantErr: errBadAuthorization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := bearerToken(tt.header)
			if err != tt.wantErr {
				t.Fatalf("bearerToken(%q) error = %v, want %v", tt.header, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("bearerToken(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}

func TestCallerFromAuthHeaderHS256(t *testing.T) {
	secret := []byte("test-secret")
	signed := signHS256(t, secret, jwt.MapClaims{
		"sub":      "user-123",
		"org_id":   "org-1",
		"org_role": domain.OrgAdminRole,
		"aud":      "api://aud",
		"iss":      "https://issuer/",
		"exp":      time.Now().Add(5 * time.Minute).Unix(),
		"nbf":      time.Now().Add(-time.Minute).Unix(),
	})

	auth := NewAuth(nil, "api://aud", "https://issuer/", secret, 0)
	caller, err := auth.CallerFromAuthHeader("Bearer " + signed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := domain.Caller{UserID: "user-123", OrgID: "org-1", OrgRole: domain.OrgAdminRole}
	if caller != want {
		t.Fatalf("caller = %+v, want %+v", caller, want)
	}
	if !caller.IsOrgAdmin() {
		t.Fatalf("expected org admin")
	}
}

func TestCallerFromTokenRejects(t *testing.T) {
	secret := []byte("test-secret")
	base := func() jwt.MapClaims {
		return jwt.MapClaims{"sub": "u", "aud": "api://aud", "exp": time.Now().Add(time.Hour).Unix()}
	}
	tests := []struct {
		name   string
		claims func() jwt.MapClaims
		secret []byte
	}{
		{name: "expired", claims: func() jwt.MapClaims { c := base(); c["exp"] = time.Now().Add(-time.Hour).Unix(); return c }},
		{name: "audience", claims: func() jwt.MapClaims { c := base(); c["aud"] = "other"; return c }},
		{name: "noSub", claims: func() jwt.MapClaims { c := base(); delete(c, "sub"); return c }},
		{name: "wrongSecret", claims: base, secret: []byte("nope")},
	}
	auth := NewAuth(nil, "api://aud", "", secret, 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := secret
			if tt.secret != nil {
				key = tt.secret
			}
			if _, err := auth.CallerFromToken(signHS256(t, key, tt.claims())); err == nil {
				t.Fatalf("expected token to be rejected")
			}
		})
	}
}

func TestCallerFromTokenWithoutJWKS(t *testing.T) {
	auth := NewAuth(nil, "", "", nil, time.Minute)
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "u"})
	token.Header["kid"] = "k1"
	// unsigned RS256 token: the parser must fail before any key lookup succeeds
	raw, _ := token.SigningString()
	if _, err := auth.CallerFromToken(raw + ".c2ln"); err == nil {
		t.Fatalf("expected failure without jwks")
	}
}
