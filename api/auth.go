package api

import (
	"errors"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"prism-board/domain"
)

const defaultJWKSCacheTTL = 15 * time.Minute

// Auth validates bearer tokens and turns their claims into a domain.Caller.
// The organization comes from the org_id and org_role claims.
type Auth struct {
	JWKS     *keyfunc.JWKS
	Audience string
	Issuer   string
	// TestSecret switches validation to HS256 with a shared secret.
	TestSecret []byte

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth creates an Auth backed by a JWKS. When testSecret is set tokens are
// instead expected to be HS256-signed with it.
func NewAuth(jwks *keyfunc.JWKS, audience, issuer string, testSecret []byte, keyCacheTTL time.Duration) *Auth {
	if keyCacheTTL <= 0 {
		keyCacheTTL = defaultJWKSCacheTTL
	}
	a := &Auth{JWKS: jwks, Audience: audience, Issuer: issuer, TestSecret: testSecret, keyCacheTTL: keyCacheTTL}
	if len(testSecret) > 0 {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	} else {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	}
	return a
}

// CallerFromAuthHeader validates the Authorization header and extracts the caller.
func (a *Auth) CallerFromAuthHeader(h string) (domain.Caller, error) {
	token, err := bearerToken(h)
	if err != nil {
		return domain.Caller{}, err
	}
	return a.CallerFromToken(token)
}

// CallerFromToken validates a raw JWT.
func (a *Auth) CallerFromToken(token string) (domain.Caller, error) {
	parsed, err := a.parser.Parse(token, a.keyFor)
	if err != nil {
		return domain.Caller{}, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return domain.Caller{}, errors.New("invalid claims")
	}

	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return domain.Caller{}, errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return domain.Caller{}, errors.New("token not valid yet")
	}
	if a.Audience != "" && !claims.VerifyAudience(a.Audience, false) {
		return domain.Caller{}, errors.New("invalid audience")
	}
	if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, false) {
		return domain.Caller{}, errors.New("invalid issuer")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return domain.Caller{}, errors.New("missing sub")
	}
	orgID, _ := claims["org_id"].(string)
	orgRole, _ := claims["org_role"].(string)
	return domain.Caller{UserID: sub, OrgID: orgID, OrgRole: orgRole}, nil
}

func (a *Auth) keyFor(t *jwt.Token) (any, error) {
	if len(a.TestSecret) > 0 {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.TestSecret, nil
	}
	if a.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := t.Header["kid"].(string)
	if kid != "" {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}
	key, err := a.JWKS.Keyfunc(t)
	if err != nil {
		return nil, err
	}
	if kid != "" {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}
