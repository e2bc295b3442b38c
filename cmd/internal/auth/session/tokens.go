package session

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Tokens is one access/refresh pair as held by the client.
//
// RefreshToken is empty on cookie-transport sessions (the browser/jar owns
// the credential). AccessExpiry is best-effort: it is read from the token's
// "exp" claim without signature verification, since only the server verifies.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	AccessExpiry time.Time
}

// Empty reports whether no access token is held.
func (t Tokens) Empty() bool {
	return strings.TrimSpace(t.AccessToken) == ""
}

// ExpiresWithin reports whether the access token expires within d of now.
// Unknown expiry (no parsable exp claim) is treated as not expiring, so the
// 401/403 retry path stays the source of truth.
func (t Tokens) ExpiresWithin(now time.Time, d time.Duration) bool {
	if t.AccessExpiry.IsZero() {
		return false
	}
	return !t.AccessExpiry.After(now.Add(d))
}

// WithParsedExpiry returns a copy with AccessExpiry filled from the access
// token's exp claim, when the token is a parsable JWT.
func (t Tokens) WithParsedExpiry() Tokens {
	exp, err := AccessTokenExpiry(t.AccessToken)
	if err == nil {
		t.AccessExpiry = exp
	}
	return t
}

// AccessTokenExpiry extracts the "exp" claim from a JWT without verifying
// the signature.
func AccessTokenExpiry(token string) (time.Time, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return time.Time{}, ErrNoSession
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, ErrNoExpiryClaim
	}
	return exp.Time, nil
}
