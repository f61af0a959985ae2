package credentials

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/elearn-session/internal/utils"
)

// expiryLeeway treats a credential as expired slightly before its hint so
// that a request does not leave with a token that dies in flight.
const expiryLeeway = 10 * time.Second

// Credential is the access/refresh token pair of an active login. Token
// contents are opaque to the session core; ExpiresAtHint is advisory only.
type Credential struct {
	AccessToken   string
	RefreshToken  string
	ExpiresAtHint *time.Time
}

// IsZero reports whether no access token is held.
func (c Credential) IsZero() bool {
	return c.AccessToken == ""
}

// Expired reports whether the hint says the access token has lapsed. A
// credential without a hint is never considered expired; the backend decides.
func (c Credential) Expired(now time.Time) bool {
	if c.ExpiresAtHint == nil {
		return false
	}
	return !now.Add(expiryLeeway).Before(*c.ExpiresAtHint)
}

// String never prints token material.
func (c Credential) String() string {
	exp := "none"
	if c.ExpiresAtHint != nil {
		exp = c.ExpiresAtHint.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("Credential{access:%s refresh:%s expires:%s}", redact(c.AccessToken), redact(c.RefreshToken), exp)
}

// GoString keeps %#v from leaking tokens too.
func (c Credential) GoString() string {
	return c.String()
}

func redact(s string) string {
	if s == "" {
		return "<empty>"
	}
	return "<redacted>"
}

// FromTokenResponse builds a credential from a backend token response.
// expiresIn (seconds) wins when positive; otherwise the access token's exp
// claim is used when the token happens to be a JWT.
func FromTokenResponse(accessToken, refreshToken string, expiresIn int64, now time.Time) Credential {
	c := Credential{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}
	if expiresIn > 0 {
		c.ExpiresAtHint = utils.Ptr(now.Add(time.Duration(expiresIn) * time.Second))
		return c
	}
	c.ExpiresAtHint = ExpiryFromJWT(accessToken)
	return c
}

// ExpiryFromJWT reads the exp claim without verifying the signature. The
// result is only a scheduling hint; nil when the token is not a JWT or has
// no exp.
func ExpiryFromJWT(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	return utils.Ptr(exp.Time)
}

// OAuth2Token converts to the x/oauth2 representation.
func (c Credential) OAuth2Token() *oauth2.Token {
	t := &oauth2.Token{
		AccessToken:  c.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: c.RefreshToken,
	}
	if c.ExpiresAtHint != nil {
		t.Expiry = *c.ExpiresAtHint
	}
	return t
}
