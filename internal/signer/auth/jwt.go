// Package auth produces the short-lived JWTs the review API expects in the
// Authorization header. Tokens are signed with HS256 over the raw API secret.
package auth

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/addonsign/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is the token lifetime used when none is configured. The API
// rejects tokens valid for longer than a few minutes.
const DefaultTTL = 5 * time.Minute

// Credentials identifies an API account. Secret is the raw HMAC key; it must
// never be logged or persisted.
type Credentials struct {
	Issuer string
	Secret []byte
}

// Signer mints a fresh token per call. Tokens are deliberately not cached:
// a single submission can run for many minutes, far past a token's expiry,
// so every outgoing request gets its own.
type Signer struct {
	creds Credentials
	ttl   time.Duration
	now   func() time.Time
}

func NewSigner(creds Credentials, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{creds: creds, ttl: ttl, now: time.Now}
}

// AuthHeader returns a ready-to-send Authorization header value,
// "JWT <token>", with claims iss/iat/exp freshly computed.
func (s *Signer) AuthHeader() (string, error) {
	now := s.now()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    s.creds.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	})

	signed, err := token.SignedString(s.creds.Secret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrTokenSigning, err)
	}

	return "JWT " + signed, nil
}
