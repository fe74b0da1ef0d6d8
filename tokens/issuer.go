package tokens

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
)

// Issuer mints short lived tokens for a single issuer/subject/audience triple.
type Issuer struct {
	secret   Secret
	issuer   string
	audience string
	subject  string
	ttl      time.Duration
	clock    clock.Clock
}

// NewIssuer returns an Issuer signing with secret. A nil clock uses the wall clock.
func NewIssuer(secret Secret, issuer, audience, subject string, ttl time.Duration, clk clock.Clock) (*Issuer, error) {
	if secret.IsEmpty() {
		return nil, ErrEmptySecret
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Issuer{
		secret:   secret,
		issuer:   issuer,
		audience: audience,
		subject:  subject,
		ttl:      ttl,
		clock:    clk,
	}, nil
}

// Issue mints a token with the configured subject, audience and lifetime.
func (i *Issuer) Issue() (string, error) {
	return i.IssueFor(i.subject, i.audience, i.ttl)
}

// IssueFor mints a token expiring ttl from now, truncated to whole seconds. A negative ttl yields
// a token that is already expired.
func (i *Issuer) IssueFor(subject, audience string, ttl time.Duration) (string, error) {
	claims := Claims{
		Issuer:  i.issuer,
		Subject: subject,
		Expiry:  i.clock.Now().Add(ttl),
	}
	if audience != "" {
		claims.Audience = []string{audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims.mapClaims()).SignedString([]byte(i.secret))
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token")
	}
	return signed, nil
}
