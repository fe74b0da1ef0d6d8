// Package tokens mints and checks the HS256 bearer tokens a greeter client attaches to its calls.
package tokens

import (
	"encoding/json"
	"math"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
)

// Claims is the payload of a greeter token.
type Claims struct {
	Issuer   string
	Subject  string
	Audience []string
	Expiry   time.Time
}

func (c Claims) mapClaims() jwt.MapClaims {
	claims := jwt.MapClaims{
		"exp": c.Expiry.Unix(),
		"iss": c.Issuer,
		"sub": c.Subject,
	}
	switch len(c.Audience) {
	case 0:
	case 1:
		claims["aud"] = c.Audience[0]
	default:
		claims["aud"] = c.Audience
	}
	return claims
}

var (
	errMissingExpiry = errors.New("exp claim missing")
	errInvalidExpiry = errors.New("exp claim is not a representable unix time")
)

// claimsFromMap reads the registered claims out of a decoded payload. Missing or mistyped claims
// are left zero.
func claimsFromMap(mc jwt.MapClaims) Claims {
	var c Claims
	c.Issuer, _ = mc["iss"].(string)
	c.Subject, _ = mc["sub"].(string)
	c.Audience = audienceOf(mc)
	if exp, err := expiryOf(mc); err == nil {
		c.Expiry = exp
	}
	return c
}

// expiryOf returns errMissingExpiry when there is no exp claim and errInvalidExpiry when it is
// not a number that fits a unix time in seconds.
func expiryOf(mc jwt.MapClaims) (time.Time, error) {
	raw, ok := mc["exp"]
	if !ok || raw == nil {
		return time.Time{}, errMissingExpiry
	}
	var secs float64
	switch exp := raw.(type) {
	case float64:
		secs = exp
	case json.Number:
		f, err := exp.Float64()
		if err != nil {
			return time.Time{}, errInvalidExpiry
		}
		secs = f
	default:
		return time.Time{}, errInvalidExpiry
	}
	// float64(math.MaxInt64) rounds up to 2^63, so the upper bound is exclusive
	if math.IsNaN(secs) || secs < math.MinInt64 || secs >= math.MaxInt64 {
		return time.Time{}, errInvalidExpiry
	}
	return time.Unix(int64(secs), 0), nil
}

func audienceOf(mc jwt.MapClaims) []string {
	switch aud := mc["aud"].(type) {
	case string:
		return []string{aud}
	case []string:
		return aud
	case []interface{}:
		out := make([]string, 0, len(aud))
		for _, a := range aud {
			if s, ok := a.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Inspection is the unverified content of a token.
type Inspection struct {
	Algorithm string
	KeyID     string
	Claims    Claims
	Raw       jwt.MapClaims
}

// Inspect decodes token without checking its signature or claims. It must never be used to make
// an authentication decision.
func Inspect(token string) (*Inspection, error) {
	raw := jwt.MapClaims{}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, raw)
	if err != nil {
		return nil, errors.Wrap(err, "cannot decode token")
	}
	insp := &Inspection{Raw: raw, Claims: claimsFromMap(raw)}
	insp.Algorithm, _ = parsed.Header["alg"].(string)
	insp.KeyID, _ = parsed.Header["kid"].(string)
	return insp, nil
}
