package tokens

import (
	"errors"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v4"
	pkgerrors "github.com/pkg/errors"

	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/config"
)

// Reason explains why a token did not authenticate. ReasonNone means it did.
type Reason int

// Verification outcomes, in the order they are checked.
const (
	ReasonNone Reason = iota
	ReasonMalformed
	ReasonInvalidSignature
	ReasonExpiredSignature
	ReasonWrongAudience
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonMalformed:
		return "malformed"
	case ReasonInvalidSignature:
		return "invalid signature"
	case ReasonExpiredSignature:
		return "expired signature"
	case ReasonWrongAudience:
		return "wrong audience"
	default:
		return "unknown"
	}
}

// VerificationResult is the outcome of Verify.
type VerificationResult struct {
	// Subject is set only when the token authenticated.
	Subject string
	Reason  Reason
}

// Authenticated returns whether the token was accepted.
func (r VerificationResult) Authenticated() bool {
	return r.Reason == ReasonNone
}

func rejected(reason Reason) VerificationResult {
	return VerificationResult{Reason: reason}
}

// Verifier checks tokens against a shared secret and one expected audience. It holds no mutable
// state and is safe for concurrent use.
type Verifier struct {
	secret   Secret
	audience string
	clock    clock.Clock
	parser   *jwt.Parser
}

// NewVerifier returns a Verifier. A nil clock uses the wall clock.
func NewVerifier(secret Secret, expectedAudience string, clk clock.Clock) (*Verifier, error) {
	if secret.IsEmpty() {
		return nil, ErrEmptySecret
	}
	if expectedAudience == "" {
		return nil, config.NewConfigurationFieldRequiredError(config.EnvTokenAudience)
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Verifier{
		secret:   secret,
		audience: expectedAudience,
		clock:    clk,
		// claims are checked by hand after the signature so the failure reasons keep their order
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

func (v *Verifier) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, pkgerrors.Errorf("unexpected signing method %v", token.Header["alg"])
	}
	return []byte(v.secret), nil
}

// Verify checks structure, then signature, then expiry, then audience, and reports the first
// failure. It never panics and never returns an error.
func (v *Verifier) Verify(token string) VerificationResult {
	mc := jwt.MapClaims{}
	if _, err := v.parser.ParseWithClaims(token, mc, v.keyFunc); err != nil {
		return rejected(reasonFor(err))
	}

	exp, err := expiryOf(mc)
	switch {
	case errors.Is(err, errInvalidExpiry):
		return rejected(ReasonMalformed)
	case err != nil, !v.clock.Now().Before(exp):
		return rejected(ReasonExpiredSignature)
	}

	if !audienceMatches(audienceOf(mc), v.audience) {
		return rejected(ReasonWrongAudience)
	}

	subject, ok := mc["sub"].(string)
	if !ok || subject == "" {
		return rejected(ReasonMalformed)
	}
	return VerificationResult{Subject: subject}
}

func audienceMatches(audiences []string, expected string) bool {
	for _, aud := range audiences {
		if aud == expected {
			return true
		}
	}
	return false
}

func reasonFor(err error) Reason {
	var validationErr *jwt.ValidationError
	if !errors.As(err, &validationErr) {
		return ReasonMalformed
	}
	switch {
	case validationErr.Errors&jwt.ValidationErrorMalformed != 0:
		return ReasonMalformed
	case validationErr.Errors&(jwt.ValidationErrorSignatureInvalid|jwt.ValidationErrorUnverifiable) != 0:
		return ReasonInvalidSignature
	default:
		return ReasonMalformed
	}
}
