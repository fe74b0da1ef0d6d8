package identity

import (
	"strings"

	"github.com/grpc-ecosystem/go-grpc-middleware/util/metautils"
	"google.golang.org/grpc/metadata"

	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/logging"
	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/tokens"
)

const (
	authorizationKey = "authorization"
	bearerScheme     = "bearer"
)

// TokenVerifier checks a bearer token. *tokens.Verifier satisfies it.
type TokenVerifier interface {
	Verify(token string) tokens.VerificationResult
}

// Extractor derives a CallIdentity from call metadata and the transport peer.
type Extractor struct {
	verifier TokenVerifier
	logger   logging.Logger
}

// NewExtractor returns an Extractor. A nil verifier ignores every bearer token.
func NewExtractor(verifier TokenVerifier, logger logging.Logger) *Extractor {
	return &Extractor{verifier: verifier, logger: logger}
}

// Extract returns the identity of a call. A verified client certificate always wins over a
// bearer token; a token that fails verification is logged and otherwise ignored.
func (e *Extractor) Extract(md metadata.MD, peerIdentity string) CallIdentity {
	id := Anonymous
	if token, ok := bearerToken(md); ok {
		if sub, ok := e.verify(token); ok {
			id = CallIdentity{Mechanism: Jwt, Label: sub}
		}
	}
	if peerIdentity != "" {
		id = CallIdentity{Mechanism: Mtls, Label: peerIdentity}
	}
	return id
}

func (e *Extractor) verify(token string) (string, bool) {
	if e.verifier == nil {
		e.logger.Debug("ignoring bearer token, no verifier configured")
		return "", false
	}
	result := e.verifier.Verify(token)
	if !result.Authenticated() {
		e.logger.Warnw("ignoring bearer token", "reason", result.Reason.String())
		return "", false
	}
	return result.Subject, true
}

// bearerToken returns the token of an "authorization: Bearer <token>" entry. The scheme is
// matched case insensitively.
func bearerToken(md metadata.MD) (string, bool) {
	val := metautils.NiceMD(md).Get(authorizationKey)
	if val == "" {
		return "", false
	}
	splits := strings.SplitN(val, " ", 2)
	if len(splits) < 2 || !strings.EqualFold(splits[0], bearerScheme) {
		return "", false
	}
	token := strings.TrimSpace(splits[1])
	return token, token != ""
}
