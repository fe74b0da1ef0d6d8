package credentials

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AuthorizationMetadataKey carries the bearer token of a call.
const AuthorizationMetadataKey = "authorization"

// TokenSource mints a bearer token. *tokens.Issuer satisfies it.
type TokenSource interface {
	Issue() (string, error)
}

// TokenCredentials attaches a freshly minted bearer token to every outbound call.
type TokenCredentials struct {
	source TokenSource
}

// NewTokenCredentials returns per-call credentials backed by source.
func NewTokenCredentials(source TokenSource) *TokenCredentials {
	return &TokenCredentials{source: source}
}

// GetRequestMetadata mints a token synchronously for the call about to be made.
func (creds *TokenCredentials) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	token, err := creds.source.Issue()
	if err != nil {
		return nil, status.Errorf(codes.Unauthenticated, "failed to mint bearer token: %v", err)
	}
	return map[string]string{AuthorizationMetadataKey: "Bearer " + token}, nil
}

// RequireTransportSecurity is true so a token is never sent in plaintext.
func (creds *TokenCredentials) RequireTransportSecurity() bool {
	return true
}
