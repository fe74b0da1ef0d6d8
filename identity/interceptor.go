package identity

import (
	"context"

	grpc_auth "github.com/grpc-ecosystem/go-grpc-middleware/auth"
	grpc_ctxtags "github.com/grpc-ecosystem/go-grpc-middleware/tags"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// Tags set on every call for the request logger.
const (
	TagMechanism = "identity.mechanism"
	TagLabel     = "identity.label"
)

// AuthFunc attaches the identity of the call to ctx. It never fails: an unidentified caller is
// served as Anonymous.
func (e *Extractor) AuthFunc(ctx context.Context) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	id := e.Extract(md, PeerIdentity(ctx))

	tags := grpc_ctxtags.Extract(ctx)
	tags.Set(TagMechanism, id.Mechanism.String())
	if id.IsAuthenticated() {
		tags.Set(TagLabel, id.Label)
	}
	return NewContext(ctx, id), nil
}

// UnaryServerInterceptor resolves the identity of each call before its handler runs.
func (e *Extractor) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return grpc_auth.UnaryServerInterceptor(e.AuthFunc)
}
