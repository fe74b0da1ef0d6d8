package greeter

import (
	"context"

	"go.opencensus.io/trace"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/identity"
	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/logging"
)

// Server greets callers and tells them how they were identified.
type Server struct {
	identities identity.Provider
	logger     logging.Logger
}

// NewServer returns a Server reading call identities from identities.
func NewServer(identities identity.Provider, logger logging.Logger) *Server {
	return &Server{identities: identities, logger: logger}
}

// SayHello implements GreeterServer.
func (s *Server) SayHello(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	ctx, span := trace.StartSpan(ctx, "greeter::server::SayHello")
	defer span.End()

	id := s.identities.CallIdentity(ctx)
	s.logger.CDebugw(ctx, "greeting", "name", req.GetValue(), "mechanism", id.Mechanism.String(), "label", id.Label)
	return wrapperspb.String("Hello " + req.GetValue() + id.Annotation()), nil
}
