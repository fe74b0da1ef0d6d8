// Package server runs the greeter server process.
package server

import (
	"context"
	"net"

	"github.com/pkg/errors"
	"google.golang.org/grpc"

	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/config"
	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/credentials"
	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/greeter"
	greetergrpc "github.com/jtattermusch/grpc-authentication-kubernetes-examples/grpc"
	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/identity"
	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/logging"
	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/tokens"
)

// Server is a greeter server bound to a listener.
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
	logger     logging.Logger
}

// New binds the configured port and builds a server on it. Any configuration problem is
// returned before the port is bound.
func New(cfg *config.ServerConfig, logger logging.Logger) (*Server, error) {
	grpcServer, err := newGRPCServer(cfg, logger)
	if err != nil {
		return nil, err
	}
	listener, err := net.Listen("tcp", cfg.ListenAddress())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %s", cfg.ListenAddress())
	}
	return &Server{grpcServer: grpcServer, listener: listener, logger: logger}, nil
}

// NewWithListener builds a server that serves on listener.
func NewWithListener(cfg *config.ServerConfig, listener net.Listener, logger logging.Logger) (*Server, error) {
	grpcServer, err := newGRPCServer(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Server{grpcServer: grpcServer, listener: listener, logger: logger}, nil
}

func newGRPCServer(cfg *config.ServerConfig, logger logging.Logger) (*grpc.Server, error) {
	material, err := config.LoadCertificateMaterial(cfg.CertsPath, config.ServerRole, cfg.Security)
	if err != nil {
		return nil, err
	}
	cred, err := credentials.Resolve(config.ServerRole, cfg.Security, material)
	if err != nil {
		return nil, err
	}
	verifier, err := newVerifier(&cfg.Token, logger)
	if err != nil {
		return nil, err
	}

	extractor := identity.NewExtractor(verifier, logger.Sublogger("identity"))
	grpcServer := greetergrpc.NewServer(cred, logger.Sublogger("grpc"), extractor.UnaryServerInterceptor())
	greeter.RegisterGreeterServer(grpcServer, greeter.NewServer(identity.ContextProvider{}, logger))
	return grpcServer, nil
}

// newVerifier returns nil when no secret is configured; bearer tokens are then ignored.
func newVerifier(tc *config.TokenConfig, logger logging.Logger) (identity.TokenVerifier, error) {
	if !tc.HasSecret() {
		logger.Warn("no signing secret configured, bearer tokens will be ignored")
		return nil, nil
	}
	secret, err := tokens.LoadSigningSecret(tc)
	if err != nil {
		return nil, err
	}
	verifier, err := tokens.NewVerifier(secret, tc.Audience, nil)
	if err != nil {
		return nil, err
	}
	return verifier, nil
}

// Addr is the address the server listens on.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve serves until ctx is done and then drains in-flight calls.
func (s *Server) Serve(ctx context.Context) error {
	return greetergrpc.Serve(ctx, s.grpcServer, s.listener, s.logger)
}

// Run builds a server from cfg and serves until ctx is done.
func Run(ctx context.Context, cfg *config.ServerConfig, logger logging.Logger) error {
	srv, err := New(cfg, logger)
	if err != nil {
		return err
	}
	logger.Infow("Starting server", "security", cfg.Security.String(), "port", cfg.Port)
	return srv.Serve(ctx)
}
