package grpc

import (
	"context"
	"net"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_zap "github.com/grpc-ecosystem/go-grpc-middleware/logging/zap"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	grpc_ctxtags "github.com/grpc-ecosystem/go-grpc-middleware/tags"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/credentials"
	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/logging"
)

// NewServer returns a gRPC server secured by cred whose calls pass through the default chain and
// then through the given interceptors, in order.
func NewServer(
	cred *credentials.TransportCredential,
	logger logging.Logger,
	interceptors ...grpc.UnaryServerInterceptor,
) *grpc.Server {
	recoveryHandler := grpc_recovery.WithRecoveryHandlerContext(func(ctx context.Context, p interface{}) error {
		logger.Errorw("panic while handling call", "panic", p, "request_id", GetRequestID(ctx))
		return status.Errorf(codes.Internal, "%v", p)
	})

	unaryInterceptors := []grpc.UnaryServerInterceptor{
		grpc_ctxtags.UnaryServerInterceptor(),
		EnsureTimeoutUnaryServerInterceptor,
		RequestIDUnaryServerInterceptor,
		grpc_recovery.UnaryServerInterceptor(recoveryHandler),
		logging.UnaryServerInterceptor,
		grpc_zap.UnaryServerInterceptor(logger.Desugar()),
		UnaryServerTracingInterceptor,
	}
	unaryInterceptors = append(unaryInterceptors, interceptors...)

	serverOpts := cred.ServerOptions()
	serverOpts = append(serverOpts, grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(unaryInterceptors...)))
	return grpc.NewServer(serverOpts...)
}

// Serve serves on listener until ctx is done, then stops gracefully and waits for in-flight
// calls to finish.
func Serve(ctx context.Context, server *grpc.Server, listener net.Listener, logger logging.Logger) error {
	group, groupCtx := errgroup.WithContext(ctx)
	serveDone := make(chan struct{})
	group.Go(func() error {
		defer close(serveDone)
		logger.Infow("serving", "address", listener.Addr().String())
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return errors.Wrap(err, "serve failed")
		}
		return nil
	})
	group.Go(func() error {
		select {
		case <-groupCtx.Done():
		case <-serveDone:
			return nil
		}
		logger.Info("shutting down")
		server.GracefulStop()
		return nil
	})
	return group.Wait()
}
