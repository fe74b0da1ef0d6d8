// Package grpc holds the interceptor chains and dial/serve helpers shared by the greeter client
// and server.
package grpc

import (
	"context"
	"time"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_zap "github.com/grpc-ecosystem/go-grpc-middleware/logging/zap"
	grpc_retry "github.com/grpc-ecosystem/go-grpc-middleware/retry"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"

	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/credentials"
	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/logging"
)

type dialOptions struct {
	timeout     time.Duration
	retries     uint
	debug       bool
	interceptor grpc.UnaryClientInterceptor
	grpcOpts    []grpc.DialOption
}

// DialOption configures Dial.
type DialOption interface {
	apply(*dialOptions)
}

type funcDialOption struct {
	f func(*dialOptions)
}

func (fdo *funcDialOption) apply(do *dialOptions) {
	fdo.f(do)
}

func newFuncDialOption(f func(*dialOptions)) *funcDialOption {
	return &funcDialOption{f}
}

// WithCallTimeout sets the deadline applied to calls made without one.
func WithCallTimeout(timeout time.Duration) DialOption {
	return newFuncDialOption(func(do *dialOptions) {
		do.timeout = timeout
	})
}

// WithRetries retries calls that fail with codes.Unavailable up to n more times.
func WithRetries(n uint) DialOption {
	return newFuncDialOption(func(do *dialOptions) {
		do.retries = n
	})
}

// WithDebug logs every call, not only failures.
func WithDebug() DialOption {
	return newFuncDialOption(func(do *dialOptions) {
		do.debug = true
	})
}

// WithUnaryClientInterceptor adds an interceptor after the default chain.
func WithUnaryClientInterceptor(interceptor grpc.UnaryClientInterceptor) DialOption {
	return newFuncDialOption(func(do *dialOptions) {
		do.interceptor = interceptor
	})
}

// WithGRPCDialOptions passes raw gRPC options through.
func WithGRPCDialOptions(opts ...grpc.DialOption) DialOption {
	return newFuncDialOption(func(do *dialOptions) {
		do.grpcOpts = append(do.grpcOpts, opts...)
	})
}

// Dial creates a client connection to target secured by cred. The connection is established
// lazily on the first call.
func Dial(ctx context.Context, target string, cred *credentials.TransportCredential, logger logging.Logger, opts ...DialOption) (*grpc.ClientConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var dOpts dialOptions
	for _, opt := range opts {
		opt.apply(&dOpts)
	}

	grpcLogger := logger.Desugar()
	if !(dOpts.debug || logging.GlobalLogLevel.Level() == zapcore.DebugLevel) {
		grpcLogger = grpcLogger.WithOptions(zap.IncreaseLevel(zap.LevelEnablerFunc(zapcore.ErrorLevel.Enabled)))
	}

	unaryInterceptors := []grpc.UnaryClientInterceptor{
		EnsureTimeoutUnaryClientInterceptor(dOpts.timeout),
		RequestIDUnaryClientInterceptor,
		logging.UnaryClientInterceptor,
		grpc_zap.UnaryClientInterceptor(grpcLogger),
		UnaryClientTracingInterceptor,
	}
	if dOpts.retries > 0 {
		unaryInterceptors = append(unaryInterceptors, grpc_retry.UnaryClientInterceptor(
			grpc_retry.WithMax(dOpts.retries+1),
			grpc_retry.WithCodes(codes.Unavailable),
			grpc_retry.WithBackoff(grpc_retry.BackoffLinear(100*time.Millisecond)),
		))
	}
	if dOpts.interceptor != nil {
		unaryInterceptors = append(unaryInterceptors, dOpts.interceptor)
	}

	dialOpts := cred.DialOptions()
	dialOpts = append(dialOpts, grpc.WithUnaryInterceptor(grpc_middleware.ChainUnaryClient(unaryInterceptors...)))
	dialOpts = append(dialOpts, dOpts.grpcOpts...)
	return grpc.NewClient(target, dialOpts...)
}
