package grpc

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/atomic"
	"go.viam.com/test"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/config"
	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/credentials"
	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/greeter"
	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/logging"
	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/testutils"
)

func TestMain(m *testing.M) {
	testutils.VerifyTestMain(m)
}

type observedCall struct {
	requestID   string
	hasDeadline bool
	debug       bool
	userAgent   string
	extra       interface{}
}

type extraKey struct{}

type fakeGreeter struct {
	mu    sync.Mutex
	calls []observedCall
}

func (fg *fakeGreeter) SayHello(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	if req.GetValue() == "panic" {
		panic("handler exploded")
	}
	_, hasDeadline := ctx.Deadline()
	md, _ := metadata.FromIncomingContext(ctx)
	fg.mu.Lock()
	fg.calls = append(fg.calls, observedCall{
		requestID:   GetRequestID(ctx),
		hasDeadline: hasDeadline,
		debug:       logging.IsDebugMode(ctx),
		userAgent:   strings.Join(md.Get("user-agent"), " "),
		extra:       ctx.Value(extraKey{}),
	})
	fg.mu.Unlock()
	return wrapperspb.String("Hello " + req.GetValue()), nil
}

func insecureCredential(t *testing.T, role config.Role) *credentials.TransportCredential {
	t.Helper()
	cred, err := credentials.Resolve(role, config.Insecure, nil)
	test.That(t, err, test.ShouldBeNil)
	return cred
}

func startServer(t *testing.T, impl greeter.GreeterServer, interceptors ...grpc.UnaryServerInterceptor) string {
	t.Helper()
	logger := logging.NewTestLogger(t)
	server := NewServer(insecureCredential(t, config.ServerRole), logger, interceptors...)
	greeter.RegisterGreeterServer(server, impl)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	test.That(t, err, test.ShouldBeNil)
	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- Serve(ctx, server, listener, logger)
	}()
	t.Cleanup(func() {
		cancel()
		test.That(t, <-serveErr, test.ShouldBeNil)
	})
	return listener.Addr().String()
}

func dial(t *testing.T, target string, opts ...DialOption) *greeter.Client {
	t.Helper()
	conn, err := Dial(context.Background(), target, insecureCredential(t, config.ClientRole), logging.NewTestLogger(t), opts...)
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, conn.Close(), test.ShouldBeNil)
	})
	return greeter.NewClient(conn)
}

func TestInterceptorChains(t *testing.T) {
	impl := &fakeGreeter{}
	addr := startServer(t, impl, func(
		ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler,
	) (interface{}, error) {
		return handler(context.WithValue(ctx, extraKey{}, info.FullMethod), req)
	})

	var sentRequestIDs []string
	client := dial(t, addr,
		WithCallTimeout(2*time.Second),
		WithDebug(),
		WithGRPCDialOptions(grpc.WithUserAgent("greeter-test")),
		WithUnaryClientInterceptor(func(
			ctx context.Context, method string, req, reply interface{},
			cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption,
		) error {
			md, _ := metadata.FromOutgoingContext(ctx)
			sentRequestIDs = append(sentRequestIDs, md.Get(RequestIDMetadataKey)...)
			return invoker(ctx, method, req, reply, cc, opts...)
		}),
	)

	reply, err := client.SayHello(context.Background(), "you")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, reply, test.ShouldEqual, "Hello you")

	_, err = client.SayHello(logging.EnableDebugMode(context.Background(), "abc"), "again")
	test.That(t, err, test.ShouldBeNil)

	test.That(t, impl.calls, test.ShouldHaveLength, 2)
	test.That(t, sentRequestIDs, test.ShouldHaveLength, 2)
	for i, call := range impl.calls {
		test.That(t, call.requestID, test.ShouldEqual, sentRequestIDs[i])
		test.That(t, call.hasDeadline, test.ShouldBeTrue)
		test.That(t, call.extra, test.ShouldEqual, greeter.SayHelloMethod)
		test.That(t, call.userAgent, test.ShouldStartWith, "greeter-test")
	}
	test.That(t, sentRequestIDs[0], test.ShouldNotEqual, sentRequestIDs[1])
	test.That(t, impl.calls[0].debug, test.ShouldBeFalse)
	test.That(t, impl.calls[1].debug, test.ShouldBeTrue)
}

func TestCallerRequestIDKept(t *testing.T) {
	impl := &fakeGreeter{}
	client := dial(t, startServer(t, impl))

	ctx := metadata.AppendToOutgoingContext(context.Background(), RequestIDMetadataKey, "fixed-id")
	_, err := client.SayHello(ctx, "you")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, impl.calls[0].requestID, test.ShouldEqual, "fixed-id")
}

func TestRecoveredPanic(t *testing.T) {
	impl := &fakeGreeter{}
	client := dial(t, startServer(t, impl))

	_, err := client.SayHello(context.Background(), "panic")
	test.That(t, status.Code(err), test.ShouldEqual, codes.Internal)
	test.That(t, err.Error(), test.ShouldContainSubstring, "handler exploded")

	reply, err := client.SayHello(context.Background(), "you")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, reply, test.ShouldEqual, "Hello you")
}

func TestRetries(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	test.That(t, err, test.ShouldBeNil)
	addr := listener.Addr().String()
	test.That(t, listener.Close(), test.ShouldBeNil)

	var attempts atomic.Int32
	countAttempts := WithUnaryClientInterceptor(func(
		ctx context.Context, method string, req, reply interface{},
		cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption,
	) error {
		attempts.Add(1)
		return invoker(ctx, method, req, reply, cc, opts...)
	})

	t.Run("without retries", func(t *testing.T) {
		attempts.Store(0)
		_, err := dial(t, addr, countAttempts).SayHello(context.Background(), "you")
		test.That(t, status.Code(err), test.ShouldEqual, codes.Unavailable)
		test.That(t, attempts.Load(), test.ShouldEqual, int32(1))
	})

	t.Run("with retries", func(t *testing.T) {
		attempts.Store(0)
		_, err := dial(t, addr, countAttempts, WithRetries(2)).SayHello(context.Background(), "you")
		test.That(t, status.Code(err), test.ShouldEqual, codes.Unavailable)
		test.That(t, attempts.Load(), test.ShouldEqual, int32(3))
	})
}

func TestDialCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Dial(ctx, "localhost:1", insecureCredential(t, config.ClientRole), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldEqual, context.Canceled)
}

func TestEnsureTimeoutUnaryServerInterceptor(t *testing.T) {
	var deadline time.Time
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		deadline, _ = ctx.Deadline()
		return nil, nil
	}

	_, err := EnsureTimeoutUnaryServerInterceptor(context.Background(), nil, &grpc.UnaryServerInfo{}, handler)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, time.Until(deadline), test.ShouldBeBetween, time.Duration(0), DefaultMethodTimeout)

	own := time.Now().Add(time.Minute)
	ctx, cancel := context.WithDeadline(context.Background(), own)
	defer cancel()
	_, err = EnsureTimeoutUnaryServerInterceptor(ctx, nil, &grpc.UnaryServerInfo{}, handler)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, deadline, test.ShouldEqual, own)
}
