package grpc

import (
	"context"
	"time"

	"github.com/google/uuid"
	grpc_ctxtags "github.com/grpc-ecosystem/go-grpc-middleware/tags"
	"go.opencensus.io/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// DefaultMethodTimeout is the default context timeout for all inbound and outbound greeter
// calls, only used when no deadline is set on the context.
var DefaultMethodTimeout = 10 * time.Second

// EnsureTimeoutUnaryServerInterceptor sets a default timeout on the context if one is
// not already set. To be called as the first unary server interceptor.
func EnsureTimeoutUnaryServerInterceptor(ctx context.Context, req interface{},
	info *grpc.UnaryServerInfo, handler grpc.UnaryHandler,
) (interface{}, error) {
	if _, deadlineSet := ctx.Deadline(); !deadlineSet {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultMethodTimeout)
		defer cancel()
	}

	return handler(ctx, req)
}

// EnsureTimeoutUnaryClientInterceptor returns an interceptor that sets timeout on the context
// of an outbound call if no deadline is set. A non-positive timeout uses DefaultMethodTimeout.
func EnsureTimeoutUnaryClientInterceptor(timeout time.Duration) grpc.UnaryClientInterceptor {
	if timeout <= 0 {
		timeout = DefaultMethodTimeout
	}
	return func(
		ctx context.Context,
		method string, req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		if _, deadlineSet := ctx.Deadline(); !deadlineSet {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// The following code is for appending/extracting a request ID via grpc metadata so that client
// and server logs of the same call can be matched.
type requestIDKeyType int

const requestIDKeyID = requestIDKeyType(iota)

// RequestIDMetadataKey carries the request ID of a call.
const RequestIDMetadataKey = "x-request-id"

// GetRequestID returns the request ID (if any) of the call being served.
func GetRequestID(ctx context.Context) string {
	valI := ctx.Value(requestIDKeyID)
	if val, ok := valI.(string); ok {
		return val
	}

	return ""
}

// RequestIDUnaryClientInterceptor adds a fresh request ID to any outgoing unary gRPC request
// that does not already carry one.
func RequestIDUnaryClientInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if md, ok := metadata.FromOutgoingContext(ctx); !ok || len(md.Get(RequestIDMetadataKey)) == 0 {
		ctx = metadata.AppendToOutgoingContext(ctx, RequestIDMetadataKey, uuid.NewString())
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

// RequestIDUnaryServerInterceptor checks the incoming RPC metadata for a request ID and attaches
// it to the context, where it can be retrieved with `GetRequestID`, and to the request tags.
func RequestIDUnaryServerInterceptor(
	ctx context.Context,
	req interface{},
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (interface{}, error) {
	meta, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return handler(ctx, req)
	}

	values := meta.Get(RequestIDMetadataKey)
	if len(values) == 1 {
		ctx = context.WithValue(ctx, requestIDKeyID, values[0])
		grpc_ctxtags.Extract(ctx).Set("request.id", values[0])
	}

	return handler(ctx, req)
}

// UnaryServerTracingInterceptor starts a span for every handled call.
func UnaryServerTracingInterceptor(
	ctx context.Context,
	req interface{},
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (interface{}, error) {
	ctx, span := trace.StartSpan(ctx, "server::"+info.FullMethod, trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	resp, err := handler(ctx, req)
	setSpanStatus(span, err)
	return resp, err
}

// UnaryClientTracingInterceptor starts a span for every outbound call.
func UnaryClientTracingInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	ctx, span := trace.StartSpan(ctx, "client::"+method, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	err := invoker(ctx, method, req, reply, cc, opts...)
	setSpanStatus(span, err)
	return err
}

func setSpanStatus(span *trace.Span, err error) {
	if err == nil {
		return
	}
	s := status.Convert(err)
	span.SetStatus(trace.Status{Code: int32(s.Code()), Message: s.Message()})
}
