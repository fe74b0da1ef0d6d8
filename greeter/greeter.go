// Package greeter contains the helloworld.Greeter gRPC service: its descriptor, the server
// handler and a client.
package greeter

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Names of the service and its only method on the wire.
const (
	ServiceName    = "helloworld.Greeter"
	SayHelloMethod = "/helloworld.Greeter/SayHello"
)

// GreeterServer is the server API for the Greeter service. The request value is the name to
// greet; the response value is the greeting.
type GreeterServer interface {
	SayHello(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
}

func sayHelloHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GreeterServer).SayHello(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: SayHelloMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GreeterServer).SayHello(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is the grpc.ServiceDesc for the Greeter service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GreeterServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SayHello",
			Handler:    sayHelloHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "helloworld.proto",
}

// RegisterGreeterServer registers srv on s.
func RegisterGreeterServer(s grpc.ServiceRegistrar, srv GreeterServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls the Greeter service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient returns a Client over cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// SayHello asks the server to greet name and returns the greeting.
func (c *Client) SayHello(ctx context.Context, name string) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, SayHelloMethod, wrapperspb.String(name), out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}
