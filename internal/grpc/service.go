package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "fnbridge.v1.Runner"

const (
	methodInit  = "/" + ServiceName + "/Init"
	methodEval  = "/" + ServiceName + "/Eval"
	methodCalc  = "/" + ServiceName + "/Calc"
	methodClose = "/" + ServiceName + "/Close"
)

// RunnerServer is the server API of fnbridge.v1.Runner. Requests and
// responses are google.protobuf.Struct messages.
type RunnerServer interface {
	Init(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Eval(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Calc(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Close(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterRunnerServer registers srv on s.
func RegisterRunnerServer(s grpc.ServiceRegistrar, srv RunnerServer) {
	s.RegisterService(&runnerServiceDesc, srv)
}

func unaryHandler(method string, call func(RunnerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RunnerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(RunnerServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var runnerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RunnerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Init", Handler: unaryHandler(methodInit, RunnerServer.Init)},
		{MethodName: "Eval", Handler: unaryHandler(methodEval, RunnerServer.Eval)},
		{MethodName: "Calc", Handler: unaryHandler(methodCalc, RunnerServer.Calc)},
		{MethodName: "Close", Handler: unaryHandler(methodClose, RunnerServer.Close)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fnbridge/v1/runner.proto",
}

// RunnerClient calls fnbridge.v1.Runner.
type RunnerClient struct {
	cc grpc.ClientConnInterface
}

func NewRunnerClient(cc grpc.ClientConnInterface) *RunnerClient {
	return &RunnerClient{cc: cc}
}

func (c *RunnerClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RunnerClient) Init(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodInit, in, opts...)
}

func (c *RunnerClient) Eval(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodEval, in, opts...)
}

func (c *RunnerClient) Calc(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodCalc, in, opts...)
}

func (c *RunnerClient) Close(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodClose, in, opts...)
}
