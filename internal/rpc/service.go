package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// CoordinatorServer is implemented by the coordinator process and invoked
// remotely by workers (node/stream registration) and CLI clients (query
// lifecycle, probeStat) over the control-plane service.
type CoordinatorServer interface {
	RegisterNode(ctx context.Context, req *RegisterNodeRequest) (*RegisterNodeResponse, error)
	UnregisterNode(ctx context.Context, req *UnregisterNodeRequest) (*UnregisterNodeResponse, error)
	RegisterLogicalStream(ctx context.Context, req *RegisterLogicalStreamRequest) (*RegisterLogicalStreamResponse, error)
	UnregisterLogicalStream(ctx context.Context, req *UnregisterLogicalStreamRequest) (*UnregisterLogicalStreamResponse, error)
	RegisterPhysicalStream(ctx context.Context, req *RegisterPhysicalStreamRequest) (*RegisterPhysicalStreamResponse, error)
	UnregisterPhysicalStream(ctx context.Context, req *UnregisterPhysicalStreamRequest) (*UnregisterPhysicalStreamResponse, error)
	RegisterQuery(ctx context.Context, req *RegisterQueryRequest) (*RegisterQueryResponse, error)
	StartQuery(ctx context.Context, req *StartQueryRequest) (*StartQueryResponse, error)
	StopQuery(ctx context.Context, req *StopQueryRequest) (*StopQueryResponse, error)
	UnregisterQuery(ctx context.Context, req *UnregisterQueryRequest) (*UnregisterQueryResponse, error)
	ProbeStat(ctx context.Context, req *ProbeStatRequest) (*ProbeStatResponse, error)
}

const serviceName = "nebulastream.control.Coordinator"

// unaryHandler adapts one Srv method into a grpc.MethodDesc handler, the
// same shape protoc emits for a unary RPC, without requiring a .proto
// file: Req is decoded through jsonCodec by dec, and the interceptor
// chain (if any) is honored exactly like generated code does. Shared by
// both CoordinatorServer (ServiceDesc) and WorkerServer (WorkerServiceDesc).
func unaryHandler[Srv, Req, Resp any](method func(Srv, context.Context, *Req) (*Resp, error), fullMethod string) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return method(srv.(Srv), ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, in any) (any, error) {
			return method(srv.(Srv), ctx, in.(*Req))
		}
		return interceptor(ctx, req, info, handler)
	}
}

// ServiceDesc registers a CoordinatorServer against a *grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*CoordinatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RegisterNode", Handler: unaryHandler(CoordinatorServer.RegisterNode, serviceName+"/RegisterNode")},
		{MethodName: "UnregisterNode", Handler: unaryHandler(CoordinatorServer.UnregisterNode, serviceName+"/UnregisterNode")},
		{MethodName: "RegisterLogicalStream", Handler: unaryHandler(CoordinatorServer.RegisterLogicalStream, serviceName+"/RegisterLogicalStream")},
		{MethodName: "UnregisterLogicalStream", Handler: unaryHandler(CoordinatorServer.UnregisterLogicalStream, serviceName+"/UnregisterLogicalStream")},
		{MethodName: "RegisterPhysicalStream", Handler: unaryHandler(CoordinatorServer.RegisterPhysicalStream, serviceName+"/RegisterPhysicalStream")},
		{MethodName: "UnregisterPhysicalStream", Handler: unaryHandler(CoordinatorServer.UnregisterPhysicalStream, serviceName+"/UnregisterPhysicalStream")},
		{MethodName: "RegisterQuery", Handler: unaryHandler(CoordinatorServer.RegisterQuery, serviceName+"/RegisterQuery")},
		{MethodName: "StartQuery", Handler: unaryHandler(CoordinatorServer.StartQuery, serviceName+"/StartQuery")},
		{MethodName: "StopQuery", Handler: unaryHandler(CoordinatorServer.StopQuery, serviceName+"/StopQuery")},
		{MethodName: "UnregisterQuery", Handler: unaryHandler(CoordinatorServer.UnregisterQuery, serviceName+"/UnregisterQuery")},
		{MethodName: "ProbeStat", Handler: unaryHandler(CoordinatorServer.ProbeStat, serviceName+"/ProbeStat")},
	},
	Metadata: "nebulastream/control.proto",
}
