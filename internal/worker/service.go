package worker

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "computesessions.v1.ComputeWorker"

// Full method names
const (
	SpawnMethod    = "/" + ServiceName + "/Spawn"
	DispatchMethod = "/" + ServiceName + "/Dispatch"
	SignalMethod   = "/" + ServiceName + "/Signal"
	FramesMethod   = "/" + ServiceName + "/Frames"
)

// ComputeWorkerServer is the server API for the ComputeWorker service.
// Messages are protobuf Structs whose fields are described on each method.
type ComputeWorkerServer interface {
	// Spawn takes {session_id} and returns {pid, path, endpoint}
	Spawn(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// Dispatch takes {pid, cells: [{exec_id, code}]}
	Dispatch(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	// Signal takes {pid, signal}
	Signal(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	// Frames takes {pid} and streams {exec_id, kind, payload}
	Frames(*structpb.Struct, grpc.ServerStream) error
}

// ServiceDesc describes the ComputeWorker service for grpc.Server.RegisterService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ComputeWorkerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Spawn",
			Handler: unaryHandler(SpawnMethod, func(s ComputeWorkerServer, ctx context.Context, in *structpb.Struct) (interface{}, error) {
				return s.Spawn(ctx, in)
			}),
		},
		{
			MethodName: "Dispatch",
			Handler: unaryHandler(DispatchMethod, func(s ComputeWorkerServer, ctx context.Context, in *structpb.Struct) (interface{}, error) {
				return s.Dispatch(ctx, in)
			}),
		},
		{
			MethodName: "Signal",
			Handler: unaryHandler(SignalMethod, func(s ComputeWorkerServer, ctx context.Context, in *structpb.Struct) (interface{}, error) {
				return s.Signal(ctx, in)
			}),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Frames",
			Handler:       framesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "computesessions/v1/worker.proto",
}

// FramesStreamDesc is the client-side descriptor of the Frames stream
var FramesStreamDesc = &ServiceDesc.Streams[0]

// RegisterComputeWorkerServer registers srv on s
func RegisterComputeWorkerServer(s grpc.ServiceRegistrar, srv ComputeWorkerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type unaryCall func(s ComputeWorkerServer, ctx context.Context, in *structpb.Struct) (interface{}, error)

func unaryHandler(fullMethod string, call unaryCall) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(ComputeWorkerServer)
		if interceptor == nil {
			return call(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(s, ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func framesHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ComputeWorkerServer).Frames(in, stream)
}
