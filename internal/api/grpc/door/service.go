package door

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "doormonitor.v1.DoorMonitorService"

	// ReportStateMethod is the full method name of ReportState.
	ReportStateMethod = "/" + ServiceName + "/ReportState"
	// GetInstanceStatusMethod is the full method name of GetInstanceStatus.
	GetInstanceStatusMethod = "/" + ServiceName + "/GetInstanceStatus"
	// TerminateInstanceMethod is the full method name of TerminateInstance.
	TerminateInstanceMethod = "/" + ServiceName + "/TerminateInstance"
)

// ServiceServer is the server API of DoorMonitorService.
type ServiceServer interface {
	ReportState(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetInstanceStatus(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
	TerminateInstance(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error)
}

// ServiceDesc describes DoorMonitorService for grpc.Server.RegisterService.
//
//nolint:gochecknoglobals // Service descriptors are package-level by convention.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ReportState",
			Handler:    reportStateHandler,
		},
		{
			MethodName: "GetInstanceStatus",
			Handler:    getInstanceStatusHandler,
		},
		{
			MethodName: "TerminateInstance",
			Handler:    terminateInstanceHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "doormonitor/v1/door_monitor.proto",
}

// Register installs the service implementation on a gRPC server.
func Register(registrar grpc.ServiceRegistrar, srv ServiceServer) {
	registrar.RegisterService(&ServiceDesc, srv)
}

func reportStateHandler(
	srv any,
	ctx context.Context, //nolint:revive // Signature is fixed by grpc.MethodHandler.
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(ServiceServer).ReportState(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ReportStateMethod,
	}

	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ServiceServer).ReportState(ctx, req.(*structpb.Struct))
	}

	return interceptor(ctx, in, info, handler)
}

func getInstanceStatusHandler(
	srv any,
	ctx context.Context, //nolint:revive // Signature is fixed by grpc.MethodHandler.
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(ServiceServer).GetInstanceStatus(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GetInstanceStatusMethod,
	}

	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ServiceServer).GetInstanceStatus(ctx, req.(*wrapperspb.StringValue))
	}

	return interceptor(ctx, in, info, handler)
}

func terminateInstanceHandler(
	srv any,
	ctx context.Context, //nolint:revive // Signature is fixed by grpc.MethodHandler.
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(ServiceServer).TerminateInstance(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: TerminateInstanceMethod,
	}

	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ServiceServer).TerminateInstance(ctx, req.(*structpb.Struct))
	}

	return interceptor(ctx, in, info, handler)
}
