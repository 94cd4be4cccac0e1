package lfpapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "lfp.v1.TrackerService"

const (
	listTrackersMethod = "/" + ServiceName + "/ListTrackers"
	getSampleMethod    = "/" + ServiceName + "/GetSample"
	toggleMethod       = "/" + ServiceName + "/Toggle"
)

// TrackerServiceServer is the read-mostly query surface over live trackers.
// Messages are protobuf well-known types so no generated code is needed.
type TrackerServiceServer interface {
	ListTrackers(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetSample(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Toggle(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
}

// RegisterTrackerServiceServer registers srv on s.
func RegisterTrackerServiceServer(s grpc.ServiceRegistrar, srv TrackerServiceServer) {
	s.RegisterService(&trackerServiceDesc, srv)
}

var trackerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TrackerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListTrackers", Handler: listTrackersHandler},
		{MethodName: "GetSample", Handler: getSampleHandler},
		{MethodName: "Toggle", Handler: toggleHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lfp/v1/tracker_service.proto",
}

func listTrackersHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TrackerServiceServer).ListTrackers(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listTrackersMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TrackerServiceServer).ListTrackers(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func getSampleHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TrackerServiceServer).GetSample(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getSampleMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TrackerServiceServer).GetSample(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func toggleHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TrackerServiceServer).Toggle(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: toggleMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TrackerServiceServer).Toggle(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// TrackerServiceClient calls a TrackerService over any client connection.
type TrackerServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewTrackerServiceClient wraps cc.
func NewTrackerServiceClient(cc grpc.ClientConnInterface) *TrackerServiceClient {
	return &TrackerServiceClient{cc: cc}
}

// ListTrackers returns every tracker's status under the "trackers" key.
func (c *TrackerServiceClient) ListTrackers(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, listTrackersMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSample returns the latest sample of the named tracker.
func (c *TrackerServiceClient) GetSample(ctx context.Context, name string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getSampleMethod, wrapperspb.String(name), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Toggle flips the named tracker and reports whether it is now on.
func (c *TrackerServiceClient) Toggle(ctx context.Context, name string, opts ...grpc.CallOption) (bool, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, toggleMethod, wrapperspb.String(name), out, opts...); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}
