package gsapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// ServiceName is the fully-qualified gRPC service name.
	ServiceName = "groundlink.gsapi.v1.GroundStationService"

	listPlansMethod  = "/" + ServiceName + "/ListPlans"
	openStreamMethod = "/" + ServiceName + "/OpenGroundStationStream"
)

// GroundStationServiceServer is the server API for the ground-station service.
type GroundStationServiceServer interface {
	ListPlans(context.Context, *ListPlansRequest) (*ListPlansResponse, error)
	OpenGroundStationStream(GroundStationStreamServer) error
}

// UnimplementedGroundStationServiceServer can be embedded for forward
// compatibility.
type UnimplementedGroundStationServiceServer struct{}

func (UnimplementedGroundStationServiceServer) ListPlans(context.Context, *ListPlansRequest) (*ListPlansResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListPlans not implemented")
}

func (UnimplementedGroundStationServiceServer) OpenGroundStationStream(GroundStationStreamServer) error {
	return status.Error(codes.Unimplemented, "method OpenGroundStationStream not implemented")
}

// GroundStationStreamServer is the server side of OpenGroundStationStream.
type GroundStationStreamServer interface {
	Send(*StreamResponse) error
	Recv() (*StreamRequest, error)
	grpc.ServerStream
}

type groundStationStreamServer struct {
	grpc.ServerStream
}

func (x *groundStationStreamServer) Send(m *StreamResponse) error {
	return x.ServerStream.SendMsg(m)
}

func (x *groundStationStreamServer) Recv() (*StreamRequest, error) {
	m := new(StreamRequest)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// GroundStationStreamClient is the client side of OpenGroundStationStream.
type GroundStationStreamClient interface {
	Send(*StreamRequest) error
	Recv() (*StreamResponse, error)
	grpc.ClientStream
}

type groundStationStreamClient struct {
	grpc.ClientStream
}

func (x *groundStationStreamClient) Send(m *StreamRequest) error {
	return x.ClientStream.SendMsg(m)
}

func (x *groundStationStreamClient) Recv() (*StreamResponse, error) {
	m := new(StreamResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func listPlansHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ListPlansRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GroundStationServiceServer).ListPlans(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: listPlansMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GroundStationServiceServer).ListPlans(ctx, req.(*ListPlansRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func openStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(GroundStationServiceServer).OpenGroundStationStream(&groundStationStreamServer{stream})
}

// ServiceDesc describes the ground-station service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GroundStationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ListPlans",
			Handler:    listPlansHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "OpenGroundStationStream",
			Handler:       openStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "groundlink/gsapi/v1/gsapi.json",
}

// RegisterGroundStationServiceServer registers srv on s.
func RegisterGroundStationServiceServer(s grpc.ServiceRegistrar, srv GroundStationServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}
