package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ClientServiceName is the fully-qualified gRPC service name for frontends.
const ClientServiceName = "agentgate.ClientService"

// ClientServiceServer is implemented by the gateway.
type ClientServiceServer interface {
	ListAgents(context.Context, *ListAgentsRequest) (*ListAgentsResponse, error)
	SendMessage(context.Context, *SendMessageRequest) (*SendMessageResponse, error)
	StreamEvents(*StreamEventsRequest, ClientService_StreamEventsServer) error
	ApproveTool(context.Context, *ApproveToolRequest) (*ApproveToolResponse, error)
	GetEvents(context.Context, *GetEventsRequest) (*GetEventsResponse, error)
}

// UnimplementedClientServiceServer may be embedded for forward-compatibility.
type UnimplementedClientServiceServer struct{}

func (UnimplementedClientServiceServer) ListAgents(context.Context, *ListAgentsRequest) (*ListAgentsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListAgents not implemented")
}
func (UnimplementedClientServiceServer) SendMessage(context.Context, *SendMessageRequest) (*SendMessageResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method SendMessage not implemented")
}
func (UnimplementedClientServiceServer) StreamEvents(*StreamEventsRequest, ClientService_StreamEventsServer) error {
	return status.Error(codes.Unimplemented, "method StreamEvents not implemented")
}
func (UnimplementedClientServiceServer) ApproveTool(context.Context, *ApproveToolRequest) (*ApproveToolResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ApproveTool not implemented")
}
func (UnimplementedClientServiceServer) GetEvents(context.Context, *GetEventsRequest) (*GetEventsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetEvents not implemented")
}

// ClientService_StreamEventsServer is the server-side handle for stream_events.
type ClientService_StreamEventsServer interface {
	Send(*ClientEvent) error
	grpc.ServerStream
}

type clientServiceStreamEventsServer struct {
	grpc.ServerStream
}

func (x *clientServiceStreamEventsServer) Send(m *ClientEvent) error {
	return x.ServerStream.SendMsg(m)
}

func _ClientService_ListAgents_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListAgentsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClientServiceServer).ListAgents(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ClientServiceName + "/ListAgents"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ClientServiceServer).ListAgents(ctx, req.(*ListAgentsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ClientService_SendMessage_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SendMessageRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClientServiceServer).SendMessage(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ClientServiceName + "/SendMessage"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ClientServiceServer).SendMessage(ctx, req.(*SendMessageRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ClientService_ApproveTool_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ApproveToolRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClientServiceServer).ApproveTool(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ClientServiceName + "/ApproveTool"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ClientServiceServer).ApproveTool(ctx, req.(*ApproveToolRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ClientService_GetEvents_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetEventsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClientServiceServer).GetEvents(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ClientServiceName + "/GetEvents"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ClientServiceServer).GetEvents(ctx, req.(*GetEventsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ClientService_StreamEvents_Handler(srv any, stream grpc.ServerStream) error {
	m := new(StreamEventsRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(ClientServiceServer).StreamEvents(m, &clientServiceStreamEventsServer{stream})
}

// ClientService_ServiceDesc is the hand-rolled equivalent of what
// protoc-gen-go-grpc would emit from a client_service.proto.
var ClientService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ClientServiceName,
	HandlerType: (*ClientServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListAgents", Handler: _ClientService_ListAgents_Handler},
		{MethodName: "SendMessage", Handler: _ClientService_SendMessage_Handler},
		{MethodName: "ApproveTool", Handler: _ClientService_ApproveTool_Handler},
		{MethodName: "GetEvents", Handler: _ClientService_GetEvents_Handler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamEvents",
			Handler:       _ClientService_StreamEvents_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "agentgate/client_service.go",
}

// RegisterClientServiceServer wires srv into s under ClientServiceName.
func RegisterClientServiceServer(s grpc.ServiceRegistrar, srv ClientServiceServer) {
	s.RegisterService(&ClientService_ServiceDesc, srv)
}

// ClientServiceClient is a thin client used by CLI/test tooling.
type ClientServiceClient interface {
	ListAgents(ctx context.Context, in *ListAgentsRequest, opts ...grpc.CallOption) (*ListAgentsResponse, error)
	SendMessage(ctx context.Context, in *SendMessageRequest, opts ...grpc.CallOption) (*SendMessageResponse, error)
	StreamEvents(ctx context.Context, in *StreamEventsRequest, opts ...grpc.CallOption) (ClientService_StreamEventsClient, error)
	ApproveTool(ctx context.Context, in *ApproveToolRequest, opts ...grpc.CallOption) (*ApproveToolResponse, error)
	GetEvents(ctx context.Context, in *GetEventsRequest, opts ...grpc.CallOption) (*GetEventsResponse, error)
}

type clientServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewClientServiceClient builds a client bound to cc.
func NewClientServiceClient(cc grpc.ClientConnInterface) ClientServiceClient {
	return &clientServiceClient{cc: cc}
}

func (c *clientServiceClient) ListAgents(ctx context.Context, in *ListAgentsRequest, opts ...grpc.CallOption) (*ListAgentsResponse, error) {
	out := new(ListAgentsResponse)
	if err := c.cc.Invoke(ctx, "/"+ClientServiceName+"/ListAgents", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *clientServiceClient) SendMessage(ctx context.Context, in *SendMessageRequest, opts ...grpc.CallOption) (*SendMessageResponse, error) {
	out := new(SendMessageResponse)
	if err := c.cc.Invoke(ctx, "/"+ClientServiceName+"/SendMessage", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *clientServiceClient) ApproveTool(ctx context.Context, in *ApproveToolRequest, opts ...grpc.CallOption) (*ApproveToolResponse, error) {
	out := new(ApproveToolResponse)
	if err := c.cc.Invoke(ctx, "/"+ClientServiceName+"/ApproveTool", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *clientServiceClient) GetEvents(ctx context.Context, in *GetEventsRequest, opts ...grpc.CallOption) (*GetEventsResponse, error) {
	out := new(GetEventsResponse)
	if err := c.cc.Invoke(ctx, "/"+ClientServiceName+"/GetEvents", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *clientServiceClient) StreamEvents(ctx context.Context, in *StreamEventsRequest, opts ...grpc.CallOption) (ClientService_StreamEventsClient, error) {
	stream, err := c.cc.NewStream(ctx, &ClientService_ServiceDesc.Streams[0], "/"+ClientServiceName+"/StreamEvents", opts...)
	if err != nil {
		return nil, err
	}
	x := &clientServiceStreamEventsClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// ClientService_StreamEventsClient is the frontend-side handle for stream_events.
type ClientService_StreamEventsClient interface {
	Recv() (*ClientEvent, error)
	grpc.ClientStream
}

type clientServiceStreamEventsClient struct {
	grpc.ClientStream
}

func (x *clientServiceStreamEventsClient) Recv() (*ClientEvent, error) {
	m := new(ClientEvent)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
