package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AgentServiceName is the fully-qualified gRPC service name.
const AgentServiceName = "agentgate.AgentService"

// AgentServiceServer is implemented by the gateway.
type AgentServiceServer interface {
	AgentStream(AgentService_AgentStreamServer) error
}

// UnimplementedAgentServiceServer may be embedded for forward-compatibility.
type UnimplementedAgentServiceServer struct{}

func (UnimplementedAgentServiceServer) AgentStream(AgentService_AgentStreamServer) error {
	return status.Error(codes.Unimplemented, "method AgentStream not implemented")
}

// AgentService_AgentStreamServer is the server-side handle for one
// agent_stream RPC.
type AgentService_AgentStreamServer interface {
	Send(*ServerMessage) error
	Recv() (*AgentMessage, error)
	grpc.ServerStream
}

type agentServiceAgentStreamServer struct {
	grpc.ServerStream
}

func (x *agentServiceAgentStreamServer) Send(m *ServerMessage) error {
	return x.ServerStream.SendMsg(m)
}

func (x *agentServiceAgentStreamServer) Recv() (*AgentMessage, error) {
	m := new(AgentMessage)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _AgentService_AgentStream_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(AgentServiceServer).AgentStream(&agentServiceAgentStreamServer{stream})
}

// AgentService_ServiceDesc is the hand-rolled equivalent of what
// protoc-gen-go-grpc would emit from an agent_service.proto.
var AgentService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: AgentServiceName,
	HandlerType: (*AgentServiceServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "AgentStream",
			Handler:       _AgentService_AgentStream_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "agentgate/agent_service.go",
}

// RegisterAgentServiceServer wires srv into s under AgentServiceName.
func RegisterAgentServiceServer(s grpc.ServiceRegistrar, srv AgentServiceServer) {
	s.RegisterService(&AgentService_ServiceDesc, srv)
}

// AgentServiceClient is implemented by internal/agentruntime.
type AgentServiceClient interface {
	AgentStream(ctx context.Context, opts ...grpc.CallOption) (AgentService_AgentStreamClient, error)
}

type agentServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewAgentServiceClient builds a client bound to cc.
func NewAgentServiceClient(cc grpc.ClientConnInterface) AgentServiceClient {
	return &agentServiceClient{cc: cc}
}

func (c *agentServiceClient) AgentStream(ctx context.Context, opts ...grpc.CallOption) (AgentService_AgentStreamClient, error) {
	stream, err := c.cc.NewStream(ctx, &AgentService_ServiceDesc.Streams[0], "/"+AgentServiceName+"/AgentStream", opts...)
	if err != nil {
		return nil, err
	}
	return &agentServiceAgentStreamClient{stream}, nil
}

// AgentService_AgentStreamClient is the agent-process handle for the stream.
type AgentService_AgentStreamClient interface {
	Send(*AgentMessage) error
	Recv() (*ServerMessage, error)
	grpc.ClientStream
}

type agentServiceAgentStreamClient struct {
	grpc.ClientStream
}

func (x *agentServiceAgentStreamClient) Send(m *AgentMessage) error {
	return x.ClientStream.SendMsg(m)
}

func (x *agentServiceAgentStreamClient) Recv() (*ServerMessage, error) {
	m := new(ServerMessage)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
