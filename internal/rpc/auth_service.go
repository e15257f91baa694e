package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AuthServiceName is the fully-qualified gRPC service name for the one
// unauthenticated RPC in the system: SelfRegister (spec §6).
const AuthServiceName = "agentgate.AuthService"

// AuthServiceServer is implemented by the gateway. It must never be wrapped
// by the signed-request interceptor: SelfRegister is how a fingerprint gets
// onto the allow-list in the first place.
type AuthServiceServer interface {
	SelfRegister(context.Context, *SelfRegisterRequest) (*SelfRegisterResponse, error)
}

type UnimplementedAuthServiceServer struct{}

func (UnimplementedAuthServiceServer) SelfRegister(context.Context, *SelfRegisterRequest) (*SelfRegisterResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method SelfRegister not implemented")
}

func _AuthService_SelfRegister_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SelfRegisterRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuthServiceServer).SelfRegister(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + AuthServiceName + "/SelfRegister"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AuthServiceServer).SelfRegister(ctx, req.(*SelfRegisterRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var AuthService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: AuthServiceName,
	HandlerType: (*AuthServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SelfRegister", Handler: _AuthService_SelfRegister_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "agentgate/auth_service.go",
}

// RegisterAuthServiceServer wires srv into s under AuthServiceName.
func RegisterAuthServiceServer(s grpc.ServiceRegistrar, srv AuthServiceServer) {
	s.RegisterService(&AuthService_ServiceDesc, srv)
}

type AuthServiceClient interface {
	SelfRegister(ctx context.Context, in *SelfRegisterRequest, opts ...grpc.CallOption) (*SelfRegisterResponse, error)
}

type authServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewAuthServiceClient(cc grpc.ClientConnInterface) AuthServiceClient {
	return &authServiceClient{cc: cc}
}

func (c *authServiceClient) SelfRegister(ctx context.Context, in *SelfRegisterRequest, opts ...grpc.CallOption) (*SelfRegisterResponse, error) {
	out := new(SelfRegisterResponse)
	if err := c.cc.Invoke(ctx, "/"+AuthServiceName+"/SelfRegister", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
