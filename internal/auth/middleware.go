package auth

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/haasonsaas/agentgate/internal/identity"
)

// UnaryInterceptor verifies the signed-request envelope on every unary call
// except those in exemptMethods (full method name, e.g.
// "/agentgate.AuthService/SelfRegister" — spec §4.6 notes SelfRegister must
// never be wrapped by this interceptor, since it's how a fingerprint gets
// onto the allow-list in the first place).
func UnaryInterceptor(service *Service, logger *slog.Logger, exemptMethods ...string) grpc.UnaryServerInterceptor {
	exempt := toSet(exemptMethods)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if service == nil || exempt[info.FullMethod] {
			return handler(ctx, req)
		}
		principal, err := authenticateIncoming(ctx, service, info.FullMethod, logger)
		if err != nil {
			return nil, err
		}
		return handler(WithPrincipal(ctx, principal), req)
	}
}

// StreamInterceptor is the streaming-call analogue of UnaryInterceptor.
func StreamInterceptor(service *Service, logger *slog.Logger, exemptMethods ...string) grpc.StreamServerInterceptor {
	exempt := toSet(exemptMethods)
	return func(srv any, stream grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if service == nil || exempt[info.FullMethod] {
			return handler(srv, stream)
		}
		principal, err := authenticateIncoming(stream.Context(), service, info.FullMethod, logger)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedStream{ServerStream: stream, ctx: WithPrincipal(stream.Context(), principal)})
	}
}

func authenticateIncoming(ctx context.Context, service *Service, fullMethod string, logger *slog.Logger) (*identity.Principal, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing metadata")
	}
	env, err := ParseEnvelope(
		firstValue(md, HeaderTimestamp),
		firstValue(md, HeaderNonce),
		firstValue(md, HeaderPublicKey),
		firstValue(md, HeaderSignature),
	)
	if err != nil {
		if logger != nil {
			logger.Warn("signed request header parsing failed", "error", err, "method", fullMethod)
		}
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	principal, err := service.Authenticate(ctx, fullMethod, env, time.Now())
	if err != nil {
		if logger != nil {
			logger.Warn("signed request verification failed", "error", err, "method", fullMethod)
		}
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	return principal, nil
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context {
	return w.ctx
}

func firstValue(md metadata.MD, key string) string {
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
