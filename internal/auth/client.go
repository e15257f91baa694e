package auth

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"strconv"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// ClientSigner attaches a signed-request envelope (spec §4.6) to every
// outgoing call made with its private key. It is the agent-process-side
// counterpart to UnaryInterceptor/StreamInterceptor.
type ClientSigner struct {
	priv ed25519.PrivateKey
}

// NewClientSigner builds a signer from the agent's ed25519 private key.
func NewClientSigner(priv ed25519.PrivateKey) *ClientSigner {
	return &ClientSigner{priv: priv}
}

// Fingerprint is the identity this signer's key resolves to, matching
// Fingerprint(pub) as computed server-side.
func (s *ClientSigner) Fingerprint() string {
	pub, ok := s.priv.Public().(ed25519.PublicKey)
	if !ok {
		return ""
	}
	return Fingerprint(pub)
}

func (s *ClientSigner) sign(ctx context.Context, method string) context.Context {
	now := time.Now()
	nonce := uuid.NewString()
	pub, _ := s.priv.Public().(ed25519.PublicKey)
	sig := Sign(s.priv, method, now, nonce)

	md := metadata.New(map[string]string{
		HeaderTimestamp: strconv.FormatInt(now.Unix(), 10),
		HeaderNonce:     nonce,
		HeaderPublicKey: base64.StdEncoding.EncodeToString(pub),
		HeaderSignature: base64.StdEncoding.EncodeToString(sig),
	})
	return metadata.NewOutgoingContext(ctx, md)
}

// UnaryClientInterceptor signs every outgoing unary call.
func (s *ClientSigner) UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return invoker(s.sign(ctx, method), method, req, reply, cc, opts...)
	}
}

// StreamClientInterceptor signs the single envelope carried on a streaming
// call's initial metadata. agent_stream and stream_events are long-lived
// streams authenticated once at open time, not per-frame.
func (s *ClientSigner) StreamClientInterceptor() grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		return streamer(s.sign(ctx, method), desc, cc, method, opts...)
	}
}
