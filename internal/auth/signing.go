// Package auth implements the signed-request scheme every RPC in agentgate
// carries (spec ref: §4.6 AuthInterceptor, §6 auth headers). There is no
// login flow: a principal is a public-key fingerprint, admitted either
// ahead of time via config or through a one-shot bootstrap-token exchange
// (SelfRegister), and every subsequent call is authenticated by an ed25519
// signature over a canonical string rather than a bearer token.
package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/agentgate/internal/identity"
)

// Metadata header names carrying the signed-request envelope (spec §6).
const (
	HeaderTimestamp = "x-auth-timestamp"
	HeaderNonce     = "x-auth-nonce"
	HeaderPublicKey = "x-auth-public-key"
	HeaderSignature = "x-auth-signature"
)

var (
	ErrMissingHeaders     = errors.New("missing signed-request headers")
	ErrMalformedTimestamp = errors.New("malformed timestamp")
	ErrClockSkew          = errors.New("timestamp outside allowed skew")
	ErrMalformedKey       = errors.New("malformed public key")
	ErrBadSignature       = errors.New("signature verification failed")

	// ErrUnknownPrincipal carries the exact substring ("unknown public
	// key") clients match on to decide whether to attempt SelfRegister
	// (spec §4.4, §4.6).
	ErrUnknownPrincipal = errors.New("unknown public key")

	ErrBadBootstrapToken = errors.New("invalid bootstrap token")
)

// CanonicalString builds the string a client signs and a server re-derives
// to verify a request: method name, Unix timestamp, and a per-request
// nonce, newline-joined (spec §4.6).
func CanonicalString(method string, timestamp time.Time, nonce string) string {
	return fmt.Sprintf("%s\n%d\n%s", method, timestamp.Unix(), nonce)
}

// Fingerprint computes a principal's identity: the base64 standard encoding
// of the SHA-256 of its raw ed25519 public key (spec §3 Principal).
func Fingerprint(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Sign signs the canonical string for method/timestamp/nonce with priv.
func Sign(priv ed25519.PrivateKey, method string, timestamp time.Time, nonce string) []byte {
	return ed25519.Sign(priv, []byte(CanonicalString(method, timestamp, nonce)))
}

// Verify checks sig against the canonical string for method/timestamp/nonce
// under pub.
func Verify(pub ed25519.PublicKey, method string, timestamp time.Time, nonce string, sig []byte) bool {
	return ed25519.Verify(pub, []byte(CanonicalString(method, timestamp, nonce)), sig)
}

// Envelope is the parsed, not-yet-verified content of one request's signed
// headers.
type Envelope struct {
	Timestamp time.Time
	Nonce     string
	PublicKey ed25519.PublicKey
	Signature []byte
}

// ParseEnvelope decodes the raw header values into an Envelope. It does not
// verify the signature or look up the fingerprint.
func ParseEnvelope(timestampHeader, nonce, publicKeyHeader, signatureHeader string) (*Envelope, error) {
	if timestampHeader == "" || nonce == "" || publicKeyHeader == "" || signatureHeader == "" {
		return nil, ErrMissingHeaders
	}
	unixSeconds, err := strconv.ParseInt(timestampHeader, 10, 64)
	if err != nil {
		return nil, ErrMalformedTimestamp
	}
	pubBytes, err := base64.StdEncoding.DecodeString(publicKeyHeader)
	if err != nil || len(pubBytes) != ed25519.PublicKeySize {
		return nil, ErrMalformedKey
	}
	sig, err := base64.StdEncoding.DecodeString(signatureHeader)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return nil, fmt.Errorf("malformed signature: %w", ErrBadSignature)
	}
	return &Envelope{
		Timestamp: time.Unix(unixSeconds, 0),
		Nonce:     strings.TrimSpace(nonce),
		PublicKey: ed25519.PublicKey(pubBytes),
		Signature: sig,
	}, nil
}

// Config controls the signed-request interceptor's tolerances and bootstrap
// admission.
type Config struct {
	// RequestTTL bounds how far a request's timestamp may drift from the
	// server's clock before it's rejected (spec §4.6 nonce policy: a
	// stateless skew window, not a dedup cache).
	RequestTTL time.Duration

	// BootstrapToken is the shared secret SelfRegister accepts in place of
	// a prior allow-list entry.
	BootstrapToken string
}

// Service verifies signed requests against the admitted-principal store and
// handles the SelfRegister bootstrap path.
type Service struct {
	principals identity.Store
	cfg        Config
}

// NewService constructs a signing verifier backed by store.
func NewService(store identity.Store, cfg Config) *Service {
	if cfg.RequestTTL <= 0 {
		cfg.RequestTTL = 60 * time.Second
	}
	return &Service{principals: store, cfg: cfg}
}

// Authenticate verifies one request's signed envelope against method, then
// resolves the signer's fingerprint to an admitted principal. now is
// injected so callers (and tests) control clock comparisons.
func (s *Service) Authenticate(ctx context.Context, method string, env *Envelope, now time.Time) (*identity.Principal, error) {
	if env == nil {
		return nil, ErrMissingHeaders
	}
	skew := now.Sub(env.Timestamp)
	if skew < 0 {
		skew = -skew
	}
	if skew > s.cfg.RequestTTL {
		return nil, ErrClockSkew
	}
	if !Verify(env.PublicKey, method, env.Timestamp, env.Nonce, env.Signature) {
		return nil, ErrBadSignature
	}

	fingerprint := Fingerprint(env.PublicKey)
	principal, err := s.principals.Get(ctx, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("lookup principal: %w", err)
	}
	if principal == nil {
		return nil, ErrUnknownPrincipal
	}
	_ = s.principals.Touch(ctx, fingerprint, now)
	return principal, nil
}

// SelfRegister admits a new fingerprint in exchange for the shared
// bootstrap token (spec §6 SelfRegister RPC). It never touches a signature:
// the token itself is the proof of authorization for this one call.
func (s *Service) SelfRegister(ctx context.Context, fingerprint, agentID string, token string) (approved bool, reason string, err error) {
	if fingerprint == "" {
		return false, "missing fingerprint", nil
	}
	if existing, lookupErr := s.principals.Get(ctx, fingerprint); lookupErr == nil && existing != nil {
		return true, "already admitted", nil
	}
	if s.cfg.BootstrapToken == "" {
		return false, "bootstrap disabled", nil
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.BootstrapToken)) != 1 {
		return false, "invalid bootstrap token", nil
	}
	name := agentID
	if name == "" {
		name = fingerprint
	}
	admitErr := s.principals.Admit(ctx, &identity.Principal{
		Fingerprint: fingerprint,
		Name:        name,
		Role:        "agent",
		AdmittedVia: "bootstrap",
	})
	if admitErr != nil && admitErr != identity.ErrAlreadyAdmitted {
		return false, "", fmt.Errorf("admit principal: %w", admitErr)
	}
	return true, "", nil
}
