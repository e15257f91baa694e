// Package identity persists the allow-list of admitted principals: the
// public-key fingerprints the signed-request interceptor (internal/auth)
// trusts, keyed by fingerprint rather than by any platform-specific user id
// (spec ref: §3 Principal, §4.6 AuthInterceptor).
package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/agentgate/internal/config"
)

// Principal is a single admitted cryptographic identity. Fingerprint is the
// base64-encoded SHA-256 of the principal's ed25519 public key and is the
// only thing that makes a request authenticatable; Name and Role are
// operator-facing labels, not trust inputs.
type Principal struct {
	Fingerprint string
	Name        string
	Role        string

	// AdmittedVia records how this principal reached the allow-list:
	// "config" for entries loaded from AuthConfig.Principals, "bootstrap"
	// for ones admitted through SelfRegister with the bootstrap token.
	AdmittedVia string

	CreatedAt  time.Time
	LastSeenAt time.Time
}

// Store persists the principal allow-list.
type Store interface {
	// Admit adds a principal to the allow-list. Returns ErrAlreadyAdmitted
	// if the fingerprint is already present.
	Admit(ctx context.Context, p *Principal) error

	// Get looks up a principal by fingerprint. Returns nil, nil if absent
	// (callers distinguish "not found" from "lookup failed").
	Get(ctx context.Context, fingerprint string) (*Principal, error)

	// Touch updates LastSeenAt for a fingerprint that just authenticated
	// successfully. No-op if the fingerprint isn't admitted.
	Touch(ctx context.Context, fingerprint string, at time.Time) error

	// Remove revokes a fingerprint's admission.
	Remove(ctx context.Context, fingerprint string) error

	// List returns every admitted principal.
	List(ctx context.Context) ([]*Principal, error)
}

// ErrAlreadyAdmitted is returned by Admit for a fingerprint already on the
// allow-list.
var ErrAlreadyAdmitted = fmt.Errorf("fingerprint already admitted")

// MemoryStore is an in-memory Store, the default for single-process
// deployments and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	principals map[string]*Principal
}

// NewMemoryStore creates an empty in-memory principal store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{principals: make(map[string]*Principal)}
}

func (s *MemoryStore) Admit(ctx context.Context, p *Principal) error {
	if p == nil || p.Fingerprint == "" {
		return fmt.Errorf("principal fingerprint is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.principals[p.Fingerprint]; exists {
		return ErrAlreadyAdmitted
	}
	clone := *p
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	s.principals[p.Fingerprint] = &clone
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, fingerprint string) (*Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.principals[fingerprint]
	if !ok {
		return nil, nil
	}
	clone := *p
	return &clone, nil
}

func (s *MemoryStore) Touch(ctx context.Context, fingerprint string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[fingerprint]
	if !ok {
		return nil
	}
	p.LastSeenAt = at
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.principals, fingerprint)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Principal, 0, len(s.principals))
	for _, p := range s.principals {
		clone := *p
		out = append(out, &clone)
	}
	return out, nil
}

// SeedConfig admits a fixed set of statically-configured principals at
// startup, ignoring ones already present so repeated calls (e.g. on config
// hot-reload) are idempotent.
func SeedConfig(ctx context.Context, store Store, entries []config.PrincipalConfig) error {
	for _, entry := range entries {
		err := store.Admit(ctx, &Principal{
			Fingerprint: entry.Fingerprint,
			Name:        entry.Name,
			Role:        entry.Role,
			AdmittedVia: "config",
		})
		if err != nil && err != ErrAlreadyAdmitted {
			return fmt.Errorf("seed principal %s: %w", entry.Fingerprint, err)
		}
	}
	return nil
}
