package config

import "time"

// AuthConfig controls request signing and principal admission. There is no
// login flow: every principal is a cryptographic identity admitted by
// fingerprint, matching spec.md's "single allow-list of cryptographic
// identities" model rather than the teacher's JWT/OAuth user accounts.
type AuthConfig struct {
	// Principals lists the admitted fingerprints, loaded into internal/identity
	// at startup.
	Principals []PrincipalConfig `yaml:"principals"`

	// BootstrapToken is a one-time shared secret accepted in place of a
	// signature during an agent's first self-register call, after which its
	// fingerprint is persisted and the token is no longer needed.
	BootstrapToken string `yaml:"bootstrap_token"`

	// RequestTTL bounds how old a signed request's timestamp may be before
	// it's rejected as expired (replay-window control alongside the nonce
	// cache).
	RequestTTL time.Duration `yaml:"request_ttl"`
}

// PrincipalConfig statically admits a fingerprint, ahead of any dynamic
// self-registration.
type PrincipalConfig struct {
	Fingerprint string `yaml:"fingerprint"`
	Name        string `yaml:"name"`
	Role        string `yaml:"role"`
}
