package config

import "github.com/haasonsaas/agentgate/internal/audit"

// AuditConfig controls the gateway's structured audit trail: tool
// invocations, permission decisions, and agent lifecycle events. It is a
// thin yaml-tagged mirror of audit.Config so the root Config stays the one
// place every concern's on-disk shape lives; NewServer converts it directly.
type AuditConfig audit.Config

// ToAuditConfig converts the parsed yaml section into the audit package's
// own config type.
func (c AuditConfig) ToAuditConfig() audit.Config {
	return audit.Config(c)
}
