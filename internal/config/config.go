// Package config loads and validates the gateway's YAML configuration,
// matching the teacher's $include-resolving, json5-capable loader while
// aggregating per-concern sub-configs into a single root Config.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the root configuration for the gateway and the agent runtime.
// Each field is owned by a sibling config_*.go file; this file only
// aggregates them, applies defaults, and validates cross-field invariants.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Auth          AuthConfig          `yaml:"auth"`
	Session       SessionConfig       `yaml:"session"`
	LLM           LLMConfig           `yaml:"llm"`
	Tools         ToolsConfig         `yaml:"tools"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	Audit         AuditConfig         `yaml:"audit"`
}

// Load reads the config file at path (resolving $include directives and
// accepting YAML or JSON5), applies defaults and environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 9090
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 9091
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9092
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 10
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = time.Hour
	}
	if cfg.Auth.RequestTTL == 0 {
		cfg.Auth.RequestTTL = 60 * time.Second
	}
	if cfg.Tools.Execution.MaxIterations == 0 {
		cfg.Tools.Execution.MaxIterations = 50
	}
	if cfg.Tools.Execution.Approval.RequestTTL == 0 {
		cfg.Tools.Execution.Approval.RequestTTL = 300 * time.Second
	}
	if len(cfg.Tools.Execution.Approval.DangerousTools) == 0 {
		cfg.Tools.Execution.Approval.DangerousTools = []string{"bash", "write_file", "edit"}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// applyEnvOverrides lets deployment environments override a handful of
// security- and connectivity-sensitive fields without editing the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTGATE_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("AGENTGATE_GRPC_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.GRPCPort = p
		}
	}
	if v := os.Getenv("AGENTGATE_HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.HTTPPort = p
		}
	}
	if v := os.Getenv("AGENTGATE_METRICS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.MetricsPort = p
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("AGENTGATE_BOOTSTRAP_TOKEN"); v != "" {
		cfg.Auth.BootstrapToken = v
	}
}

// ConfigValidationError collects every validation failure found in a single
// pass, rather than stopping at the first one.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	if len(e.Issues) == 1 {
		return fmt.Sprintf("invalid config: %s", e.Issues[0])
	}
	return fmt.Sprintf("invalid config: %d issues found: %v", len(e.Issues), e.Issues)
}

func validateConfig(cfg *Config) error {
	var issues []string

	if cfg.Server.GRPCPort == cfg.Server.HTTPPort {
		issues = append(issues, "server.grpc_port and server.http_port must differ")
	}
	if cfg.Server.GRPCPort == cfg.Server.MetricsPort || cfg.Server.HTTPPort == cfg.Server.MetricsPort {
		issues = append(issues, "server.metrics_port must not collide with grpc_port or http_port")
	}
	for i, p := range cfg.Auth.Principals {
		if p.Fingerprint == "" {
			issues = append(issues, fmt.Sprintf("auth.principals[%d].fingerprint is required", i))
		}
	}
	switch cfg.Tools.Execution.Approval.DefaultDecision {
	case "", "allowed", "denied", "pending":
	default:
		issues = append(issues, "tools.execution.approval.default_decision must be allowed, denied, or pending")
	}
	if cfg.Tools.Execution.MaxIterations < 0 {
		issues = append(issues, "tools.execution.max_iterations must not be negative")
	}
	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		issues = append(issues, "logging.level must be one of debug, info, warn, error")
	}

	if len(issues) == 0 {
		return nil
	}
	return &ConfigValidationError{Issues: issues}
}
