// Package main provides the agentgate agent process: it dials a gateway,
// drives an internal/agent.Runtime behind internal/agentruntime.Client, and
// serves turns the gateway forwards to it over agent_stream.
//
// Usage:
//
//	agentgate-agent --gateway-addr localhost:9090 --agent-id my-agent --key ~/.agentgate/agent.key
//
// Configuration can also be provided via config file or environment variables.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	goruntime "runtime"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentgate/internal/agent"
	"github.com/haasonsaas/agentgate/internal/agent/providers"
	"github.com/haasonsaas/agentgate/internal/agentruntime"
	"github.com/haasonsaas/agentgate/internal/sessions"
)

// Version is set at build time.
var Version = "dev"

// Config holds agent process configuration.
type Config struct {
	// GatewayAddr is the address of the agentgate gateway.
	GatewayAddr string `json:"gateway_addr" yaml:"gateway_addr"`

	// AgentID is the unique identifier this process registers under.
	AgentID string `json:"agent_id" yaml:"agent_id"`

	// Name is the human-readable name for this agent.
	Name string `json:"name" yaml:"name"`

	// KeyPath is where this agent's ed25519 private key is stored. A new
	// key is generated and written here on first run.
	KeyPath string `json:"key_path" yaml:"key_path"`

	// BootstrapToken lets this agent self-register its key with the
	// gateway on first contact instead of requiring the fingerprint to be
	// pre-admitted via gateway config.
	BootstrapToken string `json:"bootstrap_token" yaml:"bootstrap_token"`

	// LogLevel is the logging level.
	LogLevel string `json:"log_level" yaml:"log_level"`

	// LLMProvider selects the backing model provider (anthropic, openai,
	// google, openrouter, ollama).
	LLMProvider string `json:"llm_provider" yaml:"llm_provider"`

	// LLMAPIKey authenticates against LLMProvider. Not required for ollama.
	LLMAPIKey string `json:"llm_api_key" yaml:"llm_api_key"`

	// LLMModel is the default model requested when a turn doesn't name one.
	LLMModel string `json:"llm_model" yaml:"llm_model"`

	// LLMBaseURL overrides the provider's default API endpoint.
	LLMBaseURL string `json:"llm_base_url" yaml:"llm_base_url"`

	// MaxConcurrentRequests bounds how many turns this agent runs at once.
	MaxConcurrentRequests int `json:"max_concurrent_requests" yaml:"max_concurrent_requests"`

	// WorkingDir is the directory this agent's tools resolve relative
	// paths against, and where the local project-prompt and per-agent
	// soul layers are discovered. Defaults to the process's cwd.
	WorkingDir string `json:"working_dir" yaml:"working_dir"`

	// SystemPromptPath overrides the global system prompt file (default
	// "${HOME}/.mux/system.md").
	SystemPromptPath string `json:"system_prompt_path" yaml:"system_prompt_path"`

	// SoulPath overrides the global soul file (default
	// "${HOME}/.config/coven/soul.md").
	SoulPath string `json:"soul_path" yaml:"soul_path"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	hostname, _ := os.Hostname()
	return Config{
		GatewayAddr:           "localhost:9090",
		AgentID:               hostname,
		Name:                  hostname,
		KeyPath:               defaultKeyPath(),
		LogLevel:              "info",
		LLMProvider:           "anthropic",
		MaxConcurrentRequests: 8,
	}
}

func defaultKeyPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "agentgate-agent.key"
	}
	return home + "/.agentgate/agent.key"
}

func main() {
	config := DefaultConfig()
	var configPath string
	var pairToken string

	rootCmd := &cobra.Command{
		Use:   "agentgate-agent",
		Short: "agentgate agent process",
		Long: `agentgate-agent connects to an agentgate gateway and runs agent turns
the gateway forwards to it, streaming responses back over agent_stream.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd, config, configPath, pairToken)
		},
	}

	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to agent config file")
	rootCmd.Flags().StringVar(&config.GatewayAddr, "gateway-addr", config.GatewayAddr, "agentgate gateway address")
	rootCmd.Flags().StringVar(&config.AgentID, "agent-id", config.AgentID, "Unique agent identifier")
	rootCmd.Flags().StringVar(&config.Name, "name", config.Name, "Human-readable agent name")
	rootCmd.Flags().StringVar(&config.KeyPath, "key", config.KeyPath, "Path to this agent's ed25519 private key")
	rootCmd.Flags().StringVar(&config.BootstrapToken, "token", "", "Bootstrap token for self-registration")
	rootCmd.Flags().StringVar(&pairToken, "pair-token", "", "Alias for --token; also persisted by `init`")
	rootCmd.Flags().StringVar(&config.LogLevel, "log-level", config.LogLevel, "Log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&config.LLMProvider, "llm-provider", config.LLMProvider, "LLM provider (anthropic, openai, google, openrouter, ollama)")
	rootCmd.Flags().StringVar(&config.LLMAPIKey, "llm-api-key", "", "LLM provider API key")
	rootCmd.Flags().StringVar(&config.LLMModel, "llm-model", "", "Default model")
	rootCmd.Flags().StringVar(&config.LLMBaseURL, "llm-base-url", "", "Override provider API base URL")
	rootCmd.Flags().IntVar(&config.MaxConcurrentRequests, "max-concurrent", config.MaxConcurrentRequests, "Maximum concurrent turns")
	rootCmd.Flags().StringVar(&config.WorkingDir, "working-dir", config.WorkingDir, "Working directory tools resolve relative paths against")
	rootCmd.Flags().StringVar(&config.SystemPromptPath, "system-prompt-path", config.SystemPromptPath, "Path to the global system prompt file")
	rootCmd.Flags().StringVar(&config.SoulPath, "soul-path", config.SoulPath, "Path to the global soul/identity file")

	rootCmd.AddCommand(buildInitCmd(&config, &configPath, &pairToken))
	rootCmd.AddCommand(buildInstallCmd(&config, &configPath, &pairToken))
	rootCmd.AddCommand(buildUninstallCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agentgate-agent %s\n", Version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runAgent(cmd *cobra.Command, flagConfig Config, configPath string, pairToken string) error {
	base := DefaultConfig()
	if path, ok := resolveConfigPath(configPath); ok {
		fileConfig, err := loadConfig(path)
		if err != nil && !errors.Is(err, errConfigNotFound) {
			return err
		}
		if err == nil {
			base = fileConfig
		}
	}

	config, err := applyFlagOverrides(cmd, base, flagConfig, pairToken)
	if err != nil {
		return err
	}
	config = normalizeConfig(config)

	logger := newLogger(config.LogLevel)
	logger.Info("starting agentgate-agent", "version", Version, "agent_id", config.AgentID, "gateway_addr", config.GatewayAddr)

	priv, err := loadOrCreateKey(config.KeyPath)
	if err != nil {
		return fmt.Errorf("load agent key: %w", err)
	}

	provider, defaultModel, err := newProvider(config)
	if err != nil {
		return fmt.Errorf("build llm provider: %w", err)
	}

	sessionStore := sessions.NewMemoryStore()
	agentRuntime := agent.NewRuntime(provider, sessionStore)
	systemPrompt := agentruntime.BuildSystemPrompt(agentruntime.PromptOptions{
		WorkingDir:       config.WorkingDir,
		AgentID:          config.AgentID,
		SystemPromptPath: config.SystemPromptPath,
		SoulPath:         config.SoulPath,
	})
	if systemPrompt != "" {
		agentRuntime.SetSystemPrompt(systemPrompt)
	}
	backend := agentruntime.NewMuxBackend(agentRuntime, defaultModel)

	client := agentruntime.NewClient(agentruntime.Config{
		GatewayAddr:           config.GatewayAddr,
		AgentID:               config.AgentID,
		Name:                  config.Name,
		PrivateKey:            priv,
		BootstrapToken:        config.BootstrapToken,
		MaxConcurrentRequests: config.MaxConcurrentRequests,
		Metadata: map[string]string{
			"os":   goruntime.GOOS,
			"arch": goruntime.GOARCH,
		},
		Logger: logger,
	}, backend, sessionStore, logger)

	agentRuntime.SetOptions(agent.RuntimeOptions{ApprovalAwaiter: client})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return client.Run(ctx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// newProvider builds the LLM provider this agent's runtime uses to drive
// turns, from the flat --llm-* flags/config fields rather than the
// gateway's multi-provider config.LLMConfig map — one agent process runs
// one model.
func newProvider(cfg Config) (agent.LLMProvider, string, error) {
	providerID := strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	if providerID == "" {
		providerID = "anthropic"
	}

	switch providerID {
	case "anthropic":
		if cfg.LLMAPIKey == "" {
			return nil, "", errors.New("anthropic api key is required")
		}
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       cfg.LLMAPIKey,
			DefaultModel: cfg.LLMModel,
			BaseURL:      cfg.LLMBaseURL,
		})
		return p, cfg.LLMModel, err
	case "openai":
		if cfg.LLMAPIKey == "" {
			return nil, "", errors.New("openai api key is required")
		}
		return providers.NewOpenAIProvider(cfg.LLMAPIKey), cfg.LLMModel, nil
	case "google", "gemini":
		if cfg.LLMAPIKey == "" {
			return nil, "", errors.New("google api key is required")
		}
		p, err := providers.NewGoogleProvider(providers.GoogleConfig{
			APIKey:       cfg.LLMAPIKey,
			DefaultModel: cfg.LLMModel,
		})
		return p, cfg.LLMModel, err
	case "openrouter":
		if cfg.LLMAPIKey == "" {
			return nil, "", errors.New("openrouter api key is required")
		}
		p, err := providers.NewOpenRouterProvider(providers.OpenRouterConfig{
			APIKey:       cfg.LLMAPIKey,
			DefaultModel: cfg.LLMModel,
		})
		return p, cfg.LLMModel, err
	case "ollama":
		defaultModel := cfg.LLMModel
		if defaultModel == "" {
			defaultModel = "llama3"
		}
		return providers.NewOllamaProvider(providers.OllamaConfig{
			BaseURL:      cfg.LLMBaseURL,
			DefaultModel: defaultModel,
		}), defaultModel, nil
	default:
		return nil, "", fmt.Errorf("unsupported llm provider %q", providerID)
	}
}

// loadOrCreateKey reads the ed25519 private key at path, generating and
// persisting a new one on first run (TOFU: the gateway learns this agent's
// fingerprint the first time it connects, either via a pre-admitted
// principal entry or SelfRegister).
func loadOrCreateKey(path string) (ed25519.PrivateKey, error) {
	if data, err := os.ReadFile(path); err == nil {
		if len(data) != ed25519.SeedSize {
			return nil, fmt.Errorf("key file %s has unexpected length %d", path, len(data))
		}
		return ed25519.NewKeyFromSeed(data), nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if err := os.MkdirAll(dirOf(path), 0o700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(path, priv.Seed(), 0o600); err != nil {
		return nil, fmt.Errorf("write key: %w", err)
	}
	return priv, nil
}

func dirOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return "."
	}
	return path[:idx]
}
