// Package main provides the agentgate gateway: the control-plane process
// agent processes and client applications connect to. It loads config,
// assembles the storage/session/auth/control subsystems, and serves
// AgentService, ClientService, and AuthService over one gRPC listener.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/haasonsaas/agentgate/internal/agent"
	"github.com/haasonsaas/agentgate/internal/agent/providers"
	"github.com/haasonsaas/agentgate/internal/auth"
	"github.com/haasonsaas/agentgate/internal/config"
	"github.com/haasonsaas/agentgate/internal/control"
	"github.com/haasonsaas/agentgate/internal/gateway"
	"github.com/haasonsaas/agentgate/internal/identity"
	"github.com/haasonsaas/agentgate/internal/sessions"
	"github.com/haasonsaas/agentgate/internal/storage"
)

// Version is set at build time.
var Version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "agentgate-gateway",
		Short: "agentgate control-plane gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(cmd.Context(), configPath)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "config.yaml", "Path to gateway config file")
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agentgate-gateway %s\n", Version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGateway(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Logging)
	logger.Info("starting agentgate-gateway", "version", Version, "grpc_port", cfg.Server.GRPCPort)

	lock, err := gateway.AcquireEnhancedGatewayLock(gateway.LockOptions{ConfigPath: configPath})
	if err != nil {
		return fmt.Errorf("acquire gateway lock: %w", err)
	}
	if lock != nil {
		defer lock.Release()
	}

	stores, closeStores, err := buildStores(cfg)
	if err != nil {
		return fmt.Errorf("build stores: %w", err)
	}
	defer closeStores()

	sessionStore, err := buildSessionStore(cfg)
	if err != nil {
		return fmt.Errorf("build session store: %w", err)
	}

	principals := identity.NewMemoryStore()
	if err := identity.SeedConfig(ctx, principals, cfg.Auth.Principals); err != nil {
		return fmt.Errorf("seed principals: %w", err)
	}

	authService := auth.NewService(principals, auth.Config{
		RequestTTL:     cfg.Auth.RequestTTL,
		BootstrapToken: cfg.Auth.BootstrapToken,
	})

	controlState := control.New(control.Config{}, logger)

	provider, defaultModel, err := newProvider(cfg)
	if err != nil {
		return fmt.Errorf("build llm provider: %w", err)
	}

	server := gateway.NewServer(gateway.Deps{
		Config:       cfg,
		Logger:       logger,
		Sessions:     sessionStore,
		Stores:       stores,
		Control:      controlState,
		Auth:         authService,
		LLMProvider:  provider,
		DefaultModel: defaultModel,
	})
	defer server.Shutdown()

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(auth.UnaryInterceptor(authService, logger, exemptMethods...)),
		grpc.ChainStreamInterceptor(auth.StreamInterceptor(authService, logger, exemptMethods...)),
	)
	server.RegisterGRPC(grpcServer)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("serving grpc", "addr", addr)
		serveErr <- grpcServer.Serve(listener)
	}()

	select {
	case <-runCtx.Done():
		logger.Info("shutting down")
		grpcServer.GracefulStop()
		return nil
	case err := <-serveErr:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	}
}

// exemptMethods lists full gRPC method names the signed-request interceptor
// never checks. SelfRegister is how an agent gets its fingerprint admitted
// in the first place, so it can't require a signature from an admitted key.
var exemptMethods = []string{
	"/agentgate.AuthService/SelfRegister",
}

func buildStores(cfg *config.Config) (storage.StoreSet, func(), error) {
	if strings.TrimSpace(cfg.Database.URL) == "" {
		return storage.NewMemoryStores(), func() {}, nil
	}
	stores, err := storage.NewCockroachStoresFromDSN(cfg.Database.URL, &storage.CockroachConfig{
		MaxOpenConns:    cfg.Database.MaxConnections,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return storage.StoreSet{}, nil, err
	}
	return stores, func() { _ = stores.Close() }, nil
}

func buildSessionStore(cfg *config.Config) (sessions.Store, error) {
	if strings.TrimSpace(cfg.Database.URL) == "" {
		return sessions.NewMemoryStore(), nil
	}
	return sessions.NewCockroachStoreFromDSN(cfg.Database.URL, nil)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// newProvider builds the default LLM provider from config.LLM, the way a
// single agentgate deployment needs one shared provider for every agent
// whose runtime it hosts. Routing/failover/auto-discovery (all available in
// the teacher's multi-provider gateway) are out of scope for the gateway
// control plane, which only dispatches frames; provider selection happens
// once per deployment, not per request.
func newProvider(cfg *config.Config) (agent.LLMProvider, string, error) {
	providerID := strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	if providerID == "" {
		providerID = "anthropic"
	}

	providerCfg, ok := cfg.LLM.Providers[providerID]
	if !ok {
		return nil, "", fmt.Errorf("llm provider config missing for %q", providerID)
	}

	switch providerID {
	case "anthropic":
		if providerCfg.APIKey == "" {
			return nil, "", errors.New("anthropic api key is required")
		}
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       providerCfg.APIKey,
			DefaultModel: providerCfg.DefaultModel,
			BaseURL:      providerCfg.BaseURL,
		})
		return p, providerCfg.DefaultModel, err
	case "openai":
		if providerCfg.APIKey == "" {
			return nil, "", errors.New("openai api key is required")
		}
		return providers.NewOpenAIProvider(providerCfg.APIKey), providerCfg.DefaultModel, nil
	case "google", "gemini":
		if providerCfg.APIKey == "" {
			return nil, "", errors.New("google api key is required")
		}
		p, err := providers.NewGoogleProvider(providers.GoogleConfig{
			APIKey:       providerCfg.APIKey,
			DefaultModel: providerCfg.DefaultModel,
		})
		return p, providerCfg.DefaultModel, err
	case "openrouter":
		if providerCfg.APIKey == "" {
			return nil, "", errors.New("openrouter api key is required")
		}
		p, err := providers.NewOpenRouterProvider(providers.OpenRouterConfig{
			APIKey:       providerCfg.APIKey,
			DefaultModel: providerCfg.DefaultModel,
		})
		return p, providerCfg.DefaultModel, err
	case "azure":
		if providerCfg.APIKey == "" || providerCfg.BaseURL == "" {
			return nil, "", errors.New("azure api key and base_url are required")
		}
		p, err := providers.NewAzureOpenAIProvider(providers.AzureOpenAIConfig{
			Endpoint:     providerCfg.BaseURL,
			APIKey:       providerCfg.APIKey,
			APIVersion:   providerCfg.APIVersion,
			DefaultModel: providerCfg.DefaultModel,
		})
		return p, providerCfg.DefaultModel, err
	case "bedrock":
		p, err := providers.NewBedrockProvider(providers.BedrockConfig{
			Region:       cfg.LLM.Bedrock.Region,
			DefaultModel: providerCfg.DefaultModel,
		})
		return p, providerCfg.DefaultModel, err
	case "ollama":
		defaultModel := providerCfg.DefaultModel
		if defaultModel == "" {
			defaultModel = "llama3"
		}
		return providers.NewOllamaProvider(providers.OllamaConfig{
			BaseURL:      providerCfg.BaseURL,
			DefaultModel: defaultModel,
		}), defaultModel, nil
	default:
		return nil, "", fmt.Errorf("unsupported llm provider %q", providerID)
	}
}
