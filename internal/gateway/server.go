// Package gateway hosts the agentgate control plane: the AgentService and
// ClientService gRPC handlers, the signed-request auth wiring, and the
// supporting policy/observability plumbing every connection passes through.
package gateway

import (
	"context"
	"log/slog"
	"sync"

	"google.golang.org/grpc"

	"github.com/haasonsaas/agentgate/internal/agent"
	"github.com/haasonsaas/agentgate/internal/audit"
	"github.com/haasonsaas/agentgate/internal/auth"
	"github.com/haasonsaas/agentgate/internal/config"
	"github.com/haasonsaas/agentgate/internal/control"
	"github.com/haasonsaas/agentgate/internal/mcp"
	"github.com/haasonsaas/agentgate/internal/observability"
	"github.com/haasonsaas/agentgate/internal/rpc"
	"github.com/haasonsaas/agentgate/internal/sessions"
	"github.com/haasonsaas/agentgate/internal/storage"
	"github.com/haasonsaas/agentgate/internal/tools/policy"
)

// Deps are the already-constructed subsystems NewServer wires together.
// Callers (cmd/agentgate-gateway) own construction order and lifecycle of
// each of these; Server only holds references.
type Deps struct {
	Config       *config.Config
	Logger       *slog.Logger
	Sessions     sessions.Store
	Stores       storage.StoreSet
	Control      *control.ControlState
	Auth         *auth.Service
	LLMProvider  agent.LLMProvider
	DefaultModel string
	MCPManager   *mcp.Manager
	EventStore   *observability.MemoryEventStore
	Tracer       *observability.Tracer
}

// Server is the gateway process's shared state: every handler (AgentStream,
// ClientService, the embedded AuthService) reaches its dependencies through
// one of these.
type Server struct {
	config       *config.Config
	logger       *slog.Logger
	sessions     sessions.Store
	stores       storage.StoreSet
	control      *control.ControlState
	auth         *auth.Service
	llmProvider  agent.LLMProvider
	defaultModel string
	mcpManager   *mcp.Manager

	eventStore    *observability.MemoryEventStore
	eventRecorder *observability.EventRecorder
	tracer        *observability.Tracer

	toolPolicyResolver *policy.Resolver
	auditLogger        *audit.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewServer assembles a Server from deps, filling in defaults for anything
// left nil so tests can construct a minimal Server without standing up the
// full observability stack.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	eventStore := deps.EventStore
	if eventStore == nil {
		eventStore = observability.NewMemoryEventStore(1000)
	}

	auditCfg := audit.DefaultConfig()
	if deps.Config != nil {
		auditCfg = deps.Config.Audit.ToAuditConfig()
	}
	auditLogger, err := audit.NewLogger(auditCfg)
	if err != nil {
		logger.Warn("audit logger disabled: failed to open output", "error", err)
		auditLogger, _ = audit.NewLogger(audit.Config{Enabled: false})
	}

	s := &Server{
		config:       deps.Config,
		logger:       logger.With("component", "gateway.server"),
		sessions:     deps.Sessions,
		stores:       deps.Stores,
		control:      deps.Control,
		auth:         deps.Auth,
		llmProvider:  deps.LLMProvider,
		defaultModel: deps.DefaultModel,
		mcpManager:   deps.MCPManager,
		eventStore:   eventStore,
		eventRecorder: observability.NewEventRecorder(eventStore, observability.NewLogger(observability.LogConfig{})),
		tracer:       deps.Tracer,

		toolPolicyResolver: policy.NewResolver(),
		auditLogger:        auditLogger,
	}

	if s.control == nil {
		s.control = control.New(control.Config{}, logger)
	}

	s.auditLogger.Log(context.Background(), &audit.Event{
		Type:   audit.EventGatewayStartup,
		Level:  audit.LevelInfo,
		Action: "gateway_startup",
	})

	s.registerMCPSamplingHandler()
	return s
}

// Shutdown broadcasts a Shutdown frame to every connected agent, then
// cancels any background work the server started and waits for it to
// finish. Broadcasting first gives agents a chance to see the frame before
// their stream's outbound queue is torn down by the eventual disconnect.
func (s *Server) Shutdown() {
	if s.control != nil {
		msg := &rpc.ServerMessage{Shutdown: &rpc.Shutdown{Reason: "gateway shutting down"}}
		for _, agentID := range s.control.ConnectedAgentIDs() {
			if err := s.control.SendToAgent(agentID, msg); err != nil {
				s.logger.Warn("shutdown broadcast undeliverable", "agent_id", agentID, "error", err)
			}
		}
	}
	if s.auditLogger != nil {
		s.auditLogger.Log(context.Background(), &audit.Event{
			Type:   audit.EventGatewayShutdown,
			Level:  audit.LevelInfo,
			Action: "gateway_shutdown",
		})
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if s.auditLogger != nil {
		_ = s.auditLogger.Close()
	}
}

// RegisterGRPC wires the AgentService, ClientService, and AuthService
// handlers into registrar. Callers apply the signed-request interceptors
// (internal/auth.UnaryInterceptor/StreamInterceptor, exempting
// AuthService/SelfRegister) when constructing registrar, not here.
func (s *Server) RegisterGRPC(registrar grpc.ServiceRegistrar) {
	rpc.RegisterAgentServiceServer(registrar, NewAgentStreamHandler(s))
	rpc.RegisterClientServiceServer(registrar, NewClientStreamHandler(s))
	rpc.RegisterAuthServiceServer(registrar, NewAuthServiceHandler(s))
}
