package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/haasonsaas/agentgate/internal/agent"
	"github.com/haasonsaas/agentgate/internal/audit"
	"github.com/haasonsaas/agentgate/internal/auth"
	"github.com/haasonsaas/agentgate/internal/control"
	"github.com/haasonsaas/agentgate/internal/rpc"
	"github.com/haasonsaas/agentgate/internal/sessions"
	"github.com/haasonsaas/agentgate/internal/storage"
	"github.com/haasonsaas/agentgate/pkg/models"
)

// AgentStreamHandler implements rpc.AgentServiceServer: the handshake, the
// inbound demultiplexer, and the outbound pump for one agent_stream
// connection.
type AgentStreamHandler struct {
	rpc.UnimplementedAgentServiceServer
	srv *Server
}

// NewAgentStreamHandler builds the AgentService handler bound to srv.
func NewAgentStreamHandler(srv *Server) *AgentStreamHandler {
	return &AgentStreamHandler{srv: srv}
}

// AgentStream runs for the lifetime of one agent's connection: handshake,
// then the inbound/outbound loops, until either side disconnects or errors.
func (h *AgentStreamHandler) AgentStream(stream rpc.AgentService_AgentStreamServer) error {
	srv := h.srv

	first, err := stream.Recv()
	if err != nil {
		return err
	}
	if first.Register == nil {
		return status.Error(codes.FailedPrecondition, "first frame on agent_stream must be register")
	}
	reg := first.Register
	if strings.TrimSpace(reg.AgentID) == "" {
		return status.Error(codes.InvalidArgument, "register missing agent_id")
	}

	fingerprint := ""
	if principal, ok := auth.PrincipalFromContext(stream.Context()); ok && principal != nil {
		fingerprint = principal.Fingerprint
	}

	var runtimeOpts *agent.RuntimeOptions
	var approvalPolicy *agent.ApprovalPolicy
	if srv.config != nil {
		agentModel, _ := srv.agentModelForWelcome(stream.Context(), reg.AgentID)
		runtimeOpts, approvalPolicy = buildWelcomeRuntimeOptions(srv.config, agentModel, srv.toolPolicyResolver)
	}

	instanceID, outbound, err := srv.control.ConnectAgent(reg.AgentID, fingerprint)
	if err != nil {
		_ = stream.Send(&rpc.ServerMessage{RegistrationError: &rpc.RegistrationError{Reason: err.Error()}})
		return nil
	}

	if err := srv.persistAgentRegistration(stream.Context(), reg, fingerprint); err != nil {
		srv.logger.Warn("failed to persist agent registration", "agent_id", reg.AgentID, "error", err)
	}
	srv.logger.Info("agent registered", "agent_id", reg.AgentID, "instance_id", instanceID, "fingerprint", fingerprint)
	srv.auditLogger.Log(stream.Context(), &audit.Event{
		Type:    audit.EventAgentStartup,
		Level:   audit.LevelInfo,
		AgentID: reg.AgentID,
		Action:  "agent_connected",
		Details: map[string]any{"instance_id": instanceID, "fingerprint": fingerprint},
	})

	welcome := &rpc.ServerMessage{
		Welcome: &rpc.Welcome{
			ServerID:       srv.serverID(),
			AgentID:        reg.AgentID,
			InstanceID:     instanceID,
			AvailableTools: srv.packToolDefinitions(),
			ToolPolicy:     srv.toolPolicyForAgent(stream.Context(), reg.AgentID),
			RuntimeOptions: runtimeOpts,
			ApprovalPolicy: approvalPolicy,
		},
	}
	if err := stream.Send(welcome); err != nil {
		srv.control.DisconnectAgent(reg.AgentID, instanceID)
		return err
	}

	var once sync.Once
	var firstErr error
	teardown := func(err error) {
		once.Do(func() {
			firstErr = err
			srv.control.DisconnectAgent(reg.AgentID, instanceID)
			srv.logger.Info("agent stream torn down", "agent_id", reg.AgentID, "instance_id", instanceID, "error", err)
			srv.auditLogger.Log(context.Background(), &audit.Event{
				Type:    audit.EventAgentShutdown,
				Level:   audit.LevelInfo,
				AgentID: reg.AgentID,
				Action:  "agent_disconnected",
				Details: map[string]any{"instance_id": instanceID},
			})

			for _, requestID := range srv.control.DrainInFlight(reg.AgentID) {
				srv.control.Publish(control.AgentResponseEnvelope{
					AgentID:   reg.AgentID,
					RequestID: requestID,
					Event: rpc.AgentEvent{
						Error: &rpc.ErrorEvent{Message: "agent disconnected before completing this request"},
						Done:  &rpc.DoneEvent{},
					},
				})
			}
		})
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := pumpOutbound(stream, outbound); err != nil {
			teardown(err)
		}
	}()
	go func() {
		defer wg.Done()
		teardown(srv.demultiplexAgentFrames(stream, reg.AgentID))
	}()
	wg.Wait()

	return firstErr
}

// agentModelForWelcome fetches the stored agent record used to compute this
// connection's tool policy and approval policy. A first-time connection (no
// stored record yet) returns a nil model, which buildWelcomeRuntimeOptions
// treats as "no overrides" rather than an error.
func (s *Server) agentModelForWelcome(ctx context.Context, agentID string) (*models.Agent, error) {
	if s.stores.Agents == nil {
		return nil, nil
	}
	agentModel, err := s.stores.Agents.Get(ctx, agentID)
	if err == storage.ErrNotFound {
		return nil, nil
	}
	return agentModel, err
}

// pumpOutbound drains outbound and writes each frame to stream until the
// queue is closed (by ControlState.DisconnectAgent) or a write fails.
func pumpOutbound(stream rpc.AgentService_AgentStreamServer, outbound <-chan *rpc.ServerMessage) error {
	for msg := range outbound {
		if err := stream.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

// demultiplexAgentFrames reads inbound frames until the stream ends,
// routing each to the right handler. It returns nil on a clean EOF.
func (s *Server) demultiplexAgentFrames(stream rpc.AgentService_AgentStreamServer, agentID string) error {
	for {
		msg, err := stream.Recv()
		if err != nil {
			if isStreamEOF(err) {
				return nil
			}
			return err
		}
		switch {
		case msg.Response != nil:
			s.handleAgentResponse(stream.Context(), agentID, msg.Response)
		case msg.PackToolRequest != nil:
			s.handlePackToolRequest(agentID, msg.PackToolRequest)
		default:
			s.logger.Warn("dropped unrecognized agent frame", "agent_id", agentID)
		}
	}
}

// handleAgentResponse publishes one backend event to every stream_events
// subscriber, registers a pending approval when the event asks for one, and
// persists the conversation once a request reaches a terminal event. Tool
// output is sanitized before it ever reaches a subscriber or the session
// store, since a tool can echo back whatever a misconfigured script or
// third-party API printed to stdout.
func (s *Server) handleAgentResponse(ctx context.Context, agentID string, resp *rpc.Response) {
	if tr := resp.Event.ToolResult; tr != nil {
		tr.Output = SanitizeToolResult(tr.Output)
	}

	s.auditAgentEvent(ctx, agentID, resp.Event)
	s.recordWireEvent(ctx, resp.RequestID, resp.Event)

	s.control.Publish(control.AgentResponseEnvelope{
		AgentID:   agentID,
		RequestID: resp.RequestID,
		Event:     resp.Event,
	})

	if req := resp.Event.ToolApprovalRequest; req != nil {
		s.control.RegisterApproval(agentID, req.ID)
	}

	if resp.Event.IsTerminal() {
		s.persistAgentTurn(ctx, agentID, resp)
	}
}

// auditAgentEvent records the audit-relevant subset of one wire event: a
// tool call starting or finishing. Everything else (thinking, text deltas,
// usage) carries nothing an audit trail needs.
func (s *Server) auditAgentEvent(ctx context.Context, agentID string, ev rpc.AgentEvent) {
	sessionKey := sessions.SessionKey(agentID, models.ChannelAgent, agentID)

	if tu := ev.ToolUse; tu != nil {
		s.auditLogger.LogToolInvocation(ctx, tu.Name, tu.ID, json.RawMessage(tu.InputJSON), sessionKey)
	}
	if tr := ev.ToolResult; tr != nil {
		s.auditLogger.LogToolCompletion(ctx, "", tr.ID, !tr.IsError, tr.Output, 0, sessionKey)
	}
}

// persistAgentTurn appends the finished assistant turn to the agent's
// session history. Failures are logged, not propagated: the stream_events
// broadcast already delivered the event to anyone watching live.
func (s *Server) persistAgentTurn(ctx context.Context, agentID string, resp *rpc.Response) {
	if s.sessions == nil {
		return
	}
	session, err := s.sessions.GetOrCreate(ctx, sessions.SessionKey(agentID, models.ChannelAgent, agentID), agentID, models.ChannelAgent, agentID)
	if err != nil {
		s.logger.Warn("get or create session failed", "agent_id", agentID, "error", err)
		return
	}

	content := ""
	if resp.Event.Done != nil {
		content = resp.Event.Done.FullResponse
	} else if resp.Event.Error != nil {
		content = resp.Event.Error.Message
	}

	msg := &models.Message{
		ID:        resp.RequestID,
		SessionID: session.ID,
		Channel:   models.ChannelAgent,
		ChannelID: agentID,
		Direction: models.DirectionOutbound,
		Role:      models.RoleAssistant,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := s.sessions.AppendMessage(ctx, session.ID, msg); err != nil {
		s.logger.Warn("append message failed", "agent_id", agentID, "session_id", session.ID, "error", err)
	}
}

// handlePackToolRequest answers a pack-tool call from the agent. No pack
// tools are configured yet (packToolDefinitions is empty), so every request
// comes back as an error result rather than being silently dropped.
func (s *Server) handlePackToolRequest(agentID string, req *rpc.PackToolRequest) {
	result := &rpc.ServerMessage{
		PackToolResult: &rpc.PackToolResult{
			RequestID: req.RequestID,
			Error:     "no pack tools are available from this gateway",
		},
	}
	if err := s.control.SendToAgent(agentID, result); err != nil {
		s.logger.Warn("pack tool result undeliverable", "agent_id", agentID, "request_id", req.RequestID, "error", err)
	}
}

// persistAgentRegistration upserts the agent's stable identity record. A
// first-time registration creates the row; a reconnect refreshes it.
func (s *Server) persistAgentRegistration(ctx context.Context, reg *rpc.Register, fingerprint string) error {
	if s.stores.Agents == nil {
		return nil
	}
	existing, err := s.stores.Agents.Get(ctx, reg.AgentID)
	if err != nil && err != storage.ErrNotFound {
		return err
	}

	now := time.Now()
	record := &models.Agent{
		ID:           reg.AgentID,
		Name:         reg.Name,
		Backend:      "mux",
		Capabilities: reg.Capabilities,
		Metadata:     reg.Metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if existing != nil {
		record.CreatedAt = existing.CreatedAt
		record.Model = existing.Model
		record.Provider = existing.Provider
		record.SystemPrompt = existing.SystemPrompt
		record.Config = existing.Config
		record.WorkingDir = existing.WorkingDir
		if record.Backend == "" {
			record.Backend = existing.Backend
		}
		return s.stores.Agents.Update(ctx, record)
	}
	record.Model = s.defaultModel
	return s.stores.Agents.Create(ctx, record)
}

// serverID is the identity this gateway instance reports in Welcome.
func (s *Server) serverID() string {
	if s.config != nil && strings.TrimSpace(s.config.Server.Host) != "" {
		return s.config.Server.Host
	}
	return "agentgate"
}

// packToolDefinitions lists the gateway-hosted pack tools advertised to a
// connecting agent. None are wired yet; every tool an agent can call today
// arrives through its own MCP bridge (internal/mcp), not this gateway.
func (s *Server) packToolDefinitions() []*rpc.ToolDefinition {
	return nil
}

// isStreamEOF reports whether err is the expected end of an agent's
// Recv loop: the client closed its send side, or its context was canceled.
func isStreamEOF(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return true
	}
	st, ok := status.FromError(err)
	return ok && st.Code() == codes.Canceled
}
