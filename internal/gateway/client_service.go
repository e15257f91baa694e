package gateway

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/haasonsaas/agentgate/internal/control"
	"github.com/haasonsaas/agentgate/internal/rpc"
	"github.com/haasonsaas/agentgate/internal/sessions"
	"github.com/haasonsaas/agentgate/pkg/models"
)

// ClientStreamHandler implements rpc.ClientServiceServer: the five RPCs a
// frontend uses to list agents, send messages, watch events, resolve tool
// approvals, and read persisted history (spec ref: §4.3).
type ClientStreamHandler struct {
	rpc.UnimplementedClientServiceServer
	srv *Server
}

// NewClientStreamHandler builds the ClientService handler bound to srv.
func NewClientStreamHandler(srv *Server) *ClientStreamHandler {
	return &ClientStreamHandler{srv: srv}
}

// ListAgents returns every agent the gateway knows about, live connection
// state included.
func (h *ClientStreamHandler) ListAgents(ctx context.Context, _ *rpc.ListAgentsRequest) (*rpc.ListAgentsResponse, error) {
	srv := h.srv
	if srv.stores.Agents == nil {
		return &rpc.ListAgentsResponse{}, nil
	}
	records, _, err := srv.stores.Agents.List(ctx, "", 0, 0)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "list agents: %v", err)
	}

	resp := &rpc.ListAgentsResponse{Agents: make([]*rpc.AgentInfo, 0, len(records))}
	for _, a := range records {
		_, _, connected := srv.control.AgentInstance(a.ID)
		info := &rpc.AgentInfo{
			ID:           a.ID,
			Name:         a.Name,
			Backend:      a.Backend,
			WorkingDir:   a.WorkingDir,
			Capabilities: a.Capabilities,
			Connected:    connected,
			Metadata:     a.Metadata,
		}
		resp.Agents = append(resp.Agents, info)
	}
	return resp, nil
}

// SendMessage enqueues one inbound user message onto the target agent's
// outbound queue. The agent must already be connected; agentgate does not
// buffer messages for an offline agent.
func (h *ClientStreamHandler) SendMessage(ctx context.Context, req *rpc.SendMessageRequest) (*rpc.SendMessageResponse, error) {
	srv := h.srv
	if strings.TrimSpace(req.AgentID) == "" {
		return nil, status.Error(codes.InvalidArgument, "agent_id is required")
	}
	if !srv.control.IsConnected(req.AgentID) {
		return nil, status.Errorf(codes.FailedPrecondition, "agent %s is not connected", req.AgentID)
	}

	requestID := req.IdempotencyKey
	if requestID == "" {
		requestID = uuid.NewString()
	}

	frame := &rpc.ServerMessage{
		SendMessage: &rpc.SendMessage{
			RequestID:   requestID,
			ThreadID:    req.ThreadID,
			Content:     req.Content,
			Attachments: req.Attachments,
		},
	}
	if err := srv.control.SendToAgent(req.AgentID, frame); err != nil {
		if err == control.ErrBackpressured {
			return nil, status.Error(codes.ResourceExhausted, err.Error())
		}
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}

	srv.persistInboundMessage(ctx, req, requestID)

	return &rpc.SendMessageResponse{Status: "accepted", MessageID: requestID}, nil
}

// persistInboundMessage records the user's turn so GetEvents can return it
// alongside the agent's eventual reply. Failures are logged, not fatal: the
// message already reached the agent.
func (s *Server) persistInboundMessage(ctx context.Context, req *rpc.SendMessageRequest, requestID string) {
	if s.sessions == nil {
		return
	}
	session, err := s.sessions.GetOrCreate(ctx, sessions.SessionKey(req.AgentID, models.ChannelAgent, req.AgentID), req.AgentID, models.ChannelAgent, req.AgentID)
	if err != nil {
		s.logger.Warn("get or create session failed", "agent_id", req.AgentID, "error", err)
		return
	}
	msg := &models.Message{
		ID:        requestID,
		SessionID: session.ID,
		Channel:   models.ChannelAgent,
		ChannelID: req.AgentID,
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   req.Content,
	}
	if err := s.sessions.AppendMessage(ctx, session.ID, msg); err != nil {
		s.logger.Warn("append message failed", "agent_id", req.AgentID, "session_id", session.ID, "error", err)
	}
}

// StreamEvents subscribes the caller to the broadcast of agent response
// events, filtered to one agent_id.
func (h *ClientStreamHandler) StreamEvents(req *rpc.StreamEventsRequest, stream rpc.ClientService_StreamEventsServer) error {
	srv := h.srv
	ctx := stream.Context()
	events, unsubscribe := srv.control.Subscribe(ctx)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-events:
			if !ok {
				return nil
			}
			if req.AgentID != "" && env.AgentID != req.AgentID {
				continue
			}
			out := &rpc.ClientEvent{AgentID: env.AgentID, RequestID: env.RequestID, Event: env.Event}
			if err := stream.Send(out); err != nil {
				return err
			}
		}
	}
}

// ApproveTool resolves a pending tool-approval request and relays the
// decision to the agent.
func (h *ClientStreamHandler) ApproveTool(ctx context.Context, req *rpc.ApproveToolRequest) (*rpc.ApproveToolResponse, error) {
	srv := h.srv
	if strings.TrimSpace(req.AgentID) == "" || strings.TrimSpace(req.ToolID) == "" {
		return nil, status.Error(codes.InvalidArgument, "agent_id and tool_id are required")
	}

	srv.control.ResolveApproval(req.AgentID, req.ToolID, req.Approved)
	sessionKey := sessions.SessionKey(req.AgentID, models.ChannelAgent, req.AgentID)
	srv.auditLogger.LogPermissionDecision(ctx, req.Approved, "tool_call", req.ToolID, "resolve", "client decision", sessionKey)

	frame := &rpc.ServerMessage{ToolApproval: &rpc.ToolApproval{ID: req.ToolID, Approved: req.Approved}}
	if err := srv.control.SendToAgent(req.AgentID, frame); err != nil {
		return &rpc.ApproveToolResponse{Status: "resolved-agent-disconnected"}, nil
	}
	return &rpc.ApproveToolResponse{Status: "resolved"}, nil
}

// GetEvents returns the persisted conversation history for one agent.
func (h *ClientStreamHandler) GetEvents(ctx context.Context, req *rpc.GetEventsRequest) (*rpc.GetEventsResponse, error) {
	srv := h.srv
	if srv.sessions == nil {
		return &rpc.GetEventsResponse{}, nil
	}
	session, err := srv.sessions.GetByKey(ctx, sessions.SessionKey(req.AgentID, models.ChannelAgent, req.AgentID))
	if err != nil {
		// No session yet means no history yet, not a failure.
		return &rpc.GetEventsResponse{}, nil
	}

	limit := int(req.Limit)
	if limit <= 0 {
		limit = 100
	}
	history, err := srv.sessions.GetHistory(ctx, session.ID, limit)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get history: %v", err)
	}

	resp := &rpc.GetEventsResponse{Messages: make([]*rpc.PersistedMessage, 0, len(history))}
	for _, m := range history {
		resp.Messages = append(resp.Messages, &rpc.PersistedMessage{
			ID:             m.ID,
			ConversationID: m.SessionID,
			Direction:      string(m.Direction),
			Author:         string(m.Role),
			Content:        m.Content,
			CreatedAtUnix:  m.CreatedAt.Unix(),
		})
	}
	return resp, nil
}

// AuthServiceHandler implements rpc.AuthServiceServer's one unauthenticated
// RPC. It is never wrapped by the signed-request interceptor.
type AuthServiceHandler struct {
	rpc.UnimplementedAuthServiceServer
	srv *Server
}

// NewAuthServiceHandler builds the AuthService handler bound to srv.
func NewAuthServiceHandler(srv *Server) *AuthServiceHandler {
	return &AuthServiceHandler{srv: srv}
}

// SelfRegister admits a new fingerprint in exchange for the configured
// bootstrap token (spec §6).
func (h *AuthServiceHandler) SelfRegister(ctx context.Context, req *rpc.SelfRegisterRequest) (*rpc.SelfRegisterResponse, error) {
	if h.srv.auth == nil {
		return &rpc.SelfRegisterResponse{Approved: false, Reason: "bootstrap disabled"}, nil
	}
	approved, reason, err := h.srv.auth.SelfRegister(ctx, req.Fingerprint, req.AgentID, req.BootstrapToken)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "self register: %v", err)
	}
	return &rpc.SelfRegisterResponse{Approved: approved, Reason: reason}, nil
}
