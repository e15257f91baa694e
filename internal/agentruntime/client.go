package agentruntime

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/haasonsaas/agentgate/internal/agent"
	"github.com/haasonsaas/agentgate/internal/auth"
	"github.com/haasonsaas/agentgate/internal/backoff"
	"github.com/haasonsaas/agentgate/internal/rpc"
	"github.com/haasonsaas/agentgate/internal/sessions"
	"github.com/haasonsaas/agentgate/internal/tools/policy"
	"github.com/haasonsaas/agentgate/pkg/models"
)

// Config configures one agent process's connection to the gateway.
type Config struct {
	// GatewayAddr is the gateway's gRPC address (e.g. "localhost:50051").
	GatewayAddr string

	// AgentID is this agent's stable identity across reconnects.
	AgentID string

	// Name is a human-readable label sent at registration.
	Name string

	Capabilities []string
	Metadata     map[string]string

	// PrivateKey signs every outgoing call (spec §4.6).
	PrivateKey ed25519.PrivateKey

	// BootstrapToken is presented to SelfRegister the first time this
	// key's fingerprint connects. Empty disables self-registration.
	BootstrapToken string

	// MaxConcurrentRequests bounds how many SendMessage turns this agent
	// processes at once, across all threads.
	MaxConcurrentRequests int

	Reconnect backoff.BackoffPolicy

	Logger *slog.Logger
}

// Client drives one agent's lifetime: dial, handshake, then the inbound
// dispatch loop, reconnecting with backoff whenever the stream drops.
// Grounded on internal/edge.Client's Connect/receiveLoop/executionLoop
// split, generalized to agentgate's Register/Welcome handshake and
// Backend-driven turn processing instead of a fixed edge-tool registry.
type Client struct {
	cfg      Config
	logger   *slog.Logger
	signer   *auth.ClientSigner
	backend  Backend
	sessions sessions.Store

	conn   *grpc.ClientConn
	stream rpc.AgentService_AgentStreamClient

	sendMu sync.Mutex // serializes stream.Send across goroutines

	mu              sync.Mutex
	threadLocks     map[string]*threadLockEntry
	pendingPackTool map[string]chan *rpc.PackToolResult
	pendingApproval map[string]chan bool
	cancels         map[string]context.CancelFunc
	sem             chan struct{}
	toolPolicy      *policy.Policy
	toolResolver    *policy.Resolver
}

// optionsSetter is implemented by backends (MuxBackend in production) that
// can have their tool-execution options updated after construction. Client
// type-asserts for it so connectAndServe can apply whatever RuntimeOptions
// and ApprovalPolicy this connection's Welcome carried without widening
// Backend's interface for every test double.
type optionsSetter interface {
	SetOptions(agent.RuntimeOptions)
}

// threadLockEntry is a refcounted per-thread mutex. waiters counts how many
// callers currently hold or are blocked acquiring mu, so releaseThreadLock
// can evict the map entry exactly when the last of them is done instead of
// letting threadLocks grow for every thread_id ever seen.
type threadLockEntry struct {
	mu      sync.Mutex
	waiters int
}

// NewClient builds a Client that will run backend turns and persist their
// session history in store.
func NewClient(cfg Config, backend Backend, store sessions.Store, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = 8
	}
	if cfg.Reconnect == (backoff.BackoffPolicy{}) {
		cfg.Reconnect = backoff.DefaultPolicy()
	}
	return &Client{
		cfg:             cfg,
		logger:          logger.With("component", "agentruntime.client", "agent_id", cfg.AgentID),
		signer:          auth.NewClientSigner(cfg.PrivateKey),
		backend:         backend,
		sessions:        store,
		threadLocks:     make(map[string]*threadLockEntry),
		pendingPackTool: make(map[string]chan *rpc.PackToolResult),
		pendingApproval: make(map[string]chan bool),
		cancels:         make(map[string]context.CancelFunc),
		sem:             make(chan struct{}, cfg.MaxConcurrentRequests),
		toolResolver:    policy.NewResolver(),
	}
}

// Run connects, handshakes, and serves the agent_stream until ctx is
// canceled, reconnecting with exponential backoff between attempts.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		attempt++
		if err := c.connectAndServe(ctx); err != nil {
			c.logger.Warn("agent stream ended", "error", err, "attempt", attempt)
		} else {
			attempt = 0
		}

		delay := backoff.ComputeBackoff(c.cfg.Reconnect, attempt)
		c.logger.Info("reconnecting", "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// connectAndServe dials once, completes the handshake (self-registering if
// the gateway doesn't yet know this key), and blocks serving the stream
// until it ends.
func (c *Client) connectAndServe(ctx context.Context) error {
	conn, err := grpc.NewClient(
		c.cfg.GatewayAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(c.signer.UnaryClientInterceptor()),
		grpc.WithChainStreamInterceptor(c.signer.StreamClientInterceptor()),
	)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	defer conn.Close() //nolint:errcheck // best-effort cleanup

	agentClient := rpc.NewAgentServiceClient(conn)
	stream, err := c.openStream(ctx, conn, agentClient)
	if err != nil {
		return err
	}
	c.conn = conn
	c.stream = stream

	return c.serve(ctx)
}

// openStream performs the Register/Welcome handshake, self-registering
// through AuthService.SelfRegister if the gateway rejects this key as
// unknown (spec §4.4).
func (c *Client) openStream(ctx context.Context, conn *grpc.ClientConn, agentClient rpc.AgentServiceClient) (rpc.AgentService_AgentStreamClient, error) {
	stream, err := agentClient.AgentStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("open agent_stream: %w", err)
	}

	register := &rpc.AgentMessage{Register: &rpc.Register{
		AgentID:      c.cfg.AgentID,
		Name:         c.cfg.Name,
		Capabilities: c.cfg.Capabilities,
		Metadata:     c.cfg.Metadata,
	}}
	if err := stream.Send(register); err != nil {
		if c.shouldSelfRegister(err) {
			return c.selfRegisterAndRetry(ctx, conn, agentClient)
		}
		return nil, fmt.Errorf("send register: %w", err)
	}

	welcome, err := stream.Recv()
	if err != nil {
		if c.shouldSelfRegister(err) {
			return c.selfRegisterAndRetry(ctx, conn, agentClient)
		}
		return nil, fmt.Errorf("recv welcome: %w", err)
	}
	if welcome.RegistrationError != nil {
		return nil, fmt.Errorf("registration rejected: %s", welcome.RegistrationError.Reason)
	}
	if welcome.Welcome == nil {
		return nil, errors.New("expected welcome frame")
	}
	c.logger.Info("registered", "server_id", welcome.Welcome.ServerID, "instance_id", welcome.Welcome.InstanceID)

	c.mu.Lock()
	c.toolPolicy = welcome.Welcome.ToolPolicy
	c.mu.Unlock()

	if setter, ok := c.backend.(optionsSetter); ok {
		if opts := welcome.Welcome.RuntimeOptions; opts != nil {
			setter.SetOptions(*opts)
		}
		if pol := welcome.Welcome.ApprovalPolicy; pol != nil {
			setter.SetOptions(agent.RuntimeOptions{ApprovalChecker: agent.NewApprovalChecker(pol)})
		}
	}

	return stream, nil
}

func (c *Client) shouldSelfRegister(err error) bool {
	return c.cfg.BootstrapToken != "" && strings.Contains(err.Error(), "unknown public key")
}

func (c *Client) selfRegisterAndRetry(ctx context.Context, conn *grpc.ClientConn, agentClient rpc.AgentServiceClient) (rpc.AgentService_AgentStreamClient, error) {
	authClient := rpc.NewAuthServiceClient(conn)
	resp, err := authClient.SelfRegister(ctx, &rpc.SelfRegisterRequest{
		Fingerprint:    c.signer.Fingerprint(),
		AgentID:        c.cfg.AgentID,
		BootstrapToken: c.cfg.BootstrapToken,
	})
	if err != nil {
		return nil, fmt.Errorf("self register: %w", err)
	}
	if !resp.Approved {
		return nil, fmt.Errorf("self register denied: %s", resp.Reason)
	}
	c.logger.Info("self registered")

	stream, err := agentClient.AgentStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("reopen agent_stream: %w", err)
	}
	if err := stream.Send(&rpc.AgentMessage{Register: &rpc.Register{
		AgentID:      c.cfg.AgentID,
		Name:         c.cfg.Name,
		Capabilities: c.cfg.Capabilities,
		Metadata:     c.cfg.Metadata,
	}}); err != nil {
		return nil, fmt.Errorf("send register after self register: %w", err)
	}
	welcome, err := stream.Recv()
	if err != nil {
		return nil, fmt.Errorf("recv welcome after self register: %w", err)
	}
	if welcome.RegistrationError != nil {
		return nil, fmt.Errorf("registration rejected after self register: %s", welcome.RegistrationError.Reason)
	}
	return stream, nil
}

// serve reads frames off the stream until it ends, dispatching each to its
// handler. It returns nil on a clean server-initiated close.
func (c *Client) serve(ctx context.Context) error {
	for {
		msg, err := c.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("recv: %w", err)
		}

		switch {
		case msg.SendMessage != nil:
			go c.handleSendMessage(ctx, msg.SendMessage)
		case msg.ToolApproval != nil:
			c.resolveToolApproval(msg.ToolApproval)
		case msg.PackToolResult != nil:
			c.resolvePackToolResult(msg.PackToolResult)
		case msg.InjectContext != nil:
			c.logger.Info("context injection received", "injection_id", msg.InjectContext.InjectionID)
		case msg.CancelRequest != nil:
			c.cancelRequest(msg.CancelRequest.RequestID)
		case msg.Shutdown != nil:
			c.logger.Info("shutdown requested", "reason", msg.Shutdown.Reason)
			return nil
		default:
			c.logger.Warn("dropped unrecognized server frame")
		}
	}
}

// handleSendMessage runs one turn through the backend and streams the
// resulting events back as Response frames, serialized per thread and
// bounded by the global concurrency semaphore.
func (c *Client) handleSendMessage(ctx context.Context, sm *rpc.SendMessage) {
	lock := c.threadLock(sm.ThreadID)
	lock.Lock()
	defer c.releaseThreadLock(sm.ThreadID)
	defer lock.Unlock()

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-c.sem }()

	turnCtx, cancel := context.WithCancel(ctx)
	c.registerCancel(sm.RequestID, cancel)
	defer c.unregisterCancel(sm.RequestID)
	defer cancel()

	c.mu.Lock()
	toolPolicy := c.toolPolicy
	c.mu.Unlock()
	if toolPolicy != nil {
		turnCtx = agent.WithToolPolicy(turnCtx, c.toolResolver, toolPolicy)
	}

	session, err := c.sessions.GetOrCreate(turnCtx, sessions.SessionKey(c.cfg.AgentID, models.ChannelAgent, sm.ThreadID), c.cfg.AgentID, models.ChannelAgent, sm.ThreadID)
	if err != nil {
		c.sendResponse(sm.RequestID, rpc.AgentEvent{Error: &rpc.ErrorEvent{Message: err.Error()}})
		return
	}

	msg := &models.Message{
		ID:        sm.RequestID,
		SessionID: session.ID,
		Channel:   models.ChannelAgent,
		ChannelID: sm.ThreadID,
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   sm.Content,
		CreatedAt: time.Now(),
	}
	if err := c.sessions.AppendMessage(turnCtx, session.ID, msg); err != nil {
		c.logger.Warn("append inbound message failed", "error", err)
	}

	events, err := c.backend.Process(turnCtx, session, msg)
	if err != nil {
		c.sendResponse(sm.RequestID, rpc.AgentEvent{Error: &rpc.ErrorEvent{Message: err.Error()}})
		return
	}
	for event := range events {
		c.sendResponse(sm.RequestID, event)
	}
}

func (c *Client) sendResponse(requestID string, event rpc.AgentEvent) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.stream.Send(&rpc.AgentMessage{Response: &rpc.Response{RequestID: requestID, Event: event}}); err != nil {
		c.logger.Warn("send response failed", "request_id", requestID, "error", err)
	}
}

// RequestPackTool implements PackToolRequester for PackToolProxy.
func (c *Client) RequestPackTool(ctx context.Context, requestID, toolName string, input json.RawMessage) (string, string, error) {
	wait := make(chan *rpc.PackToolResult, 1)
	c.mu.Lock()
	c.pendingPackTool[requestID] = wait
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pendingPackTool, requestID)
		c.mu.Unlock()
	}()

	c.sendMu.Lock()
	err := c.stream.Send(&rpc.AgentMessage{PackToolRequest: &rpc.PackToolRequest{
		RequestID: requestID,
		ToolName:  toolName,
		InputJSON: string(input),
	}})
	c.sendMu.Unlock()
	if err != nil {
		return "", "", fmt.Errorf("send pack tool request: %w", err)
	}

	select {
	case <-ctx.Done():
		return "", "", ctx.Err()
	case result := <-wait:
		return result.OKJSON, result.Error, nil
	}
}

func (c *Client) resolvePackToolResult(result *rpc.PackToolResult) {
	c.mu.Lock()
	wait, ok := c.pendingPackTool[result.RequestID]
	c.mu.Unlock()
	if !ok {
		c.logger.Warn("pack tool result for unknown request", "request_id", result.RequestID)
		return
	}
	wait <- result
}

// WaitForApproval implements agent.ApprovalAwaiter: it registers a pending
// entry for toolCallID and blocks until a ToolApproval frame for it arrives
// from the gateway or ctx is done.
func (c *Client) WaitForApproval(ctx context.Context, toolCallID string) (bool, error) {
	wait := make(chan bool, 1)
	c.mu.Lock()
	c.pendingApproval[toolCallID] = wait
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pendingApproval, toolCallID)
		c.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case approved := <-wait:
		return approved, nil
	}
}

// resolveToolApproval delivers an inbound ToolApproval frame to whatever
// WaitForApproval call is blocked on its tool call ID, if any. An approval
// for an unknown or already-resolved ID is a no-op: the waiter may have
// already timed out.
func (c *Client) resolveToolApproval(approval *rpc.ToolApproval) {
	c.mu.Lock()
	wait, ok := c.pendingApproval[approval.ID]
	c.mu.Unlock()
	if !ok {
		c.logger.Info("tool approval for unknown or expired request", "id", approval.ID, "approved", approval.Approved)
		return
	}
	select {
	case wait <- approval.Approved:
	default:
	}
}

func (c *Client) cancelRequest(requestID string) {
	c.mu.Lock()
	cancel, ok := c.cancels[requestID]
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

func (c *Client) registerCancel(requestID string, cancel context.CancelFunc) {
	c.mu.Lock()
	c.cancels[requestID] = cancel
	c.mu.Unlock()
}

func (c *Client) unregisterCancel(requestID string) {
	c.mu.Lock()
	delete(c.cancels, requestID)
	c.mu.Unlock()
}

// threadLock returns the mutex serializing turns for threadID, creating it
// on first use, and marks the caller as a waiter on it. The caller must
// pair this with releaseThreadLock once it has unlocked, or the entry will
// never be evicted from threadLocks.
func (c *Client) threadLock(threadID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.threadLocks[threadID]
	if !ok {
		entry = &threadLockEntry{}
		c.threadLocks[threadID] = entry
	}
	entry.waiters++
	return &entry.mu
}

// releaseThreadLock marks the caller as done with threadID's lock. The
// entry is removed from threadLocks only once no other task is waiting on
// it, so unused threads do not accumulate in the map.
func (c *Client) releaseThreadLock(threadID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.threadLocks[threadID]
	if !ok {
		return
	}
	entry.waiters--
	if entry.waiters <= 0 {
		delete(c.threadLocks, threadID)
	}
}
