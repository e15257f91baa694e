// Package control implements the dispatch fabric every agent_stream and
// client connection shares: the agent connection registry, per-agent
// outbound queues, the broadcast of agent response events to subscribed
// clients, and the pending tool-approval table. Exactly one ControlState
// exists per gateway process; nothing outside this package reaches into its
// maps directly.
package control

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/haasonsaas/agentgate/internal/rpc"
)

var (
	// ErrAlreadyConnected is returned by ConnectAgent when agent_id already
	// has a live connection.
	ErrAlreadyConnected = errors.New("agent already connected")

	// ErrNotConnected is returned when an operation targets an agent_id with
	// no live connection.
	ErrNotConnected = errors.New("agent not connected")

	// ErrBackpressured is returned by SendToAgent when the per-agent
	// outbound queue is full.
	ErrBackpressured = errors.New("agent outbound queue full")
)

// AgentConnection is the registry entry for one connected agent. outbound is
// owned by ControlState; the AgentStreamHandler only ever reads from it.
type AgentConnection struct {
	InstanceID          string
	PrincipalFingerprint string
	outbound             chan *rpc.ServerMessage
}

// AgentResponseEnvelope wraps one backend event with the routing info
// subscribers need to demultiplex a shared broadcast stream.
type AgentResponseEnvelope struct {
	AgentID   string
	RequestID string
	Event     rpc.AgentEvent
}

// pendingApproval is a single-use resolver for one outstanding tool
// approval. The channel is closed or sent to at most once.
type pendingApproval struct {
	resultCh chan bool
	once     sync.Once
}

func (p *pendingApproval) resolve(approved bool) {
	p.once.Do(func() {
		p.resultCh <- approved
		close(p.resultCh)
	})
}

// subscriber is one stream_events listener. Events are dropped, not
// blocked on, when the subscriber falls behind — the queue only tracks
// how far behind, via lagged.
type subscriber struct {
	ch     chan AgentResponseEnvelope
	lagged *int64
}

// Config controls queue sizing.
type Config struct {
	// OutboundQueueSize bounds each agent's outbound frame queue. A full
	// queue causes SendToAgent to fail with ErrBackpressured rather than
	// block the caller.
	OutboundQueueSize int

	// SubscriberQueueSize bounds each stream_events subscriber's buffer.
	// A slow subscriber is allowed to fall behind; its oldest events are
	// dropped once full rather than stalling publish.
	SubscriberQueueSize int
}

func (c Config) withDefaults() Config {
	if c.OutboundQueueSize <= 0 {
		c.OutboundQueueSize = 64
	}
	if c.SubscriberQueueSize <= 0 {
		c.SubscriberQueueSize = 256
	}
	return c
}

// ControlState is the central dispatch fabric (spec ref: §4.1). It owns the
// agent connection registry and outbound per-agent queues exclusively;
// callers reach the sockets only indirectly, through SendToAgent and the
// queue it returns from ConnectAgent.
type ControlState struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	agents map[string]*AgentConnection

	subMu       sync.Mutex
	subscribers map[int64]*subscriber
	nextSubID   int64

	approvalsMu sync.Mutex
	approvals   map[string]map[string]*pendingApproval

	inflightMu sync.Mutex
	inflight   map[string]map[string]struct{}
}

// New constructs an empty ControlState.
func New(cfg Config, logger *slog.Logger) *ControlState {
	if logger == nil {
		logger = slog.Default()
	}
	return &ControlState{
		cfg:         cfg.withDefaults(),
		logger:      logger.With("component", "control.state"),
		agents:      make(map[string]*AgentConnection),
		subscribers: make(map[int64]*subscriber),
		approvals:   make(map[string]map[string]*pendingApproval),
		inflight:    make(map[string]map[string]struct{}),
	}
}

// ConnectAgent installs a new AgentConnection for agent_id, atomically
// rejecting a second connection for an id that's already live. The returned
// channel is the outbound queue the AgentStreamHandler's pump drains.
func (s *ControlState) ConnectAgent(agentID, principalFingerprint string) (instanceID string, outbound <-chan *rpc.ServerMessage, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.agents[agentID]; exists {
		return "", nil, ErrAlreadyConnected
	}

	conn := &AgentConnection{
		InstanceID:           uuid.NewString(),
		PrincipalFingerprint: principalFingerprint,
		outbound:             make(chan *rpc.ServerMessage, s.cfg.OutboundQueueSize),
	}
	s.agents[agentID] = conn
	s.logger.Info("agent connected", "agent_id", agentID, "instance_id", conn.InstanceID)
	return conn.InstanceID, conn.outbound, nil
}

// DisconnectAgent removes agentID's entry iff its stored instance_id matches,
// so a late cleanup from a superseded connection can't evict a newer one.
func (s *ControlState) DisconnectAgent(agentID, instanceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.agents[agentID]
	if !ok || conn.InstanceID != instanceID {
		return
	}
	delete(s.agents, agentID)
	close(conn.outbound)
	s.logger.Info("agent disconnected", "agent_id", agentID, "instance_id", instanceID)

	s.rejectApprovals(agentID)
}

// IsConnected reports whether agentID currently has a live connection.
func (s *ControlState) IsConnected(agentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.agents[agentID]
	return ok
}

// SendToAgent enqueues msg onto agentID's outbound queue without blocking.
// Returns ErrNotConnected if the agent has no live connection, or
// ErrBackpressured if the queue is full.
func (s *ControlState) SendToAgent(agentID string, msg *rpc.ServerMessage) error {
	s.mu.RLock()
	conn, ok := s.agents[agentID]
	s.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}
	select {
	case conn.outbound <- msg:
		return nil
	default:
		return ErrBackpressured
	}
}

// Publish broadcasts env to every subscriber. It never blocks: a subscriber
// whose buffer is full is marked lagged and the event is dropped for it,
// since the session store remains the durable record of what happened.
//
// Publish is also where request_id lifecycle is tracked: a non-terminal
// event marks (agentID, env.RequestID) in flight, and a terminal one clears
// it, so DisconnectAgent can synthesize a terminal event for whatever was
// still outstanding when the connection dropped.
func (s *ControlState) Publish(env AgentResponseEnvelope) {
	s.trackRequest(env.AgentID, env.RequestID, env.Event.IsTerminal())

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, sub := range s.subscribers {
		select {
		case sub.ch <- env:
		default:
			*sub.lagged++
			s.logger.Warn("subscriber lagged", "agent_id", env.AgentID, "request_id", env.RequestID)
		}
	}
}

// trackRequest records or clears one agent's in-flight request_id.
func (s *ControlState) trackRequest(agentID, requestID string, terminal bool) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()

	if terminal {
		if byReq, ok := s.inflight[agentID]; ok {
			delete(byReq, requestID)
			if len(byReq) == 0 {
				delete(s.inflight, agentID)
			}
		}
		return
	}
	if s.inflight[agentID] == nil {
		s.inflight[agentID] = make(map[string]struct{})
	}
	s.inflight[agentID][requestID] = struct{}{}
}

// DrainInFlight returns and clears every request_id still outstanding for
// agentID. Called when an agent's connection drops, so the caller can
// publish a synthetic terminal event for each one instead of leaving
// subscribers waiting on a request_id that will never complete.
func (s *ControlState) DrainInFlight(agentID string) []string {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()

	byReq, ok := s.inflight[agentID]
	if !ok {
		return nil
	}
	delete(s.inflight, agentID)
	ids := make([]string, 0, len(byReq))
	for id := range byReq {
		ids = append(ids, id)
	}
	return ids
}

// Subscribe registers a new broadcast listener and returns a function to
// unregister it along with the channel to read events from. Subscribe
// itself does not filter by agent_id; callers filter the returned stream
// the way ClientStreamHandler does for stream_events.
func (s *ControlState) Subscribe(ctx context.Context) (<-chan AgentResponseEnvelope, func()) {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	lagged := new(int64)
	sub := &subscriber{ch: make(chan AgentResponseEnvelope, s.cfg.SubscriberQueueSize), lagged: lagged}
	s.subscribers[id] = sub
	s.subMu.Unlock()

	unsubscribe := func() {
		s.subMu.Lock()
		delete(s.subscribers, id)
		s.subMu.Unlock()
	}

	go func() {
		<-ctx.Done()
		unsubscribe()
	}()

	return sub.ch, unsubscribe
}

// RegisterApproval inserts a pending approval entry for (agentID, toolID)
// and returns a channel that yields exactly one bool once resolved.
func (s *ControlState) RegisterApproval(agentID, toolID string) <-chan bool {
	s.approvalsMu.Lock()
	defer s.approvalsMu.Unlock()

	if s.approvals[agentID] == nil {
		s.approvals[agentID] = make(map[string]*pendingApproval)
	}
	pending := &pendingApproval{resultCh: make(chan bool, 1)}
	s.approvals[agentID][toolID] = pending
	return pending.resultCh
}

// ResolveApproval completes the pending resolver for (agentID, toolID), if
// any, exactly once. A resolution for an absent or already-resolved entry
// is a silent no-op — the caller may have arrived late.
func (s *ControlState) ResolveApproval(agentID, toolID string, approved bool) {
	s.approvalsMu.Lock()
	byTool, ok := s.approvals[agentID]
	if !ok {
		s.approvalsMu.Unlock()
		return
	}
	pending, ok := byTool[toolID]
	if ok {
		delete(byTool, toolID)
		if len(byTool) == 0 {
			delete(s.approvals, agentID)
		}
	}
	s.approvalsMu.Unlock()

	if ok {
		pending.resolve(approved)
	}
}

// rejectApprovals resolves every pending approval for agentID as denied, so
// a caller blocked waiting on RegisterApproval's channel unblocks when the
// agent connection that would have answered it is torn down. Callers must
// hold s.mu for the duration already held by DisconnectAgent.
func (s *ControlState) rejectApprovals(agentID string) {
	s.approvalsMu.Lock()
	byTool := s.approvals[agentID]
	delete(s.approvals, agentID)
	s.approvalsMu.Unlock()

	for _, pending := range byTool {
		pending.resolve(false)
	}
}

// ConnectedAgentIDs returns a snapshot of every currently connected agent id.
func (s *ControlState) ConnectedAgentIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	return ids
}

// AgentInstance returns the instance id and principal fingerprint for a
// connected agent, or false if it isn't connected.
func (s *ControlState) AgentInstance(agentID string) (instanceID, principalFingerprint string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.agents[agentID]
	if !ok {
		return "", "", false
	}
	return conn.InstanceID, conn.PrincipalFingerprint, true
}
