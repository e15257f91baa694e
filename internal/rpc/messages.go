// Package rpc defines the agentgate wire schema: the AgentMessage/ServerMessage
// frame families exchanged over the agent_stream RPC (spec ref: §6) and the
// ClientService request/response types, plus a hand-rolled grpc.ServiceDesc
// pair so the schema can ride google.golang.org/grpc without protoc-generated
// code. Types are plain Go structs with a JSON codec (see codec.go) standing
// in for the wire-format proto definitions spec.md treats as "only their
// semantics" being in scope.
package rpc

import (
	"github.com/haasonsaas/agentgate/internal/agent"
	"github.com/haasonsaas/agentgate/internal/tools/policy"
)

// Register is the first frame an agent must send on agent_stream.
type Register struct {
	AgentID          string            `json:"agent_id"`
	Name             string            `json:"name"`
	Capabilities     []string          `json:"capabilities,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	ProtocolFeatures []string          `json:"protocol_features,omitempty"`
}

// Response carries one backend event for request_id back to the gateway.
type Response struct {
	RequestID string     `json:"request_id"`
	Event     AgentEvent `json:"event"`
}

// PackToolRequest proxies a tool invocation from the agent up to the gateway.
type PackToolRequest struct {
	RequestID string `json:"request_id"`
	ToolName  string `json:"tool_name"`
	InputJSON string `json:"input_json"`
}

// AgentMessage is the agent→server frame oneof. Exactly one field is set.
type AgentMessage struct {
	Register        *Register        `json:"register,omitempty"`
	Response        *Response        `json:"response,omitempty"`
	PackToolRequest *PackToolRequest `json:"pack_tool_request,omitempty"`
}

// Attachment describes a file carried alongside a SendMessage or a ToolUse.
type Attachment struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	MimeType string `json:"mime_type,omitempty"`
}

// ToolDefinition describes a gateway pack tool advertised to an agent in Welcome.
type ToolDefinition struct {
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	InputSchemaJSON string `json:"input_schema_json,omitempty"`
}

// Welcome is emitted once the handshake completes successfully.
type Welcome struct {
	ServerID       string            `json:"server_id"`
	AgentID        string            `json:"agent_id"`
	InstanceID     string            `json:"instance_id"`
	Secrets        map[string]string `json:"secrets,omitempty"`
	MCPEndpoint    string            `json:"mcp_endpoint,omitempty"`
	MCPToken       string            `json:"mcp_token,omitempty"`
	AvailableTools []*ToolDefinition `json:"available_tools,omitempty"`
	ToolPolicy     *policy.Policy    `json:"tool_policy,omitempty"`

	// RuntimeOptions carries this connection's tool-execution knobs (limits,
	// timeouts, result guarding). Fields with no wire meaning on
	// agent.RuntimeOptions (ApprovalChecker, ApprovalAwaiter, JobStore,
	// Logger) travel as null and are left for the agent process to fill in
	// locally.
	RuntimeOptions *agent.RuntimeOptions `json:"runtime_options,omitempty"`

	// ApprovalPolicy is this agent's effective tool-approval policy, already
	// merged from gateway config and this agent's stored overrides.
	ApprovalPolicy *agent.ApprovalPolicy `json:"approval_policy,omitempty"`
}

// RegistrationError rejects a Register whose agent_id is already connected.
type RegistrationError struct {
	Reason string `json:"reason"`
}

// SendMessage delivers one inbound user message to the agent.
type SendMessage struct {
	RequestID   string        `json:"request_id"`
	ThreadID    string        `json:"thread_id"`
	Sender      string        `json:"sender,omitempty"`
	Content     string        `json:"content"`
	Attachments []*Attachment `json:"attachments,omitempty"`
}

// ToolApproval resolves a pending ToolApprovalRequest.
type ToolApproval struct {
	ID       string `json:"id"`
	Approved bool   `json:"approved"`
}

// PackToolResult answers a PackToolRequest. Exactly one of OKJSON/Error is set.
type PackToolResult struct {
	RequestID string `json:"request_id"`
	OKJSON    string `json:"ok_json,omitempty"`
	Error     string `json:"error,omitempty"`
}

// InjectContext pushes out-of-band context into a running session.
type InjectContext struct {
	InjectionID string `json:"injection_id"`
	Content     string `json:"content"`
	Source      string `json:"source,omitempty"`
}

// CancelRequest asks the agent to abandon an in-flight request_id.
type CancelRequest struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"reason,omitempty"`
}

// Shutdown asks the agent to flush and disconnect gracefully.
type Shutdown struct {
	Reason string `json:"reason,omitempty"`
}

// ServerMessage is the server→agent frame oneof. Exactly one field is set.
type ServerMessage struct {
	Welcome            *Welcome            `json:"welcome,omitempty"`
	RegistrationError  *RegistrationError  `json:"registration_error,omitempty"`
	SendMessage        *SendMessage        `json:"send_message,omitempty"`
	ToolApproval       *ToolApproval       `json:"tool_approval,omitempty"`
	PackToolResult     *PackToolResult     `json:"pack_tool_result,omitempty"`
	InjectContext      *InjectContext      `json:"inject_context,omitempty"`
	CancelRequest      *CancelRequest      `json:"cancel_request,omitempty"`
	Shutdown           *Shutdown           `json:"shutdown,omitempty"`
}

// --- AgentEvent: the Response event oneof (spec §6) ---

type ThinkingEvent struct{}

type TextEvent struct {
	Delta string `json:"delta"`
}

type ToolUseEvent struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	InputJSON string `json:"input_json"`
}

type ToolResultEvent struct {
	ID      string `json:"id"`
	Output  string `json:"output"`
	IsError bool   `json:"is_error"`
}

type ToolApprovalRequestEvent struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	InputJSON string `json:"input_json"`
}

type SessionInitEvent struct {
	SessionID string `json:"session_id"`
}

type SessionOrphanedEvent struct{}

type UsageEvent struct {
	InputTokens      int64 `json:"input_tokens"`
	OutputTokens     int64 `json:"output_tokens"`
	CacheReadTokens  int64 `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int64 `json:"cache_write_tokens,omitempty"`
	ThinkingTokens   int64 `json:"thinking_tokens,omitempty"`
}

type ToolStateEvent struct {
	ID     string `json:"id"`
	State  string `json:"state"`
	Detail string `json:"detail,omitempty"`
}

type DoneEvent struct {
	FullResponse string `json:"full_response"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

type FileEvent struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	MimeType string `json:"mime_type,omitempty"`
}

// AgentEvent is the BackendEvent union carried inside a Response/ClientEvent.
// Exactly one field is set.
type AgentEvent struct {
	Thinking            *ThinkingEvent            `json:"thinking,omitempty"`
	Text                *TextEvent                `json:"text,omitempty"`
	ToolUse             *ToolUseEvent             `json:"tool_use,omitempty"`
	ToolResult          *ToolResultEvent          `json:"tool_result,omitempty"`
	ToolApprovalRequest *ToolApprovalRequestEvent `json:"tool_approval_request,omitempty"`
	SessionInit         *SessionInitEvent         `json:"session_init,omitempty"`
	SessionOrphaned     *SessionOrphanedEvent     `json:"session_orphaned,omitempty"`
	Usage               *UsageEvent               `json:"usage,omitempty"`
	ToolState           *ToolStateEvent           `json:"tool_state,omitempty"`
	Done                *DoneEvent                `json:"done,omitempty"`
	Error               *ErrorEvent               `json:"error,omitempty"`
	File                *FileEvent                `json:"file,omitempty"`
}

// IsTerminal reports whether the event ends a request_id's event sequence.
func (e AgentEvent) IsTerminal() bool {
	return e.Done != nil || e.SessionOrphaned != nil
}
