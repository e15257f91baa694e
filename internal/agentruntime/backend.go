// Package agentruntime is the agent-process side of agentgate: it dials the
// gateway's AgentService, carries the agent_stream handshake, and turns
// inbound SendMessage/ToolApproval/CancelRequest frames into calls against a
// Backend, streaming the resulting events back.
package agentruntime

import (
	"context"

	"github.com/haasonsaas/agentgate/internal/rpc"
	"github.com/haasonsaas/agentgate/pkg/models"
)

// Backend drives one conversational turn and streams the resulting events.
// MuxBackend is the production implementation, wrapping internal/agent.Runtime;
// Backend exists as an interface so Client's connection handling can be
// tested without a real LLM provider behind it.
type Backend interface {
	Process(ctx context.Context, session *models.Session, msg *models.Message) (<-chan rpc.AgentEvent, error)
}
