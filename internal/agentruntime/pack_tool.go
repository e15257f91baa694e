package agentruntime

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentgate/internal/agent"
)

// PackToolRequester sends a pack-tool call up to the gateway and waits for
// its answer. Client implements this; it is its own interface so PackToolProxy
// stays testable without a live connection.
type PackToolRequester interface {
	RequestPackTool(ctx context.Context, requestID, toolName string, input json.RawMessage) (okJSON string, toolErr string, err error)
}

// PackToolProxy is an agent.Tool that forwards execution to the gateway's
// pack tools instead of running locally. The agent process registers one of
// these per tool name the gateway advertised in Welcome.AvailableTools.
type PackToolProxy struct {
	name        string
	description string
	schema      json.RawMessage
	requester   PackToolRequester
}

// NewPackToolProxy builds a proxy for one gateway-hosted tool.
func NewPackToolProxy(name, description string, schema json.RawMessage, requester PackToolRequester) *PackToolProxy {
	return &PackToolProxy{name: name, description: description, schema: schema, requester: requester}
}

func (p *PackToolProxy) Name() string           { return p.name }
func (p *PackToolProxy) Description() string     { return p.description }
func (p *PackToolProxy) Schema() json.RawMessage { return p.schema }

// Execute proxies the call to the gateway and blocks for its PackToolResult.
func (p *PackToolProxy) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	requestID := uuid.NewString()
	okJSON, toolErr, err := p.requester.RequestPackTool(ctx, requestID, p.name, params)
	if err != nil {
		return nil, err
	}
	if toolErr != "" {
		return &agent.ToolResult{Content: toolErr, IsError: true}, nil
	}
	if okJSON == "" {
		return nil, errors.New("pack tool returned no result")
	}
	return &agent.ToolResult{Content: okJSON}, nil
}
