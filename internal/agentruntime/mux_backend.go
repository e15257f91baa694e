package agentruntime

import (
	"context"
	"strings"

	"github.com/haasonsaas/agentgate/internal/agent"
	"github.com/haasonsaas/agentgate/internal/rpc"
	"github.com/haasonsaas/agentgate/pkg/models"
)

// MuxBackend adapts internal/agent.Runtime's ResponseChunk stream to the
// rpc.AgentEvent frames agent_stream carries back to the gateway. "Mux" in
// the sense that one runtime instance muxes many concurrent sessions, one
// per Process call.
type MuxBackend struct {
	runtime      *agent.Runtime
	defaultModel string
}

// NewMuxBackend wraps an already-configured runtime. defaultModel, if set,
// is applied to every turn via agent.WithModel unless the session already
// carries one.
func NewMuxBackend(runtime *agent.Runtime, defaultModel string) *MuxBackend {
	return &MuxBackend{runtime: runtime, defaultModel: defaultModel}
}

// SetOptions forwards to the wrapped runtime, merging opts onto whatever
// options are already set. Client calls this once it learns this
// connection's tool-execution options and approval policy from Welcome.
func (b *MuxBackend) SetOptions(opts agent.RuntimeOptions) {
	b.runtime.SetOptions(opts)
}

// Process runs one turn and translates the runtime's ResponseChunk stream
// into rpc.AgentEvent frames, closing the returned channel with a Done
// event once the runtime's own channel closes.
func (b *MuxBackend) Process(ctx context.Context, session *models.Session, msg *models.Message) (<-chan rpc.AgentEvent, error) {
	if b.defaultModel != "" {
		ctx = agent.WithModel(ctx, b.defaultModel)
	}
	chunks, err := b.runtime.Process(ctx, session, msg)
	if err != nil {
		return nil, err
	}

	events := make(chan rpc.AgentEvent, 8)
	go func() {
		defer close(events)
		var full strings.Builder
		emit := func(ev rpc.AgentEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for chunk := range chunks {
			for _, ev := range translateChunk(chunk, &full) {
				if !emit(ev) {
					return
				}
			}
		}
		emit(rpc.AgentEvent{Done: &rpc.DoneEvent{FullResponse: full.String()}})
	}()
	return events, nil
}

// translateChunk converts one ResponseChunk into zero or more AgentEvents.
// A single chunk can carry both a tool lifecycle update and streamed text,
// so this returns a slice rather than a single event.
func translateChunk(chunk *agent.ResponseChunk, full *strings.Builder) []rpc.AgentEvent {
	var out []rpc.AgentEvent

	if chunk.Error != nil {
		return append(out, rpc.AgentEvent{Error: &rpc.ErrorEvent{Message: chunk.Error.Error()}})
	}
	if chunk.ThinkingStart {
		out = append(out, rpc.AgentEvent{Thinking: &rpc.ThinkingEvent{}})
	}
	if chunk.Text != "" {
		full.WriteString(chunk.Text)
		out = append(out, rpc.AgentEvent{Text: &rpc.TextEvent{Delta: chunk.Text}})
	}
	if chunk.ToolEvent != nil {
		if ev, ok := translateToolEvent(chunk.ToolEvent); ok {
			out = append(out, ev)
		}
	}
	if chunk.ToolResult != nil {
		out = append(out, rpc.AgentEvent{ToolResult: &rpc.ToolResultEvent{
			ID:      chunk.ToolResult.ToolCallID,
			Output:  chunk.ToolResult.Content,
			IsError: chunk.ToolResult.IsError,
		}})
	}
	for _, artifact := range chunk.Artifacts {
		out = append(out, rpc.AgentEvent{File: &rpc.FileEvent{
			Filename: artifact.Filename,
			Path:     artifact.URL,
			MimeType: artifact.MimeType,
		}})
	}
	return out
}

// translateToolEvent maps a tool lifecycle stage to the closest AgentEvent.
// ToolEventRequested is the LLM's tool call itself (ToolUse); everything
// after that is either an approval gate or a state transition.
func translateToolEvent(ev *models.ToolEvent) (rpc.AgentEvent, bool) {
	switch ev.Stage {
	case models.ToolEventRequested:
		return rpc.AgentEvent{ToolUse: &rpc.ToolUseEvent{
			ID:        ev.ToolCallID,
			Name:      ev.ToolName,
			InputJSON: string(ev.Input),
		}}, true
	case models.ToolEventApprovalRequired:
		return rpc.AgentEvent{ToolApprovalRequest: &rpc.ToolApprovalRequestEvent{
			ID:        ev.ToolCallID,
			Name:      ev.ToolName,
			InputJSON: string(ev.Input),
		}}, true
	default:
		detail := ev.Error
		if detail == "" {
			detail = ev.PolicyReason
		}
		return rpc.AgentEvent{ToolState: &rpc.ToolStateEvent{
			ID:     ev.ToolCallID,
			State:  string(ev.Stage),
			Detail: detail,
		}}, true
	}
}
