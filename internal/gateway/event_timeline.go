// event_timeline.go bridges AgentEvents to the observability EventStore.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/agentgate/internal/agent"
	"github.com/haasonsaas/agentgate/internal/observability"
	"github.com/haasonsaas/agentgate/internal/rpc"
	"github.com/haasonsaas/agentgate/pkg/models"
)

// EventTimelinePlugin converts AgentEvents to observability Events and records them.
// It implements the agent.Plugin interface so it can be registered with the runtime.
type EventTimelinePlugin struct {
	recorder *observability.EventRecorder
}

// NewEventTimelinePlugin creates a new plugin that records events to the timeline.
func NewEventTimelinePlugin(recorder *observability.EventRecorder) *EventTimelinePlugin {
	return &EventTimelinePlugin{recorder: recorder}
}

// OnEvent converts an AgentEvent to an observability Event and records it.
// This implements the agent.Plugin interface.
// Event recording errors are intentionally ignored - these are best-effort records
// and should not block or fail the agent execution.
//
//nolint:errcheck // Best-effort event recording - errors should not block agent execution
func (p *EventTimelinePlugin) OnEvent(ctx context.Context, e models.AgentEvent) {
	if p.recorder == nil {
		return
	}

	// Add correlation IDs to context
	if e.RunID != "" {
		ctx = observability.AddRunID(ctx, e.RunID)
	}
	if e.Tool != nil && e.Tool.CallID != "" {
		ctx = observability.AddToolCallID(ctx, e.Tool.CallID)
	}

	// Convert AgentEvent to observability Event
	switch e.Type {
	case models.AgentEventRunStarted:
		_ = p.recorder.RecordRunStart(ctx, e.RunID, nil)

	case models.AgentEventRunFinished:
		var duration time.Duration
		if e.Stats != nil && e.Stats.Run != nil {
			duration = e.Stats.Run.WallTime
		}
		_ = p.recorder.RecordRunEnd(ctx, duration, nil)

	case models.AgentEventRunError, models.AgentEventRunCancelled, models.AgentEventRunTimedOut:
		var err error
		if e.Error != nil {
			err = errors.New(e.Error.Message)
		}
		data := map[string]interface{}{
			"type": string(e.Type),
		}
		_ = p.recorder.RecordError(ctx, observability.EventTypeRunError, "run_error", err, data)

	case models.AgentEventToolStarted:
		if e.Tool != nil {
			input := ""
			if len(e.Tool.ArgsJSON) > 0 {
				input = string(e.Tool.ArgsJSON)
			}
			_ = p.recorder.RecordToolStart(ctx, e.Tool.Name, input)
		}

	case models.AgentEventToolFinished:
		if e.Tool != nil {
			output := ""
			if len(e.Tool.ResultJSON) > 0 {
				output = string(e.Tool.ResultJSON)
			}
			var err error
			if !e.Tool.Success && e.Error != nil {
				err = errors.New(e.Error.Message)
			}
			_ = p.recorder.RecordToolEnd(ctx, e.Tool.Name, e.Tool.Elapsed, output, err)
		}

	case models.AgentEventToolTimedOut:
		if e.Tool != nil {
			errMsg := "tool execution timed out"
			if e.Error != nil && e.Error.Message != "" {
				errMsg = e.Error.Message
			}
			_ = p.recorder.RecordError(ctx, observability.EventTypeToolError, e.Tool.Name, errors.New(errMsg), map[string]interface{}{
				"tool_call_id": e.Tool.CallID,
			})
		}

	case models.AgentEventModelCompleted:
		data := map[string]interface{}{}
		if e.Stream != nil {
			if e.Stream.Provider != "" {
				data["provider"] = e.Stream.Provider
			}
			if e.Stream.Model != "" {
				data["model"] = e.Stream.Model
			}
			data["input_tokens"] = e.Stream.InputTokens
			data["output_tokens"] = e.Stream.OutputTokens
		}
		if e.Stats != nil && e.Stats.Run != nil {
			data["model_wall_time_ms"] = e.Stats.Run.ModelWallTime.Milliseconds()
		}
		_ = p.recorder.Record(ctx, observability.EventTypeLLMResponse, "llm_response", data)

	case models.AgentEventIterStarted:
		_ = p.recorder.Record(ctx, observability.EventTypeCustom, "iteration_started", map[string]interface{}{
			"iteration": e.IterIndex,
		})

	case models.AgentEventIterFinished:
		_ = p.recorder.Record(ctx, observability.EventTypeCustom, "iteration_finished", map[string]interface{}{
			"iteration": e.IterIndex,
		})
	}
}

// GetEventTimelinePlugin returns a Plugin that records to the server's event timeline.
// Register this with the runtime via runtime.Use().
func (s *Server) GetEventTimelinePlugin() agent.Plugin {
	if s.eventRecorder == nil {
		return nil
	}
	return NewEventTimelinePlugin(s.eventRecorder)
}

// recordWireEvent translates one rpc.Response arriving over agent_stream into
// the models.AgentEvent shape the timeline/tracing plugins expect, and feeds
// it to both. The agent process runs its own internal/agent.Runtime, out of
// this process, so the gateway never sees a models.AgentEvent directly; this
// is the narrower set of signals (tool start/finish, run finish/error) that
// actually survive the trip over agent_stream's wire format, with the
// request ID standing in for RunID since agent_stream carries no separate
// iteration or run identifier.
func (s *Server) recordWireEvent(ctx context.Context, requestID string, ev rpc.AgentEvent) {
	timeline := s.GetEventTimelinePlugin()
	tracing := s.GetTracingPlugin()
	if timeline == nil && tracing == nil {
		return
	}

	me, ok := wireEventToModelEvent(requestID, ev)
	if !ok {
		return
	}
	if timeline != nil {
		timeline.OnEvent(ctx, me)
	}
	if tracing != nil {
		tracing.OnEvent(ctx, me)
	}
}

// wireEventToModelEvent converts the subset of rpc.AgentEvent kinds the
// timeline/tracing plugins know how to record. ok is false for wire events
// (thinking, usage, session lifecycle, ...) with no models.AgentEvent
// equivalent.
func wireEventToModelEvent(requestID string, ev rpc.AgentEvent) (models.AgentEvent, bool) {
	base := models.AgentEvent{Version: 1, Time: time.Now(), RunID: requestID}

	switch {
	case ev.ToolUse != nil:
		base.Type = models.AgentEventToolStarted
		base.Tool = &models.ToolEventPayload{
			CallID:   ev.ToolUse.ID,
			Name:     ev.ToolUse.Name,
			ArgsJSON: []byte(ev.ToolUse.InputJSON),
		}
		return base, true
	case ev.ToolResult != nil:
		base.Type = models.AgentEventToolFinished
		base.Tool = &models.ToolEventPayload{
			CallID:     ev.ToolResult.ID,
			Success:    !ev.ToolResult.IsError,
			ResultJSON: []byte(ev.ToolResult.Output),
		}
		if ev.ToolResult.IsError {
			base.Error = &models.ErrorEventPayload{Message: ev.ToolResult.Output}
		}
		return base, true
	case ev.Done != nil:
		base.Type = models.AgentEventRunFinished
		return base, true
	case ev.Error != nil:
		base.Type = models.AgentEventRunError
		base.Error = &models.ErrorEventPayload{Message: ev.Error.Message}
		return base, true
	default:
		return models.AgentEvent{}, false
	}
}

// EventStore returns the server's event store for querying events.
func (s *Server) EventStore() *observability.MemoryEventStore {
	return s.eventStore
}

// EventRecorder returns the server's event recorder.
func (s *Server) EventRecorder() *observability.EventRecorder {
	return s.eventRecorder
}
