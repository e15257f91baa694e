package gateway

import (
	"encoding/json"

	"github.com/haasonsaas/agentgate/internal/agent"
	"github.com/haasonsaas/agentgate/internal/config"
	"github.com/haasonsaas/agentgate/internal/tools/policy"
	"github.com/haasonsaas/agentgate/pkg/models"
)

type agentToolOverrides struct {
	Execution        config.ToolExecutionConfig
	HasExecution     bool
	ApprovalProvided bool
	Elevated         config.ElevatedConfig
	HasElevated      bool
}

func parseAgentToolOverrides(agentModel *models.Agent) agentToolOverrides {
	var overrides agentToolOverrides
	if agentModel == nil || len(agentModel.Config) == 0 {
		return overrides
	}
	rawTools, ok := agentModel.Config["tools"]
	if !ok || rawTools == nil {
		return overrides
	}
	toolsMap, ok := rawTools.(map[string]any)
	if !ok {
		return overrides
	}

	if rawExec, ok := toolsMap["execution"]; ok && rawExec != nil {
		if payload, err := json.Marshal(rawExec); err == nil {
			if err := json.Unmarshal(payload, &overrides.Execution); err == nil {
				overrides.HasExecution = true
			}
		}
		if execMap, ok := rawExec.(map[string]any); ok {
			if _, ok := execMap["approval"]; ok {
				overrides.ApprovalProvided = true
			}
		}
	}

	if rawElevated, ok := toolsMap["elevated"]; ok && rawElevated != nil {
		if payload, err := json.Marshal(rawElevated); err == nil {
			if err := json.Unmarshal(payload, &overrides.Elevated); err == nil {
				overrides.HasElevated = true
			}
		}
	}

	return overrides
}

// mergeToolExecutionConfig overlays override onto base, field by field, the
// same zero-value-means-unset convention buildApprovalPolicy/applyApprovalConfig
// use for the nested approval settings.
func mergeToolExecutionConfig(base, override config.ToolExecutionConfig) config.ToolExecutionConfig {
	merged := base
	if override.MaxIterations > 0 {
		merged.MaxIterations = override.MaxIterations
	}
	if override.Parallelism > 0 {
		merged.Parallelism = override.Parallelism
	}
	if override.Timeout > 0 {
		merged.Timeout = override.Timeout
	}
	if override.MaxAttempts > 0 {
		merged.MaxAttempts = override.MaxAttempts
	}
	if override.RetryBackoff > 0 {
		merged.RetryBackoff = override.RetryBackoff
	}
	if override.DisableEvents {
		merged.DisableEvents = true
	}
	if override.MaxToolCalls > 0 {
		merged.MaxToolCalls = override.MaxToolCalls
	}
	if len(override.RequireApproval) > 0 {
		merged.RequireApproval = append(append([]string(nil), base.RequireApproval...), override.RequireApproval...)
	}
	if len(override.Async) > 0 {
		merged.Async = override.Async
	}
	if override.ResultGuard.Enabled || override.ResultGuard.MaxChars > 0 || len(override.ResultGuard.Denylist) > 0 ||
		len(override.ResultGuard.RedactPatterns) > 0 || override.ResultGuard.RedactionText != "" || override.ResultGuard.TruncateSuffix != "" {
		merged.ResultGuard = override.ResultGuard
	}
	return merged
}

// buildWelcomeRuntimeOptions computes the tool-execution options and approval
// policy one agent should run under, merging the gateway's global config with
// whatever that agent's stored record overrides, so both travel to the agent
// process in its Welcome frame instead of living only on the gateway side of
// a connection that never runs the tool loop itself.
func buildWelcomeRuntimeOptions(cfg *config.Config, agentModel *models.Agent, resolver *policy.Resolver) (*agent.RuntimeOptions, *agent.ApprovalPolicy) {
	overrides := parseAgentToolOverrides(agentModel)

	execCfg := cfg.Tools.Execution
	if overrides.HasExecution {
		execCfg = mergeToolExecutionConfig(execCfg, overrides.Execution)
	}

	runtimeOpts := runtimeOptionsOverrideFromExecution(execCfg)
	runtimeOpts.ElevatedTools = cfg.Tools.Elevated.Tools
	if overrides.HasElevated && len(overrides.Elevated.Tools) > 0 {
		runtimeOpts.ElevatedTools = overrides.Elevated.Tools
	}

	basePolicy := buildApprovalPolicy(execCfg, resolver)
	approvalPolicy := approvalPolicyForAgent(basePolicy, overrides, resolver)

	return &runtimeOpts, approvalPolicy
}

func runtimeOptionsOverrideFromExecution(execCfg config.ToolExecutionConfig) agent.RuntimeOptions {
	return agent.RuntimeOptions{
		MaxIterations:     execCfg.MaxIterations,
		ToolParallelism:   execCfg.Parallelism,
		ToolTimeout:       execCfg.Timeout,
		ToolMaxAttempts:   execCfg.MaxAttempts,
		ToolRetryBackoff:  execCfg.RetryBackoff,
		DisableToolEvents: execCfg.DisableEvents,
		MaxToolCalls:      execCfg.MaxToolCalls,
		RequireApproval:   execCfg.RequireApproval,
		AsyncTools:        execCfg.Async,
		ToolResultGuard: agent.ToolResultGuard{
			Enabled:        execCfg.ResultGuard.Enabled,
			MaxChars:       execCfg.ResultGuard.MaxChars,
			Denylist:       execCfg.ResultGuard.Denylist,
			RedactPatterns: execCfg.ResultGuard.RedactPatterns,
			RedactionText:  execCfg.ResultGuard.RedactionText,
			TruncateSuffix: execCfg.ResultGuard.TruncateSuffix,
		},
	}
}
