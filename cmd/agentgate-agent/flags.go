package main

import (
	"errors"

	"github.com/spf13/cobra"
)

func applyFlagOverrides(cmd *cobra.Command, base Config, flags Config, pairToken string) (Config, error) {
	tokenChanged := flagChanged(cmd, "token")
	pairChanged := flagChanged(cmd, "pair-token")
	if tokenChanged && pairChanged {
		return base, errors.New("use only one of --token or --pair-token")
	}

	if flagChanged(cmd, "gateway-addr") {
		base.GatewayAddr = flags.GatewayAddr
	}
	if flagChanged(cmd, "agent-id") {
		base.AgentID = flags.AgentID
	}
	if flagChanged(cmd, "name") {
		base.Name = flags.Name
	}
	if flagChanged(cmd, "key") {
		base.KeyPath = flags.KeyPath
	}
	if flagChanged(cmd, "log-level") {
		base.LogLevel = flags.LogLevel
	}
	if flagChanged(cmd, "llm-provider") {
		base.LLMProvider = flags.LLMProvider
	}
	if flagChanged(cmd, "llm-api-key") {
		base.LLMAPIKey = flags.LLMAPIKey
	}
	if flagChanged(cmd, "llm-model") {
		base.LLMModel = flags.LLMModel
	}
	if flagChanged(cmd, "llm-base-url") {
		base.LLMBaseURL = flags.LLMBaseURL
	}
	if flagChanged(cmd, "max-concurrent") {
		base.MaxConcurrentRequests = flags.MaxConcurrentRequests
	}
	if flagChanged(cmd, "working-dir") {
		base.WorkingDir = flags.WorkingDir
	}
	if flagChanged(cmd, "system-prompt-path") {
		base.SystemPromptPath = flags.SystemPromptPath
	}
	if flagChanged(cmd, "soul-path") {
		base.SoulPath = flags.SoulPath
	}
	if tokenChanged {
		base.BootstrapToken = flags.BootstrapToken
	}
	if pairChanged {
		base.BootstrapToken = pairToken
	}

	return base, nil
}

func flagChanged(cmd *cobra.Command, name string) bool {
	if f := cmd.Flags().Lookup(name); f != nil {
		return f.Changed
	}
	if f := cmd.InheritedFlags().Lookup(name); f != nil {
		return f.Changed
	}
	return false
}
