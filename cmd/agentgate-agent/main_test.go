package main

import "testing"

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.GatewayAddr == "" {
		t.Fatalf("expected GatewayAddr to be set")
	}
	if cfg.AgentID == "" {
		t.Fatalf("expected AgentID to be set")
	}
	if cfg.Name == "" {
		t.Fatalf("expected Name to be set")
	}
	if cfg.KeyPath == "" {
		t.Fatalf("expected KeyPath to be set")
	}
	if cfg.LLMProvider == "" {
		t.Fatalf("expected LLMProvider to be set")
	}
	if cfg.MaxConcurrentRequests == 0 {
		t.Fatalf("expected MaxConcurrentRequests to be set")
	}
}
