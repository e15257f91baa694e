package agentruntime

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildSystemPromptEmpty(t *testing.T) {
	dir := t.TempDir()
	prompt := BuildSystemPrompt(PromptOptions{
		WorkingDir:       dir,
		SystemPromptPath: filepath.Join(dir, "nope.md"),
		SoulPath:         filepath.Join(dir, "nope-soul.md"),
	})
	if !strings.Contains(prompt, "Environment:") {
		t.Fatalf("expected environment layer even with no other files present, got %q", prompt)
	}
	if strings.Contains(prompt, "# Identity") {
		t.Fatalf("expected no identity layer without a soul file, got %q", prompt)
	}
}

func TestBuildSystemPromptEnvironmentNamesWorkingDir(t *testing.T) {
	dir := t.TempDir()
	prompt := BuildSystemPrompt(PromptOptions{WorkingDir: dir})
	if !strings.Contains(prompt, dir) {
		t.Fatalf("expected working directory %q in prompt, got %q", dir, prompt)
	}
}

func TestBuildSystemPromptGlobalAndSoulLayers(t *testing.T) {
	home := t.TempDir()
	dir := t.TempDir()
	mustWrite(t, filepath.Join(home, "system.md"), "Global operating rules.")
	mustWrite(t, filepath.Join(home, "soul.md"), "Global soul: be terse.")
	mustWrite(t, filepath.Join(dir, "soul.md"), "Agent-1 soul: prefers Go.")

	prompt := BuildSystemPrompt(PromptOptions{
		WorkingDir:       dir,
		AgentID:          "agent-1",
		SystemPromptPath: filepath.Join(home, "system.md"),
		SoulPath:         filepath.Join(home, "soul.md"),
	})

	if !strings.Contains(prompt, "Global operating rules") {
		t.Fatalf("expected global system prompt layer, got %q", prompt)
	}
	if !strings.Contains(prompt, "# Identity") || !strings.Contains(prompt, "be terse") {
		t.Fatalf("expected global soul under an Identity heading, got %q", prompt)
	}
	if !strings.Contains(prompt, "## Agent Identity") || !strings.Contains(prompt, "prefers Go") {
		t.Fatalf("expected per-agent soul under an Agent Identity heading when a global soul exists, got %q", prompt)
	}
	if strings.Index(prompt, "Global operating rules") > strings.Index(prompt, "be terse") {
		t.Fatalf("expected global system prompt before soul layer, got %q", prompt)
	}
}

func TestBuildSystemPromptPerAgentSoulWithoutGlobalSoul(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, ".coven", "soul.md"), "Agent-1 soul: prefers Go.")

	prompt := BuildSystemPrompt(PromptOptions{WorkingDir: dir})
	if !strings.Contains(prompt, "# Identity") {
		t.Fatalf("expected an Identity heading, got %q", prompt)
	}
	if strings.Contains(prompt, "## Agent Identity") {
		t.Fatalf("expected the top-level Identity heading (no global soul present), got %q", prompt)
	}
}

func TestBuildSystemPromptLocalProjectPrompt(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "claude.md"), "Follow the project runbook.")

	prompt := BuildSystemPrompt(PromptOptions{WorkingDir: dir})
	if !strings.Contains(prompt, "project runbook") {
		t.Fatalf("expected local project prompt, got %q", prompt)
	}
}

func TestBuildSystemPromptLayersAreJoinedInOrder(t *testing.T) {
	home := t.TempDir()
	dir := t.TempDir()
	mustWrite(t, filepath.Join(home, "system.md"), "global layer")
	mustWrite(t, filepath.Join(dir, "CLAUDE.md"), "project layer")

	prompt := BuildSystemPrompt(PromptOptions{
		WorkingDir:       dir,
		SystemPromptPath: filepath.Join(home, "system.md"),
	})

	envIdx := strings.Index(prompt, "Environment:")
	globalIdx := strings.Index(prompt, "global layer")
	projectIdx := strings.Index(prompt, "project layer")
	if envIdx < 0 || globalIdx < 0 || projectIdx < 0 {
		t.Fatalf("expected all three layers present, got %q", prompt)
	}
	if !(envIdx < globalIdx && globalIdx < projectIdx) {
		t.Fatalf("expected layers joined in precedence order, got %q", prompt)
	}
	if !strings.Contains(prompt, promptLayerSeparator) {
		t.Fatalf("expected layers separated by %q, got %q", promptLayerSeparator, prompt)
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll(%q) error = %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%q) error = %v", path, err)
	}
}
