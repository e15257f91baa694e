package agentruntime

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// defaultProjectPromptFiles is searched, in order, inside the working
// directory when PromptOptions.ProjectPromptFiles isn't set.
var defaultProjectPromptFiles = []string{"claude.md", "CLAUDE.md", "agent.md"}

const promptLayerSeparator = "\n\n---\n\n"

// PromptOptions configures BuildSystemPrompt's layer discovery. Every path
// field is optional; a blank one falls back to the default described on the
// field.
type PromptOptions struct {
	// WorkingDir is the directory tool calls resolve relative paths
	// against. Required for the Environment layer to mean anything;
	// defaults to the process's current directory if blank.
	WorkingDir string

	// AgentID scopes the per-agent soul lookup when AgentSoulPath isn't
	// set and no soul.md/.coven/soul.md exists in WorkingDir.
	AgentID string

	// SystemPromptPath overrides the global system prompt file. Defaults
	// to "${HOME}/.mux/system.md".
	SystemPromptPath string

	// SoulPath overrides the global soul file. Defaults to
	// "${HOME}/.config/coven/soul.md".
	SoulPath string

	// AgentSoulPath overrides the per-agent soul file. Defaults to the
	// first of "soul.md", ".coven/soul.md" that exists within WorkingDir.
	AgentSoulPath string

	// ProjectPromptFiles overrides the filenames searched for the local
	// project prompt layer, in priority order. Defaults to
	// {"claude.md", "CLAUDE.md", "agent.md"}.
	ProjectPromptFiles []string
}

// BuildSystemPrompt assembles a session's system prompt from the five
// layers in this order: an Environment section naming the working
// directory, a global system prompt shared by every agent on the host, a
// global soul describing the operator's standing identity preferences, a
// per-agent soul, and a local project prompt discovered in the working
// directory. Nonempty layers are concatenated with promptLayerSeparator.
// This layering is computed once per session birth; its precedence is part
// of the wire contract and must not be reordered.
func BuildSystemPrompt(opts PromptOptions) string {
	workingDir := opts.WorkingDir
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}

	var layers []string

	if workingDir != "" {
		layers = append(layers, fmt.Sprintf(
			"Environment: the working directory is %s. Tools that accept a path interpret relative paths against it.",
			workingDir,
		))
	}

	globalPromptPath := opts.SystemPromptPath
	if globalPromptPath == "" {
		if home, _ := os.UserHomeDir(); home != "" {
			globalPromptPath = filepath.Join(home, ".mux", "system.md")
		}
	}
	if text := readPromptFile(globalPromptPath); text != "" {
		layers = append(layers, text)
	}

	globalSoulPath := opts.SoulPath
	if globalSoulPath == "" {
		if home, _ := os.UserHomeDir(); home != "" {
			globalSoulPath = filepath.Join(home, ".config", "coven", "soul.md")
		}
	}
	globalSoul := readPromptFile(globalSoulPath)
	if globalSoul != "" {
		layers = append(layers, "# Identity\n\n"+globalSoul)
	}

	agentSoul := readPromptFile(opts.AgentSoulPath)
	if agentSoul == "" {
		agentSoul = readPromptFile(filepath.Join(workingDir, "soul.md"))
	}
	if agentSoul == "" {
		agentSoul = readPromptFile(filepath.Join(workingDir, ".coven", "soul.md"))
	}
	if agentSoul != "" {
		heading := "# Identity"
		if globalSoul != "" {
			heading = "## Agent Identity"
		}
		layers = append(layers, heading+"\n\n"+agentSoul)
	}

	if text := localProjectPrompt(workingDir, opts.ProjectPromptFiles); text != "" {
		layers = append(layers, text)
	}

	return strings.Join(layers, promptLayerSeparator)
}

// localProjectPrompt searches dir for the first present project-prompt
// file (claude.md/CLAUDE.md/agent.md by default).
func localProjectPrompt(dir string, names []string) string {
	if dir == "" {
		return ""
	}
	if len(names) == 0 {
		names = defaultProjectPromptFiles
	}
	for _, name := range names {
		if text := readPromptFile(filepath.Join(dir, name)); text != "" {
			return text
		}
	}
	return ""
}

func readPromptFile(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
