package workspace

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/vtcode-ai/vtcode/internal/config"
)

// WorkspaceContext holds all loaded workspace data for runtime use.
type WorkspaceContext struct {
	AgentsContent      string
	ConventionsContent string
	MemoryContent      string
}

// LoaderConfig configures the workspace loader.
type LoaderConfig struct {
	Root            string
	AgentsFile      string
	ConventionsFile string
	MemoryFile      string
}

// LoaderConfigFromConfig creates a LoaderConfig from the app config.
func LoaderConfigFromConfig(cfg *config.Config) LoaderConfig {
	lc := LoaderConfig{
		AgentsFile:      "AGENTS.md",
		ConventionsFile: "CONVENTIONS.md",
		MemoryFile:      "MEMORY.md",
	}
	if cfg == nil {
		return lc
	}
	if cfg.Workspace.Path != "" {
		lc.Root = cfg.Workspace.Path
	}
	if cfg.Workspace.AgentsFile != "" {
		lc.AgentsFile = cfg.Workspace.AgentsFile
	}
	if cfg.Workspace.ConventionsFile != "" {
		lc.ConventionsFile = cfg.Workspace.ConventionsFile
	}
	if cfg.Workspace.MemoryFile != "" {
		lc.MemoryFile = cfg.Workspace.MemoryFile
	}
	return lc
}

// LoadWorkspace loads all workspace files and returns a WorkspaceContext.
// Missing files are not an error; their content is left empty.
func LoadWorkspace(cfg LoaderConfig) (*WorkspaceContext, error) {
	root := cfg.Root
	if root == "" {
		root = "."
	}

	agentsFile := cfg.AgentsFile
	if agentsFile == "" {
		agentsFile = "AGENTS.md"
	}
	conventionsFile := cfg.ConventionsFile
	if conventionsFile == "" {
		conventionsFile = "CONVENTIONS.md"
	}
	memoryFile := cfg.MemoryFile
	if memoryFile == "" {
		memoryFile = "MEMORY.md"
	}

	ctx := &WorkspaceContext{}
	loadOptional := func(name string) (string, error) {
		return readOptionalFile(filepath.Join(root, name))
	}

	var err error
	if ctx.AgentsContent, err = loadOptional(agentsFile); err != nil {
		return nil, err
	}
	if ctx.ConventionsContent, err = loadOptional(conventionsFile); err != nil {
		return nil, err
	}
	if ctx.MemoryContent, err = loadOptional(memoryFile); err != nil {
		return nil, err
	}

	return ctx, nil
}

// LoadAgents loads just the AGENTS.md file content.
func LoadAgents(root, filename string) (string, error) {
	if filename == "" {
		filename = "AGENTS.md"
	}
	return readFile(filepath.Join(root, filename))
}

// LoadConventions loads the CONVENTIONS.md file content.
func LoadConventions(root, filename string) (string, error) {
	if filename == "" {
		filename = "CONVENTIONS.md"
	}
	return readFile(filepath.Join(root, filename))
}

// LoadMemory loads the MEMORY.md file content.
func LoadMemory(root, filename string) (string, error) {
	if filename == "" {
		filename = "MEMORY.md"
	}
	return readFile(filepath.Join(root, filename))
}

// SystemPromptContext generates context to inject into system prompts from
// whatever project-instruction files are present in the workspace.
func (w *WorkspaceContext) SystemPromptContext() string {
	var parts []string

	if w.AgentsContent != "" {
		parts = append(parts, w.AgentsContent)
	}
	if w.ConventionsContent != "" {
		parts = append(parts, w.ConventionsContent)
	}
	if w.MemoryContent != "" {
		parts = append(parts, w.MemoryContent)
	}

	return strings.Join(parts, "\n\n")
}

func readFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func readOptionalFile(path string) (string, error) {
	content, err := readFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return content, nil
}
