package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vtcode-ai/vtcode/internal/config"
)

func TestLoaderConfigFromConfig(t *testing.T) {
	t.Run("nil config uses defaults", func(t *testing.T) {
		cfg := LoaderConfigFromConfig(nil)
		if cfg.AgentsFile != "AGENTS.md" {
			t.Errorf("AgentsFile = %q, want %q", cfg.AgentsFile, "AGENTS.md")
		}
		if cfg.MemoryFile != "MEMORY.md" {
			t.Errorf("MemoryFile = %q, want %q", cfg.MemoryFile, "MEMORY.md")
		}
	})

	t.Run("overrides from config", func(t *testing.T) {
		appCfg := &config.Config{
			Workspace: config.WorkspaceConfig{
				Path:            "/custom/path",
				AgentsFile:      "custom_agents.md",
				ConventionsFile: "custom_conventions.md",
			},
		}
		cfg := LoaderConfigFromConfig(appCfg)
		if cfg.Root != "/custom/path" {
			t.Errorf("Root = %q, want %q", cfg.Root, "/custom/path")
		}
		if cfg.AgentsFile != "custom_agents.md" {
			t.Errorf("AgentsFile = %q, want %q", cfg.AgentsFile, "custom_agents.md")
		}
		if cfg.ConventionsFile != "custom_conventions.md" {
			t.Errorf("ConventionsFile = %q, want %q", cfg.ConventionsFile, "custom_conventions.md")
		}
		// Unchanged defaults
		if cfg.MemoryFile != "MEMORY.md" {
			t.Errorf("MemoryFile = %q, want %q", cfg.MemoryFile, "MEMORY.md")
		}
	})
}

func TestLoadWorkspace(t *testing.T) {
	tmpDir := t.TempDir()

	agentsContent := "# AGENTS.md\n\nBe concise and test before declaring done."
	conventionsContent := "# CONVENTIONS.md\n\nUse tabs, not spaces."
	memoryContent := "# MEMORY.md\n\nThe staging DB is read-only."

	os.WriteFile(filepath.Join(tmpDir, "AGENTS.md"), []byte(agentsContent), 0644)
	os.WriteFile(filepath.Join(tmpDir, "CONVENTIONS.md"), []byte(conventionsContent), 0644)
	os.WriteFile(filepath.Join(tmpDir, "MEMORY.md"), []byte(memoryContent), 0644)

	ctx, err := LoadWorkspace(LoaderConfig{Root: tmpDir})
	if err != nil {
		t.Fatalf("LoadWorkspace error: %v", err)
	}

	if ctx.AgentsContent != agentsContent {
		t.Errorf("AgentsContent = %q, want %q", ctx.AgentsContent, agentsContent)
	}
	if ctx.ConventionsContent != conventionsContent {
		t.Errorf("ConventionsContent = %q, want %q", ctx.ConventionsContent, conventionsContent)
	}
	if ctx.MemoryContent != memoryContent {
		t.Errorf("MemoryContent = %q, want %q", ctx.MemoryContent, memoryContent)
	}
}

func TestLoadWorkspace_MissingFiles(t *testing.T) {
	tmpDir := t.TempDir()

	// No files created - should not error
	ctx, err := LoadWorkspace(LoaderConfig{Root: tmpDir})
	if err != nil {
		t.Fatalf("LoadWorkspace error: %v", err)
	}

	if ctx.AgentsContent != "" {
		t.Errorf("AgentsContent should be empty for missing file")
	}
	if ctx.MemoryContent != "" {
		t.Errorf("MemoryContent should be empty for missing file")
	}
}

func TestWorkspaceContext_SystemPromptContext(t *testing.T) {
	t.Run("with all data", func(t *testing.T) {
		ctx := &WorkspaceContext{
			AgentsContent:      "Be helpful.",
			ConventionsContent: "Use tabs.",
			MemoryContent:      "Staging DB is read-only.",
		}

		prompt := ctx.SystemPromptContext()

		if !strings.Contains(prompt, "Be helpful") {
			t.Error("should contain agents content")
		}
		if !strings.Contains(prompt, "Use tabs") {
			t.Error("should contain conventions content")
		}
		if !strings.Contains(prompt, "Staging DB is read-only") {
			t.Error("should contain memory content")
		}
	})

	t.Run("empty context", func(t *testing.T) {
		ctx := &WorkspaceContext{}
		prompt := ctx.SystemPromptContext()
		if prompt != "" {
			t.Errorf("expected empty prompt, got %q", prompt)
		}
	})
}

func TestLoadAgents(t *testing.T) {
	tmpDir := t.TempDir()
	content := "# AGENTS.md\nBe awesome."
	os.WriteFile(filepath.Join(tmpDir, "AGENTS.md"), []byte(content), 0644)

	agents, err := LoadAgents(tmpDir, "")
	if err != nil {
		t.Fatalf("LoadAgents error: %v", err)
	}
	if agents != content {
		t.Errorf("agents = %q, want %q", agents, content)
	}
}

func TestLoadConventions(t *testing.T) {
	tmpDir := t.TempDir()
	content := "# CONVENTIONS.md\nUse gofmt."
	os.WriteFile(filepath.Join(tmpDir, "CONVENTIONS.md"), []byte(content), 0644)

	conventions, err := LoadConventions(tmpDir, "")
	if err != nil {
		t.Fatalf("LoadConventions error: %v", err)
	}
	if conventions != content {
		t.Errorf("conventions = %q, want %q", conventions, content)
	}
}

func TestLoadMemory(t *testing.T) {
	tmpDir := t.TempDir()
	content := "# Memory\n\nRemember this."
	os.WriteFile(filepath.Join(tmpDir, "MEMORY.md"), []byte(content), 0644)

	mem, err := LoadMemory(tmpDir, "")
	if err != nil {
		t.Fatalf("LoadMemory error: %v", err)
	}
	if mem != content {
		t.Errorf("memory = %q, want %q", mem, content)
	}
}
