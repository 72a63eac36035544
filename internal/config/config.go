// Package config loads and validates vtcode's runtime configuration: LLM
// provider access, tool execution and patch policy, context trimming, and
// ambient logging/tracing settings.
package config

import "time"

// Config is the root configuration structure for vtcode.
type Config struct {
	Version       int                 `yaml:"version"`
	Workspace     WorkspaceConfig     `yaml:"workspace"`
	LLM           LLMConfig           `yaml:"llm"`
	Tools         ToolsConfig         `yaml:"tools"`
	Context       ContextConfig       `yaml:"context"`
	Compaction    CompactionConfig    `yaml:"compaction"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// WorkspaceConfig describes the root directory the agent operates within.
// All tool and patch paths are resolved relative to, and validated against, this root.
type WorkspaceConfig struct {
	Path string `yaml:"path"`

	// AgentsFile, ConventionsFile, and MemoryFile override the default names
	// of the project-instruction files the agent bootstraps and loads from
	// the workspace root (AGENTS.md, CONVENTIONS.md, MEMORY.md).
	AgentsFile      string `yaml:"agents_file"`
	ConventionsFile string `yaml:"conventions_file"`
	MemoryFile      string `yaml:"memory_file"`
}

// Default returns a Config populated with safe baseline values, suitable as
// a starting point before a config file is merged in via Load.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Workspace: WorkspaceConfig{
			Path: ".",
		},
		Tools: ToolsConfig{
			Execution: DefaultToolExecutionConfig(),
		},
		Context:    DefaultContextConfig(),
		Compaction: DefaultCompactionConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file (YAML or JSON5) from path, resolving
// $include directives and environment variable expansion, and merges it over
// Default(). An empty path returns Default() unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	decoded, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	merged := mergeConfig(cfg, decoded)
	if merged.Version > 0 {
		if err := ValidateVersion(merged.Version); err != nil {
			return nil, err
		}
	} else {
		merged.Version = CurrentVersion
	}
	return merged, nil
}

// mergeConfig overlays non-zero fields from override onto a copy of base.
// Zero-value fields in override (unset in the source file) keep base's defaults.
func mergeConfig(base, override *Config) *Config {
	if override.Workspace.Path != "" {
		base.Workspace.Path = override.Workspace.Path
	}
	if override.Workspace.AgentsFile != "" {
		base.Workspace.AgentsFile = override.Workspace.AgentsFile
	}
	if override.Workspace.ConventionsFile != "" {
		base.Workspace.ConventionsFile = override.Workspace.ConventionsFile
	}
	if override.Workspace.MemoryFile != "" {
		base.Workspace.MemoryFile = override.Workspace.MemoryFile
	}
	if override.LLM.DefaultProvider != "" {
		base.LLM.DefaultProvider = override.LLM.DefaultProvider
	}
	if override.LLM.Providers != nil {
		base.LLM.Providers = override.LLM.Providers
	}
	if len(override.LLM.FallbackChain) > 0 {
		base.LLM.FallbackChain = override.LLM.FallbackChain
	}
	if override.LLM.Bedrock.Enabled {
		base.LLM.Bedrock = override.LLM.Bedrock
	}

	if override.Tools.Execution.Concurrency > 0 {
		base.Tools.Execution.Concurrency = override.Tools.Execution.Concurrency
	}
	if override.Tools.Execution.MaxAttempts > 0 {
		base.Tools.Execution.MaxAttempts = override.Tools.Execution.MaxAttempts
	}
	if override.Tools.Execution.RetryBackoff > 0 {
		base.Tools.Execution.RetryBackoff = override.Tools.Execution.RetryBackoff
	}
	if override.Tools.Execution.WarningFraction > 0 {
		base.Tools.Execution.WarningFraction = override.Tools.Execution.WarningFraction
	}
	for name, ceiling := range override.Tools.Execution.Categories {
		if base.Tools.Execution.Categories == nil {
			base.Tools.Execution.Categories = map[string]time.Duration{}
		}
		base.Tools.Execution.Categories[name] = ceiling
	}
	for name, category := range override.Tools.Execution.CategoryOverrides {
		if base.Tools.Execution.CategoryOverrides == nil {
			base.Tools.Execution.CategoryOverrides = map[string]string{}
		}
		base.Tools.Execution.CategoryOverrides[name] = category
	}
	if override.Tools.Execution.ParallelToolCalls {
		base.Tools.Execution.ParallelToolCalls = true
	}
	if override.Tools.Policies.Profile != "" {
		base.Tools.Policies = override.Tools.Policies
	}
	if override.Tools.Patch.Workspace != "" {
		base.Tools.Patch.Workspace = override.Tools.Patch.Workspace
	}
	if override.Tools.Result.Enabled {
		base.Tools.Result = override.Tools.Result
	}

	base.Context = mergeContextConfig(base.Context, override.Context)
	base.Compaction = mergeCompactionConfig(base.Compaction, override.Compaction)

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}
	if override.Observability.Tracing.Enabled {
		base.Observability.Tracing = override.Observability.Tracing
	}
	if override.Observability.Metrics.Enabled {
		base.Observability.Metrics = override.Observability.Metrics
	}
	return base
}
