package config

import "time"

// ToolsConfig controls tool execution and access policy.
type ToolsConfig struct {
	Execution ToolExecutionConfig   `yaml:"execution"`
	Policies  ToolPoliciesConfig    `yaml:"policies"`
	Patch     PatchConfig           `yaml:"patch"`
	Result    ToolResultGuardConfig `yaml:"result_guard"`
}

// ToolPoliciesConfig defines default allow/deny policies for tools.
type ToolPoliciesConfig struct {
	// Default policy behavior: "allow" or "deny".
	Default string `yaml:"default"`
	// Profile selects a built-in access profile ("minimal", "coding", "full").
	Profile string `yaml:"profile"`
	// Allow explicitly allows these tools (in addition to the profile).
	Allow []string `yaml:"allow"`
	// Deny explicitly denies these tools (overrides allow).
	Deny []string `yaml:"deny"`
}

// ToolExecutionConfig controls the concurrent tool execution pipeline,
// including per-category timeout ceilings and the warning checkpoint
// fraction used to emit a slow-tool notice before the hard deadline.
type ToolExecutionConfig struct {
	// Concurrency is the maximum number of tool calls executed at once.
	Concurrency int `yaml:"concurrency"`

	// MaxAttempts is the maximum number of attempts per tool call, including the first.
	MaxAttempts int `yaml:"max_attempts"`

	// RetryBackoff is the delay between retry attempts.
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// WarningFraction is the fraction of a tool's timeout ceiling at which a
	// warning event fires, giving callers a chance to react before cancellation.
	WarningFraction float64 `yaml:"warning_fraction"`

	// Categories maps a timeout category name to its ceiling duration.
	// Tools are assigned a category by name via CategoryOverrides, falling
	// back to the "default" category ceiling.
	Categories map[string]time.Duration `yaml:"categories"`

	// CategoryOverrides maps a tool name to the timeout category it belongs to.
	CategoryOverrides map[string]string `yaml:"category_overrides"`

	// ParallelToolCalls allows the orchestrator to dispatch more than one
	// tool call from the same turn concurrently (bounded by Concurrency)
	// when the provider requested more than one in a single completion.
	// Calls still share the session's cancellation signal; each keeps its
	// own per-category timeout ceiling. Serial dispatch is always used for
	// single-call turns regardless of this setting.
	ParallelToolCalls bool `yaml:"parallel_tool_calls"`
}

// DefaultToolExecutionConfig returns the baseline timeout policy: a fast
// default ceiling with longer allowances for network- and build-bound tools.
func DefaultToolExecutionConfig() ToolExecutionConfig {
	return ToolExecutionConfig{
		Concurrency:     4,
		MaxAttempts:     1,
		RetryBackoff:    200 * time.Millisecond,
		WarningFraction: 0.8,
		Categories: map[string]time.Duration{
			"default": 30 * time.Second,
			"fast":    10 * time.Second,
			"network": 60 * time.Second,
			"build":   300 * time.Second,
		},
		CategoryOverrides: map[string]string{
			"read":   "fast",
			"write":  "fast",
			"edit":   "fast",
			"patch":  "fast",
			"exec":   "build",
			"fetch":  "network",
			"search": "network",
		},
	}
}

// CeilingFor returns the timeout ceiling for a tool, resolving its category
// via CategoryOverrides and falling back to the "default" category.
func (c ToolExecutionConfig) CeilingFor(toolName string) time.Duration {
	category := c.CategoryFor(toolName)
	if ceiling, ok := c.CeilingForCategory(category); ok {
		return ceiling
	}
	if ceiling, ok := c.CeilingForCategory("default"); ok {
		return ceiling
	}
	return 30 * time.Second
}

// CategoryFor resolves the timeout category a tool belongs to, falling back
// to "default" when no override is registered. This is the registry's
// timeout_category_for(name) contract.
func (c ToolExecutionConfig) CategoryFor(toolName string) string {
	if category := c.CategoryOverrides[toolName]; category != "" {
		return category
	}
	return "default"
}

// CeilingForCategory looks up a category's ceiling directly, without
// resolving a tool name first. This is the registry's
// timeout_policy().ceiling_for(category) contract.
func (c ToolExecutionConfig) CeilingForCategory(category string) (time.Duration, bool) {
	ceiling, ok := c.Categories[category]
	if !ok || ceiling <= 0 {
		return 0, false
	}
	return ceiling, true
}

// ToolResultGuardConfig controls redaction of tool results before they are
// appended back into the conversation.
type ToolResultGuardConfig struct {
	Enabled        bool     `yaml:"enabled"`
	MaxChars       int      `yaml:"max_chars"`
	RedactPatterns []string `yaml:"redact_patterns"`
	RedactionText  string   `yaml:"redaction_text"`
}

// PatchConfig controls the transactional patch applicator.
type PatchConfig struct {
	// Workspace is the root directory patches are resolved against; every
	// path in a patch envelope must stay within this root.
	Workspace string `yaml:"workspace"`

	// BackupDir overrides where rollback snapshots are staged. Empty means
	// snapshots are staged next to each file using a sibling suffix.
	BackupDir string `yaml:"backup_dir"`
}
