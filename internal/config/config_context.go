package config

import (
	"os"
	"strconv"
)

// MaxContextTokensEnvVar overrides ContextConfig.MaxTokens at load time when
// set to a positive integer, without requiring a config file edit.
const MaxContextTokensEnvVar = "VTCODE_MAX_CONTEXT_TOKENS"

// ContextConfig controls the escalating context-trimming pipeline applied to
// conversation history before it is sent to the LLM provider.
type ContextConfig struct {
	// MaxTokens is the hard budget the trimmer fits history under.
	MaxTokens int `yaml:"max_context_tokens"`

	// TrimToPercent is the percentage of MaxTokens the semantic eviction
	// strategy targets, clamped to [TrimToPercentMin,TrimToPercentMax].
	TrimToPercent int `yaml:"trim_to_percent"`

	// PreserveRecentTurns lower-bounds how many of the most recent messages
	// are never touched by the prune or aggressive-trim strategies.
	PreserveRecentTurns int `yaml:"preserve_recent_turns"`

	// PreserveRecentTools is how many of the most recent tool-call/response
	// message pairs tool-aware retention rescues from pruning.
	PreserveRecentTools int `yaml:"preserve_recent_tools"`

	// SemanticCompression enables code-symbol-density scoring in the final
	// eviction strategy; when false, eviction falls back to a stable order.
	SemanticCompression bool `yaml:"semantic_compression"`

	// ToolAwareRetention rescues the most recent tool-call/response pairs
	// during pruning instead of dropping them purely by position.
	ToolAwareRetention bool `yaml:"tool_aware_retention"`

	// MaxStructuralDepth ignores code symbols nested deeper than this when
	// scoring, so deeply nested helpers don't outweigh top-level ones.
	MaxStructuralDepth int `yaml:"max_structural_depth"`
}

const (
	defaultMaxContextTokens   = 128_000
	defaultTrimToPercent      = 80
	defaultPreserveTurns      = 6
	defaultPreserveTools      = 4
	defaultMaxStructuralDepth = 4
)

// DefaultContextConfig returns the baseline trimming policy: a generous
// token budget, semantic compression and tool-aware retention both on.
func DefaultContextConfig() ContextConfig {
	return ContextConfig{
		MaxTokens:           defaultMaxContextTokens,
		TrimToPercent:       defaultTrimToPercent,
		PreserveRecentTurns: defaultPreserveTurns,
		PreserveRecentTools: defaultPreserveTools,
		SemanticCompression: true,
		ToolAwareRetention:  true,
		MaxStructuralDepth:  defaultMaxStructuralDepth,
	}
}

// mergeContextConfig overlays non-zero override fields onto base, then
// applies the MaxContextTokensEnvVar override if set to a positive integer.
func mergeContextConfig(base, override ContextConfig) ContextConfig {
	if override.MaxTokens > 0 {
		base.MaxTokens = override.MaxTokens
	}
	if override.TrimToPercent > 0 {
		base.TrimToPercent = override.TrimToPercent
	}
	if override.PreserveRecentTurns > 0 {
		base.PreserveRecentTurns = override.PreserveRecentTurns
	}
	if override.PreserveRecentTools > 0 {
		base.PreserveRecentTools = override.PreserveRecentTools
	}
	if override.MaxStructuralDepth > 0 {
		base.MaxStructuralDepth = override.MaxStructuralDepth
	}
	base.SemanticCompression = override.SemanticCompression || base.SemanticCompression
	base.ToolAwareRetention = override.ToolAwareRetention || base.ToolAwareRetention

	if v := os.Getenv(MaxContextTokensEnvVar); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			base.MaxTokens = n
		}
	}
	return base
}
