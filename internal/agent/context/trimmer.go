package context

import (
	"regexp"
	"sort"
	"strings"

	"github.com/vtcode-ai/vtcode/pkg/models"
)

// Constants bounding the trimmer's configuration knobs. These are the
// hard-coded [MIN,MAX] clamps referenced by ContextTrimConfig.
const (
	// CharsPerToken is the cheap, deterministic chars-per-token ratio used
	// for token estimation. No tokenizer dependency.
	CharsPerToken = 4

	// TrimToPercentMin/Max bound trim_to_percent.
	TrimToPercentMin = 50
	TrimToPercentMax = 95

	// PreserveRecentTurnsMin lower-bounds preserve_recent_turns; the last
	// message in history is always inside this window, so no strategy ever
	// evicts it.
	PreserveRecentTurnsMin = 1

	// AggressiveMaxMessages upper-bounds how many messages Strategy 2 keeps.
	AggressiveMaxMessages = 40

	// DefaultMaxContextTokens is used when a config omits max_tokens.
	DefaultMaxContextTokens = 128_000
)

// MaxContextTokensEnvVar overrides ContextTrimConfig.MaxTokens when set to a
// positive integer.
const MaxContextTokensEnvVar = "VTCODE_MAX_CONTEXT_TOKENS"

// ContextTrimConfig configures the escalating trim strategies.
type ContextTrimConfig struct {
	MaxTokens           int
	TrimToPercent       int
	PreserveRecentTurns int
	PreserveRecentTools int
	SemanticCompression bool
	ToolAwareRetention  bool
	MaxStructuralDepth  int
}

// DefaultContextTrimConfig returns sensible, spec-aligned defaults.
func DefaultContextTrimConfig() ContextTrimConfig {
	return ContextTrimConfig{
		MaxTokens:           DefaultMaxContextTokens,
		TrimToPercent:       80,
		PreserveRecentTurns: 6,
		PreserveRecentTools: 4,
		SemanticCompression: true,
		ToolAwareRetention:  true,
		MaxStructuralDepth:  4,
	}
}

// NormalizeContextTrimConfig clamps out-of-range fields to their documented
// bounds and applies defaults for zero values.
func NormalizeContextTrimConfig(cfg ContextTrimConfig) ContextTrimConfig {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxContextTokens
	}
	if cfg.TrimToPercent <= 0 {
		cfg.TrimToPercent = 80
	}
	cfg.TrimToPercent = clampInt(cfg.TrimToPercent, TrimToPercentMin, TrimToPercentMax)
	cfg.PreserveRecentTurns = clampInt(cfg.PreserveRecentTurns, PreserveRecentTurnsMin, AggressiveMaxMessages)
	if cfg.PreserveRecentTools < 0 {
		cfg.PreserveRecentTools = 0
	}
	if cfg.MaxStructuralDepth <= 0 {
		cfg.MaxStructuralDepth = 4
	}
	return cfg
}

// TrimStats reports what the escalating pipeline actually did, for logging
// and tests.
type TrimStats struct {
	InitialTokens         int
	FinalTokens           int
	PrunedToolResponses   int
	AggressiveTrimApplied bool
	SemanticWindowApplied bool
}

// SemanticScorer assigns a relevance score (0..255) to a message, used by
// Strategy 3 to bias which messages survive eviction.
type SemanticScorer interface {
	Score(m *models.Message, cfg ContextTrimConfig) uint8
}

// Trim runs the three escalating strategies in order, each only if the
// previous one left the estimated token count over budget. The last message
// in history is never evicted by any strategy.
func Trim(history []*models.Message, cfg ContextTrimConfig, scorer SemanticScorer) ([]*models.Message, TrimStats) {
	cfg = NormalizeContextTrimConfig(cfg)
	stats := TrimStats{InitialTokens: EstimateTokens(history)}
	if len(history) == 0 {
		return history, stats
	}

	trimmed, pruned := PruneUnifiedToolResponses(history, cfg)
	stats.PrunedToolResponses = pruned

	if EstimateTokens(trimmed) > cfg.MaxTokens {
		trimmed = ApplyAggressiveTrim(trimmed, cfg)
		stats.AggressiveTrimApplied = true
	}

	if EstimateTokens(trimmed) > cfg.MaxTokens {
		trimmed = EnforceContextWindow(trimmed, cfg, scorer)
		stats.SemanticWindowApplied = true
	}

	stats.FinalTokens = EstimateTokens(trimmed)
	return trimmed, stats
}

// EstimateTokens sums the per-message token estimate across history.
func EstimateTokens(messages []*models.Message) int {
	total := 0
	for _, m := range messages {
		total += messageTokens(m)
	}
	return total
}

// messageTokens estimates one message's token cost: character lengths of
// its role tag, text content, each tool call's id/type/name/arguments, and
// its tool_call_id, divided by CharsPerToken with ceiling rounding.
func messageTokens(m *models.Message) int {
	if m == nil {
		return 0
	}
	chars := len(string(m.Role)) + len(m.Content) + len(m.ToolCallID)
	for _, tc := range m.ToolCalls {
		chars += len(tc.ID) + len("function") + len(tc.Name) + len(tc.Input)
	}
	return ceilDiv(chars, CharsPerToken)
}

func ceilDiv(n, d int) int {
	if n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func hasToolPayload(m *models.Message) bool {
	return m != nil && (m.Role == models.RoleTool || len(m.ToolCalls) > 0)
}

// PruneUnifiedToolResponses drops tool-payload messages (tool-role results
// or assistant messages carrying tool_calls) outside the last
// preserve_recent_turns positions, unless tool-aware retention rescues the
// most recent tool-response and tool-call messages. Plain user/assistant
// text is always kept. Returns the filtered slice and how many were
// removed.
func PruneUnifiedToolResponses(history []*models.Message, cfg ContextTrimConfig) ([]*models.Message, int) {
	n := len(history)
	if n == 0 {
		return history, 0
	}

	recentBoundary := n - cfg.PreserveRecentTurns
	if recentBoundary < 0 {
		recentBoundary = 0
	}

	keep := make([]bool, n)
	for i := range keep {
		keep[i] = true
	}

	var toolResponseCandidates []int
	var toolCallCandidates []int
	for i := 0; i < recentBoundary; i++ {
		m := history[i]
		if !hasToolPayload(m) {
			continue
		}
		keep[i] = false
		if m.Role == models.RoleTool {
			toolResponseCandidates = append(toolResponseCandidates, i)
		} else {
			toolCallCandidates = append(toolCallCandidates, i)
		}
	}

	if cfg.ToolAwareRetention && cfg.PreserveRecentTools > 0 {
		rescued := 0
		for j := len(toolResponseCandidates) - 1; j >= 0 && rescued < cfg.PreserveRecentTools; j-- {
			keep[toolResponseCandidates[j]] = true
			rescued++
		}
		for j := len(toolCallCandidates) - 1; j >= 0 && rescued < cfg.PreserveRecentTools; j-- {
			keep[toolCallCandidates[j]] = true
			rescued++
		}
	}

	out := make([]*models.Message, 0, n)
	removed := 0
	for i, m := range history {
		if keep[i] {
			out = append(out, m)
		} else {
			removed++
		}
	}
	return out, removed
}

// ApplyAggressiveTrim keeps only the last K messages, dropping the prefix,
// where K = clamp(preserve_recent_turns, MIN, AGGRESSIVE_MAX).
func ApplyAggressiveTrim(history []*models.Message, cfg ContextTrimConfig) []*models.Message {
	k := clampInt(cfg.PreserveRecentTurns, PreserveRecentTurnsMin, AggressiveMaxMessages)
	if k >= len(history) {
		return history
	}
	out := make([]*models.Message, k)
	copy(out, history[len(history)-k:])
	return out
}

// EnforceContextWindow evicts the lowest-scoring messages, oldest-first on
// ties, across two phases: first the evictable prefix (everything before
// preserve_boundary), then — if still over budget — everything up to but
// excluding the final message. Surviving messages keep their relative
// order; the last message is never evicted.
func EnforceContextWindow(history []*models.Message, cfg ContextTrimConfig, scorer SemanticScorer) []*models.Message {
	n := len(history)
	if n == 0 {
		return history
	}
	total := EstimateTokens(history)
	if total <= cfg.MaxTokens {
		return history
	}
	if scorer == nil {
		scorer = DefaultSemanticScorer{}
	}

	preserveBoundary := n - cfg.PreserveRecentTurns
	if preserveBoundary < 0 {
		preserveBoundary = 0
	}
	if preserveBoundary > n {
		preserveBoundary = n
	}

	targetTokens := cfg.MaxTokens * cfg.TrimToPercent / 100

	tokensOf := make([]int, n)
	for i, m := range history {
		tokensOf[i] = messageTokens(m)
	}

	evicted := make([]bool, n)
	remaining := total

	remaining = evictPhase(history, cfg, scorer, tokensOf, evicted, 0, preserveBoundary, remaining, targetTokens)
	if remaining > cfg.MaxTokens && n > 1 {
		evictPhase(history, cfg, scorer, tokensOf, evicted, preserveBoundary, n-1, remaining, targetTokens)
	}

	out := make([]*models.Message, 0, n)
	for i, m := range history {
		if !evicted[i] {
			out = append(out, m)
		}
	}
	return out
}

type scoredIndex struct {
	idx   int
	score uint8
}

// evictPhase evicts lowest-scoring messages in [from,to) until remaining
// tokens fall to targetTokens, returning the new remaining total.
func evictPhase(history []*models.Message, cfg ContextTrimConfig, scorer SemanticScorer, tokensOf []int, evicted []bool, from, to, remaining, targetTokens int) int {
	if from >= to {
		return remaining
	}
	candidates := make([]scoredIndex, 0, to-from)
	for i := from; i < to; i++ {
		candidates = append(candidates, scoredIndex{idx: i, score: scorer.Score(history[i], cfg)})
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].score != candidates[b].score {
			return candidates[a].score < candidates[b].score
		}
		return candidates[a].idx < candidates[b].idx
	})
	for _, c := range candidates {
		if remaining <= targetTokens {
			break
		}
		evicted[c.idx] = true
		remaining -= tokensOf[c.idx]
	}
	return remaining
}

// DefaultSemanticScorer implements the symbol-density scoring heuristic.
type DefaultSemanticScorer struct{}

var fencedCodeBlock = regexp.MustCompile("(?s)```([A-Za-z0-9_+-]*)\\n(.*?)```")

type codeBlock struct {
	lang string
	code string
}

// Score assigns a relevance score driven by code-symbol density. Zero
// unless semantic_compression is enabled. Clamped to a u8 range.
func (DefaultSemanticScorer) Score(m *models.Message, cfg ContextTrimConfig) uint8 {
	if m == nil || !cfg.SemanticCompression {
		return 0
	}

	blocks := extractFencedCodeBlocks(m.Content)
	if len(blocks) == 0 {
		if lang := detectLanguage(m.Content); lang != "" {
			blocks = []codeBlock{{lang: lang, code: m.Content}}
		}
	}

	score := 0
	for _, b := range blocks {
		s := scoreSymbols(b.code, cfg.MaxStructuralDepth)
		if s == 0 && strings.TrimSpace(b.code) != "" {
			s = 1
		}
		score += s
	}

	if m.Role == models.RoleTool || len(m.ToolCalls) > 0 {
		score += 2
	}
	if m.OriginTool != "" && cfg.ToolAwareRetention {
		score += 1
	}

	if score > 255 {
		score = 255
	}
	if score < 0 {
		score = 0
	}
	return uint8(score)
}

func extractFencedCodeBlocks(content string) []codeBlock {
	matches := fencedCodeBlock.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	blocks := make([]codeBlock, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, codeBlock{lang: m[1], code: m[2]})
	}
	return blocks
}

// detectLanguage runs a cheap whole-message heuristic when no fenced block
// is present, so plain pasted source still scores.
func detectLanguage(content string) string {
	switch {
	case strings.Contains(content, "func ") && strings.Contains(content, "package "):
		return "go"
	case strings.Contains(content, "fn ") && strings.Contains(content, "let "):
		return "rust"
	case strings.Contains(content, "def ") && strings.Contains(content, ":"):
		return "python"
	default:
		return ""
	}
}

type symbolWeight struct {
	pattern *regexp.Regexp
	weight  int
}

var symbolPatterns = []symbolWeight{
	{regexp.MustCompile(`\b(?:class|struct|interface|trait)\s+([A-Za-z_][\w.:#]*)`), 8},
	{regexp.MustCompile(`\b(?:func|function|def|fn)\s+([A-Za-z_][\w.:#]*)`), 6},
	{regexp.MustCompile(`\b(?:type|module|namespace)\s+([A-Za-z_][\w.:#]*)`), 4},
	{regexp.MustCompile(`\b(?:var|let|const)\s+([A-Za-z_][\w.:#]*)`), 2},
	{regexp.MustCompile(`\b(?:import|use)\s+([A-Za-z_][\w.:#/]*)`), 1},
}

// scoreSymbols sums symbol weights found in code, skipping any symbol whose
// scope string is deeper than maxStructuralDepth (counted by ':'/'.'/'#'
// separators in the matched identifier).
func scoreSymbols(code string, maxStructuralDepth int) int {
	total := 0
	for _, sw := range symbolPatterns {
		for _, m := range sw.pattern.FindAllStringSubmatch(code, -1) {
			if len(m) < 2 {
				continue
			}
			if structuralDepth(m[1]) > maxStructuralDepth {
				continue
			}
			total += sw.weight
		}
	}
	return total
}

func structuralDepth(scope string) int {
	depth := 0
	for _, r := range scope {
		if r == ':' || r == '.' || r == '#' {
			depth++
		}
	}
	return depth
}
