// Package tools holds cross-cutting helpers shared by the concrete tool
// packages (files, policy): human-readable status-line formatting for tool
// calls as they're dispatched.
package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ToolDisplay contains formatted display info for a tool call.
type ToolDisplay struct {
	Name   string
	Emoji  string
	Title  string
	Label  string
	Verb   string
	Detail string
}

// ToolDisplaySpec defines display configuration for a tool.
type ToolDisplaySpec struct {
	Emoji      string                       `json:"emoji,omitempty"`
	Title      string                       `json:"title,omitempty"`
	Label      string                       `json:"label,omitempty"`
	DetailKeys []string                     `json:"detailKeys,omitempty"`
	Actions    map[string]ToolDisplayAction `json:"actions,omitempty"`
}

// ToolDisplayAction defines action-specific display overrides.
type ToolDisplayAction struct {
	Label      string   `json:"label,omitempty"`
	DetailKeys []string `json:"detailKeys,omitempty"`
}

// ToolDisplayConfig is the full display configuration for every known tool.
type ToolDisplayConfig struct {
	Version  int                        `json:"version,omitempty"`
	Fallback *ToolDisplaySpec           `json:"fallback,omitempty"`
	Tools    map[string]ToolDisplaySpec `json:"tools,omitempty"`
}

// DetailLabelOverrides maps argument keys to friendlier detail labels.
var DetailLabelOverrides = map[string]string{
	"sessionKey":        "session",
	"filePath":          "file path",
	"requestId":         "request",
	"runTimeoutSeconds": "timeout",
	"timeoutSeconds":    "timeout",
	"maxChars":          "max chars",
}

// MaxDetailEntries limits the number of detail items shown per tool call.
const MaxDetailEntries = 8

// defaultToolEmojis maps tool names to their default status-line emoji.
var defaultToolEmojis = map[string]string{
	"read":        "📖",
	"write":       "✏️",
	"edit":        "✏️",
	"apply_patch": "🩹",
	"bash":        "💻",
	"grep":        "🔍",
	"glob":        "📁",
	"ls":          "📂",
	"browser":     "🌐",
	"compaction":  "🧠",
	"tool":        "🧩", // fallback
}

// DefaultToolDisplayConfig returns the baseline display configuration for
// vtcode's tool set.
func DefaultToolDisplayConfig() *ToolDisplayConfig {
	return &ToolDisplayConfig{
		Version: 1,
		Fallback: &ToolDisplaySpec{
			Emoji:      "🧩",
			DetailKeys: []string{},
		},
		Tools: map[string]ToolDisplaySpec{
			"read": {
				Emoji:      "📖",
				Title:      "Read",
				Label:      "Reading",
				DetailKeys: []string{"path"},
			},
			"write": {
				Emoji:      "✏️",
				Title:      "Write",
				Label:      "Writing",
				DetailKeys: []string{"file_path", "path"},
			},
			"edit": {
				Emoji:      "✏️",
				Title:      "Edit",
				Label:      "Editing",
				DetailKeys: []string{"file_path", "path"},
			},
			"apply_patch": {
				Emoji:      "🩹",
				Title:      "Apply Patch",
				Label:      "Patching",
				DetailKeys: []string{"path"},
			},
			"bash": {
				Emoji:      "💻",
				Title:      "Bash",
				Label:      "Running",
				DetailKeys: []string{"command"},
			},
			"grep": {
				Emoji:      "🔍",
				Title:      "Grep",
				Label:      "Searching",
				DetailKeys: []string{"pattern", "path"},
			},
			"glob": {
				Emoji:      "📁",
				Title:      "Glob",
				Label:      "Finding",
				DetailKeys: []string{"pattern"},
			},
			"browser": {
				Emoji:      "🌐",
				Title:      "Browser",
				Label:      "Browsing",
				DetailKeys: []string{"url", "action"},
			},
			"compaction": {
				Emoji:      "🧠",
				Title:      "Compaction",
				Label:      "Flushing memory",
				DetailKeys: []string{"session_id"},
			},
		},
	}
}

// ResolveToolDisplay resolves display info for a tool call from its name and
// decoded arguments.
func ResolveToolDisplay(name string, args interface{}, meta string) *ToolDisplay {
	config := DefaultToolDisplayConfig()
	normalizedName := normalizeToolName(name)

	display := &ToolDisplay{
		Name:  name,
		Title: defaultTitle(name),
		Verb:  "Using",
	}

	spec, found := config.Tools[normalizedName]
	if !found {
		spec, found = config.Tools[name]
	}
	if !found && config.Fallback != nil {
		spec = *config.Fallback
	}

	if spec.Emoji != "" {
		display.Emoji = spec.Emoji
	} else if emoji, ok := defaultToolEmojis[normalizedName]; ok {
		display.Emoji = emoji
	} else {
		display.Emoji = defaultToolEmojis["tool"]
	}

	if spec.Title != "" {
		display.Title = spec.Title
	}
	if spec.Label != "" {
		display.Label = spec.Label
	}

	if spec.Actions != nil && args != nil {
		if action := getActionFromArgs(args); action != "" {
			if actionSpec, ok := spec.Actions[action]; ok {
				if actionSpec.Label != "" {
					display.Label = actionSpec.Label
				}
				if len(actionSpec.DetailKeys) > 0 {
					spec.DetailKeys = actionSpec.DetailKeys
				}
			}
		}
	}

	display.Detail = resolveDetail(name, args, spec.DetailKeys)
	return display
}

// FormatToolDetail returns the detail portion of a tool display.
func FormatToolDetail(display *ToolDisplay) string {
	if display.Detail == "" {
		return ""
	}
	return display.Detail
}

// FormatToolSummary formats a complete one-line tool status summary, e.g.
// "📖 Reading: internal/agent/pipeline.go".
func FormatToolSummary(display *ToolDisplay) string {
	parts := []string{}

	if display.Emoji != "" {
		parts = append(parts, display.Emoji)
	}

	label := display.Label
	if label == "" {
		label = display.Title
	}
	if label != "" {
		parts = append(parts, label)
	}

	summary := strings.Join(parts, " ")
	if display.Detail != "" {
		summary += ": " + display.Detail
	}
	return summary
}

// normalizeToolName strips namespace prefixes and the "_tool" suffix some
// callers attach, reducing "mcp__files__read_tool" to "read".
func normalizeToolName(name string) string {
	normalized := strings.ToLower(name)

	if strings.Contains(normalized, "__") {
		parts := strings.Split(normalized, "__")
		normalized = parts[len(parts)-1]
	}
	if strings.Contains(normalized, ".") {
		parts := strings.Split(normalized, ".")
		normalized = parts[len(parts)-1]
	}

	return strings.TrimSuffix(normalized, "_tool")
}

// defaultTitle derives a title-cased label from a tool name when no display
// spec supplies one.
func defaultTitle(name string) string {
	normalized := normalizeToolName(name)
	normalized = strings.ReplaceAll(normalized, "_", " ")
	normalized = strings.ReplaceAll(normalized, "-", " ")

	words := strings.Fields(normalized)
	for i, word := range words {
		if len(word) > 0 {
			words[i] = strings.ToUpper(string(word[0])) + word[1:]
		}
	}
	return strings.Join(words, " ")
}

// coerceDisplayValue converts a decoded JSON value to a short display string.
func coerceDisplayValue(value interface{}) string {
	if value == nil {
		return ""
	}

	switch v := value.(type) {
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	case int, int64, int32:
		return fmt.Sprintf("%d", v)
	case []interface{}:
		if len(v) == 0 {
			return ""
		}
		items := make([]string, 0, len(v))
		for _, item := range v {
			if s := coerceDisplayValue(item); s != "" {
				items = append(items, s)
			}
		}
		return strings.Join(items, ", ")
	case map[string]interface{}:
		for _, key := range []string{"name", "id", "path", "value"} {
			if val, ok := v[key]; ok {
				return coerceDisplayValue(val)
			}
		}
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// lookupValueByPath resolves a dotted path like "nested.key" against decoded
// JSON arguments.
func lookupValueByPath(args interface{}, path string) interface{} {
	if args == nil || path == "" {
		return nil
	}

	current := args
	for _, part := range strings.Split(path, ".") {
		v, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		val, ok := v[part]
		if !ok {
			return nil
		}
		current = val
	}
	return current
}

// resolveDetailFromKeys extracts up to MaxDetailEntries detail values from
// args using the given argument keys, joined with " · ".
func resolveDetailFromKeys(args interface{}, keys []string) string {
	if args == nil || len(keys) == 0 {
		return ""
	}

	var details []string
	count := 0
	for _, key := range keys {
		if count >= MaxDetailEntries {
			break
		}
		value := lookupValueByPath(args, key)
		if value == nil {
			continue
		}
		strValue := coerceDisplayValue(value)
		if strValue == "" {
			continue
		}
		details = append(details, shortenHomePath(strValue))
		count++
	}
	return strings.Join(details, " · ")
}

// resolveReadDetail formats the read tool's detail as "path (offset-limit)".
func resolveReadDetail(args interface{}) string {
	argsMap, ok := args.(map[string]interface{})
	if !ok {
		return ""
	}

	path := ""
	if p, ok := argsMap["path"].(string); ok {
		path = shortenHomePath(p)
	} else if p, ok := argsMap["file_path"].(string); ok {
		path = shortenHomePath(p)
	}
	if path == "" {
		return ""
	}

	detail := path
	offset, hasOffset := argsMap["offset"]
	limit, hasLimit := argsMap["limit"]
	if hasOffset || hasLimit {
		offsetVal := coerceDisplayValue(offset)
		limitVal := coerceDisplayValue(limit)
		if offsetVal != "" || limitVal != "" {
			detail += " ("
			detail += offsetVal
			if limitVal != "" {
				if offsetVal != "" {
					detail += "-"
				}
				detail += limitVal
			}
			detail += ")"
		}
	}
	return detail
}

// resolveWriteDetail extracts the target path for write/edit/apply_patch calls.
func resolveWriteDetail(args interface{}) string {
	argsMap, ok := args.(map[string]interface{})
	if !ok {
		return ""
	}
	if p, ok := argsMap["path"].(string); ok {
		return shortenHomePath(p)
	}
	if p, ok := argsMap["file_path"].(string); ok {
		return shortenHomePath(p)
	}
	return ""
}

// shortenHomePath replaces the user's home directory with "~" for a terser
// status line.
func shortenHomePath(path string) string {
	if path == "" {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}

	cleanPath := filepath.Clean(path)
	cleanHome := filepath.Clean(home)
	if strings.HasPrefix(cleanPath, cleanHome) {
		return "~" + cleanPath[len(cleanHome):]
	}
	return path
}

// getActionFromArgs extracts an action/type/method/operation key used to
// select an action-specific display override.
func getActionFromArgs(args interface{}) string {
	argsMap, ok := args.(map[string]interface{})
	if !ok {
		return ""
	}
	for _, key := range []string{"action", "type", "method", "operation"} {
		if val, ok := argsMap[key].(string); ok {
			return val
		}
	}
	return ""
}

// resolveDetail picks the detail string for a tool call, special-casing
// read/write/edit/apply_patch before falling back to the configured keys.
func resolveDetail(name string, args interface{}, detailKeys []string) string {
	switch normalizeToolName(name) {
	case "read":
		return resolveReadDetail(args)
	case "write", "edit", "apply_patch":
		return resolveWriteDetail(args)
	}

	if len(detailKeys) > 0 {
		return resolveDetailFromKeys(args, detailKeys)
	}
	return ""
}
