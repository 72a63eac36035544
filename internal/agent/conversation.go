package agent

import "github.com/vtcode-ai/vtcode/pkg/models"

// HistoryToCompletionMessages converts trimmed conversation history into the
// flat role/content/tool-call shape a CompletionRequest sends to a provider.
// Each tool-role Message carries exactly one ToolResult; providers that batch
// multiple tool results per turn still receive one CompletionMessage per
// Message, which every provider adapter in this codebase accepts.
func HistoryToCompletionMessages(history []*models.Message) []CompletionMessage {
	out := make([]CompletionMessage, 0, len(history))
	for _, m := range history {
		if m == nil {
			continue
		}
		cm := CompletionMessage{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			Attachments: m.Attachments,
		}
		if m.Role == models.RoleTool {
			cm.ToolResults = []models.ToolResult{{
				ToolCallID: m.ToolCallID,
				Content:    m.Content,
				IsError:    m.IsError,
			}}
		}
		out = append(out, cm)
	}
	return out
}
