package files

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vtcode-ai/vtcode/internal/agent"
	"github.com/vtcode-ai/vtcode/internal/patch"
)

// ApplyPatchTool applies a patch envelope to one or more workspace files as a
// single transaction: either every add/delete/update operation lands, or the
// workspace is left exactly as it was found.
type ApplyPatchTool struct {
	resolver Resolver
}

// NewApplyPatchTool creates an apply_patch tool scoped to the workspace.
func NewApplyPatchTool(cfg Config) *ApplyPatchTool {
	return &ApplyPatchTool{resolver: Resolver{Root: cfg.Workspace}}
}

// Name returns the tool name.
func (t *ApplyPatchTool) Name() string {
	return "apply_patch"
}

// Description returns the tool description.
func (t *ApplyPatchTool) Description() string {
	return "Apply a patch envelope (*** Begin Patch / *** End Patch) adding, deleting, or updating workspace files as a single transaction."
}

// Schema returns the JSON schema for tool parameters.
func (t *ApplyPatchTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"patch": map[string]interface{}{
				"type":        "string",
				"description": "Patch envelope beginning with '*** Begin Patch' and ending with '*** End Patch', containing one or more Add/Delete/Update File sections.",
			},
		},
		"required": []string{"patch"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute applies a patch envelope as a single transaction.
func (t *ApplyPatchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	_ = ctx
	var input struct {
		Patch string `json:"patch"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Patch) == "" {
		return toolError("patch is required"), nil
	}

	var steps []string
	result, err := patch.ApplyEnvelope(t.resolver.Root, input.Patch, func(i, n int, detail string) {
		steps = append(steps, fmt.Sprintf("[%d/%d] %s", i, n, detail))
	})
	if err != nil {
		return toolError(err.Error()), nil
	}

	modified := make([]string, 0, len(result.FilesAdded)+len(result.FilesDeleted)+len(result.FilesUpdated))
	modified = append(modified, result.FilesAdded...)
	modified = append(modified, result.FilesDeleted...)
	modified = append(modified, result.FilesUpdated...)

	payload, err := json.MarshalIndent(map[string]interface{}{
		"files_added":    result.FilesAdded,
		"files_deleted":  result.FilesDeleted,
		"files_updated":  result.FilesUpdated,
		"modified_files": modified,
		"steps":          steps,
	}, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}

	return &agent.ToolResult{Content: string(payload)}, nil
}
