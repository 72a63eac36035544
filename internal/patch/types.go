// Package patch implements a transactional, multi-file patch format and
// applicator. A patch envelope names one or more file operations (add,
// delete, update-with-chunks); Apply either commits every operation to disk
// or rolls every completed operation back, so a workspace never observes a
// partially-applied patch.
package patch

// OperationKind identifies the kind of change a single patch operation makes.
type OperationKind string

const (
	// OpAdd creates a new file with the given content. The file must not
	// already exist.
	OpAdd OperationKind = "add"

	// OpDelete removes an existing file.
	OpDelete OperationKind = "delete"

	// OpUpdate rewrites an existing file by applying one or more chunks,
	// optionally renaming it to a new path in the same operation.
	OpUpdate OperationKind = "update"
)

// Chunk is a single `@@`-delimited hunk within an Update operation. Context
// carries the unchanged lines framing the change (used to locate the hunk
// in the current file content); Old is the exact text being replaced
// (context + removed lines); New is the replacement text (context + added
// lines). Both Old and New preserve line order as written in the envelope.
type Chunk struct {
	// Header is the optional text following `@@` on the hunk's own line,
	// conventionally a nearby function or section name. Purely descriptive;
	// it plays no role in locating or applying the chunk.
	Header string

	// Old is the exact text this chunk must find in the current file
	// content (context lines plus '-'-prefixed lines), newline-joined.
	Old string

	// New is the replacement text (context lines plus '+'-prefixed lines),
	// newline-joined.
	New string
}

// Operation is a single file-level change within a Patch.
type Operation struct {
	Kind OperationKind

	// Path is the workspace-relative path this operation targets. Never
	// absolute, never escapes the workspace root via "..".
	Path string

	// MoveTo is set for an OpUpdate that also renames the file. Empty means
	// no rename.
	MoveTo string

	// Content is the full file content for OpAdd.
	Content string

	// Chunks are applied in order for OpUpdate.
	Chunks []Chunk
}

// Patch is a fully parsed `*** Begin Patch` / `*** End Patch` envelope: an
// ordered list of file operations to apply as a single transaction.
type Patch struct {
	Operations []Operation
}

// Result summarizes a successfully applied Patch.
type Result struct {
	// FilesAdded, FilesDeleted, FilesUpdated list the workspace-relative
	// paths touched by each operation kind, in application order.
	FilesAdded   []string
	FilesDeleted []string
	FilesUpdated []string
}
