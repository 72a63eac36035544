package patch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// defaultFileMode is applied to newly created files, matching what
// os.Create would produce before umask on most platforms.
const defaultFileMode fs.FileMode = 0o644

// ProgressFunc reports progress through a multi-operation patch, i being the
// 1-based index of the operation just executed out of n total.
type ProgressFunc func(i, n int, detail string)

// Applicator applies Patch values to files rooted at Root. Apply is
// transactional: Plan validates every operation against current disk state
// before anything is written, Execute performs each file mutation through an
// atomic write or rename, and Commit-or-rollback unwinds every completed
// mutation in reverse order if a later operation fails.
type Applicator struct {
	Root string
}

// New creates an Applicator scoped to workspace root.
func New(root string) *Applicator {
	return &Applicator{Root: root}
}

// plannedOp is a resolved, ready-to-execute operation produced by Plan.
type plannedOp struct {
	op           Operation
	absPath      string
	absMoveTo    string // set for update+move
	finalContent string // for add and update
	mode         fs.FileMode
}

// journalEntry records one completed filesystem mutation so it can be
// undone, in reverse order, if a later operation in the same Apply fails.
type journalEntry struct {
	undo func() error
	// commit finalizes a successfully-completed step once the whole patch
	// has applied cleanly, e.g. removing a rollback snapshot. Optional.
	commit func() error
}

// Apply parses nothing; it takes an already-parsed Patch and applies it as
// a single transaction: either every operation is committed, or none are
// observable in the workspace afterward. progress, if non-nil, is called
// once per operation after it executes successfully.
func (a *Applicator) Apply(p *Patch, progress ProgressFunc) (*Result, error) {
	if p == nil || len(p.Operations) == 0 {
		return nil, newError(ErrNoOperations, "", "patch contains no operations", nil)
	}

	planned, err := a.plan(p)
	if err != nil {
		return nil, err
	}

	var journal []journalEntry
	result := &Result{}
	total := len(planned)

	for i, step := range planned {
		entry, err := a.execute(step, result)
		if err != nil {
			if rollbackErr := unwind(journal); rollbackErr != nil {
				return nil, newError(ErrRecovery, step.op.Path,
					"apply failed and rollback of prior operations also failed",
					errors.Join(err, rollbackErr))
			}
			return nil, err
		}
		journal = append(journal, entry)
		if progress != nil {
			progress(i+1, total, string(step.op.Kind)+" "+step.op.Path)
		}
	}

	// Commit: every operation succeeded, so discard rollback snapshots.
	for _, entry := range journal {
		if entry.commit != nil {
			if err := entry.commit(); err != nil {
				return nil, newError(ErrIO, "", "commit cleanup failed after successful apply", err)
			}
		}
	}
	return result, nil
}

// plan resolves and validates every operation against current disk state
// without mutating anything, and precomputes the update chunks against the
// file's current content so a mid-transaction SegmentNotFound is impossible.
func (a *Applicator) plan(p *Patch) ([]plannedOp, error) {
	planned := make([]plannedOp, 0, len(p.Operations))
	seen := make(map[string]bool, len(p.Operations))

	for _, op := range p.Operations {
		absPath, err := a.resolve(op.Path)
		if err != nil {
			return nil, err
		}
		if seen[absPath] {
			return nil, newError(ErrInvalidOperation, op.Path, "path referenced by more than one operation in this patch", nil)
		}
		seen[absPath] = true

		switch op.Kind {
		case OpAdd:
			if _, err := os.Stat(absPath); err == nil {
				return nil, newError(ErrInvalidOperation, op.Path, "add file: path already exists", nil)
			} else if !os.IsNotExist(err) {
				return nil, newError(ErrIO, op.Path, "stat failed", err)
			}
			planned = append(planned, plannedOp{op: op, absPath: absPath, finalContent: op.Content, mode: defaultFileMode})

		case OpDelete:
			if _, err := os.Stat(absPath); err != nil {
				if os.IsNotExist(err) {
					return nil, newError(ErrMissingFile, op.Path, "delete file: path does not exist", nil)
				}
				return nil, newError(ErrIO, op.Path, "stat failed", err)
			}
			planned = append(planned, plannedOp{op: op, absPath: absPath})

		case OpUpdate:
			info, err := os.Stat(absPath)
			if err != nil {
				if os.IsNotExist(err) {
					return nil, newError(ErrMissingFile, op.Path, "update file: path does not exist", nil)
				}
				return nil, newError(ErrIO, op.Path, "stat failed", err)
			}
			data, err := os.ReadFile(absPath)
			if err != nil {
				if os.IsNotExist(err) {
					return nil, newError(ErrMissingFile, op.Path, "update file: path does not exist", nil)
				}
				return nil, newError(ErrIO, op.Path, "read failed", err)
			}
			content, err := applyChunks(string(data), op.Chunks)
			if err != nil {
				return nil, newErrorWithPath(err, op.Path)
			}
			step := plannedOp{op: op, absPath: absPath, finalContent: content, mode: info.Mode().Perm()}
			if op.MoveTo != "" {
				absMove, err := a.resolve(op.MoveTo)
				if err != nil {
					return nil, err
				}
				if _, err := os.Stat(absMove); err == nil {
					return nil, newError(ErrInvalidOperation, op.MoveTo, "move to: destination already exists", nil)
				}
				step.absMoveTo = absMove
			}
			planned = append(planned, step)

		default:
			return nil, newError(ErrInvalidOperation, op.Path, fmt.Sprintf("unknown operation kind %q", op.Kind), nil)
		}
	}
	return planned, nil
}

// applyChunks replaces each chunk's Old text with its New text in order.
// Each chunk is located independently against the content as it stands after
// the previous chunk was applied, so chunks must be supplied in file order.
func applyChunks(content string, chunks []Chunk) (string, error) {
	for _, chunk := range chunks {
		idx := strings.Index(content, chunk.Old)
		if idx < 0 {
			return "", newError(ErrSegmentNotFound, "", "chunk context not found in file", nil)
		}
		content = content[:idx] + chunk.New + content[idx+len(chunk.Old):]
	}
	return content, nil
}

func newErrorWithPath(err error, path string) error {
	var pe *Error
	if errors.As(err, &pe) && pe.Path == "" {
		pe.Path = path
		return pe
	}
	return err
}

// execute performs one planned operation's filesystem mutation atomically
// and returns a journal entry capable of undoing it.
func (a *Applicator) execute(step plannedOp, result *Result) (journalEntry, error) {
	switch step.op.Kind {
	case OpAdd:
		if err := atomicWrite(step.absPath, step.finalContent, step.mode); err != nil {
			return journalEntry{}, err
		}
		result.FilesAdded = append(result.FilesAdded, step.op.Path)
		createdPath := step.absPath
		return journalEntry{undo: func() error { return os.Remove(createdPath) }}, nil

	case OpDelete:
		backup := step.absPath + ".patchbak"
		if err := os.Rename(step.absPath, backup); err != nil {
			return journalEntry{}, newError(ErrIO, step.op.Path, "delete: rename to backup failed", err)
		}
		result.FilesDeleted = append(result.FilesDeleted, step.op.Path)
		origPath, backupPath := step.absPath, backup
		return journalEntry{
			undo:   func() error { return os.Rename(backupPath, origPath) },
			commit: func() error { return os.Remove(backupPath) },
		}, nil

	case OpUpdate:
		backup := step.absPath + ".patchbak"
		if err := os.Rename(step.absPath, backup); err != nil {
			return journalEntry{}, newError(ErrIO, step.op.Path, "update: snapshot rename failed", err)
		}
		targetPath := step.absPath
		if step.absMoveTo != "" {
			targetPath = step.absMoveTo
		}
		if err := atomicWrite(targetPath, step.finalContent, step.mode); err != nil {
			_ = os.Rename(backup, step.absPath)
			return journalEntry{}, err
		}
		if step.op.MoveTo != "" {
			result.FilesUpdated = append(result.FilesUpdated, step.op.Path+" -> "+step.op.MoveTo)
		} else {
			result.FilesUpdated = append(result.FilesUpdated, step.op.Path)
		}
		origPath, backupPath, writtenPath := step.absPath, backup, targetPath
		moved := step.absMoveTo != ""
		return journalEntry{
			undo: func() error {
				if moved {
					if err := os.Remove(writtenPath); err != nil && !os.IsNotExist(err) {
						return err
					}
					return os.Rename(backupPath, origPath)
				}
				if err := os.Remove(writtenPath); err != nil {
					return err
				}
				return os.Rename(backupPath, origPath)
			},
			commit: func() error { return os.Remove(backupPath) },
		}, nil

	default:
		return journalEntry{}, newError(ErrInvalidOperation, step.op.Path, fmt.Sprintf("unknown operation kind %q", step.op.Kind), nil)
	}
}

// atomicWrite writes content to a sibling ".tmp" file, chmods it to mode, and
// renames it into place, so a crash or concurrent reader never observes a
// partial write and the final file carries the intended permission bits
// rather than whatever os.Create produced under the process umask.
func atomicWrite(path, content string, mode fs.FileMode) error {
	dir := filepath.Dir(path)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return newError(ErrTempPath, path, "create temp file failed", err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		os.Remove(tmp)
		return newError(ErrIO, path, "write temp file failed", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return newError(ErrIO, path, "close temp file failed", err)
	}
	if mode == 0 {
		mode = defaultFileMode
	}
	if err := os.Chmod(tmp, mode); err != nil {
		os.Remove(tmp)
		return newError(ErrIO, path, "chmod temp file failed", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		os.Remove(tmp)
		return newError(ErrIO, path, "create parent directory failed", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return newError(ErrTempPath, path, "rename temp file into place failed", err)
	}
	return nil
}

// unwind undoes journal entries in reverse order, joining every failure
// encountered rather than stopping at the first so the caller sees the full
// extent of what could not be rolled back.
func unwind(journal []journalEntry) error {
	var errs []error
	for i := len(journal) - 1; i >= 0; i-- {
		if err := journal[i].undo(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// resolve validates that path is workspace-relative and does not escape
// Root, returning its absolute form.
func (a *Applicator) resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", newError(ErrInvalidOperation, path, "path is required", nil)
	}
	if err := validatePath(clean); err != nil {
		return "", err
	}
	root := a.Root
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", newError(ErrIO, path, "resolve workspace root failed", err)
	}
	target := filepath.Join(rootAbs, clean)
	rel, err := filepath.Rel(rootAbs, target)
	if err != nil {
		return "", newError(ErrIO, path, "resolve path failed", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", newError(ErrInvalidOperation, path, "path escapes workspace", nil)
	}
	return target, nil
}

// validatePath rejects absolute paths and paths that escape the workspace
// root lexically, before any filesystem resolution is attempted.
func validatePath(path string) error {
	if path == "" {
		return newError(ErrInvalidOperation, path, "path is required", nil)
	}
	if filepath.IsAbs(path) {
		return newError(ErrInvalidOperation, path, "path must be workspace-relative, not absolute", nil)
	}
	clean := filepath.Clean(path)
	if clean == ".." || strings.HasPrefix(clean, "../") || strings.HasPrefix(clean, `..\`) {
		return newError(ErrInvalidOperation, path, "path escapes workspace", nil)
	}
	return nil
}
