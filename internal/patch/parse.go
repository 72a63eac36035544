package patch

import (
	"strings"
)

const (
	beginMarker  = "*** Begin Patch"
	endMarker    = "*** End Patch"
	addPrefix    = "*** Add File: "
	deletePrefix = "*** Delete File: "
	updatePrefix = "*** Update File: "
	movePrefix   = "*** Move to: "
	hunkMarker   = "@@"
)

// Parse decodes a `*** Begin Patch` / `*** End Patch` envelope into a Patch.
// It is a pure, side-effect-free pass: Parse never touches the filesystem,
// so a malformed envelope is always rejected before anything is applied.
func Parse(envelope string) (*Patch, error) {
	lines := splitLines(envelope)
	lines = trimSurroundingBlank(lines)

	if len(lines) == 0 || strings.TrimSpace(lines[0]) != beginMarker {
		return nil, newError(ErrInvalidOperation, "", "envelope must start with '"+beginMarker+"'", nil)
	}
	if strings.TrimSpace(lines[len(lines)-1]) != endMarker {
		return nil, newError(ErrInvalidOperation, "", "envelope must end with '"+endMarker+"'", nil)
	}
	body := lines[1 : len(lines)-1]

	var ops []Operation
	i := 0
	for i < len(body) {
		line := body[i]
		switch {
		case strings.HasPrefix(line, addPrefix):
			op, next, err := parseAdd(body, i)
			if err != nil {
				return nil, err
			}
			ops = append(ops, op)
			i = next

		case strings.HasPrefix(line, deletePrefix):
			path := strings.TrimSpace(strings.TrimPrefix(line, deletePrefix))
			if path == "" {
				return nil, newError(ErrInvalidOperation, "", "delete file directive missing path", nil)
			}
			ops = append(ops, Operation{Kind: OpDelete, Path: path})
			i++

		case strings.HasPrefix(line, updatePrefix):
			op, next, err := parseUpdate(body, i)
			if err != nil {
				return nil, err
			}
			ops = append(ops, op)
			i = next

		case strings.TrimSpace(line) == "":
			i++

		default:
			return nil, newError(ErrInvalidOperation, "", "unrecognized directive: "+line, nil)
		}
	}

	if len(ops) == 0 {
		return nil, newError(ErrNoOperations, "", "patch contains no operations", nil)
	}
	for _, op := range ops {
		if err := validatePath(op.Path); err != nil {
			return nil, err
		}
		if op.MoveTo != "" {
			if err := validatePath(op.MoveTo); err != nil {
				return nil, err
			}
		}
	}
	return &Patch{Operations: ops}, nil
}

func parseAdd(body []string, start int) (Operation, int, error) {
	line := body[start]
	path := strings.TrimSpace(strings.TrimPrefix(line, addPrefix))
	if path == "" {
		return Operation{}, 0, newError(ErrInvalidOperation, "", "add file directive missing path", nil)
	}
	i := start + 1
	var contentLines []string
	for i < len(body) && !isDirective(body[i]) {
		raw := body[i]
		if !strings.HasPrefix(raw, "+") {
			return Operation{}, 0, newError(ErrInvalidOperation, path, "add file lines must be '+'-prefixed", nil)
		}
		contentLines = append(contentLines, strings.TrimPrefix(raw, "+"))
		i++
	}
	return Operation{Kind: OpAdd, Path: path, Content: strings.Join(contentLines, "\n")}, i, nil
}

func parseUpdate(body []string, start int) (Operation, int, error) {
	line := body[start]
	path := strings.TrimSpace(strings.TrimPrefix(line, updatePrefix))
	if path == "" {
		return Operation{}, 0, newError(ErrInvalidOperation, "", "update file directive missing path", nil)
	}
	op := Operation{Kind: OpUpdate, Path: path}
	i := start + 1

	if i < len(body) && strings.HasPrefix(body[i], movePrefix) {
		moveTo := strings.TrimSpace(strings.TrimPrefix(body[i], movePrefix))
		if moveTo == "" {
			return Operation{}, 0, newError(ErrInvalidOperation, path, "move to directive missing path", nil)
		}
		op.MoveTo = moveTo
		i++
	}

	for i < len(body) && strings.HasPrefix(strings.TrimRight(body[i], " "), hunkMarker) {
		chunk, next, err := parseChunk(body, i, path)
		if err != nil {
			return Operation{}, 0, err
		}
		op.Chunks = append(op.Chunks, chunk)
		i = next
	}

	if len(op.Chunks) == 0 {
		return Operation{}, 0, newError(ErrInvalidOperation, path, "update file requires at least one @@ chunk", nil)
	}
	return op, i, nil
}

func parseChunk(body []string, start int, path string) (Chunk, int, error) {
	header := strings.TrimSpace(strings.TrimPrefix(strings.TrimRight(body[start], " "), hunkMarker))
	i := start + 1

	var oldLines, newLines []string
	for i < len(body) && !isDirective(body[i]) && !strings.HasPrefix(strings.TrimRight(body[i], " "), hunkMarker) {
		raw := body[i]
		if raw == "" {
			oldLines = append(oldLines, "")
			newLines = append(newLines, "")
			i++
			continue
		}
		switch raw[0] {
		case '+':
			newLines = append(newLines, raw[1:])
		case '-':
			oldLines = append(oldLines, raw[1:])
		case ' ':
			oldLines = append(oldLines, raw[1:])
			newLines = append(newLines, raw[1:])
		default:
			return Chunk{}, 0, newError(ErrInvalidOperation, path, "chunk line must start with '+', '-', or ' '", nil)
		}
		i++
	}
	if len(oldLines) == 0 && len(newLines) == 0 {
		return Chunk{}, 0, newError(ErrInvalidOperation, path, "chunk has no content", nil)
	}
	return Chunk{
		Header: header,
		Old:    strings.Join(oldLines, "\n"),
		New:    strings.Join(newLines, "\n"),
	}, i, nil
}

func isDirective(line string) bool {
	return strings.HasPrefix(line, "*** ")
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(s, "\n")
}

func trimSurroundingBlank(lines []string) []string {
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return lines[start:end]
}
