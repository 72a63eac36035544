package patch

import "testing"

func TestParse_AddFile(t *testing.T) {
	envelope := `*** Begin Patch
*** Add File: hello.go
+package main
+
+func main() {}
*** End Patch`

	p, err := Parse(envelope)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(p.Operations) != 1 {
		t.Fatalf("expected 1 operation, got %d", len(p.Operations))
	}
	op := p.Operations[0]
	if op.Kind != OpAdd || op.Path != "hello.go" {
		t.Fatalf("unexpected operation: %+v", op)
	}
	want := "package main\n\nfunc main() {}"
	if op.Content != want {
		t.Fatalf("content = %q, want %q", op.Content, want)
	}
}

func TestParse_DeleteFile(t *testing.T) {
	envelope := "*** Begin Patch\n*** Delete File: old.go\n*** End Patch"
	p, err := Parse(envelope)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(p.Operations) != 1 || p.Operations[0].Kind != OpDelete || p.Operations[0].Path != "old.go" {
		t.Fatalf("unexpected operations: %+v", p.Operations)
	}
}

func TestParse_UpdateFileWithChunk(t *testing.T) {
	envelope := `*** Begin Patch
*** Update File: main.go
@@ func main
-	fmt.Println("old")
+	fmt.Println("new")
*** End Patch`

	p, err := Parse(envelope)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	op := p.Operations[0]
	if op.Kind != OpUpdate || len(op.Chunks) != 1 {
		t.Fatalf("unexpected operation: %+v", op)
	}
	chunk := op.Chunks[0]
	if chunk.Header != "func main" {
		t.Errorf("header = %q, want %q", chunk.Header, "func main")
	}
	if chunk.Old != `	fmt.Println("old")` {
		t.Errorf("old = %q", chunk.Old)
	}
	if chunk.New != `	fmt.Println("new")` {
		t.Errorf("new = %q", chunk.New)
	}
}

func TestParse_UpdateFileWithMove(t *testing.T) {
	envelope := `*** Begin Patch
*** Update File: old/name.go
*** Move to: new/name.go
@@
-a
+b
*** End Patch`

	p, err := Parse(envelope)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	op := p.Operations[0]
	if op.MoveTo != "new/name.go" {
		t.Errorf("MoveTo = %q, want %q", op.MoveTo, "new/name.go")
	}
}

func TestParse_MultipleChunks(t *testing.T) {
	envelope := `*** Begin Patch
*** Update File: main.go
@@
-one
+uno
@@
-two
+dos
*** End Patch`

	p, err := Parse(envelope)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(p.Operations[0].Chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(p.Operations[0].Chunks))
	}
}

func TestParse_RejectsMissingBeginMarker(t *testing.T) {
	_, err := Parse("*** Add File: a.go\n+x\n*** End Patch")
	assertKind(t, err, ErrInvalidOperation)
}

func TestParse_RejectsMissingEndMarker(t *testing.T) {
	_, err := Parse("*** Begin Patch\n*** Add File: a.go\n+x")
	assertKind(t, err, ErrInvalidOperation)
}

func TestParse_RejectsEmptyPatch(t *testing.T) {
	_, err := Parse("*** Begin Patch\n*** End Patch")
	assertKind(t, err, ErrNoOperations)
}

func TestParse_RejectsUnrecognizedDirective(t *testing.T) {
	_, err := Parse("*** Begin Patch\n*** Rename File: a.go\n*** End Patch")
	assertKind(t, err, ErrInvalidOperation)
}

func TestParse_RejectsPathEscape(t *testing.T) {
	envelope := "*** Begin Patch\n*** Add File: ../escape.go\n+x\n*** End Patch"
	_, err := Parse(envelope)
	assertKind(t, err, ErrInvalidOperation)
}

func TestParse_RejectsAbsolutePath(t *testing.T) {
	envelope := "*** Begin Patch\n*** Delete File: /etc/passwd\n*** End Patch"
	_, err := Parse(envelope)
	assertKind(t, err, ErrInvalidOperation)
}

func assertKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error of kind %s, got nil", kind)
	}
	pe, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *patch.Error, got %T: %v", err, err)
	}
	if pe.Kind != kind {
		t.Fatalf("error kind = %s, want %s", pe.Kind, kind)
	}
}
