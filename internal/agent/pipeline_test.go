package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/vtcode-ai/vtcode/pkg/models"
)

type fakeTool struct {
	name string
	run  func(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

func (f *fakeTool) Name() string               { return f.name }
func (f *fakeTool) Description() string        { return "fake tool for pipeline tests" }
func (f *fakeTool) Schema() json.RawMessage     { return json.RawMessage(`{}`) }
func (f *fakeTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	return f.run(ctx, params)
}

func staticPolicy(ceiling time.Duration, warningFraction float64) (TimeoutPolicy, CategoryResolver) {
	return NewConfigTimeoutPolicy(
		func(string) string { return "default" },
		func(string) (time.Duration, bool) { return ceiling, true },
		warningFraction,
	)
}

func TestPipeline_Success(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&fakeTool{name: "echo", run: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
		return &ToolResult{Content: `{"exit_code":0,"stdout":"hi","modified_files":["a.txt"]}`}, nil
	}})
	policy, categories := staticPolicy(time.Second, 0.8)
	p := NewPipeline(registry, categories, policy)

	var percents []int
	status := p.Run(context.Background(), models.ToolCall{ID: "1", Name: "echo"}, NewCancelSink(), func(percent int, message string) {
		percents = append(percents, percent)
	})

	if status.Kind != models.ToolStatusSuccess {
		t.Fatalf("expected success, got kind %v", status.Kind)
	}
	if status.Stdout != "hi" {
		t.Fatalf("expected stdout 'hi', got %q", status.Stdout)
	}
	if !status.CommandSuccess {
		t.Fatal("expected command_success true for exit_code 0")
	}
	if len(status.ModifiedFiles) != 1 || status.ModifiedFiles[0] != "a.txt" {
		t.Fatalf("expected modified_files=[a.txt], got %v", status.ModifiedFiles)
	}
	if len(percents) == 0 || percents[0] != 5 || percents[len(percents)-1] != 100 {
		t.Fatalf("expected progress to start at 5 and end at 100, got %v", percents)
	}
}

func TestPipeline_Failure(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&fakeTool{name: "boom", run: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
		return &ToolResult{Content: "exploded", IsError: true}, nil
	}})
	policy, categories := staticPolicy(time.Second, 0.8)
	p := NewPipeline(registry, categories, policy)

	status := p.Run(context.Background(), models.ToolCall{ID: "1", Name: "boom"}, NewCancelSink(), nil)
	if status.Kind != models.ToolStatusFailure {
		t.Fatalf("expected failure, got kind %v", status.Kind)
	}
	if !strings.Contains(status.Error, "exploded") {
		t.Fatalf("expected error text to contain 'exploded', got %q", status.Error)
	}
	if status.Retryable {
		t.Fatalf("expected a generic execution failure to be classified non-retryable")
	}
}

func TestPipeline_Failure_ClassifiesRetryable(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&fakeTool{name: "flaky", run: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
		return &ToolResult{Content: "connection refused", IsError: true}, nil
	}})
	policy, categories := staticPolicy(time.Second, 0.8)
	p := NewPipeline(registry, categories, policy)

	status := p.Run(context.Background(), models.ToolCall{ID: "1", Name: "flaky"}, NewCancelSink(), nil)
	if status.Kind != models.ToolStatusFailure {
		t.Fatalf("expected failure, got kind %v", status.Kind)
	}
	if !status.Retryable {
		t.Fatalf("expected a network-classified failure to be retryable")
	}
}

func TestPipeline_Timeout(t *testing.T) {
	registry := NewToolRegistry()
	blocked := make(chan struct{})
	registry.Register(&fakeTool{name: "sleep", run: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
		<-blocked
		return &ToolResult{Content: "{}"}, nil
	}})
	defer close(blocked)

	policy, categories := staticPolicy(50*time.Millisecond, 0.1)
	p := NewPipeline(registry, categories, policy)

	var sawWarning bool
	status := p.Run(context.Background(), models.ToolCall{ID: "1", Name: "sleep"}, NewCancelSink(), func(percent int, message string) {
		if message != "" {
			sawWarning = true
		}
	})

	if status.Kind != models.ToolStatusTimeout {
		t.Fatalf("expected timeout, got kind %v", status.Kind)
	}
	if status.ToolName != "sleep" {
		t.Fatalf("expected tool name recorded, got %q", status.ToolName)
	}
	if !sawWarning {
		t.Fatal("expected a warning progress message before timeout")
	}
}

func TestPipeline_HardCancel(t *testing.T) {
	registry := NewToolRegistry()
	blocked := make(chan struct{})
	registry.Register(&fakeTool{name: "sleep", run: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
		<-blocked
		return &ToolResult{Content: "{}"}, nil
	}})
	defer close(blocked)

	policy, categories := staticPolicy(time.Minute, 0.8)
	p := NewPipeline(registry, categories, policy)

	sink := NewCancelSink()
	go func() {
		time.Sleep(20 * time.Millisecond)
		sink.RequestExit()
	}()

	status := p.Run(context.Background(), models.ToolCall{ID: "1", Name: "sleep"}, sink, nil)
	if status.Kind != models.ToolStatusCancelled {
		t.Fatalf("expected cancelled, got kind %v", status.Kind)
	}
}

func TestPipeline_SoftCancelRestarts(t *testing.T) {
	registry := NewToolRegistry()
	var attempts int
	registry.Register(&fakeTool{name: "count", run: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
		attempts++
		if attempts == 1 {
			// Block until the sink fires its soft notify, then hang past
			// the test's observation window; the pipeline abandons this
			// attempt once it restarts.
			time.Sleep(200 * time.Millisecond)
		}
		return &ToolResult{Content: "{}"}, nil
	}})

	policy, categories := staticPolicy(time.Minute, 0.9)
	p := NewPipeline(registry, categories, policy)

	sink := NewCancelSink()
	go func() {
		time.Sleep(10 * time.Millisecond)
		sink.wake() // soft notify: neither bit set
	}()

	status := p.Run(context.Background(), models.ToolCall{ID: "1", Name: "count"}, sink, nil)
	if status.Kind != models.ToolStatusSuccess {
		t.Fatalf("expected eventual success after restart, got kind %v", status.Kind)
	}
	if attempts < 2 {
		t.Fatalf("expected at least 2 attempts after soft-cancel restart, got %d", attempts)
	}
}
