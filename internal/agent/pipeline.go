package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vtcode-ai/vtcode/pkg/models"
)

// cancelTokenKey scopes a *CancelToken onto a context so deeply nested tool
// code can ask "am I still alive?" without threading it through every
// signature.
type cancelTokenKey struct{}

// CancelToken is the per-invocation handle a tool implementation polls to
// detect cancellation. It is distinct from the session-wide CancelSink: one
// token exists per running tool invocation and is cleared when that
// invocation's scope exits.
type CancelToken struct {
	cancelled atomic.Bool
}

// Cancel marks the token as cancelled. Safe for concurrent use.
func (t *CancelToken) Cancel() {
	if t != nil {
		t.cancelled.Store(true)
	}
}

// Cancelled reports whether this invocation has been cancelled.
func (t *CancelToken) Cancelled() bool {
	return t != nil && t.cancelled.Load()
}

// WithCancelToken returns a context carrying tok, discoverable via
// CancelTokenFromContext.
func WithCancelToken(ctx context.Context, tok *CancelToken) context.Context {
	return context.WithValue(ctx, cancelTokenKey{}, tok)
}

// CancelTokenFromContext retrieves the scoped cancellation token installed by
// the pipeline, or nil if none is present (e.g. in tests invoking a tool
// directly).
func CancelTokenFromContext(ctx context.Context) *CancelToken {
	tok, _ := ctx.Value(cancelTokenKey{}).(*CancelToken)
	return tok
}

// CancelSink is the session-wide, two-bit cancellation signal described by
// the run loop: a cancel request aborts the current tool and continues the
// session; an exit request aborts the whole session. exit dominates cancel.
// A single notify fires each time either bit flips so waiters can react
// promptly; readers may also poll the bits directly.
type CancelSink struct {
	cancelRequested atomic.Bool
	exitRequested   atomic.Bool
	notify          chan struct{}
}

// NewCancelSink creates an armed, unset cancellation sink.
func NewCancelSink() *CancelSink {
	return &CancelSink{notify: make(chan struct{}, 1)}
}

// RequestCancel sets the soft-cancel bit: abort the current tool, keep the
// session alive.
func (s *CancelSink) RequestCancel() {
	s.cancelRequested.Store(true)
	s.wake()
}

// RequestExit sets the hard-cancel bit: abort the whole session.
func (s *CancelSink) RequestExit() {
	s.exitRequested.Store(true)
	s.wake()
}

// Reset clears both bits, e.g. once a cancelled tool invocation has
// finished unwinding and the session resumes taking input.
func (s *CancelSink) Reset() {
	s.cancelRequested.Store(false)
	s.exitRequested.Store(false)
}

func (s *CancelSink) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// ExitRequested reports the hard-cancel bit. exit dominates cancel: callers
// check this first.
func (s *CancelSink) ExitRequested() bool { return s.exitRequested.Load() }

// CancelRequested reports the soft-cancel bit.
func (s *CancelSink) CancelRequested() bool { return s.cancelRequested.Load() }

// Notify returns the channel that receives a value each time a bit is set.
// It is never closed.
func (s *CancelSink) Notify() <-chan struct{} { return s.notify }

// TimeoutPolicy resolves a tool's timeout category to a ceiling duration and
// supplies the warning-timer fraction, mirroring the registry-consumed
// timeout_policy() contract.
type TimeoutPolicy interface {
	CeilingFor(category string) (time.Duration, bool)
	WarningFraction() float64
}

// CategoryResolver maps a tool name to its timeout category, mirroring the
// registry-consumed timeout_category_for(name) contract.
type CategoryResolver interface {
	CategoryFor(toolName string) string
}

// ProgressFunc receives a lifecycle progress update. message is empty for
// plain percentage bumps and non-empty for the lifecycle/warning notices.
type ProgressFunc func(percent int, message string)

// Pipeline runs one tool invocation at a time through five named phases —
// prepare, setup, execute, process results, finalize — racing a timeout
// timer, a warning timer, and the session cancellation sink during execute.
type Pipeline struct {
	registry   *ToolRegistry
	categories CategoryResolver
	policy     TimeoutPolicy
}

// NewPipeline builds a pipeline over registry, using categories to classify
// each tool call and policy to resolve a category to its ceiling and warning
// fraction.
func NewPipeline(registry *ToolRegistry, categories CategoryResolver, policy TimeoutPolicy) *Pipeline {
	return &Pipeline{registry: registry, categories: categories, policy: policy}
}

// configTimeoutPolicy adapts config.ToolExecutionConfig-shaped values (which
// expose CategoryFor/CeilingForCategory/WarningFraction but live in the
// config package to avoid an import cycle) to TimeoutPolicy/CategoryResolver.
type configTimeoutPolicy struct {
	categoryFor     func(toolName string) string
	ceilingFor      func(category string) (time.Duration, bool)
	warningFraction float64
}

// NewConfigTimeoutPolicy builds a TimeoutPolicy and CategoryResolver pair
// backed by plain function values, so callers can adapt any config type
// (e.g. config.ToolExecutionConfig) without this package importing config.
func NewConfigTimeoutPolicy(categoryFor func(string) string, ceilingFor func(string) (time.Duration, bool), warningFraction float64) (TimeoutPolicy, CategoryResolver) {
	p := &configTimeoutPolicy{categoryFor: categoryFor, ceilingFor: ceilingFor, warningFraction: warningFraction}
	return p, p
}

func (p *configTimeoutPolicy) CeilingFor(category string) (time.Duration, bool) { return p.ceilingFor(category) }
func (p *configTimeoutPolicy) WarningFraction() float64                        { return p.warningFraction }
func (p *configTimeoutPolicy) CategoryFor(toolName string) string              { return p.categoryFor(toolName) }

// pipelineOutcome tags how one invocation attempt ended, so Run's outer loop
// knows whether to return or silently restart.
type pipelineOutcome int

const (
	outcomeDone pipelineOutcome = iota
	outcomeRestart
)

// Run executes one tool call through the five-phase lifecycle. A soft
// cancel notification that arrives before the tool's own future resolves,
// with neither bit set, restarts the invocation from phase 2 exactly once
// per notification — expressed as a labeled outer loop for a clean,
// idempotent re-entry. A hard cancel (exit bit) or an explicit cancel bit
// set at a phase boundary returns Cancelled immediately.
func (p *Pipeline) Run(ctx context.Context, call models.ToolCall, cancel *CancelSink, progress ProgressFunc) models.ToolExecutionStatus {
	report := func(percent int, message string) {
		if progress != nil {
			progress(percent, message)
		}
	}

restart:
	// Phase 1: prepare.
	report(5, "")
	if cancel != nil && (cancel.ExitRequested() || cancel.CancelRequested()) {
		return models.ToolExecutionStatus{Kind: models.ToolStatusCancelled}
	}
	report(15, "")

	// Phase 2: setup — resolve timeout, construct the cancellation token.
	category := "default"
	if p.categories != nil {
		category = p.categories.CategoryFor(call.Name)
	}
	var ceiling time.Duration
	var warningFraction float64 = 0.8
	if p.policy != nil {
		if d, ok := p.policy.CeilingFor(category); ok {
			ceiling = d
		}
		if wf := p.policy.WarningFraction(); wf > 0 {
			warningFraction = wf
		}
	}
	if ceiling <= 0 {
		ceiling = 30 * time.Second
	}
	tok := &CancelToken{}
	toolCtx := WithCancelToken(ctx, tok)
	report(25, "")

	// Phase 3: execute — race the tool future, the timeout timer, the
	// warning timer, and the cancellation signal.
	outcome, status := p.execute(toolCtx, call, tok, cancel, category, ceiling, warningFraction, report)
	if outcome == outcomeRestart {
		goto restart
	}

	// Phase 4: process results.
	report(90, "")

	// Phase 5: finalize.
	report(100, "")
	return status
}

func (p *Pipeline) execute(ctx context.Context, call models.ToolCall, tok *CancelToken, cancel *CancelSink, category string, ceiling time.Duration, warningFraction float64, report ProgressFunc) (pipelineOutcome, models.ToolExecutionStatus) {
	type rawResult struct {
		value   json.RawMessage
		isError bool
		errText string
		err     error
	}
	resultCh := make(chan rawResult, 1)
	start := time.Now()

	go func() {
		v, err := p.registry.Execute(ctx, call.Name, call.Input)
		res := rawResult{err: err}
		if v != nil {
			res.isError = v.IsError
			res.errText = v.Content
			res.value = json.RawMessage(v.Content)
		}
		select {
		case resultCh <- res:
		default:
		}
	}()

	timeoutTimer := time.NewTimer(ceiling)
	defer timeoutTimer.Stop()
	warningTimer := time.NewTimer(time.Duration(float64(ceiling) * warningFraction))
	defer warningTimer.Stop()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	var notify <-chan struct{}
	if cancel != nil {
		notify = cancel.Notify()
	}

	for {
		select {
		case res := <-resultCh:
			if res.err == nil && res.isError {
				toolErr := NewToolError(call.Name, errors.New(res.errText)).WithToolCallID(call.ID)
				return outcomeDone, models.ToolExecutionStatus{
					Kind:      models.ToolStatusFailure,
					Error:     toolErr.Error(),
					Retryable: toolErr.Retryable,
				}
			}
			return outcomeDone, decodeToolOutcome(call.Name, call.ID, res.value, res.err)

		case <-ticker.C:
			elapsed := time.Since(start)
			switch {
			case elapsed < 500*time.Millisecond:
				report(30, "")
			case elapsed < 2*time.Second:
				report(50, "")
			case elapsed < 5*time.Second:
				report(70, "")
			default:
				report(85, "")
			}

		case <-warningTimer.C:
			slog.Warn("tool invocation approaching timeout ceiling",
				"tool", call.Name, "category", category, "ceiling", ceiling)
			report(85, fmt.Sprintf("%s has run for %.0fs, ceiling %.0fs; press cancel to abort",
				call.Name, time.Since(start).Seconds(), ceiling.Seconds()))

		case <-timeoutTimer.C:
			tok.Cancel()
			return outcomeDone, models.ToolExecutionStatus{
				Kind:     models.ToolStatusTimeout,
				ToolName: call.Name,
				Category: category,
				Ceiling:  ceiling,
			}

		case <-notify:
			tok.Cancel()
			if cancel.ExitRequested() {
				return outcomeDone, models.ToolExecutionStatus{Kind: models.ToolStatusCancelled}
			}
			if cancel.CancelRequested() {
				return outcomeDone, models.ToolExecutionStatus{Kind: models.ToolStatusCancelled}
			}
			// Soft notify with neither bit set: restart from phase 2. The
			// orphaned future keeps running in the background; its result,
			// if it ever arrives, is dropped by the abandoned resultCh.
			return outcomeRestart, models.ToolExecutionStatus{}
		}
	}
}

// decodeToolOutcome synthesizes a Success/Failure status from a tool's raw
// JSON output. Any JSON shape is accepted; missing fields use defaults.
func decodeToolOutcome(toolName, toolCallID string, raw json.RawMessage, err error) models.ToolExecutionStatus {
	if err != nil {
		toolErr := NewToolError(toolName, err).WithToolCallID(toolCallID)
		return models.ToolExecutionStatus{
			Kind:      models.ToolStatusFailure,
			Error:     toolErr.Error(),
			Retryable: toolErr.Retryable,
		}
	}

	var decoded struct {
		ExitCode      *int     `json:"exit_code"`
		Stdout        string   `json:"stdout"`
		ModifiedFiles []string `json:"modified_files"`
		HasMore       bool     `json:"has_more"`
	}
	_ = json.Unmarshal(raw, &decoded)

	status := models.ToolExecutionStatus{
		Kind:          models.ToolStatusSuccess,
		OutputJSON:    raw,
		ModifiedFiles: decoded.ModifiedFiles,
		HasMore:       decoded.HasMore,
	}
	if stdout := strings.TrimSpace(decoded.Stdout); stdout != "" {
		status.Stdout = stdout
	}
	if decoded.ExitCode != nil {
		status.CommandSuccess = *decoded.ExitCode == 0
	} else {
		status.CommandSuccess = true
	}
	return status
}
