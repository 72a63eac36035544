package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vtcode-ai/vtcode/internal/agent"
	agentcontext "github.com/vtcode-ai/vtcode/internal/agent/context"
	"github.com/vtcode-ai/vtcode/internal/agent/providers"
	"github.com/vtcode-ai/vtcode/internal/agent/routing"
	"github.com/vtcode-ai/vtcode/internal/agent/tape"
	"github.com/vtcode-ai/vtcode/internal/backoff"
	"github.com/vtcode-ai/vtcode/internal/cache"
	"github.com/vtcode-ai/vtcode/internal/config"
	"github.com/vtcode-ai/vtcode/internal/format"
	"github.com/vtcode-ai/vtcode/internal/observability"
	"github.com/vtcode-ai/vtcode/internal/tools"
	"github.com/vtcode-ai/vtcode/internal/tools/files"
	"github.com/vtcode-ai/vtcode/internal/tools/policy"
	"github.com/vtcode-ai/vtcode/internal/workspace"
	"github.com/vtcode-ai/vtcode/pkg/models"
)

func newRunCmd(configPath *string) *cobra.Command {
	var systemPrompt string
	var recordPath string
	var replayPath string
	var tracePath string

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run a single-turn or interactive agent session against the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := observability.NewLogger(observability.LogConfig{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
			})

			traceCfg := observability.TraceConfig{
				ServiceName:    cfg.Observability.Tracing.ServiceName,
				ServiceVersion: cfg.Observability.Tracing.ServiceVersion,
				Environment:    cfg.Observability.Tracing.Environment,
				SamplingRate:   cfg.Observability.Tracing.SamplingRate,
				Attributes:     cfg.Observability.Tracing.Attributes,
				EnableInsecure: cfg.Observability.Tracing.Insecure,
			}
			if cfg.Observability.Tracing.Enabled {
				traceCfg.Endpoint = cfg.Observability.Tracing.Endpoint
			}
			tracer, shutdownTracer := observability.NewTracer(traceCfg)
			defer shutdownTracer(context.Background())

			session, err := newSession(cmd.Context(), cfg, logger, tracer, systemPrompt, recordPath, replayPath, tracePath)
			if err != nil {
				return err
			}
			defer func() {
				if err := session.saveTape(); err != nil {
					fmt.Fprintln(os.Stderr, "save tape:", err)
				}
				if err := session.closeTrace(); err != nil {
					fmt.Fprintln(os.Stderr, "close trace:", err)
				}
			}()

			if len(args) > 0 {
				return session.runOnce(cmd.Context(), strings.Join(args, " "))
			}
			return session.runInteractive(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&systemPrompt, "system", "You are vtcode, a terminal coding agent. Use the available tools to inspect and modify the workspace.", "system prompt")
	cmd.Flags().StringVar(&recordPath, "record", "", "record the session's LLM turns to a tape file at this path")
	cmd.Flags().StringVar(&replayPath, "replay", "", "replay LLM turns from a previously recorded tape file instead of calling the provider")
	cmd.Flags().StringVar(&tracePath, "trace", "", "record the agent event stream as JSONL to this path")
	return cmd
}

// session bundles the wiring a single conversation needs: the LLM provider,
// the tool registry and its timeout-aware pipeline, the policy filter, and
// the trimmer that keeps history inside the configured token budget.
type session struct {
	cfg          *config.Config
	logger       *observability.Logger
	tracer       *observability.Tracer
	provider     agent.LLMProvider
	providerName string
	registry     *agent.ToolRegistry
	pipeline     *agent.Pipeline
	resolver     *policy.Resolver
	toolPol      *policy.Policy
	cancel       *agent.CancelSink
	compaction   *agent.CompactionManager
	id           string
	system       string
	history      []*models.Message
	recorder     *tape.Recorder
	recordPath   string
	events       *agent.EventEmitter
	trace        *agent.TracePlugin
	stats        *agent.StatsCollector
	toolDedupe   *cache.DedupeCache
	iter         int
}

func newSession(ctx context.Context, cfg *config.Config, logger *observability.Logger, tracer *observability.Tracer, systemPrompt, recordPath, replayPath, tracePath string) (*session, error) {
	provider, providerName, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}

	if wsCtx, err := workspace.LoadWorkspace(workspace.LoaderConfigFromConfig(cfg)); err != nil {
		logger.Error(ctx, "load workspace instructions failed", "error", err)
	} else if extra := wsCtx.SystemPromptContext(); extra != "" {
		systemPrompt = strings.TrimSpace(systemPrompt + "\n\n" + extra)
	}

	var recorder *tape.Recorder
	switch {
	case replayPath != "":
		data, err := os.ReadFile(replayPath)
		if err != nil {
			return nil, fmt.Errorf("read tape: %w", err)
		}
		recorded, err := tape.Unmarshal(data)
		if err != nil {
			return nil, fmt.Errorf("parse tape: %w", err)
		}
		provider = tape.NewReplayer(recorded)
		providerName = "replayer"
	case recordPath != "":
		recorder = tape.NewRecorder(provider).
			WithSystemPrompt(systemPrompt).
			WithModel(cfg.LLM.Providers[providerName].DefaultModel)
		provider = recorder
	}

	registry := agent.NewToolRegistry()
	filesCfg := files.Config{Workspace: cfg.Workspace.Path}
	registry.Register(files.NewReadTool(filesCfg))
	registry.Register(files.NewWriteTool(filesCfg))
	registry.Register(files.NewEditTool(filesCfg))
	registry.Register(files.NewApplyPatchTool(filesCfg))

	timeoutPolicy, categories := agent.NewConfigTimeoutPolicy(
		cfg.Tools.Execution.CategoryFor,
		cfg.Tools.Execution.CeilingForCategory,
		cfg.Tools.Execution.WarningFraction,
	)
	pipeline := agent.NewPipeline(registry, categories, timeoutPolicy)

	resolver := policy.NewResolver()
	profile := policy.Profile(cfg.Tools.Policies.Profile)
	if profile == "" {
		profile = policy.ProfileCoding
	}
	toolPol := policy.NewPolicy(profile).WithAllow(cfg.Tools.Policies.Allow...).WithDeny(cfg.Tools.Policies.Deny...)

	sessionID := uuid.NewString()
	compactionCfg := &agent.CompactionConfig{
		Enabled:              cfg.Compaction.Enabled,
		ThresholdPercent:     cfg.Compaction.ThresholdPercent,
		FlushPrompt:          cfg.Compaction.FlushPrompt,
		ConfirmationTimeout:  cfg.Compaction.ConfirmationTimeout,
		AutoCompactOnTimeout: cfg.Compaction.AutoCompactOnTimeout,
	}
	compaction := agent.NewCompactionManager(compactionCfg)
	registry.Register(agent.NewCompactionTool(compaction, sessionID))

	plugins := agent.NewPluginRegistry()
	var tracePlugin *agent.TracePlugin
	if tracePath != "" {
		tracePlugin, err = agent.NewTracePluginFile(tracePath, sessionID, agent.WithRedactor(agent.DefaultRedactor))
		if err != nil {
			return nil, fmt.Errorf("open trace file: %w", err)
		}
		plugins.Use(tracePlugin)
	}
	statsCollector := agent.NewStatsCollector(sessionID)
	plugins.Use(statsCollector)
	emitter := agent.NewEventEmitterWithPlugins(sessionID, plugins)

	s := &session{
		cfg:          cfg,
		logger:       logger,
		tracer:       tracer,
		provider:     provider,
		providerName: providerName,
		registry:     registry,
		pipeline:     pipeline,
		resolver:     resolver,
		toolPol:      toolPol,
		cancel:       agent.NewCancelSink(),
		compaction:   compaction,
		id:           sessionID,
		system:       systemPrompt,
		recorder:     recorder,
		recordPath:   recordPath,
		events:       emitter,
		trace:        tracePlugin,
		stats:        statsCollector,
		toolDedupe:   cache.NewDedupeCache(cache.DedupeCacheOptions{TTL: 5 * time.Second, MaxSize: 256}),
	}

	compaction.SetFlushCallback(func(ctx context.Context, sessionID, prompt string) error {
		s.history = append(s.history, &models.Message{
			Role:      models.RoleUser,
			Content:   prompt,
			CreatedAt: time.Now(),
		})
		s.logger.Info(ctx, "compaction flush prompted", "session_id", sessionID)
		return nil
	})
	compaction.SetCompactionCallback(func(ctx context.Context, sessionID string, dropped int) error {
		s.logger.Info(ctx, "compaction completed", "session_id", sessionID, "dropped", dropped)
		return nil
	})

	s.events.RunStarted(ctx)

	return s, nil
}

// buildProvider constructs every LLM provider named in cfg.LLM.Providers,
// cfg.LLM.DefaultProvider, or cfg.LLM.FallbackChain, and wraps them in a
// routing.Router when more than one is configured so a failing provider
// falls through to the next rather than failing the turn outright.
func buildProvider(cfg *config.Config) (agent.LLMProvider, string, error) {
	defaultName := cfg.LLM.DefaultProvider
	if defaultName == "" {
		defaultName = "anthropic"
	}

	names := map[string]struct{}{defaultName: {}}
	for name := range cfg.LLM.Providers {
		names[name] = struct{}{}
	}
	for _, name := range cfg.LLM.FallbackChain {
		names[name] = struct{}{}
	}

	built := make(map[string]agent.LLMProvider, len(names))
	var firstErr error
	for name := range names {
		provider, err := buildNamedProvider(cfg, name)
		if err != nil {
			if name == defaultName {
				return nil, "", err
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		built[name] = provider
	}
	if len(built) == 0 {
		return nil, "", firstErr
	}
	if len(built) == 1 {
		return built[defaultName], defaultName, nil
	}

	router := routing.NewRouter(routing.Config{
		DefaultProvider: defaultName,
		FailureCooldown: 30 * time.Second,
	}, built)
	return router, router.Name(), nil
}

func buildNamedProvider(cfg *config.Config, name string) (agent.LLMProvider, error) {
	providerCfg := cfg.LLM.Providers[name]
	switch name {
	case "openai":
		apiKey := providerCfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		return providers.NewOpenAIProvider(apiKey), nil
	case "bedrock":
		return providers.NewBedrockProvider(providers.BedrockConfig{
			Region:       cfg.LLM.Bedrock.Region,
			DefaultModel: providerCfg.DefaultModel,
		})
	default:
		apiKey := providerCfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       apiKey,
			BaseURL:      providerCfg.BaseURL,
			DefaultModel: providerCfg.DefaultModel,
		})
	}
}

// runOnce drives the tool-calling loop to completion for a single user
// message and prints the final assistant text.
func (s *session) runOnce(ctx context.Context, prompt string) error {
	s.history = append(s.history, &models.Message{
		Role:      models.RoleUser,
		Content:   prompt,
		CreatedAt: time.Now(),
	})

	for {
		s.iter++
		s.events.SetIter(s.iter)
		s.events.IterStarted(ctx)

		text, toolCalls, err := s.completeTurn(ctx)
		if err != nil {
			s.events.RunError(ctx, err, false)
			return err
		}
		if len(toolCalls) == 0 {
			s.events.IterFinished(ctx)
			fmt.Println(text)
			return nil
		}
		s.dispatchToolCalls(ctx, toolCalls)
		s.trim()
		s.events.IterFinished(ctx)
	}
}

// runInteractive reads prompts from stdin until EOF, running the same
// tool-calling loop after each line.
func (s *session) runInteractive(ctx context.Context) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := s.runOnce(ctx, line); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
	return scanner.Err()
}

// saveTape writes the recorded tape to recordPath, if recording was enabled.
func (s *session) saveTape() error {
	if s.recorder == nil {
		return nil
	}
	data, err := s.recorder.Tape().Marshal()
	if err != nil {
		return fmt.Errorf("marshal tape: %w", err)
	}
	return os.WriteFile(s.recordPath, data, 0o644)
}

// closeTrace emits the run's final statistics and flushes the trace file, if
// event tracing was enabled via --trace.
func (s *session) closeTrace() error {
	s.events.RunFinished(context.Background(), s.stats.Stats())
	if s.trace == nil {
		return nil
	}
	return s.trace.Close()
}

// completeTurn sends the current history to the provider and accumulates one
// assistant turn: its text and any tool calls it requested.
func (s *session) completeTurn(ctx context.Context) (string, []models.ToolCall, error) {
	tools := agent.FilterToolsByPolicy(s.resolver, s.toolPol, s.registry.AsLLMTools())
	req := &agent.CompletionRequest{
		System:   s.system,
		Messages: agent.HistoryToCompletionMessages(s.history),
		Tools:    tools,
	}

	ctx, span := s.tracer.TraceLLMRequest(ctx, s.providerName, s.cfg.LLM.Providers[s.providerName].DefaultModel)
	defer span.End()

	retry, retryErr := backoff.RetryWithBackoff(ctx, completionRetryPolicy, maxCompletionAttempts, func(attempt int) (completionResult, error) {
		if attempt > 1 {
			s.logger.Info(ctx, "retrying completion request", "attempt", attempt, "provider", s.providerName)
		}
		return s.attemptCompletion(ctx, req)
	})
	if retryErr != nil {
		s.tracer.RecordError(span, retryErr)
		s.events.RunError(ctx, retryErr, false)
		return "", nil, fmt.Errorf("completion request: %w", retryErr)
	}

	text := retry.Value.text
	toolCalls := retry.Value.toolCalls
	inputTokens := retry.Value.inputTokens
	outputTokens := retry.Value.outputTokens
	s.tracer.SetAttributes(span, "tool_calls", len(toolCalls))
	s.events.ModelCompleted(ctx, s.providerName, s.cfg.LLM.Providers[s.providerName].DefaultModel, inputTokens, outputTokens)

	assistant := &models.Message{
		Role:      models.RoleAssistant,
		Content:   text,
		ToolCalls: toolCalls,
		CreatedAt: time.Now(),
	}
	s.history = append(s.history, assistant)
	return text, toolCalls, nil
}

// completionResult holds one attempt's accumulated output from a streamed
// completion, for use with backoff.RetryWithBackoff.
type completionResult struct {
	text         string
	toolCalls    []models.ToolCall
	inputTokens  int
	outputTokens int
}

// completionRetryPolicy governs retries of transient provider failures
// (rate limits, dropped connections) during a single completion request.
var completionRetryPolicy = backoff.BackoffPolicy{
	InitialMs: 250,
	MaxMs:     4000,
	Factor:    2,
	Jitter:    0.2,
}

const maxCompletionAttempts = 3

// attemptCompletion drains a single streamed completion response into a
// completionResult, returning an error for either a transport failure or a
// mid-stream error chunk so the caller can retry the whole attempt.
func (s *session) attemptCompletion(ctx context.Context, req *agent.CompletionRequest) (completionResult, error) {
	var result completionResult

	chunks, err := s.provider.Complete(ctx, req)
	if err != nil {
		return result, fmt.Errorf("completion request: %w", err)
	}

	var text strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return completionResult{}, chunk.Error
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			s.events.ModelDelta(ctx, chunk.Text)
		}
		if chunk.ToolCall != nil {
			result.toolCalls = append(result.toolCalls, *chunk.ToolCall)
		}
		if chunk.InputTokens > 0 {
			result.inputTokens = chunk.InputTokens
		}
		if chunk.OutputTokens > 0 {
			result.outputTokens = chunk.OutputTokens
		}
	}
	result.text = text.String()
	return result, nil
}

// dispatchToolCalls runs every requested tool call through the pipeline and
// appends its result as a tool-role message, in call order.
//
// A single tool call always runs serially. When the completion requested
// more than one call in the same turn, that is the provider's own signal
// for parallel tool use; dispatch then goes concurrent if the configured
// policy allows it, bounded by Tools.Execution.Concurrency and sharing the
// session's cancellation signal, while each call keeps its own per-category
// timeout ceiling via Pipeline.Run. Results are folded back into history in
// call order regardless of which path ran them.
func (s *session) dispatchToolCalls(ctx context.Context, calls []models.ToolCall) {
	if len(calls) > 1 && s.cfg.Tools.Execution.ParallelToolCalls {
		s.dispatchToolCallsParallel(ctx, calls)
		return
	}
	for _, call := range calls {
		s.history = append(s.history, s.runToolCall(ctx, call))
	}
}

// dispatchToolCallsParallel runs calls concurrently, bounded by a semaphore
// sized from Tools.Execution.Concurrency, and appends results in the
// original call order once every goroutine has finished.
func (s *session) dispatchToolCallsParallel(ctx context.Context, calls []models.ToolCall) {
	concurrency := s.cfg.Tools.Execution.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	sem := make(chan struct{}, concurrency)
	results := make([]*models.Message, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, tc models.ToolCall) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = s.runToolCall(ctx, tc)
		}(i, call)
	}
	wg.Wait()

	s.history = append(s.history, results...)
}

// runToolCall executes a single tool call through the pipeline, emitting
// trace spans, lifecycle events, status-line output, and dispatch metrics,
// and returns the tool-role message to fold into history. Safe to call
// concurrently: it only touches the session's own immutable dependencies
// (pipeline, tracer, events, dedupe cache) and its caller owns the history
// append.
func (s *session) runToolCall(ctx context.Context, call models.ToolCall) *models.Message {
	if dedupeKey := cache.ToolCallDedupeKey(call.Name, string(call.Input)); s.toolDedupe.Check(dedupeKey) {
		s.logger.Info(ctx, "duplicate tool call within window, running anyway", "tool", call.Name)
	}

	spanCtx, span := s.tracer.TraceToolExecution(ctx, call.Name)
	start := time.Now()
	s.events.ToolStarted(ctx, call.ID, call.Name, call.Input)
	fmt.Println(toolCallSummary(call))
	status := s.pipeline.Run(spanCtx, call, s.cancel, nil)
	elapsed := time.Since(start)
	if status.Kind == models.ToolStatusFailure {
		s.tracer.RecordError(span, fmt.Errorf("%s", status.Error))
	}
	span.End()
	if status.Kind == models.ToolStatusTimeout {
		s.events.ToolTimedOut(ctx, call.ID, call.Name, status.Ceiling)
	} else {
		s.events.ToolFinished(ctx, call.ID, call.Name, status.Kind == models.ToolStatusSuccess, status.OutputJSON, elapsed)
	}
	fmt.Printf("  (%s)\n", format.FormatDurationMsInt(elapsed.Milliseconds()))
	observability.EmitToolDispatched(&observability.ToolDispatchedEvent{
		ToolName:   call.Name,
		Category:   status.Category,
		Status:     toolStatusLabel(status.Kind),
		DurationMs: elapsed.Milliseconds(),
	})
	return toolResultMessage(call, status)
}

// toolCallSummary renders a one-line status like "📖 Reading: internal/agent/pipeline.go"
// for a tool call, decoding its JSON arguments best-effort for the detail field.
func toolCallSummary(call models.ToolCall) string {
	var args interface{}
	if len(call.Input) > 0 {
		_ = json.Unmarshal(call.Input, &args)
	}
	display := tools.ResolveToolDisplay(call.Name, args, "")
	return tools.FormatToolSummary(display)
}

func toolStatusLabel(kind models.ToolStatusKind) string {
	switch kind {
	case models.ToolStatusSuccess:
		return "success"
	case models.ToolStatusFailure:
		return "failure"
	case models.ToolStatusTimeout:
		return "timeout"
	case models.ToolStatusCancelled:
		return "cancelled"
	default:
		return "progress"
	}
}

func toolResultMessage(call models.ToolCall, status models.ToolExecutionStatus) *models.Message {
	msg := &models.Message{
		Role:       models.RoleTool,
		ToolCallID: call.ID,
		OriginTool: call.Name,
		CreatedAt:  time.Now(),
	}
	switch status.Kind {
	case models.ToolStatusSuccess:
		msg.Content = string(status.OutputJSON)
	case models.ToolStatusFailure:
		msg.Content = status.Error
		msg.IsError = true
	case models.ToolStatusTimeout:
		msg.Content = fmt.Sprintf("%s timed out after %s (category %s)", call.Name, status.Ceiling, status.Category)
		msg.IsError = true
	case models.ToolStatusCancelled:
		msg.Content = fmt.Sprintf("%s was cancelled", call.Name)
		msg.IsError = true
	}
	return msg
}

// trim enforces the configured context budget on the running history.
func (s *session) trim() {
	trimCfg := agentcontext.ContextTrimConfig{
		MaxTokens:           s.cfg.Context.MaxTokens,
		TrimToPercent:       s.cfg.Context.TrimToPercent,
		PreserveRecentTurns: s.cfg.Context.PreserveRecentTurns,
		PreserveRecentTools: s.cfg.Context.PreserveRecentTools,
		SemanticCompression: s.cfg.Context.SemanticCompression,
		ToolAwareRetention:  s.cfg.Context.ToolAwareRetention,
		MaxStructuralDepth:  s.cfg.Context.MaxStructuralDepth,
	}
	before := len(s.history)
	trimmed, stats := agentcontext.Trim(s.history, trimCfg, agentcontext.DefaultSemanticScorer{})
	s.history = trimmed
	if stats.FinalTokens < stats.InitialTokens {
		s.logger.Info(context.Background(), "trimmed context",
			"initial_tokens", stats.InitialTokens, "final_tokens", stats.FinalTokens,
			"pruned_tool_responses", stats.PrunedToolResponses)
		observability.EmitContextTrimmed(&observability.ContextTrimmedEvent{
			Strategy:      trimStrategyLabel(stats),
			InitialTokens: stats.InitialTokens,
			FinalTokens:   stats.FinalTokens,
			Pruned:        before - len(trimmed),
		})
		s.events.ContextPacked(context.Background(), &models.ContextEventPayload{
			BudgetChars: s.cfg.Context.MaxTokens,
			UsedChars:   stats.FinalTokens,
			Candidates:  before,
			Included:    len(trimmed),
			Dropped:     before - len(trimmed),
			SummaryUsed: stats.SemanticWindowApplied,
		})
	}

	if _, err := s.compaction.Check(context.Background(), s.id, stats, s.cfg.Context.MaxTokens); err != nil {
		s.logger.Error(context.Background(), "compaction check failed", "error", err, "session_id", s.id)
	}
}

func trimStrategyLabel(stats agentcontext.TrimStats) string {
	switch {
	case stats.SemanticWindowApplied:
		return "semantic_score"
	case stats.AggressiveTrimApplied:
		return "aggressive_cap"
	default:
		return "drop_oldest"
	}
}
