// Package agent runs the tool-use conversation between the model and
// Hearth's tools, and turns inbound chat messages into replies.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/nugget/hearth/internal/events"
	"github.com/nugget/hearth/internal/llm"
	"github.com/nugget/hearth/internal/prompts"
	"github.com/nugget/hearth/internal/tools"
	"github.com/nugget/hearth/internal/usage"
)

// DefaultMaxIterations bounds a conversation when RunConfig leaves
// MaxIterations unset.
const DefaultMaxIterations = 10

// Termination says why a run stopped.
type Termination string

const (
	TerminationDone          Termination = "done"
	TerminationMaxIterations Termination = "max_iterations"
	TerminationMaxTokens     Termination = "max_tokens"
)

// ToolExecutor runs one tool call and returns its JSON result.
type ToolExecutor = tools.Runner

// UsageRecorder persists token usage for each model call.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record) error
}

// RunConfig parameterizes one run of the loop.
type RunConfig struct {
	Tools         []tools.Definition
	MaxIterations int
	SystemPrompt  string
	Model         string
	MaxTokens     int
	Role          string // usage role: interactive or digest
	ChatID        string
}

// LoopState is the accounting for one run.
type LoopState struct {
	Iterations   int            `json:"iterations"`
	ModelCalls   int            `json:"model_calls"`
	InputTokens  int            `json:"input_tokens"`
	OutputTokens int            `json:"output_tokens"`
	Termination  Termination    `json:"termination"`
	ToolsUsed    map[string]int `json:"tools_used,omitempty"`
}

// Result is the outcome of a run.
type Result struct {
	Text     string
	Model    string
	State    LoopState
	Messages []llm.Message // full conversation, including the final turn
}

// Loop drives the model through tool calls until it answers.
type Loop struct {
	llm    llm.Client
	logger *slog.Logger
	usage  UsageRecorder
	bus    *events.Bus
}

// NewLoop creates a loop over client.
func NewLoop(client llm.Client, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{llm: client, logger: logger}
}

// SetUsageRecorder records every model call's tokens to r.
func (l *Loop) SetUsageRecorder(r UsageRecorder) { l.usage = r }

// SetEventBus publishes model and tool events to bus.
func (l *Loop) SetEventBus(bus *events.Bus) { l.bus = bus }

// Run converses until the model stops asking for tools or the iteration
// ceiling is reached. Tool calls within a turn run in request order and
// their results go back in that order as a single user turn.
func (l *Loop) Run(ctx context.Context, cfg RunConfig, messages []llm.Message, exec ToolExecutor) (*Result, error) {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	log := l.logger.With("model", cfg.Model)
	if id := RequestID(ctx); id != "" {
		log = log.With("request_id", id)
	}

	r := &run{
		loop:    l,
		cfg:     cfg,
		log:     log,
		schemas: tools.Schemas(cfg.Tools),
		msgs:    slices.Clone(messages),
		state:   LoopState{ToolsUsed: make(map[string]int)},
		model:   cfg.Model,
	}

	for r.state.Iterations < cfg.MaxIterations {
		r.state.Iterations++
		resp, err := r.call(ctx, r.msgs)
		if err != nil {
			return nil, err
		}

		msg := resp.Message
		msg.Role = llm.RoleAssistant
		if text := strings.TrimSpace(msg.Content); text != "" {
			r.lastText = text
		}

		if resp.StopReason != llm.StopNeedsTools || len(msg.ToolCalls) == 0 {
			r.state.Termination = TerminationDone
			if resp.StopReason == llm.StopMaxTokens {
				r.state.Termination = TerminationMaxTokens
			}
			if strings.TrimSpace(msg.Content) != "" {
				r.msgs = append(r.msgs, msg)
			}
			return r.finish(ctx)
		}

		r.msgs = append(r.msgs, msg)
		r.msgs = append(r.msgs, llm.Message{
			Role:        llm.RoleUser,
			ToolResults: r.execute(ctx, exec, msg.ToolCalls),
		})
	}

	r.state.Termination = TerminationMaxIterations
	log.Warn("iteration ceiling reached",
		"iterations", r.state.Iterations,
		"tools_used", r.state.ToolsUsed,
		"have_text", r.lastText != "",
	)
	return r.finish(ctx)
}

// run is the mutable state of one Loop.Run.
type run struct {
	loop     *Loop
	cfg      RunConfig
	log      *slog.Logger
	schemas  []map[string]any
	msgs     []llm.Message
	state    LoopState
	lastText string
	model    string
}

func (r *run) call(ctx context.Context, msgs []llm.Message) (*llm.ChatResponse, error) {
	r.state.ModelCalls++
	resp, err := r.loop.llm.Chat(ctx, &llm.Request{
		Model:     r.cfg.Model,
		System:    r.cfg.SystemPrompt,
		Messages:  msgs,
		Tools:     r.schemas,
		MaxTokens: r.cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("model call %d: %w", r.state.ModelCalls, err)
	}
	if resp.Model != "" {
		r.model = resp.Model
	}

	r.state.InputTokens += resp.InputTokens
	r.state.OutputTokens += resp.OutputTokens
	r.log.Debug("model responded",
		"iter", r.state.Iterations,
		"stop_reason", resp.StopReason,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"tool_calls", len(resp.Message.ToolCalls),
	)
	r.loop.bus.Emit(events.SourceAgent, events.KindModelResponse, map[string]any{
		"request_id":  RequestID(ctx),
		"iteration":   r.state.Iterations,
		"model":       r.model,
		"tokens_in":   resp.InputTokens,
		"tokens_out":  resp.OutputTokens,
		"stop_reason": string(resp.StopReason),
		"tool_calls":  len(resp.Message.ToolCalls),
	})
	r.recordUsage(ctx, resp)
	return resp, nil
}

func (r *run) recordUsage(ctx context.Context, resp *llm.ChatResponse) {
	if r.loop.usage == nil {
		return
	}
	err := r.loop.usage.Record(ctx, usage.Record{
		Timestamp:    time.Now(),
		RequestID:    RequestID(ctx),
		ChatID:       r.cfg.ChatID,
		Model:        r.model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		Role:         r.cfg.Role,
	})
	if err != nil {
		r.log.Warn("usage not recorded", "error", err)
	}
}

func (r *run) execute(ctx context.Context, exec ToolExecutor, calls []llm.ToolCall) []llm.ToolResult {
	results := make([]llm.ToolResult, 0, len(calls))
	for _, tc := range calls {
		name := tc.Function.Name
		args := tc.Function.Arguments
		if args == nil {
			args = map[string]any{}
		}

		start := time.Now()
		content := exec.Execute(ctx, name, args)
		failed := tools.IsErrorPayload(content)
		r.state.ToolsUsed[name]++

		r.log.Debug("tool executed", "tool", name, "ok", !failed, "elapsed", time.Since(start).Round(time.Millisecond))
		r.loop.bus.Emit(events.SourceAgent, events.KindToolDone, map[string]any{
			"request_id":  RequestID(ctx),
			"tool":        name,
			"ok":          !failed,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		results = append(results, llm.ToolResult{
			ToolCallID: tc.ID,
			Content:    content,
			IsError:    failed,
		})
	}
	return results
}

// finish makes the wrap-up call when the model has not said anything
// yet, then settles the reply text.
func (r *run) finish(ctx context.Context) (*Result, error) {
	if r.lastText == "" {
		resp, err := r.call(ctx, withNudge(r.msgs))
		if err != nil {
			return nil, err
		}
		// Tools stay declared because the history holds tool blocks;
		// any calls in this reply are ignored.
		if text := strings.TrimSpace(resp.Message.Content); text != "" {
			r.lastText = text
			msg := resp.Message
			msg.Role = llm.RoleAssistant
			r.msgs = append(r.msgs, msg)
		}
	}

	text := r.lastText
	if text == "" {
		r.log.Warn("model produced no text", "iterations", r.state.Iterations)
		text = prompts.EmptyResponseFallback
	}

	state := r.state
	state.ToolsUsed = maps.Clone(r.state.ToolsUsed)
	return &Result{
		Text:     text,
		Model:    r.model,
		State:    state,
		Messages: r.msgs,
	}, nil
}

// withNudge returns msgs with the wrap-up instruction as the final user
// turn. A trailing tool-result turn carries the nudge as text so roles
// keep alternating.
func withNudge(msgs []llm.Message) []llm.Message {
	out := slices.Clone(msgs)
	if n := len(out); n > 0 {
		last := out[n-1]
		if last.Role == llm.RoleUser && len(last.ToolResults) > 0 && last.Content == "" {
			last.Content = prompts.WrapUpNudge
			out[n-1] = last
			return out
		}
	}
	return append(out, llm.Message{Role: llm.RoleUser, Content: prompts.WrapUpNudge})
}
