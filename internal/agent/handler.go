package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/nugget/hearth/internal/events"
	"github.com/nugget/hearth/internal/llm"
	"github.com/nugget/hearth/internal/prompts"
	"github.com/nugget/hearth/internal/tools"
	"github.com/nugget/hearth/internal/transport"
	"github.com/nugget/hearth/internal/usage"
)

// HandlerConfig holds the model settings for interactive messages.
type HandlerConfig struct {
	Model         string
	MaxIterations int
	MaxTokens     int
}

// ExecutorFactory builds the tool executor bound to one chat.
type ExecutorFactory func(chatID string, logger *slog.Logger) ToolExecutor

// Reply is what Respond produces for one message.
type Reply struct {
	Text      string
	RequestID string
	State     *LoopState // nil when the run failed
}

// Handler turns one inbound message into one reply.
type Handler struct {
	loop      *Loop
	cfg       HandlerConfig
	executors ExecutorFactory
	clock     func(ctx context.Context, chatID string) time.Time
	bus       *events.Bus
	logger    *slog.Logger
}

// NewHandler creates a handler running loop with executors from the
// factory.
func NewHandler(loop *Loop, cfg HandlerConfig, executors ExecutorFactory, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		loop:      loop,
		cfg:       cfg,
		executors: executors,
		clock:     func(context.Context, string) time.Time { return time.Now() },
		logger:    logger,
	}
}

// SetClock sets how the handler learns a chat's local time for the
// system prompt.
func (h *Handler) SetClock(fn func(ctx context.Context, chatID string) time.Time) {
	h.clock = fn
}

// SetEventBus publishes request start and completion to bus.
func (h *Handler) SetEventBus(bus *events.Bus) { h.bus = bus }

// Handle returns the reply text for msg. It is never empty.
func (h *Handler) Handle(ctx context.Context, msg transport.InboundMessage) string {
	return h.Respond(ctx, msg).Text
}

// Respond handles msg and reports the run alongside the reply.
func (h *Handler) Respond(ctx context.Context, msg transport.InboundMessage) (reply Reply) {
	reqID := generateRequestID()
	ctx = WithRequestID(ctx, reqID)
	log := h.logger.With("request_id", reqID, "chat_id", msg.ChatID)
	reply.RequestID = reqID

	defer func() {
		if p := recover(); p != nil {
			log.Error("panic handling message", "panic", p, "stack", string(debug.Stack()))
			reply = Reply{Text: prompts.ApologyReply, RequestID: reqID}
		}
	}()

	start := time.Now()
	h.bus.Emit(events.SourceAgent, events.KindRequestStart, map[string]any{
		"request_id": reqID,
		"chat_id":    msg.ChatID,
	})

	res, err := h.run(ctx, msg, log)
	if err != nil {
		log.Error("message handling failed", "error", err)
		reply.Text = prompts.ApologyReply
		return reply
	}

	log.Info("message handled",
		"iterations", res.State.Iterations,
		"model_calls", res.State.ModelCalls,
		"input_tokens", res.State.InputTokens,
		"output_tokens", res.State.OutputTokens,
		"termination", res.State.Termination,
		"tools_used", res.State.ToolsUsed,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	h.bus.Emit(events.SourceAgent, events.KindRequestComplete, map[string]any{
		"request_id":  reqID,
		"chat_id":     msg.ChatID,
		"iterations":  res.State.Iterations,
		"model_calls": res.State.ModelCalls,
		"tokens_in":   res.State.InputTokens,
		"tokens_out":  res.State.OutputTokens,
		"termination": string(res.State.Termination),
		"elapsed_ms":  time.Since(start).Milliseconds(),
	})

	state := res.State
	reply.Text = res.Text
	reply.State = &state
	return reply
}

func (h *Handler) run(ctx context.Context, msg transport.InboundMessage, log *slog.Logger) (*Result, error) {
	if msg.ChatID == "" {
		return nil, fmt.Errorf("message has no chat id")
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		if len(msg.Images) == 0 {
			return nil, fmt.Errorf("message has neither text nor images")
		}
		text = prompts.ImageOnlyPrompt
	}

	exec := h.executors(msg.ChatID, log)
	return h.loop.Run(ctx, RunConfig{
		Tools:         tools.Catalog(),
		MaxIterations: h.cfg.MaxIterations,
		SystemPrompt:  prompts.AssistantSystemPrompt(h.clock(ctx, msg.ChatID)),
		Model:         h.cfg.Model,
		MaxTokens:     h.cfg.MaxTokens,
		Role:          usage.RoleInteractive,
		ChatID:        msg.ChatID,
	}, []llm.Message{{
		Role:    llm.RoleUser,
		Content: text,
		Images:  msg.Images,
	}}, exec)
}
