// Package llm provides model provider clients behind a single Client
// interface: Anthropic, Ollama, and a router between them.
package llm

import (
	"encoding/json"
	"log/slog"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// StopReason is the provider-neutral reason a model stopped generating.
type StopReason string

const (
	// StopDone is a normal end of turn.
	StopDone StopReason = "done"
	// StopNeedsTools means the turn ended with tool calls to execute.
	StopNeedsTools StopReason = "needs_tools"
	// StopMaxTokens means output was cut at the token limit.
	StopMaxTokens StopReason = "max_tokens"
)

// Image is an image attached to a user turn. Either URL or Data is set.
type Image struct {
	URL       string
	MediaType string // e.g. image/jpeg; required with Data
	Data      []byte
}

// Message is one turn of a conversation.
//
// A user turn carries Content, optional Images, or ToolResults. An
// assistant turn carries Content and/or ToolCalls, plus Raw: the
// provider's own content blocks, which are resubmitted unchanged when
// the turn is sent back.
type Message struct {
	Role        string
	Content     string
	Images      []Image
	ToolCalls   []ToolCall
	ToolResults []ToolResult
	Raw         json.RawMessage
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Function ToolFunction `json:"function"`
}

// ToolFunction names the tool and carries its decoded arguments.
type ToolFunction struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult answers one ToolCall.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// Request is a single model call.
type Request struct {
	Model    string
	System   string
	Messages []Message

	// Tools are OpenAI-style function definitions:
	// {"type":"function","function":{"name","description","parameters"}}.
	Tools []map[string]any

	MaxTokens   int      // 0 = provider default
	Temperature *float64 // nil = provider default
}

// ChatResponse is the unified response from any provider.
type ChatResponse struct {
	Model      string
	Message    Message
	StopReason StopReason

	InputTokens  int
	OutputTokens int
}
