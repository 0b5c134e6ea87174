package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/nugget/hearth/internal/llm"
	"github.com/nugget/hearth/internal/usage"
)

type mockLLMCall struct {
	Model    string
	System   string
	Messages []llm.Message
	Tools    []map[string]any
}

// mockLLM replays canned responses in order and records each request.
type mockLLM struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	err       error
	callIndex int
	calls     []mockLLMCall
}

func (m *mockLLM) Chat(_ context.Context, req *llm.Request) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mockLLMCall{
		Model:    req.Model,
		System:   req.System,
		Messages: slices.Clone(req.Messages),
		Tools:    req.Tools,
	})
	if m.err != nil {
		return nil, m.err
	}
	if m.callIndex >= len(m.responses) {
		return nil, errors.New("mockLLM: no more responses")
	}
	resp := m.responses[m.callIndex]
	m.callIndex++
	return resp, nil
}

func (m *mockLLM) Ping(context.Context) error { return nil }

func textResponse(text string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Model:        "test-model",
		Message:      llm.Message{Role: llm.RoleAssistant, Content: text},
		StopReason:   llm.StopDone,
		InputTokens:  100,
		OutputTokens: 10,
	}
}

func toolResponse(text string, calls ...llm.ToolCall) *llm.ChatResponse {
	return &llm.ChatResponse{
		Model:        "test-model",
		Message:      llm.Message{Role: llm.RoleAssistant, Content: text, ToolCalls: calls},
		StopReason:   llm.StopNeedsTools,
		InputTokens:  100,
		OutputTokens: 20,
	}
}

func call(id, name string, args map[string]any) llm.ToolCall {
	return llm.ToolCall{ID: id, Function: llm.ToolFunction{Name: name, Arguments: args}}
}

type execCall struct {
	Name string
	Args map[string]any
}

// fakeExec answers tool calls from a result map, defaulting to a
// success payload.
type fakeExec struct {
	mu      sync.Mutex
	results map[string]string
	calls   []execCall
}

func (f *fakeExec) Execute(_ context.Context, name string, args map[string]any) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, execCall{Name: name, Args: args})
	if r, ok := f.results[name]; ok {
		return r
	}
	return `{"success":true}`
}

type recordingLedger struct {
	mu      sync.Mutex
	records []usage.Record
}

func (r *recordingLedger) Record(_ context.Context, rec usage.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
