package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nugget/hearth/internal/events"
	"github.com/nugget/hearth/internal/llm"
	"github.com/nugget/hearth/internal/meals"
	"github.com/nugget/hearth/internal/prompts"
	"github.com/nugget/hearth/internal/tools"
	"github.com/nugget/hearth/internal/usage"

	_ "modernc.org/sqlite"
)

func userTurn(text string) []llm.Message {
	return []llm.Message{{Role: llm.RoleUser, Content: text}}
}

func testConfig(max int) RunConfig {
	return RunConfig{
		Tools:         tools.Catalog(),
		MaxIterations: max,
		SystemPrompt:  "system",
		Model:         "test-model",
		Role:          usage.RoleInteractive,
		ChatID:        "signal:+15550001111",
	}
}

func TestRun_PlainAnswer(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{textResponse("Hello there!")}}
	exec := &fakeExec{}

	res, err := NewLoop(mock, quietLogger()).Run(context.Background(), testConfig(10), userTurn("hi"), exec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Text != "Hello there!" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.State.Iterations != 1 || res.State.ModelCalls != 1 {
		t.Errorf("state = %+v, want 1 iteration, 1 call", res.State)
	}
	if res.State.Termination != TerminationDone {
		t.Errorf("Termination = %q", res.State.Termination)
	}
	if len(exec.calls) != 0 {
		t.Errorf("executed %d tools, want 0", len(exec.calls))
	}

	c := mock.calls[0]
	if c.System != "system" || c.Model != "test-model" {
		t.Errorf("request system=%q model=%q", c.System, c.Model)
	}
	if len(c.Tools) != len(tools.Catalog()) {
		t.Errorf("sent %d tools, want %d", len(c.Tools), len(tools.Catalog()))
	}
}

func TestRun_LogsMealThenConfirms(t *testing.T) {
	raw := json.RawMessage(`[{"type":"tool_use","id":"toolu_1","name":"log_meal","input":{"description":"banana"}}]`)
	first := toolResponse("", call("toolu_1", "log_meal", map[string]any{
		"description": "banana",
		"meal_type":   "snack",
		"calories":    105.0,
	}))
	first.Message.Raw = raw

	mock := &mockLLM{responses: []*llm.ChatResponse{
		first,
		textResponse("Logged a banana snack, about 105 kcal."),
	}}
	exec := &fakeExec{results: map[string]string{
		"log_meal": `{"success":true,"message":"Logged banana."}`,
	}}

	res, err := NewLoop(mock, quietLogger()).Run(context.Background(), testConfig(10), userTurn("I ate a banana"), exec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(res.Text, "banana") {
		t.Errorf("Text = %q", res.Text)
	}
	if len(exec.calls) != 1 || exec.calls[0].Name != "log_meal" {
		t.Fatalf("exec calls = %+v", exec.calls)
	}
	if exec.calls[0].Args["description"] != "banana" {
		t.Errorf("args = %v", exec.calls[0].Args)
	}
	if res.State.ToolsUsed["log_meal"] != 1 {
		t.Errorf("ToolsUsed = %v", res.State.ToolsUsed)
	}

	if len(mock.calls) != 2 {
		t.Fatalf("model calls = %d, want 2", len(mock.calls))
	}
	msgs := mock.calls[1].Messages
	if len(msgs) != 3 {
		t.Fatalf("second call has %d messages, want 3", len(msgs))
	}
	if msgs[1].Role != llm.RoleAssistant || string(msgs[1].Raw) != string(raw) {
		t.Errorf("assistant turn not echoed verbatim: %+v", msgs[1])
	}
	results := msgs[2].ToolResults
	if msgs[2].Role != llm.RoleUser || len(results) != 1 {
		t.Fatalf("tool result turn = %+v", msgs[2])
	}
	if results[0].ToolCallID != "toolu_1" || results[0].IsError {
		t.Errorf("result = %+v", results[0])
	}
}

func TestRun_LogsMealIntoStore(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	mealStore, err := meals.NewStore(db)
	if err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(10)
	now := time.Date(2026, 3, 14, 12, 30, 0, 0, time.UTC)
	exec := tools.NewExecutor(cfg.ChatID, tools.Deps{
		Meals:    mealStore,
		Location: time.UTC,
		Now:      func() time.Time { return now },
	}, quietLogger())

	mock := &mockLLM{responses: []*llm.ChatResponse{
		toolResponse("", call("toolu_1", "log_meal", map[string]any{
			"description": "banana",
			"calories":    105.0,
		})),
		textResponse("Logged a banana, about 105 kcal."),
	}}

	res, err := NewLoop(mock, quietLogger()).Run(context.Background(), cfg, userTurn("I just ate a banana"), exec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(res.Text) == "" {
		t.Error("empty reply")
	}

	results := mock.calls[1].Messages[2].ToolResults
	if len(results) != 1 || results[0].IsError || !strings.Contains(results[0].Content, `"success":true`) {
		t.Fatalf("tool result = %+v", results)
	}

	got, err := mealStore.ForDate(context.Background(), cfg.ChatID, "2026-03-14")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Description != "banana" {
		t.Fatalf("meals today = %+v, want one banana", got)
	}
	if got[0].Calories == nil || *got[0].Calories != 105 {
		t.Errorf("calories = %v, want 105", got[0].Calories)
	}
	if other, _ := mealStore.ForDate(context.Background(), "signal:+15550002222", "2026-03-14"); len(other) != 0 {
		t.Errorf("meal leaked to another chat: %+v", other)
	}
}

func TestRun_ResultsKeepRequestOrder(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{
		toolResponse("",
			call("a", "get_meals_today", nil),
			call("b", "read_note", map[string]any{"path": "missing"}),
			call("c", "get_preferences", nil),
		),
		textResponse("Done."),
	}}
	exec := &fakeExec{results: map[string]string{
		"read_note": `{"error":"note not found"}`,
	}}

	if _, err := NewLoop(mock, quietLogger()).Run(context.Background(), testConfig(10), userTurn("status?"), exec); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var order []string
	for _, c := range exec.calls {
		order = append(order, c.Name)
	}
	if strings.Join(order, ",") != "get_meals_today,read_note,get_preferences" {
		t.Errorf("execution order = %v", order)
	}
	if exec.calls[0].Args == nil {
		t.Error("nil arguments not replaced with an empty map")
	}

	results := mock.calls[1].Messages[2].ToolResults
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, want := range []string{"a", "b", "c"} {
		if results[i].ToolCallID != want {
			t.Errorf("result %d id = %q, want %q", i, results[i].ToolCallID, want)
		}
	}
	if results[0].IsError || !results[1].IsError || results[2].IsError {
		t.Errorf("IsError flags = %v %v %v", results[0].IsError, results[1].IsError, results[2].IsError)
	}
}

func TestRun_CeilingReturnsLastText(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{
		toolResponse("Checking your notes.", call("1", "list_notes", nil)),
		toolResponse("", call("2", "search_notes", map[string]any{"query": "x"})),
	}}

	res, err := NewLoop(mock, quietLogger()).Run(context.Background(), testConfig(2), userTurn("find x"), &fakeExec{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State.Termination != TerminationMaxIterations {
		t.Errorf("Termination = %q", res.State.Termination)
	}
	if res.State.ModelCalls != 2 {
		t.Errorf("ModelCalls = %d, want 2 (no wrap-up when text exists)", res.State.ModelCalls)
	}
	if res.Text != "Checking your notes." {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestRun_CeilingWrapUpCall(t *testing.T) {
	const ceiling = 3
	var responses []*llm.ChatResponse
	for i := range ceiling {
		responses = append(responses, toolResponse("", call(string(rune('a'+i)), "list_notes", nil)))
	}
	responses = append(responses, textResponse("I looked through your notes but found nothing."))
	mock := &mockLLM{responses: responses}

	res, err := NewLoop(mock, quietLogger()).Run(context.Background(), testConfig(ceiling), userTurn("notes?"), &fakeExec{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State.ModelCalls != ceiling+1 {
		t.Errorf("ModelCalls = %d, want %d", res.State.ModelCalls, ceiling+1)
	}
	if res.State.Iterations != ceiling {
		t.Errorf("Iterations = %d, want %d", res.State.Iterations, ceiling)
	}
	if res.Text != "I looked through your notes but found nothing." {
		t.Errorf("Text = %q", res.Text)
	}

	last := mock.calls[ceiling].Messages
	tail := last[len(last)-1]
	if tail.Role != llm.RoleUser || tail.Content != prompts.WrapUpNudge || len(tail.ToolResults) != 1 {
		t.Errorf("wrap-up turn = %+v", tail)
	}
	// The nudge must not leak into the earlier request's history.
	prev := mock.calls[ceiling-1].Messages
	if prev[len(prev)-1].Content != "" {
		t.Error("nudge mutated shared history")
	}
}

func TestRun_FallbackWhenSilent(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{
		textResponse(""),
		textResponse("   "),
	}}

	res, err := NewLoop(mock, quietLogger()).Run(context.Background(), testConfig(10), userTurn("hi"), &fakeExec{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State.ModelCalls != 2 {
		t.Errorf("ModelCalls = %d, want 2", res.State.ModelCalls)
	}
	if res.Text != prompts.EmptyResponseFallback {
		t.Errorf("Text = %q", res.Text)
	}
	nudge := mock.calls[1].Messages
	if got := nudge[len(nudge)-1]; got.Content != prompts.WrapUpNudge {
		t.Errorf("last message = %+v", got)
	}
}

func TestRun_StopReasons(t *testing.T) {
	needsNoCalls := textResponse("All set.")
	needsNoCalls.StopReason = llm.StopNeedsTools

	truncated := textResponse("The answer is")
	truncated.StopReason = llm.StopMaxTokens

	tests := []struct {
		name string
		resp *llm.ChatResponse
		want Termination
	}{
		{"needs_tools without calls is done", needsNoCalls, TerminationDone},
		{"max tokens", truncated, TerminationMaxTokens},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockLLM{responses: []*llm.ChatResponse{tt.resp}}
			res, err := NewLoop(mock, quietLogger()).Run(context.Background(), testConfig(10), userTurn("q"), &fakeExec{})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.State.Termination != tt.want {
				t.Errorf("Termination = %q, want %q", res.State.Termination, tt.want)
			}
			if res.State.ModelCalls != 1 {
				t.Errorf("ModelCalls = %d, want 1", res.State.ModelCalls)
			}
		})
	}
}

func TestRun_ModelError(t *testing.T) {
	mock := &mockLLM{err: errors.New("connection refused")}
	_, err := NewLoop(mock, quietLogger()).Run(context.Background(), testConfig(10), userTurn("hi"), &fakeExec{})
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("err = %v", err)
	}
}

func TestRun_DefaultCeiling(t *testing.T) {
	var responses []*llm.ChatResponse
	for range DefaultMaxIterations {
		responses = append(responses, toolResponse("working", call("x", "list_notes", nil)))
	}
	mock := &mockLLM{responses: responses}

	res, err := NewLoop(mock, quietLogger()).Run(context.Background(), testConfig(0), userTurn("loop"), &fakeExec{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State.Iterations != DefaultMaxIterations {
		t.Errorf("Iterations = %d, want %d", res.State.Iterations, DefaultMaxIterations)
	}
}

func TestRun_RecordsUsageAndTokens(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{
		toolResponse("", call("1", "get_meals_today", nil)),
		textResponse("You had oatmeal."),
	}}
	ledger := &recordingLedger{}
	loop := NewLoop(mock, quietLogger())
	loop.SetUsageRecorder(ledger)

	ctx := WithRequestID(context.Background(), "r_12345678")
	cfg := testConfig(10)
	cfg.Role = usage.RoleDigest
	res, err := loop.Run(ctx, cfg, userTurn("what did I eat"), &fakeExec{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.State.InputTokens != 200 || res.State.OutputTokens != 30 {
		t.Errorf("tokens = %d/%d, want 200/30", res.State.InputTokens, res.State.OutputTokens)
	}
	if len(ledger.records) != 2 {
		t.Fatalf("recorded %d calls, want 2", len(ledger.records))
	}
	for _, rec := range ledger.records {
		if rec.RequestID != "r_12345678" || rec.Role != usage.RoleDigest || rec.ChatID != cfg.ChatID || rec.Model != "test-model" {
			t.Errorf("record = %+v", rec)
		}
	}
}

func TestRun_PublishesEvents(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{
		toolResponse("", call("1", "get_preferences", nil)),
		textResponse("ok"),
	}}
	bus := events.New()
	ch := bus.Subscribe(16)
	defer bus.Unsubscribe(ch)

	loop := NewLoop(mock, quietLogger())
	loop.SetEventBus(bus)
	if _, err := loop.Run(context.Background(), testConfig(10), userTurn("prefs"), &fakeExec{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	kinds := map[string]int{}
	timeout := time.After(time.Second)
	for len(kinds) < 2 || kinds[events.KindModelResponse] < 2 {
		select {
		case e := <-ch:
			kinds[e.Kind]++
		case <-timeout:
			t.Fatalf("events seen: %v", kinds)
		}
	}
	if kinds[events.KindToolDone] != 1 {
		t.Errorf("tool_done events = %d, want 1", kinds[events.KindToolDone])
	}
}

func TestRun_MessagesIncludeFinalTurn(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{
		toolResponse("", call("1", "list_tasks", nil)),
		textResponse("No tasks."),
	}}
	res, err := NewLoop(mock, quietLogger()).Run(context.Background(), testConfig(10), userTurn("tasks"), &fakeExec{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Messages) != 4 {
		t.Fatalf("Messages = %d, want 4", len(res.Messages))
	}
	if final := res.Messages[3]; final.Role != llm.RoleAssistant || final.Content != "No tasks." {
		t.Errorf("final turn = %+v", final)
	}
}
