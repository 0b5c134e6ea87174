package llm

import (
	"context"
	"testing"
)

type stubClient struct {
	resp *ChatResponse
	err  error
	last *Request
}

func (s *stubClient) Chat(_ context.Context, req *Request) (*ChatResponse, error) {
	s.last = req
	return s.resp, s.err
}

func (s *stubClient) Ping(context.Context) error { return nil }

func TestGenerateText(t *testing.T) {
	c := &stubClient{resp: &ChatResponse{Message: Message{Content: "Sunny, 21°C."}}}

	resp, err := GenerateText(context.Background(), c, TextRequest{Model: "m", System: "s", Prompt: "weather?", MaxTokens: 200})
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if resp.Message.Content != "Sunny, 21°C." {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if len(c.last.Tools) != 0 {
		t.Error("GenerateText must not send tools")
	}
	if c.last.System != "s" || c.last.MaxTokens != 200 {
		t.Errorf("request = %+v", c.last)
	}
}

func TestGenerateText_Empty(t *testing.T) {
	c := &stubClient{resp: &ChatResponse{Message: Message{Content: "  "}}}
	if _, err := GenerateText(context.Background(), c, TextRequest{Prompt: "x"}); err == nil {
		t.Error("expected error for empty completion")
	}
}

func TestGenerateVision(t *testing.T) {
	c := &stubClient{resp: &ChatResponse{Message: Message{Content: "A bowl of oats."}}}

	_, err := GenerateVision(context.Background(), c, Image{URL: "https://example.com/a.jpg"}, TextRequest{Prompt: "describe"})
	if err != nil {
		t.Fatalf("GenerateVision: %v", err)
	}
	if len(c.last.Messages[0].Images) != 1 {
		t.Error("image not attached to user turn")
	}

	if _, err := GenerateVision(context.Background(), c, Image{}, TextRequest{}); err == nil {
		t.Error("expected error for empty image")
	}
}

func TestMultiClient_Routes(t *testing.T) {
	fallback := &stubClient{resp: &ChatResponse{Model: "fallback"}}
	local := &stubClient{resp: &ChatResponse{Model: "local"}}

	m := NewMultiClient(fallback)
	m.AddProvider("ollama", local)
	m.AddModel("qwen3:4b", "ollama")

	resp, _ := m.Chat(context.Background(), &Request{Model: "qwen3:4b"})
	if resp.Model != "local" {
		t.Errorf("routed to %s, want local", resp.Model)
	}
	resp, _ = m.Chat(context.Background(), &Request{Model: "claude-x"})
	if resp.Model != "fallback" {
		t.Errorf("routed to %s, want fallback", resp.Model)
	}

	empty := NewMultiClient(nil)
	if _, err := empty.Chat(context.Background(), &Request{Model: "x"}); err == nil {
		t.Error("expected error with no providers")
	}
}
