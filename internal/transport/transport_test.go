package transport

import (
	"context"
	"errors"
	"testing"
)

type recordingSender struct {
	sent []string
}

func (r *recordingSender) SendMessage(_ context.Context, chatID, text string) error {
	r.sent = append(r.sent, chatID+"="+text)
	return nil
}

func TestSplitChatID(t *testing.T) {
	tests := []struct {
		in         string
		prefix, id string
		ok         bool
	}{
		{"signal:+15551234567", "signal", "+15551234567", true},
		{"ws:abc:def", "ws", "abc:def", true},
		{"nocolon", "", "", false},
		{":id", "", "", false},
		{"signal:", "", "", false},
	}
	for _, tt := range tests {
		prefix, id, ok := SplitChatID(tt.in)
		if prefix != tt.prefix || id != tt.id || ok != tt.ok {
			t.Errorf("SplitChatID(%q) = %q, %q, %v", tt.in, prefix, id, ok)
		}
	}
	if got := ChatID("signal", "+1"); got != "signal:+1" {
		t.Errorf("ChatID = %q", got)
	}
}

func TestRouter(t *testing.T) {
	r := NewRouter()
	signal := &recordingSender{}
	ws := &recordingSender{}
	r.Register("signal", signal)
	r.Register("ws", ws)
	ctx := context.Background()

	if err := r.SendMessage(ctx, "signal:+1", "hi"); err != nil {
		t.Fatal(err)
	}
	if err := r.SendMessage(ctx, "ws:abc", "yo"); err != nil {
		t.Fatal(err)
	}
	if len(signal.sent) != 1 || signal.sent[0] != "signal:+1=hi" {
		t.Errorf("signal sent %v", signal.sent)
	}
	if len(ws.sent) != 1 || ws.sent[0] != "ws:abc=yo" {
		t.Errorf("ws sent %v", ws.sent)
	}

	if err := r.SendMessage(ctx, "email:x", "hi"); !errors.Is(err, ErrNoRoute) {
		t.Errorf("unknown prefix err = %v, want ErrNoRoute", err)
	}
	if err := r.SendMessage(ctx, "bogus", "hi"); err == nil {
		t.Error("malformed chat id accepted")
	}

	r.Unregister("ws")
	if got := r.Prefixes(); len(got) != 1 || got[0] != "signal" {
		t.Errorf("Prefixes = %v", got)
	}
}
