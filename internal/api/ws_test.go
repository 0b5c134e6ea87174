package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/hearth/internal/config"
	"github.com/nugget/hearth/internal/events"
	"github.com/nugget/hearth/internal/transport"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http"), nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial %s: %v (status %d)", url, err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestChatSocket(t *testing.T) {
	hub := NewHub()
	resp := &fakeResponder{}
	_, ts := newTestServer(t, config.APIConfig{}, Deps{Responder: resp, Hub: hub})

	conn := dial(t, ts.URL+"/v1/ws?chat=kitchen")
	waitFor(t, "hub registration", func() bool { return hub.Connected("ws:kitchen") == 1 })

	if err := conn.WriteJSON(Frame{Type: "message", Text: "hello"}); err != nil {
		t.Fatal(err)
	}
	f := readFrame(t, conn)
	if f.Type != "reply" || f.Text != "echo: hello" || f.RequestID == "" {
		t.Errorf("reply frame = %+v", f)
	}
	if msgs := resp.received(); len(msgs) != 1 || msgs[0].ChatID != "ws:kitchen" {
		t.Errorf("received = %+v", msgs)
	}

	// Pushed messages arrive as "message" frames.
	if err := hub.SendMessage(context.Background(), "ws:kitchen", "Good morning"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if f := readFrame(t, conn); f.Type != "message" || f.Text != "Good morning" {
		t.Errorf("push frame = %+v", f)
	}

	if err := conn.WriteJSON(Frame{Type: "bogus"}); err != nil {
		t.Fatal(err)
	}
	if f := readFrame(t, conn); f.Type != "error" || !strings.Contains(f.Error, "bogus") {
		t.Errorf("error frame = %+v", f)
	}

	if err := conn.WriteJSON(Frame{Type: "message"}); err != nil {
		t.Fatal(err)
	}
	if f := readFrame(t, conn); f.Type != "error" {
		t.Errorf("empty message frame = %+v, want error", f)
	}

	conn.Close()
	waitFor(t, "hub removal", func() bool { return hub.Connected("ws:kitchen") == 0 })
}

func TestChatSocket_BadName(t *testing.T) {
	_, ts := newTestServer(t, config.APIConfig{}, Deps{Responder: &fakeResponder{}, Hub: NewHub()})

	for _, q := range []string{"", "?chat=", "?chat=a/b", "?chat=" + strings.Repeat("x", 65)} {
		resp, err := http.Get(ts.URL + "/v1/ws" + q)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%q: status = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestHub_NoConnection(t *testing.T) {
	err := NewHub().SendMessage(context.Background(), "ws:nobody", "hi")
	if !errors.Is(err, transport.ErrNoRoute) {
		t.Errorf("err = %v, want ErrNoRoute", err)
	}
}

func TestEventSocket(t *testing.T) {
	bus := events.New()
	_, ts := newTestServer(t, config.APIConfig{}, Deps{Bus: bus})

	conn := dial(t, ts.URL+"/v1/events?source=digest")
	waitFor(t, "subscription", func() bool { return bus.SubscriberCount() == 1 })

	bus.Emit(events.SourceAgent, events.KindRequestStart, map[string]any{"request_id": "r1"})
	bus.Emit(events.SourceDigest, events.KindDigestSent, map[string]any{"chat_id": "signal:+1"})

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var e events.Event
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatal(err)
	}
	if e.Source != events.SourceDigest || e.Kind != events.KindDigestSent {
		t.Errorf("event = %+v, want the digest event only", e)
	}

	conn.Close()
	waitFor(t, "unsubscribe", func() bool { return bus.SubscriberCount() == 0 })
}

func TestSourceFilter(t *testing.T) {
	if sourceFilter("") != nil || sourceFilter(" , ") != nil {
		t.Error("empty filter should be nil")
	}
	f := sourceFilter("digest, scheduler")
	if len(f) != 2 || !f["digest"] || !f["scheduler"] {
		t.Errorf("filter = %v", f)
	}
}
