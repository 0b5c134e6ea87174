package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/hearth/internal/events"
	"github.com/nugget/hearth/internal/transport"
)

// Prefix is the chat id prefix for websocket conversations.
const Prefix = "ws"

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// chatNameRe limits the ?chat= name so ids stay printable and short.
var chatNameRe = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// Authentication is by token, so any origin may connect.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Frame is one websocket message in either direction.
//
// Clients send {"type":"message","text":...,"images":[...]}. The server
// answers with "reply", pushes digests and tool-sent messages as
// "message", and reports bad frames as "error".
type Frame struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	Images    []ImagePayload `json:"images,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Error     string         `json:"error,omitempty"`
}

type wsConn struct {
	conn   *websocket.Conn
	chatID string
	mu     sync.Mutex // gorilla allows one concurrent writer
}

func (c *wsConn) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// keepalive pings until done is closed or a ping fails.
func (c *wsConn) keepalive(done <-chan struct{}) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}

// Hub tracks open chat sockets by chat id. It is the transport.Sender
// for the "ws" prefix: a message for a chat goes to every socket open
// on it.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[*wsConn]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]map[*wsConn]struct{})}
}

func (h *Hub) add(c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[c.chatID]
	if !ok {
		set = make(map[*wsConn]struct{})
		h.conns[c.chatID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) remove(c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.conns[c.chatID]
	delete(set, c)
	if len(set) == 0 {
		delete(h.conns, c.chatID)
	}
}

// Connected reports how many sockets are open for chatID.
func (h *Hub) Connected(chatID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[chatID])
}

// SendMessage pushes text to every socket open on chatID. With none
// open the error wraps transport.ErrNoRoute.
func (h *Hub) SendMessage(_ context.Context, chatID, text string) error {
	h.mu.RLock()
	targets := make([]*wsConn, 0, len(h.conns[chatID]))
	for c := range h.conns[chatID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return fmt.Errorf("%w %s: no websocket connected", transport.ErrNoRoute, chatID)
	}
	var errs []error
	for _, c := range targets {
		if err := c.write(Frame{Type: "message", Text: text}); err != nil {
			errs = append(errs, err)
		}
	}
	// One live socket is enough.
	if len(errs) == len(targets) {
		return fmt.Errorf("websocket send: %w", errors.Join(errs...))
	}
	return nil
}

// handleChatSocket serves GET /v1/ws?chat=<name>. Messages on one
// socket are answered one at a time, in order.
func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hub == nil || s.deps.Responder == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "chat is not available")
		return
	}
	name := r.URL.Query().Get("chat")
	if !chatNameRe.MatchString(name) {
		s.errorResponse(w, http.StatusBadRequest, "chat must be 1-64 letters, digits, '.', '_' or '-'")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c := &wsConn{conn: conn, chatID: transport.ChatID(Prefix, name)}
	log := s.logger.With("chat_id", c.chatID)
	s.deps.Hub.add(c)
	defer s.deps.Hub.remove(c)
	log.Info("websocket chat connected")

	done := make(chan struct{})
	defer close(done)
	go c.keepalive(done)

	conn.SetReadLimit(maxBodyBytes)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		// Reset after every turn: pongs are only processed while reading.
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("websocket read failed", "error", err)
			}
			log.Info("websocket chat disconnected")
			return
		}
		if f.Type != "message" {
			_ = c.write(Frame{Type: "error", Error: fmt.Sprintf("unknown frame type %q", f.Type)})
			continue
		}

		req := MessageRequest{ChatID: c.chatID, Text: f.Text, Images: f.Images}
		msg, err := req.inbound(s.now())
		if err != nil {
			_ = c.write(Frame{Type: "error", Error: err.Error()})
			continue
		}
		s.deps.Bus.Emit(events.SourceAPI, events.KindMessageReceived, map[string]any{
			"chat_id":     msg.ChatID,
			"message_len": len(msg.Text),
			"images":      len(msg.Images),
		})

		reply := s.deps.Responder.Respond(r.Context(), msg)
		if err := c.write(Frame{Type: "reply", Text: reply.Text, RequestID: reply.RequestID}); err != nil {
			log.Warn("websocket reply failed", "request_id", reply.RequestID, "error", err)
			return
		}
	}
}

// handleEventSocket serves GET /v1/events, streaming bus events as
// JSON. ?source=digest,scheduler narrows the feed.
func (s *Server) handleEventSocket(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bus == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "event feed is not available")
		return
	}
	filter := sourceFilter(r.URL.Query().Get("source"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.deps.Bus.Subscribe(64)
	defer s.deps.Bus.Unsubscribe(sub)
	c := &wsConn{conn: conn}

	// The feed is write-only; reading surfaces the close and pongs.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-ping.C:
			if err := c.ping(); err != nil {
				return
			}
		case e, ok := <-sub:
			if !ok {
				return
			}
			if filter != nil && !filter[e.Source] {
				continue
			}
			if err := c.write(e); err != nil {
				return
			}
		}
	}
}

func sourceFilter(v string) map[string]bool {
	if v == "" {
		return nil
	}
	f := make(map[string]bool)
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			f[s] = true
		}
	}
	if len(f) == 0 {
		return nil
	}
	return f
}
