// Package transport defines how chat messages enter and leave Hearth.
//
// Chat ids carry their transport as a prefix ("signal:+15551234567",
// "ws:3f2a"), so a reply can be routed without knowing where the
// message came from.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nugget/hearth/internal/llm"
)

// ErrNoRoute is returned when no transport is registered for a chat id.
var ErrNoRoute = errors.New("no transport for chat")

// InboundMessage is one message received from a user.
type InboundMessage struct {
	ChatID     string
	SenderName string
	Text       string
	Images     []llm.Image // resolved by the transport
	ReceivedAt time.Time
}

// Sender delivers text to a chat.
type Sender interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

// ChatID joins a transport prefix and a transport-local id.
func ChatID(prefix, id string) string {
	return prefix + ":" + id
}

// SplitChatID separates the transport prefix from a chat id.
func SplitChatID(chatID string) (prefix, id string, ok bool) {
	prefix, id, ok = strings.Cut(chatID, ":")
	if !ok || prefix == "" || id == "" {
		return "", "", false
	}
	return prefix, id, true
}

// Router sends to whichever transport owns a chat id's prefix.
type Router struct {
	mu     sync.RWMutex
	routes map[string]Sender
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{routes: make(map[string]Sender)}
}

// Register routes chat ids with prefix to s, replacing any earlier
// registration.
func (r *Router) Register(prefix string, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[prefix] = s
}

// Unregister removes the route for prefix.
func (r *Router) Unregister(prefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.routes, prefix)
}

// Prefixes lists the registered transports.
func (r *Router) Prefixes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.routes))
	for p := range r.routes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// SendMessage delivers text to chatID through its transport.
func (r *Router) SendMessage(ctx context.Context, chatID, text string) error {
	prefix, _, ok := SplitChatID(chatID)
	if !ok {
		return fmt.Errorf("malformed chat id %q", chatID)
	}
	r.mu.RLock()
	s, ok := r.routes[prefix]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w %s", ErrNoRoute, chatID)
	}
	return s.SendMessage(ctx, chatID, text)
}
