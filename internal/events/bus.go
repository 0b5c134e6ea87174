// Package events is an in-process broadcast bus for operational events:
// requests handled by the agent, digests built and sent, scheduled jobs
// firing. Subscribers such as the WebSocket feed and the MQTT mirror
// receive them on buffered channels. Publishing on a nil *Bus is a no-op.
package events

import (
	"sync"
	"time"
)

// Sources.
const (
	SourceAgent     = "agent"
	SourceDigest    = "digest"
	SourceScheduler = "scheduler"
	SourceSignal    = "signal"
	SourceAPI       = "api"
	SourceConnwatch = "connwatch"
)

// Kinds.
const (
	// KindRequestStart: request_id, chat_id.
	KindRequestStart = "request_start"
	// KindModelResponse: request_id, iteration, model, tokens_in,
	// tokens_out, stop_reason, tool_calls.
	KindModelResponse = "model_response"
	// KindToolDone: request_id, tool, ok, duration_ms.
	KindToolDone = "tool_done"
	// KindRequestComplete: request_id, chat_id, iterations, model_calls,
	// tokens_in, tokens_out, termination, elapsed_ms.
	KindRequestComplete = "request_complete"

	// KindMessageReceived: chat_id, message_len, images.
	KindMessageReceived = "message_received"

	// KindDigestBuilt: chat_id, sections_failed, elapsed_ms.
	KindDigestBuilt = "digest_built"
	// KindDigestSent: chat_id.
	KindDigestSent = "digest_sent"
	// KindDigestFailed: chat_id, error.
	KindDigestFailed = "digest_failed"

	// KindJobFired: job_id, chat_id.
	KindJobFired = "job_fired"

	// KindServiceUp: service, attempts.
	KindServiceUp = "service_up"
	// KindServiceDown: service, error.
	KindServiceDown = "service_down"
)

// Event is one published occurrence.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus fans events out to subscribers without blocking publishers. A
// subscriber whose buffer is full misses the event.
type Bus struct {
	mu   sync.RWMutex
	subs map[<-chan Event]chan Event
	now  func() time.Time
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs: make(map[<-chan Event]chan Event),
		now:  time.Now,
	}
}

// Publish delivers e to every subscriber, stamping it if Timestamp is
// zero.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit is Publish for the common source/kind/data shape.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{Source: source, Kind: kind, Data: data})
}

// Subscribe registers a subscriber with the given buffer size. Call
// Unsubscribe when done.
func (b *Bus) Subscribe(buf int) <-chan Event {
	ch := make(chan Event, buf)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = ch
	return ch
}

// Unsubscribe removes the subscriber and closes its channel. Repeated
// calls are harmless.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	send, ok := b.subs[ch]
	if !ok {
		return
	}
	delete(b.subs, ch)
	close(send)
}

// SubscriberCount reports the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
