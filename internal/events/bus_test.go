package events

import (
	"sync"
	"testing"
	"time"
)

func TestNilBus(t *testing.T) {
	var b *Bus
	b.Publish(Event{Source: SourceAgent, Kind: KindRequestStart})
	b.Emit(SourceDigest, KindDigestSent, nil)
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() on nil bus = %d", got)
	}
}

func TestPublish_FansOut(t *testing.T) {
	b := New()
	const n = 3
	subs := make([]<-chan Event, n)
	for i := range n {
		subs[i] = b.Subscribe(4)
	}
	b.Emit(SourceDigest, KindDigestSent, map[string]any{"chat_id": "signal:+1"})

	for i, ch := range subs {
		select {
		case got := <-ch:
			if got.Source != SourceDigest || got.Kind != KindDigestSent {
				t.Errorf("subscriber %d got %+v", i, got)
			}
			if got.Data["chat_id"] != "signal:+1" {
				t.Errorf("subscriber %d chat_id = %v", i, got.Data["chat_id"])
			}
			if got.Timestamp.IsZero() {
				t.Errorf("subscriber %d: event not stamped", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
		b.Unsubscribe(ch)
	}
}

func TestPublish_KeepsTimestamp(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	ts := time.Date(2026, 3, 14, 7, 0, 0, 0, time.UTC)
	b.Publish(Event{Timestamp: ts, Source: SourceScheduler, Kind: KindJobFired})
	if got := <-ch; !got.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, ts)
	}
}

func TestPublish_DropsWhenFull(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	b.Publish(Event{Kind: "first"})
	b.Publish(Event{Kind: "second"})

	if got := <-ch; got.Kind != "first" {
		t.Errorf("got kind %q, want first", got.Kind)
	}
	select {
	case evt := <-ch:
		t.Errorf("second event should have been dropped, got %v", evt)
	default:
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch1 := b.Subscribe(1)
	ch2 := b.Subscribe(1)
	if got := b.SubscriberCount(); got != 2 {
		t.Fatalf("count = %d, want 2", got)
	}

	b.Unsubscribe(ch1)
	b.Unsubscribe(ch1)
	if _, ok := <-ch1; ok {
		t.Error("channel still open after Unsubscribe")
	}
	if got := b.SubscriberCount(); got != 1 {
		t.Errorf("count = %d, want 1", got)
	}

	b.Unsubscribe(ch2)
	b.Publish(Event{Kind: "after"})
}

func TestConcurrentPublish(t *testing.T) {
	b := New()
	ch := b.Subscribe(16)

	var drained sync.WaitGroup
	drained.Add(1)
	go func() {
		defer drained.Done()
		for range ch {
		}
	}()

	var pubs sync.WaitGroup
	for i := range 8 {
		pubs.Add(1)
		go func() {
			defer pubs.Done()
			for j := range 50 {
				b.Emit(SourceAgent, KindToolDone, map[string]any{"p": i, "seq": j})
			}
		}()
	}
	pubs.Wait()
	b.Unsubscribe(ch)
	drained.Wait()
}
