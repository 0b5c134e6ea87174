package mqtt

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/hearth/internal/config"
	"github.com/nugget/hearth/internal/events"
)

func TestLoadOrCreateInstanceID(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	first, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID() error = %v", err)
	}
	if _, err := uuid.Parse(first); err != nil {
		t.Errorf("id %q is not a UUID: %v", first, err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "instance_id"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != first {
		t.Errorf("file content = %q, want %q", got, first)
	}

	second, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("second call error = %v", err)
	}
	if second != first {
		t.Errorf("second = %q, want %q", second, first)
	}
}

func TestLoadOrCreateInstanceID_RegeneratesEmptyFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "instance_id"), []byte("  \n"), 0o644); err != nil {
		t.Fatal(err)
	}
	id, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID() error = %v", err)
	}
	if id == "" {
		t.Error("empty file should be replaced with a new ID")
	}
}

func testPublisher() *Publisher {
	cfg := config.MQTTConfig{
		Broker:          "mqtt://localhost:1883",
		TopicPrefix:     "hearth",
		ClientID:        "kitchen",
		DiscoveryPrefix: "homeassistant",
	}
	return New(cfg, "inst-1", events.New(), NewDailyCounters(time.UTC), nil)
}

func TestNewDeviceInfo(t *testing.T) {
	info := NewDeviceInfo("inst-1", "Hearth kitchen")
	if info.Name != "Hearth kitchen" {
		t.Errorf("Name = %q", info.Name)
	}
	if len(info.Identifiers) != 1 || info.Identifiers[0] != "inst-1" {
		t.Errorf("Identifiers = %v, want [inst-1]", info.Identifiers)
	}
	if info.SWVersion == "" {
		t.Error("SWVersion empty")
	}
}

func TestPublisher_Topics(t *testing.T) {
	p := testPublisher()
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"availability", p.availabilityTopic(), "hearth/availability"},
		{"state", p.stateTopic("tokens_today"), "hearth/tokens_today/state"},
		{"discovery", p.discoveryTopic("tokens_today"), "homeassistant/sensor/kitchen/tokens_today/config"},
		{"event", p.eventTopic(events.Event{Source: "digest", Kind: "digest_sent"}), "hearth/events/digest/digest_sent"},
		{"event wildcards", p.eventTopic(events.Event{Source: "a/b", Kind: "#"}), "hearth/events/a_b/_"},
		{"event empty", p.eventTopic(events.Event{}), "hearth/events/unknown/unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestPublisher_SensorDefinitions(t *testing.T) {
	p := testPublisher()
	defs := p.sensorDefinitions()
	states := p.sensorStates()

	seen := make(map[string]bool)
	for _, d := range defs {
		if seen[d.config.UniqueID] {
			t.Errorf("duplicate unique_id %q", d.config.UniqueID)
		}
		seen[d.config.UniqueID] = true

		if !strings.HasPrefix(d.config.UniqueID, "inst-1_") {
			t.Errorf("%s: unique_id %q lacks instance prefix", d.entity, d.config.UniqueID)
		}
		if d.config.AvailabilityTopic != "hearth/availability" {
			t.Errorf("%s: availability = %q", d.entity, d.config.AvailabilityTopic)
		}
		if _, ok := states[d.entity]; !ok {
			t.Errorf("%s: no state published", d.entity)
		}
		if _, err := json.Marshal(d.config); err != nil {
			t.Errorf("%s: marshal: %v", d.entity, err)
		}
	}
	if len(states) != len(defs) {
		t.Errorf("states = %d, definitions = %d", len(states), len(defs))
	}
}

func TestPublisher_SensorStates(t *testing.T) {
	p := testPublisher()

	states := p.sensorStates()
	if states["tokens_today"] != "0" || states["last_digest"] != "unknown" {
		t.Errorf("initial states = %v", states)
	}

	at := time.Date(2026, 3, 14, 7, 0, 0, 0, time.UTC)
	p.counters.now = func() time.Time { return at }
	p.counters.resetDay = p.counters.day()
	p.counters.Observe(events.Event{
		Kind:      events.KindRequestComplete,
		Timestamp: at,
		Data:      map[string]any{"tokens_in": 120, "tokens_out": 30},
	})
	p.counters.Observe(events.Event{Kind: events.KindDigestSent, Timestamp: at})

	states = p.sensorStates()
	want := map[string]string{
		"tokens_today":   "150",
		"requests_today": "1",
		"digests_today":  "1",
		"last_request":   "2026-03-14T07:00:00Z",
		"last_digest":    "2026-03-14T07:00:00Z",
	}
	for k, v := range want {
		if states[k] != v {
			t.Errorf("%s = %q, want %q", k, states[k], v)
		}
	}
}

func TestEventPayload(t *testing.T) {
	e := events.Event{
		Timestamp: time.Date(2026, 3, 14, 7, 0, 0, 0, time.UTC),
		Source:    events.SourceDigest,
		Kind:      events.KindDigestSent,
		Data:      map[string]any{"chat_id": "signal:+15551234567"},
	}
	payload, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatal(err)
	}
	if got["kind"] != "digest_sent" || got["ts"] != "2026-03-14T07:00:00Z" {
		t.Errorf("payload = %s", payload)
	}
}

func TestPublisher_StopWithoutStart(t *testing.T) {
	if err := testPublisher().Stop(t.Context()); err != nil {
		t.Errorf("Stop() = %v, want nil", err)
	}
}

func TestMQTTConfig_Configured(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.MQTTConfig
		want bool
	}{
		{"broker set", config.MQTTConfig{Broker: "mqtt://localhost"}, true},
		{"empty", config.MQTTConfig{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Configured(); got != tt.want {
				t.Errorf("Configured() = %v, want %v", got, tt.want)
			}
		})
	}
}
