package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/hearth/internal/config"
	"github.com/nugget/hearth/internal/events"
)

// eventBuffer is the bus subscription depth. A slow broker drops
// events rather than stalling the agent.
const eventBuffer = 256

// Publisher owns the broker connection. It forwards bus events and
// keeps the discovered sensors current.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	device     DeviceInfo
	counters   *DailyCounters
	bus        *events.Bus
	logger     *slog.Logger
	cm         *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. counters may be
// shared with other readers; nil allocates one in local time.
func New(cfg config.MQTTConfig, instanceID string, bus *events.Bus, counters *DailyCounters, logger *slog.Logger) *Publisher {
	if counters == nil {
		counters = NewDailyCounters(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = events.New()
	}
	return &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		device:     NewDeviceInfo(instanceID, "Hearth "+cfg.ClientID),
		counters:   counters,
		bus:        bus,
		logger:     logger.With("component", "mqtt"),
	}
}

// Start connects and runs the forward loop until ctx is cancelled.
// Connection failures after the first attempt are retried in the
// background by autopaho.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishDiscovery(ctx, cm)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.cfg.ClientID,
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	// Subscribe before connecting so nothing published during the
	// handshake is lost.
	sub := p.bus.Subscribe(eventBuffer)
	defer p.bus.Unsubscribe(sub)

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := cm.AwaitConnection(connCtx); err != nil {
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}
	cancel()

	interval := time.Duration(p.cfg.PublishIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.publishStates(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub:
			if !ok {
				return nil
			}
			p.counters.Observe(e)
			p.publishEvent(ctx, e)
		case <-ticker.C:
			p.publishStates(ctx)
		}
	}
}

// Stop publishes "offline" and disconnects. ctx bounds both steps.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

func (p *Publisher) availabilityTopic() string {
	return p.cfg.TopicPrefix + "/availability"
}

func (p *Publisher) stateTopic(entity string) string {
	return p.cfg.TopicPrefix + "/" + entity + "/state"
}

func (p *Publisher) discoveryTopic(entity string) string {
	return p.cfg.DiscoveryPrefix + "/sensor/" + p.cfg.ClientID + "/" + entity + "/config"
}

// eventTopic maps an event to its topic. Wildcard and separator
// characters in source or kind are replaced so a stray value cannot
// escape the prefix.
func (p *Publisher) eventTopic(e events.Event) string {
	return p.cfg.TopicPrefix + "/events/" + topicSafe(e.Source) + "/" + topicSafe(e.Kind)
}

func topicSafe(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}

type sensorDef struct {
	entity string
	config SensorConfig
}

func (p *Publisher) sensorDefinitions() []sensorDef {
	sensor := func(entity, name, icon string) SensorConfig {
		return SensorConfig{
			Name:              p.device.Name + " " + name,
			UniqueID:          p.instanceID + "_" + entity,
			StateTopic:        p.stateTopic(entity),
			AvailabilityTopic: p.availabilityTopic(),
			Device:            p.device,
			Icon:              icon,
		}
	}

	tokens := sensor("tokens_today", "Tokens Today", "mdi:counter")
	tokens.StateClass = "total_increasing"
	tokens.UnitOfMeasurement = "tokens"

	requests := sensor("requests_today", "Requests Today", "mdi:chat-processing")
	requests.StateClass = "total_increasing"

	digests := sensor("digests_today", "Digests Today", "mdi:weather-sunset-up")
	digests.StateClass = "total_increasing"

	lastRequest := sensor("last_request", "Last Request", "mdi:clock-check")
	lastRequest.DeviceClass = "timestamp"
	lastRequest.EntityCategory = "diagnostic"

	lastDigest := sensor("last_digest", "Last Digest", "mdi:email-fast")
	lastDigest.DeviceClass = "timestamp"

	return []sensorDef{
		{"tokens_today", tokens},
		{"requests_today", requests},
		{"digests_today", digests},
		{"last_request", lastRequest},
		{"last_digest", lastDigest},
	}
}

// sensorStates renders the current counters as state payloads. Unset
// timestamps are reported as "unknown", which Home Assistant accepts.
func (p *Publisher) sensorStates() map[string]string {
	c := p.counters.Snapshot()
	stamp := func(t time.Time) string {
		if t.IsZero() {
			return "unknown"
		}
		return t.UTC().Format(time.RFC3339)
	}
	return map[string]string{
		"tokens_today":   strconv.FormatInt(c.InputTokens+c.OutputTokens, 10),
		"requests_today": strconv.FormatInt(c.Requests, 10),
		"digests_today":  strconv.FormatInt(c.Digests, 10),
		"last_request":   stamp(c.LastRequest),
		"last_digest":    stamp(c.LastDigest),
	}
}

func (p *Publisher) publishDiscovery(ctx context.Context, cm *autopaho.ConnectionManager) {
	for _, s := range p.sensorDefinitions() {
		topic := p.discoveryTopic(s.entity)
		payload, err := json.Marshal(s.config)
		if err != nil {
			p.logger.Error("mqtt marshal discovery payload", "entity", s.entity, "error", err)
			continue
		}
		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   topic,
			Payload: payload,
			QoS:     1,
			Retain:  true,
		}); err != nil {
			p.logger.Warn("mqtt discovery publish failed", "entity", s.entity, "topic", topic, "error", err)
		}
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
		return
	}
	p.logger.Info("mqtt availability published", "status", status)
}

func (p *Publisher) publishEvent(ctx context.Context, e events.Event) {
	if p.cm == nil {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("mqtt marshal event", "kind", e.Kind, "error", err)
		return
	}
	if _, err := p.cm.Publish(ctx, &paho.Publish{
		Topic:   p.eventTopic(e),
		Payload: payload,
	}); err != nil {
		p.logger.Debug("mqtt event publish failed", "kind", e.Kind, "error", err)
	}
}

func (p *Publisher) publishStates(ctx context.Context) {
	if p.cm == nil {
		return
	}
	states := p.sensorStates()
	for entity, value := range states {
		if _, err := p.cm.Publish(ctx, &paho.Publish{
			Topic:   p.stateTopic(entity),
			Payload: []byte(value),
			Retain:  true,
		}); err != nil {
			p.logger.Debug("mqtt state publish failed", "entity", entity, "error", err)
		}
	}
	p.logger.Debug("mqtt sensor states published", "entities", len(states))
}
