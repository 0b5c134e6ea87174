package signal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nugget/hearth/internal/events"
	"github.com/nugget/hearth/internal/llm"
	"github.com/nugget/hearth/internal/transport"
)

// Prefix is the chat id prefix for Signal conversations.
const Prefix = "signal"

const (
	// handleTimeout bounds one message: agent run plus reply.
	handleTimeout = 5 * time.Minute

	rateWindow      = time.Minute
	cleanupInterval = 10 * time.Minute

	// queueDepth is how many messages one chat may have waiting.
	queueDepth = 16

	// workerIdle is how long a chat worker lingers with nothing queued.
	workerIdle = 2 * time.Minute

	maxAttachmentBytes = 10 << 20
)

// MessageHandler produces the reply for one inbound message. An empty
// reply sends nothing. *agent.Handler implements it.
type MessageHandler interface {
	Handle(ctx context.Context, msg transport.InboundMessage) string
}

// RPC is the part of *Client the bridge uses.
type RPC interface {
	Messages() <-chan *Envelope
	Send(ctx context.Context, recipient, message string) (int64, error)
	SendReceipt(ctx context.Context, recipient string, timestamp int64) error
	SendTyping(ctx context.Context, recipient string, stop bool) error
}

// BridgeConfig holds the dependencies for a Bridge.
type BridgeConfig struct {
	Client         RPC
	Handler        MessageHandler
	Logger         *slog.Logger
	Bus            *events.Bus
	RateLimit      int      // per sender per minute; 0 = unlimited
	AllowedSenders []string // empty allows everyone
	AttachmentsDir string
}

// Bridge routes Signal messages through the handler and sends the
// replies back. Messages from one sender are handled in arrival order;
// different senders proceed in parallel.
type Bridge struct {
	client         RPC
	handler        MessageHandler
	logger         *slog.Logger
	bus            *events.Bus
	rateLimit      int
	allowed        map[string]bool
	attachmentsDir string
	now            func() time.Time

	mu          sync.Mutex
	senderTimes map[string][]time.Time
	lastCleanup time.Time
	queues      map[string]chan *Envelope
	workers     sync.WaitGroup
}

// NewBridge creates a Signal message bridge.
func NewBridge(cfg BridgeConfig) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var allowed map[string]bool
	if len(cfg.AllowedSenders) > 0 {
		allowed = make(map[string]bool, len(cfg.AllowedSenders))
		for _, s := range cfg.AllowedSenders {
			allowed[s] = true
		}
	}
	return &Bridge{
		client:         cfg.Client,
		handler:        cfg.Handler,
		logger:         logger.With("component", "signal"),
		bus:            cfg.Bus,
		rateLimit:      cfg.RateLimit,
		allowed:        allowed,
		attachmentsDir: cfg.AttachmentsDir,
		now:            time.Now,
		senderTimes:    make(map[string][]time.Time),
		queues:         make(map[string]chan *Envelope),
	}
}

// SendMessage delivers text to a "signal:<number>" chat. It makes the
// bridge a transport.Sender for digests and the send_message tool.
func (b *Bridge) SendMessage(ctx context.Context, chatID, text string) error {
	prefix, recipient, ok := transport.SplitChatID(chatID)
	if !ok || prefix != Prefix {
		return fmt.Errorf("not a signal chat id: %q", chatID)
	}
	if _, err := b.client.Send(ctx, recipient, text); err != nil {
		return err
	}
	return nil
}

// Start consumes inbound messages until ctx is cancelled or the client
// closes. On close, queued messages are still handled; on cancel they
// are abandoned. Either way Start waits for the workers to exit.
func (b *Bridge) Start(ctx context.Context) {
	b.logger.Info("signal bridge started")
	defer b.workers.Wait()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("signal bridge shutting down")
			return
		case env, ok := <-b.client.Messages():
			if !ok {
				b.logger.Info("signal message channel closed, bridge stopping")
				b.closeQueues()
				return
			}
			if !b.accept(env) {
				continue
			}
			b.enqueue(ctx, env)
		}
	}
}

// accept filters envelopes that should never reach the handler.
func (b *Bridge) accept(env *Envelope) bool {
	dm := env.DataMessage
	switch {
	case env.Source == "":
		b.logger.Debug("signal ignoring envelope with empty source")
		return false
	case dm == nil || dm.Reaction != nil:
		return false
	case dm.GroupInfo != nil:
		b.logger.Debug("signal ignoring group message", "sender", env.Source, "group", dm.GroupInfo.GroupID)
		return false
	case strings.TrimSpace(dm.Message) == "" && len(dm.Attachments) == 0:
		return false
	case b.allowed != nil && !b.allowed[env.Source]:
		b.logger.Warn("signal message from unknown sender dropped", "sender", env.Source)
		return false
	case !b.allowSender(env.Source):
		b.logger.Warn("signal message rate-limited", "sender", env.Source)
		return false
	}
	return true
}

// enqueue hands env to its sender's worker, starting one if needed.
func (b *Bridge) enqueue(ctx context.Context, env *Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[env.Source]
	if !ok {
		q = make(chan *Envelope, queueDepth)
		b.queues[env.Source] = q
		b.workers.Add(1)
		go b.worker(ctx, env.Source, q)
	}
	select {
	case q <- env:
	default:
		b.logger.Warn("signal queue full, dropping message", "sender", env.Source)
	}
}

func (b *Bridge) worker(ctx context.Context, sender string, q chan *Envelope) {
	defer b.workers.Done()
	idle := time.NewTimer(workerIdle)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-q:
			if !ok {
				return
			}
			b.handleMessage(ctx, env)
			idle.Reset(workerIdle)
		case <-idle.C:
			// enqueue sends under b.mu, so an empty queue seen here
			// stays empty until the entry is gone.
			b.mu.Lock()
			if len(q) == 0 {
				delete(b.queues, sender)
				b.mu.Unlock()
				return
			}
			b.mu.Unlock()
			idle.Reset(workerIdle)
		}
	}
}

// closeQueues lets every worker finish what it has queued and exit.
func (b *Bridge) closeQueues() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sender, q := range b.queues {
		close(q)
		delete(b.queues, sender)
	}
}

// handleMessage runs one message through the handler and replies.
func (b *Bridge) handleMessage(ctx context.Context, env *Envelope) {
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	sender := env.Source
	chatID := transport.ChatID(Prefix, sender)
	log := b.logger.With("chat_id", chatID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("signal handler panicked", "panic", r)
		}
	}()

	ts := env.Timestamp
	if env.DataMessage.Timestamp != 0 {
		ts = env.DataMessage.Timestamp
	}
	if err := b.client.SendReceipt(ctx, sender, ts); err != nil {
		log.Warn("signal read receipt failed", "error", err)
	}

	images := b.loadImages(env.DataMessage.Attachments, log)
	msg := transport.InboundMessage{
		ChatID:     chatID,
		SenderName: env.SourceName,
		Text:       env.DataMessage.Message,
		Images:     images,
		ReceivedAt: time.UnixMilli(ts),
	}
	if strings.TrimSpace(msg.Text) == "" && len(msg.Images) == 0 {
		log.Info("signal message had no usable content", "attachments", len(env.DataMessage.Attachments))
		return
	}

	log.Info("signal message received", "message_len", len(msg.Text), "images", len(images))
	b.bus.Emit(events.SourceSignal, events.KindMessageReceived, map[string]any{
		"chat_id":     chatID,
		"message_len": len(msg.Text),
		"images":      len(images),
	})

	if err := b.client.SendTyping(ctx, sender, false); err != nil {
		log.Debug("signal typing indicator failed", "error", err)
	}

	reply := b.handler.Handle(ctx, msg)

	// The handler context may already be spent.
	stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer stopCancel()
	if err := b.client.SendTyping(stopCtx, sender, true); err != nil {
		log.Debug("signal typing stop failed", "error", err)
	}

	if reply == "" {
		return
	}
	if _, err := b.client.Send(ctx, sender, reply); err != nil {
		log.Error("signal reply send failed", "error", err)
		return
	}
	log.Info("signal reply sent", "response_len", len(reply))
}

// loadImages reads image attachments from signal-cli's attachment
// directory. Other content types and unreadable files are skipped.
func (b *Bridge) loadImages(atts []Attachment, log *slog.Logger) []llm.Image {
	var images []llm.Image
	for _, a := range atts {
		if !strings.HasPrefix(a.ContentType, "image/") {
			log.Debug("signal attachment skipped", "content_type", a.ContentType)
			continue
		}
		if a.Size > maxAttachmentBytes {
			log.Warn("signal attachment too large", "id", a.ID, "size", a.Size)
			continue
		}
		// IDs come from signal-cli, but keep them inside the directory.
		name := filepath.Base(a.ID)
		if name == "." || name == string(filepath.Separator) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(b.attachmentsDir, name))
		if err != nil {
			log.Warn("signal attachment unreadable", "id", a.ID, "error", err)
			continue
		}
		if len(data) > maxAttachmentBytes {
			log.Warn("signal attachment too large", "id", a.ID, "size", len(data))
			continue
		}
		images = append(images, llm.Image{MediaType: a.ContentType, Data: data})
	}
	return images
}

// allowSender reports whether senderID is within the per-minute limit.
func (b *Bridge) allowSender(senderID string) bool {
	if b.rateLimit <= 0 {
		return true
	}

	now := b.now()
	cutoff := now.Add(-rateWindow)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeCleanupLocked(now)

	timestamps := b.senderTimes[senderID]
	valid := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}
	if len(valid) >= b.rateLimit {
		b.senderTimes[senderID] = valid
		return false
	}
	b.senderTimes[senderID] = append(valid, now)
	return true
}

// maybeCleanupLocked evicts idle senders. b.mu must be held.
func (b *Bridge) maybeCleanupLocked(now time.Time) {
	if now.Sub(b.lastCleanup) < cleanupInterval {
		return
	}
	b.lastCleanup = now

	cutoff := now.Add(-2 * rateWindow)
	for sender, timestamps := range b.senderTimes {
		if len(timestamps) == 0 || timestamps[len(timestamps)-1].Before(cutoff) {
			delete(b.senderTimes, sender)
		}
	}
}
