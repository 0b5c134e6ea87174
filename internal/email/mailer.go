package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// ErrNotConfigured is returned when the requested half of the account
// (IMAP or SMTP) has no configuration.
var ErrNotConfigured = errors.New("email not configured")

// SendResult describes a delivered message.
type SendResult struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
}

// Mailer is the account-level facade used by tools: vetted sending
// and inbox listing.
type Mailer struct {
	cfg      Config
	imap     *Client
	contacts ContactResolver
	logger   *slog.Logger

	// sendMail is SendMail in production; tests replace it.
	sendMail func(ctx context.Context, cfg SMTPConfig, from string, recipients []string, msg []byte) error
}

// NewMailer creates a Mailer. contacts may be nil.
func NewMailer(cfg Config, contacts ContactResolver, logger *slog.Logger) *Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Mailer{
		cfg:      cfg,
		contacts: contacts,
		logger:   logger.With("component", "email"),
		sendMail: SendMail,
	}
	if cfg.IMAPConfigured() {
		m.imap = NewClient(cfg.IMAP, logger)
	}
	return m
}

// Send resolves and vets recipients, composes the markdown body and
// delivers it. Nothing is sent if any recipient is rejected.
func (m *Mailer) Send(ctx context.Context, opts SendOptions) (*SendResult, error) {
	if !m.cfg.SMTPConfigured() {
		return nil, fmt.Errorf("send: %w", ErrNotConfigured)
	}
	if strings.TrimSpace(opts.Subject) == "" {
		return nil, fmt.Errorf("subject is required")
	}

	toCheck := CheckRecipients(ctx, m.contacts, m.cfg.AllowedRecipients, opts.To)
	ccCheck := CheckRecipients(ctx, m.contacts, m.cfg.AllowedRecipients, opts.Cc)
	blocked := append(toCheck.Blocked, ccCheck.Blocked...)
	if len(blocked) > 0 {
		return nil, errors.New(RecipientCheck{Blocked: blocked}.FormatIssues())
	}
	to, cc := toCheck.Allowed, ccCheck.Allowed
	if len(to) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}

	var bcc []string
	if m.cfg.BccOwner != "" {
		owner := strings.ToLower(extractAddress(m.cfg.BccOwner))
		if !slices.Contains(to, owner) && !slices.Contains(cc, owner) {
			bcc = []string{owner}
		}
	}

	msg, err := ComposeMessage(ComposeOptions{
		From:    m.cfg.From,
		To:      to,
		Cc:      cc,
		Subject: opts.Subject,
		Body:    opts.Body,
	})
	if err != nil {
		return nil, fmt.Errorf("compose: %w", err)
	}

	// Bcc is delivered via RCPT only, never written into the headers.
	rcpts := collectRecipients(to, cc, bcc)
	if err := m.sendMail(ctx, m.cfg.SMTP, extractAddress(m.cfg.From), rcpts, msg); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}

	m.logger.Info("email sent", "recipients", len(rcpts), "subject", opts.Subject)
	return &SendResult{To: append(slices.Clone(to), cc...), Subject: opts.Subject}, nil
}

// Inbox lists recent messages.
func (m *Mailer) Inbox(ctx context.Context, opts ListOptions) ([]Envelope, error) {
	if m.imap == nil {
		return nil, fmt.Errorf("inbox: %w", ErrNotConfigured)
	}
	return m.imap.ListMessages(ctx, opts)
}

// Close releases the IMAP connection, if any.
func (m *Mailer) Close() error {
	if m.imap == nil {
		return nil
	}
	return m.imap.Close()
}
