package tools

import (
	"context"
	"strings"
	"time"

	"github.com/nugget/hearth/internal/email"
)

const maxInboxLimit = 50

func emailHandlers() map[string]handler {
	return map[string]handler{
		"send_email":  tool[email.SendOptions]{decode: decodeSendEmail, run: runSendEmail},
		"check_email": tool[email.ListOptions]{decode: decodeCheckEmail, run: runCheckEmail},
	}
}

// splitList splits a comma-separated recipient string.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func decodeSendEmail(a Args, _ time.Time) (email.SendOptions, error) {
	to, err := a.RequiredString("to")
	if err != nil {
		return email.SendOptions{}, err
	}
	subject, err := a.RequiredString("subject")
	if err != nil {
		return email.SendOptions{}, err
	}
	body, err := a.RequiredString("body")
	if err != nil {
		return email.SendOptions{}, err
	}
	return email.SendOptions{
		To:      splitList(to),
		Cc:      splitList(a.String("cc")),
		Subject: subject,
		Body:    body,
	}, nil
}

func runSendEmail(ctx context.Context, e *Executor, opts email.SendOptions) (any, error) {
	if e.deps.Mail == nil {
		return nil, errNotConfigured("email")
	}
	res, err := e.deps.Mail.Send(ctx, opts)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success": true,
		"to":      res.To,
		"subject": res.Subject,
		"message": "Email sent to " + strings.Join(res.To, ", ") + ".",
	}, nil
}

func decodeCheckEmail(a Args, _ time.Time) (email.ListOptions, error) {
	opts := email.ListOptions{
		Folder: a.String("folder"),
		Unseen: a.Bool("unseen_only", false),
	}
	if n := a.Int("limit"); n != nil && *n > 0 {
		opts.Limit = min(*n, maxInboxLimit)
	}
	return opts, nil
}

func runCheckEmail(ctx context.Context, e *Executor, opts email.ListOptions) (any, error) {
	if e.deps.Mail == nil {
		return nil, errNotConfigured("email")
	}
	msgs, err := e.deps.Mail.Inbox(ctx, opts)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		msg := "No messages."
		if opts.Unseen {
			msg = "No unread messages."
		}
		return map[string]any{"found": false, "message": msg}, nil
	}
	return map[string]any{"found": true, "count": len(msgs), "messages": msgs}, nil
}
