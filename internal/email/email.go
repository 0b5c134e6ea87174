// Package email sends and lists mail for a single account: SMTP
// delivery of markdown-composed messages to approved recipients, and
// IMAP envelope listing for inbox checks.
package email

import (
	"io"
	"time"

	"github.com/emersion/go-imap/v2"
)

// drainLiteral reads and discards an IMAP literal so an unconsumed
// body section does not block the stream.
func drainLiteral(r imap.LiteralReader) {
	if r == nil {
		return
	}
	_, _ = io.Copy(io.Discard, r)
}

// Envelope is the summary metadata for an email message.
type Envelope struct {
	UID     uint32    `json:"uid"`
	Date    time.Time `json:"date"`
	From    string    `json:"from"`
	To      []string  `json:"to,omitempty"`
	Subject string    `json:"subject"`
	Seen    bool      `json:"seen"`
	Size    uint32    `json:"size"`
}

// ListOptions controls inbox listing.
type ListOptions struct {
	// Folder is the mailbox to list from. Default: "INBOX".
	Folder string

	// Limit is the maximum number of messages to return. Default: 10.
	Limit int

	// Unseen restricts the listing to unseen messages only.
	Unseen bool
}

// SendOptions describes an outbound message. Body is markdown.
type SendOptions struct {
	To      []string
	Cc      []string
	Subject string
	Body    string
}
