// Package signal connects Hearth to Signal through signal-cli's
// JSON-RPC daemon. The Client owns the subprocess, the Bridge turns
// inbound data messages into agent requests and sends replies back,
// and Link pairs signal-cli with an existing account as a linked
// device.
package signal

// Envelope is one received event. Only data messages reach the bridge.
type Envelope struct {
	Source       string       `json:"source"`
	SourceNumber string       `json:"sourceNumber"`
	SourceName   string       `json:"sourceName"`
	Timestamp    int64        `json:"timestamp"`
	DataMessage  *DataMessage `json:"dataMessage,omitempty"`
}

// DataMessage is a text and/or media message.
type DataMessage struct {
	Timestamp   int64        `json:"timestamp"`
	Message     string       `json:"message"`
	GroupInfo   *GroupInfo   `json:"groupInfo,omitempty"`
	Reaction    *Reaction    `json:"reaction,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Reaction is an emoji reaction. signal-cli delivers it inside a data
// message.
type Reaction struct {
	Emoji               string `json:"emoji"`
	TargetSentTimestamp int64  `json:"targetSentTimestamp"`
	IsRemove            bool   `json:"isRemove"`
}

// Attachment refers to a file in signal-cli's attachment directory,
// named by ID.
type Attachment struct {
	ContentType string `json:"contentType"`
	Filename    string `json:"filename,omitempty"`
	ID          string `json:"id"`
	Size        int64  `json:"size"`
}

// GroupInfo identifies the group a message was sent to.
type GroupInfo struct {
	GroupID string `json:"groupId"`
	Type    string `json:"type"`
}

type receiveNotification struct {
	Envelope Envelope `json:"envelope"`
}

type sendResult struct {
	Timestamp int64 `json:"timestamp"`
}
