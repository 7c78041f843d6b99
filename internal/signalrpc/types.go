// Package signalrpc provides a native Go client for signal-cli's
// JSON-RPC daemon mode over a Unix domain socket, for sending and
// receiving Signal messages.
package signalrpc

// Envelope is the top-level structure pushed by signal-cli for each
// received event. Exactly one of the message-type fields will be
// non-nil.
type Envelope struct {
	Source       string `json:"source"`
	SourceNumber string `json:"sourceNumber"`
	SourceName   string `json:"sourceName"`
	SourceDevice int    `json:"sourceDevice"`
	Timestamp    int64  `json:"timestamp"`

	DataMessage    *DataMessage    `json:"dataMessage,omitempty"`
	TypingMessage  *TypingMessage  `json:"typingMessage,omitempty"`
	ReceiptMessage *ReceiptMessage `json:"receiptMessage,omitempty"`
	SyncMessage    *SyncMessage    `json:"syncMessage,omitempty"`
}

// DataMessage is a normal text or media message.
type DataMessage struct {
	Timestamp        int64        `json:"timestamp"`
	Message          string       `json:"message"`
	ExpiresInSeconds int          `json:"expiresInSeconds"`
	ViewOnce         bool         `json:"viewOnce"`
	GroupInfo        *GroupInfo   `json:"groupInfo,omitempty"`
	Quote            *Quote       `json:"quote,omitempty"`
	Reaction         *Reaction    `json:"reaction,omitempty"`
	Attachments      []Attachment `json:"attachments,omitempty"`
}

// Quote references the message being replied to.
type Quote struct {
	ID     int64  `json:"id"`
	Author string `json:"author"`
	Text   string `json:"text"`
}

// Reaction represents an emoji reaction to a message. signal-cli sends
// reactions inside the dataMessage envelope, not as a top-level field.
type Reaction struct {
	Emoji               string `json:"emoji"`
	TargetAuthor        string `json:"targetAuthor"`
	TargetSentTimestamp int64  `json:"targetSentTimestamp"`
	IsRemove            bool   `json:"isRemove"`
}

// Attachment describes a file attached to a Signal data message.
// signal-cli populates these fields when the remote sender includes
// media. The ID corresponds to a file in signal-cli's attachment
// storage directory.
type Attachment struct {
	ContentType string `json:"contentType"`
	Filename    string `json:"filename,omitempty"`
	ID          string `json:"id"`
	Size        int64  `json:"size"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	VoiceNote   bool   `json:"voiceNote,omitempty"`
}

// IsVoiceNote reports whether the attachment is a spoken voice note,
// either flagged by the transport or carrying an audio MIME type.
func (a Attachment) IsVoiceNote() bool {
	return a.VoiceNote || len(a.ContentType) >= 6 && a.ContentType[:6] == "audio/"
}

// IsImage reports whether the attachment carries an image MIME type.
func (a Attachment) IsImage() bool {
	return len(a.ContentType) >= 6 && a.ContentType[:6] == "image/"
}

// GroupInfo identifies the group a message was sent to.
type GroupInfo struct {
	GroupID  string `json:"groupId"`
	Revision int    `json:"revision"`
	Type     string `json:"type"` // e.g., "DELIVER"
}

// TypingMessage indicates that a contact started or stopped typing.
type TypingMessage struct {
	Action    string `json:"action"` // "STARTED" or "STOPPED"
	Timestamp int64  `json:"timestamp"`
	GroupID   string `json:"groupId,omitempty"`
}

// ReceiptMessage is a delivery, read, or viewed receipt from another user.
type ReceiptMessage struct {
	When       int64   `json:"when"`
	Type       string  `json:"type"` // "DELIVERY", "READ", "VIEWED"
	Timestamps []int64 `json:"timestamps"`
}

// SyncMessage carries sync events from linked devices. The bridge cares
// about sentMessage: a message the owner sent from another device, which
// must be treated as inbound text (the "note to self" flow).
type SyncMessage struct {
	SentMessage  *SentMessage `json:"sentMessage,omitempty"`
	ReadMessages []SyncRead   `json:"readMessages,omitempty"`
}

// SyncRead marks a message the owner read on another device.
type SyncRead struct {
	Sender       string `json:"sender"`
	SenderNumber string `json:"senderNumber"`
	SenderUUID   string `json:"senderUuid,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

// SentMessage mirrors DataMessage for self-sent messages echoed from
// linked devices.
type SentMessage struct {
	Destination string       `json:"destination"`
	Timestamp   int64        `json:"timestamp"`
	Message     string       `json:"message"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Contact is one entry from the listContacts RPC.
type Contact struct {
	Number string `json:"number"`
	Name   string `json:"name"`
	UUID   string `json:"uuid,omitempty"`
}

// receiveNotification is the JSON-RPC notification payload for method
// "receive" pushed by signal-cli.
type receiveNotification struct {
	Envelope Envelope `json:"envelope"`
}

// sendResult is the response payload from a successful "send" RPC call.
type sendResult struct {
	Timestamp int64 `json:"timestamp"`
}

// linkResult is the response payload from a "startLink" RPC call.
type linkResult struct {
	DeviceLinkURI string `json:"deviceLinkUri"`
}
