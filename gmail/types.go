package gmail

import (
	"errors"
	"time"
)

// Setup and API errors surfaced to the poller. Transient failures (429, 5xx,
// timeouts) are retried inside the client and never escape as sentinels.
var (
	ErrCredentialUnavailable = errors.New("gmail: no usable credential source")
	ErrDelegationDenied      = errors.New("gmail: mailbox access denied for delegated identity")
	ErrHistoryExpired        = errors.New("gmail: start history id no longer available")
	ErrMessageNotFound       = errors.New("gmail: message not found")
)

// MessageRef identifies a Gmail message without hydrating it.
type MessageRef struct {
	ID        string
	ThreadID  string
	HistoryID uint64 // history record that reported it; zero when unknown
}

// HistoryEntry is one messageAdded record from the history delta.
type HistoryEntry struct {
	ID    uint64
	Added []MessageRef
}

// Attachment holds one decoded attachment body.
type Attachment struct {
	Filename  string
	MimeType  string
	SizeBytes int64
	Content   []byte
}

// Message is the hydrated view handed to the processor.
type Message struct {
	ID           string
	ThreadID     string
	SenderEmail  string
	Subject      string
	PlainBody    string
	HTMLBody     string
	Attachments  []Attachment
	ReceivedAt   time.Time
	RawHistoryID uint64
}
