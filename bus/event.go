package bus

import (
	"time"

	"github.com/google/uuid"
)

// EventType is the closed set of event variants the core publishes.
type EventType string

const (
	EventGmailProcessed    EventType = "gmail_processed"
	EventTradeMatched      EventType = "trade_matched"
	EventUploadComplete    EventType = "upload_complete"
	EventSystemAlert       EventType = "system_alert"
	EventMatchCreated      EventType = "match_created"
	EventDuplicateDetected EventType = "duplicate_detected"
)

// Priority of an event.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// EventData is the human-facing payload of an event. Action and Payload are
// optional and only populated when the producer has them.
type EventData struct {
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Action  string         `json:"action,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Event is an immutable record emitted after processing.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	ClientID  string    `json:"client_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Priority  Priority  `json:"priority"`
	Data      EventData `json:"data"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(typ EventType, priority Priority, data EventData) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Priority:  priority,
		Data:      data,
	}
}

// Filter is a subscriber's predicate. Absent clauses match everything; every
// present clause must hold.
type Filter struct {
	ClientID   string
	UserID     string
	Types      []EventType
	Priorities []Priority
}

// Matches reports whether the event satisfies every present clause.
func (f Filter) Matches(e Event) bool {
	if f.ClientID != "" && f.ClientID != e.ClientID {
		return false
	}
	if f.UserID != "" && f.UserID != e.UserID {
		return false
	}
	if len(f.Types) > 0 && !containsType(f.Types, e.Type) {
		return false
	}
	if len(f.Priorities) > 0 && !containsPriority(f.Priorities, e.Priority) {
		return false
	}
	return true
}

func containsType(set []EventType, t EventType) bool {
	for _, v := range set {
		if v == t {
			return true
		}
	}
	return false
}

func containsPriority(set []Priority, p Priority) bool {
	for _, v := range set {
		if v == p {
			return true
		}
	}
	return false
}

// TokenType tags a stream token.
type TokenType string

const (
	TokenConnection TokenType = "connection"
	TokenHeartbeat  TokenType = "heartbeat"
	TokenEvent      TokenType = "event"
	TokenError      TokenType = "error"
)

// Token is one item on a subscriber stream. Data holds the variant payload:
// Event for event tokens, ConnectionData, HeartbeatData, or ErrorData for the
// out-of-band variants.
type Token struct {
	Type TokenType `json:"type"`
	Data any       `json:"data"`
}

// ConnectionData is the handshake payload on a fresh stream.
type ConnectionData struct {
	Status       string `json:"status"`
	ConnectionID string `json:"connection_id"`
}

// HeartbeatData is the liveness payload.
type HeartbeatData struct {
	Timestamp time.Time `json:"timestamp"`
}

// ErrorData carries a transport-visible failure description.
type ErrorData struct {
	Message string `json:"message"`
}
