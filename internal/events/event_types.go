package events

import (
	"time"

	"github.com/spec-kit/ticket-session/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated         EventType = "ticket_created"
	EventTicketLocked          EventType = "ticket_locked"
	EventTicketUnlocked        EventType = "ticket_unlocked"
	EventTicketStatusChanged   EventType = "ticket_status_changed"
	EventTicketAssigneeChanged EventType = "ticket_assignee_changed"
	EventTicketPriorityChanged EventType = "ticket_priority_changed"
	EventTicketRated           EventType = "ticket_rated"
	EventMessageAppended       EventType = "message_appended"
	EventMessageRead           EventType = "message_read"
)

// Event represents a protocol event emitted by the session facade. Delivery
// to subscribers is at-least-once; handlers must be idempotent.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id"`
	ActorID   string      `json:"actor_id"`
	ActorRole domain.Role `json:"actor_role"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Subject  string                `json:"subject"`
	Category string                `json:"category"`
	Priority domain.TicketPriority `json:"priority"`
}

// TicketLockedPayload payload.
type TicketLockedPayload struct {
	Holder    string    `json:"holder"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TicketUnlockedPayload payload.
type TicketUnlockedPayload struct {
	PreviousHolder string `json:"previous_holder"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
}

// TicketAssigneeChangedPayload payload.
type TicketAssigneeChangedPayload struct {
	OldAssigneeID *string `json:"old_assignee_id,omitempty"`
	NewAssigneeID *string `json:"new_assignee_id,omitempty"`
}

// TicketPriorityChangedPayload payload.
type TicketPriorityChangedPayload struct {
	OldPriority domain.TicketPriority `json:"old_priority"`
	NewPriority domain.TicketPriority `json:"new_priority"`
}

// TicketRatedPayload payload.
type TicketRatedPayload struct {
	Rating int `json:"rating"`
}

// MessageAppendedPayload payload.
type MessageAppendedPayload struct {
	MessageID   string      `json:"message_id"`
	Seq         int64       `json:"seq"`
	SenderRole  domain.Role `json:"sender_role"`
	SenderID    string      `json:"sender_id"`
	BodyPreview string      `json:"body_preview"`
}

// MessageReadPayload payload.
type MessageReadPayload struct {
	MessageIDs []string    `json:"message_ids"`
	ReaderRole domain.Role `json:"reader_role"`
}
