package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "OPEN"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusClosed     TicketStatus = "CLOSED"
)

// TicketPriority enumerates urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "LOW"
	TicketPriorityMedium TicketPriority = "MEDIUM"
	TicketPriorityHigh   TicketPriority = "HIGH"
)

// Actor identifies a participant on a ticket: the requesting student or a
// staff agent.
type Actor struct {
	ID          string
	DisplayName string
}

// Ticket is the aggregate for support requests. Lock fields and Version are
// maintained through the lock coordinator and the record store's
// compare-and-swap write; nothing else may touch them.
type Ticket struct {
	ID          string
	Subject     string
	Description string
	Category    string
	Priority    TicketPriority
	Status      TicketStatus
	Author      Actor
	Assignee    *Actor
	Attachments []AttachmentReference
	Rating      *int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ClosedAt    *time.Time

	Locked     bool
	LockHolder string
	LockExpiry time.Time

	// Version is the optimistic concurrency token compared at write time.
	Version int64
}

// LockedNow reports whether the ticket carries a live lease at the given
// instant. An expired lease is treated as absent.
func (t *Ticket) LockedNow(now time.Time) bool {
	return t.Locked && t.LockHolder != "" && t.LockExpiry.After(now)
}

// HeldBy reports whether agentID owns a live lease at the given instant.
func (t *Ticket) HeldBy(agentID string, now time.Time) bool {
	return t.LockedNow(now) && t.LockHolder == agentID
}

// Clone returns a deep copy safe to mutate without aliasing the original.
func (t *Ticket) Clone() *Ticket {
	copied := *t
	if t.Assignee != nil {
		assignee := *t.Assignee
		copied.Assignee = &assignee
	}
	if t.Rating != nil {
		rating := *t.Rating
		copied.Rating = &rating
	}
	if t.ClosedAt != nil {
		closed := *t.ClosedAt
		copied.ClosedAt = &closed
	}
	if len(t.Attachments) > 0 {
		copied.Attachments = append([]AttachmentReference(nil), t.Attachments...)
	}
	return &copied
}

// AttachmentReference stores metadata for uploaded files.
type AttachmentReference struct {
	ID         string
	StorageKey string
	FileName   string
	MimeType   string
	SizeBytes  int64
	CreatedAt  time.Time
}
