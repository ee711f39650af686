package dto

import (
	"time"

	"github.com/spec-kit/ticket-session/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Subject     string                `json:"subject"`
	Description string                `json:"description"`
	Category    string                `json:"category"`
	Priority    domain.TicketPriority `json:"priority"`
}

// CreateMessageRequest payload.
type CreateMessageRequest struct {
	Body        string              `json:"body"`
	Attachments []AttachmentRequest `json:"attachments"`
}

// AttachmentRequest describes an uploaded file reference.
type AttachmentRequest struct {
	StorageKey string `json:"storage_key"`
	FileName   string `json:"file_name"`
	MimeType   string `json:"mime_type"`
	SizeBytes  int64  `json:"size_bytes"`
}

// MarkReadRequest payload.
type MarkReadRequest struct {
	MessageIDs []string `json:"message_ids"`
}

// RateTicketRequest payload.
type RateTicketRequest struct {
	Value int `json:"value"`
}

// TicketResponse is the full ticket view.
type TicketResponse struct {
	ID          string                `json:"id"`
	Subject     string                `json:"subject"`
	Description string                `json:"description"`
	Category    string                `json:"category"`
	Priority    domain.TicketPriority `json:"priority"`
	Status      domain.TicketStatus   `json:"status"`
	AuthorID    string                `json:"author_id"`
	AuthorName  string                `json:"author_name"`
	AssigneeID  *string               `json:"assignee_id,omitempty"`
	Rating      *int                  `json:"rating,omitempty"`
	Locked      bool                  `json:"locked"`
	LockHolder  string                `json:"lock_holder,omitempty"`
	LockExpiry  *time.Time            `json:"lock_expiry,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
	ClosedAt    *time.Time            `json:"closed_at,omitempty"`
}

// MessageResponse represents a thread message.
type MessageResponse struct {
	ID         string                           `json:"id"`
	Seq        int64                            `json:"seq"`
	SenderRole domain.Role                      `json:"sender_role"`
	SenderID   string                           `json:"sender_id"`
	Body       string                           `json:"body"`
	SentAt     time.Time                        `json:"sent_at"`
	ReadStates map[domain.Role]domain.ReadState `json:"read_states"`
}

// LockStateResponse reports who owns a ticket now.
type LockStateResponse struct {
	Locked    bool       `json:"locked"`
	Holder    string     `json:"holder,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// TicketView maps a domain ticket to its response shape.
func TicketView(ticket *domain.Ticket) TicketResponse {
	resp := TicketResponse{
		ID:          ticket.ID,
		Subject:     ticket.Subject,
		Description: ticket.Description,
		Category:    ticket.Category,
		Priority:    ticket.Priority,
		Status:      ticket.Status,
		AuthorID:    ticket.Author.ID,
		AuthorName:  ticket.Author.DisplayName,
		Rating:      ticket.Rating,
		Locked:      ticket.Locked,
		LockHolder:  ticket.LockHolder,
		CreatedAt:   ticket.CreatedAt,
		UpdatedAt:   ticket.UpdatedAt,
		ClosedAt:    ticket.ClosedAt,
	}
	if ticket.Assignee != nil {
		resp.AssigneeID = &ticket.Assignee.ID
	}
	if !ticket.LockExpiry.IsZero() {
		expiry := ticket.LockExpiry
		resp.LockExpiry = &expiry
	}
	return resp
}

// MessageView maps a domain message to its response shape.
func MessageView(msg *domain.Message) MessageResponse {
	return MessageResponse{
		ID:         msg.ID,
		Seq:        msg.Seq,
		SenderRole: msg.SenderRole,
		SenderID:   msg.SenderID,
		Body:       msg.Body,
		SentAt:     msg.SentAt,
		ReadStates: msg.ReadStates,
	}
}
