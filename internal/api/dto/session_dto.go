package dto

import (
	"time"

	"github.com/spec-kit/ticket-session/internal/domain"
)

// ChangeStatusRequest payload. Event is one of START_WORK, CLOSE,
// RETURN_TO_OPEN.
type ChangeStatusRequest struct {
	Event string `json:"event"`
}

// ReassignRequest payload. A null assignee clears the assignment.
type ReassignRequest struct {
	Assignee *AssigneeRequest `json:"assignee"`
}

// AssigneeRequest identifies a staff agent taking over a ticket.
type AssigneeRequest struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// ChangePriorityRequest payload.
type ChangePriorityRequest struct {
	Priority domain.TicketPriority `json:"priority"`
}

// SessionResponse describes an open staff session and its lease.
type SessionResponse struct {
	TicketID  string     `json:"ticket_id"`
	AgentID   string     `json:"agent_id"`
	Locked    bool       `json:"locked"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Renewals  int        `json:"renewals"`
}

// SessionView maps a lease to its response shape.
func SessionView(ticketID, agentID string, lease domain.LockLease) SessionResponse {
	resp := SessionResponse{
		TicketID: ticketID,
		AgentID:  agentID,
		Renewals: lease.Renewals,
	}
	if !lease.ExpiresAt.IsZero() {
		expiry := lease.ExpiresAt
		resp.Locked = true
		resp.ExpiresAt = &expiry
	}
	return resp
}
