// Package lifecycle validates and applies ticket status transitions.
// Transitions never mutate their input; the caller persists the returned
// record through the store's compare-and-swap, so a failed precondition
// leaves stored state untouched.
package lifecycle

import (
	"time"

	"github.com/spec-kit/ticket-session/internal/domain"
	apperrors "github.com/spec-kit/ticket-session/pkg/util/errorutil"
)

// Event names a lifecycle transition request.
type Event string

const (
	EventStartWork    Event = "START_WORK"
	EventClose        Event = "CLOSE"
	EventReturnToOpen Event = "RETURN_TO_OPEN"
	EventReopen       Event = "REOPEN"
)

// transitions is the full lifecycle table. Anything absent here fails with
// InvalidTransition.
var transitions = map[domain.TicketStatus]map[Event]domain.TicketStatus{
	domain.TicketStatusOpen: {
		EventStartWork: domain.TicketStatusInProgress,
		EventClose:     domain.TicketStatusClosed,
	},
	domain.TicketStatusInProgress: {
		EventClose:        domain.TicketStatusClosed,
		EventReturnToOpen: domain.TicketStatusOpen,
	},
	domain.TicketStatusClosed: {
		EventReopen: domain.TicketStatusOpen,
	},
}

// requiresLock marks the events only the current lock holder may apply.
// Reopen is exempt: the ticket's author or any staff agent may reopen a
// closed ticket without claiming it first.
var requiresLock = map[Event]bool{
	EventStartWork:    true,
	EventClose:        true,
	EventReturnToOpen: true,
}

// Apply validates event against the ticket's current status and the caller's
// lock ownership, returning the updated record on success.
func Apply(ticket *domain.Ticket, event Event, agentID string, now time.Time) (*domain.Ticket, error) {
	target, ok := transitions[ticket.Status][event]
	if !ok {
		return nil, apperrors.NewInvalidTransition(string(ticket.Status), string(event))
	}
	if requiresLock[event] && !ticket.HeldBy(agentID, now) {
		holder := ""
		if ticket.LockedNow(now) {
			holder = ticket.LockHolder
		}
		return nil, apperrors.NewAccessDenied(holder)
	}

	next := ticket.Clone()
	next.Status = target
	if target == domain.TicketStatusClosed {
		closedAt := now
		next.ClosedAt = &closedAt
	} else {
		next.ClosedAt = nil
	}
	return next, nil
}

// Rate records a one-time rating on a closed ticket. No lock is required;
// rating is the author's prerogative after closure.
func Rate(ticket *domain.Ticket, value int) (*domain.Ticket, error) {
	if ticket.Status != domain.TicketStatusClosed {
		return nil, apperrors.NewInvalidTransition(string(ticket.Status), "RATE")
	}
	if ticket.Rating != nil {
		return nil, apperrors.NewAlreadyRated(*ticket.Rating)
	}
	if value < 1 || value > 5 {
		return nil, apperrors.NewValidationError("rating must be between 1 and 5", map[string]any{"value": value})
	}

	next := ticket.Clone()
	next.Rating = &value
	return next, nil
}

// Reassign changes the ticket's assignee. Setting an assignee requires the
// caller to hold a live lease. Clearing an assignment is allowed by the
// holder, or by any staff agent when the ticket is unlocked, so an abandoned
// ticket does not stay pinned to an agent who walked away.
func Reassign(ticket *domain.Ticket, assignee *domain.Actor, agentID string, now time.Time) (*domain.Ticket, error) {
	clearing := assignee == nil
	if !ticket.HeldBy(agentID, now) {
		if !clearing || ticket.LockedNow(now) {
			holder := ""
			if ticket.LockedNow(now) {
				holder = ticket.LockHolder
			}
			return nil, apperrors.NewAccessDenied(holder)
		}
	}

	next := ticket.Clone()
	next.Assignee = assignee
	return next, nil
}

// ChangePriority adjusts urgency under the same ownership rule as any other
// ticket-level field.
func ChangePriority(ticket *domain.Ticket, priority domain.TicketPriority, agentID string, now time.Time) (*domain.Ticket, error) {
	if !ticket.HeldBy(agentID, now) {
		holder := ""
		if ticket.LockedNow(now) {
			holder = ticket.LockHolder
		}
		return nil, apperrors.NewAccessDenied(holder)
	}

	next := ticket.Clone()
	next.Priority = priority
	return next, nil
}
