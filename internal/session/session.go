package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-session/internal/domain"
	"github.com/spec-kit/ticket-session/internal/events"
	"github.com/spec-kit/ticket-session/internal/lifecycle"
	"github.com/spec-kit/ticket-session/internal/observability"
	apperrors "github.com/spec-kit/ticket-session/pkg/util/errorutil"
)

// Session is one staff agent's handle on one ticket. Every mutating call
// re-validates lock ownership against the store, not just at session start,
// so a late write from a stale session cannot corrupt a ticket now owned by
// someone else. Successful mutating calls renew the lease, keeping an
// active agent from expiring mid-edit while an idle one correctly lapses.
type Session struct {
	facade   *Facade
	ticketID string
	agentID  string

	mu       sync.Mutex
	lease    domain.LockLease
	renewals int
	snapshot *domain.Ticket
	pending  pendingEdits
}

// pendingEdits holds optimistic ticket-level values staged by the current
// call. They are confirmed into the snapshot on success and discarded when
// the agent turns out not to hold the lock. Messages are absent here on
// purpose: once accepted by the thread manager they are durable regardless
// of who holds the lock.
type pendingEdits struct {
	status   *domain.TicketStatus
	assignee **domain.Actor
	priority *domain.TicketPriority
}

func (p *pendingEdits) discard() {
	p.status = nil
	p.assignee = nil
	p.priority = nil
}

// TicketID returns the ticket this session operates on.
func (s *Session) TicketID() string { return s.ticketID }

// AgentID returns the staff agent bound to this session.
func (s *Session) AgentID() string { return s.agentID }

// Lease returns the last lease view this session obtained.
func (s *Session) Lease() domain.LockLease {
	s.mu.Lock()
	defer s.mu.Unlock()
	lease := s.lease
	lease.Renewals = s.renewals
	return lease
}

// Snapshot returns the last confirmed ticket state this session observed.
func (s *Session) Snapshot() *domain.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.Clone()
}

// validateLock confirms the agent still holds a live lease. On loss the
// staged ticket-level edits are discarded and the caller learns who holds
// the ticket now.
func (s *Session) validateLock(ctx context.Context) error {
	state, err := s.facade.locks.Inspect(ctx, s.ticketID)
	if err != nil {
		return err
	}
	if !state.Locked || state.Holder != s.agentID {
		s.pending.discard()
		s.facade.metrics.Inc(observability.MetricAccessDenied)
		return apperrors.NewAccessDenied(state.Holder)
	}
	return nil
}

// renew extends the lease after a successful mutating call.
func (s *Session) renew(ctx context.Context) {
	lease, err := s.facade.locks.Renew(ctx, s.ticketID, s.agentID, s.facade.cfg.LeaseDuration)
	if err != nil {
		if s.facade.logger != nil {
			s.facade.logger.Warn("lease renew failed", zap.Error(err), zap.String("ticket_id", s.ticketID))
		}
		return
	}
	s.facade.metrics.Inc(observability.MetricLockRenewed)
	s.lease.ExpiresAt = lease.ExpiresAt
	s.renewals++
}

// ChangeStatus applies a lifecycle transition as the lock holder.
func (s *Session) ChangeStatus(ctx context.Context, event lifecycle.Event) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.validateLock(ctx); err != nil {
		return nil, err
	}

	var oldStatus domain.TicketStatus
	var updated *domain.Ticket
	err := s.facade.withRetry(ctx, func(ctx context.Context) error {
		ticket, err := s.facade.store.GetTicket(ctx, s.ticketID)
		if err != nil {
			return err
		}
		next, err := lifecycle.Apply(ticket, event, s.agentID, s.facade.now())
		if err != nil {
			return err
		}
		s.pending.status = &next.Status
		if _, err := s.facade.store.CompareAndSwapTicket(ctx, s.ticketID, ticket.Version, next); err != nil {
			return err
		}
		oldStatus = ticket.Status
		updated = next
		return nil
	})
	if err != nil {
		s.pending.discard()
		return nil, err
	}

	s.confirm(updated)
	s.renew(ctx)
	s.facade.metrics.Inc(observability.MetricStatusChanged)
	s.facade.publish(ctx, events.Event{
		Type:      events.EventTicketStatusChanged,
		TicketID:  s.ticketID,
		ActorID:   s.agentID,
		ActorRole: domain.RoleStaff,
		Payload: events.TicketStatusChangedPayload{
			OldStatus: oldStatus,
			NewStatus: updated.Status,
		},
	})
	return updated.Clone(), nil
}

// Reassign changes the ticket's assignee as the lock holder. Passing nil
// clears the assignment, which is also allowed on an unlocked ticket.
func (s *Session) Reassign(ctx context.Context, assignee *domain.Actor) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Clearing an assignment on an unlocked ticket is legal, so the lock
	// check is left to the lifecycle rule, which knows the distinction.
	if assignee != nil {
		if err := s.validateLock(ctx); err != nil {
			return nil, err
		}
	}

	var oldAssignee, newAssignee *string
	var updated *domain.Ticket
	err := s.facade.withRetry(ctx, func(ctx context.Context) error {
		ticket, err := s.facade.store.GetTicket(ctx, s.ticketID)
		if err != nil {
			return err
		}
		next, err := lifecycle.Reassign(ticket, assignee, s.agentID, s.facade.now())
		if err != nil {
			return err
		}
		s.pending.assignee = &assignee
		if _, err := s.facade.store.CompareAndSwapTicket(ctx, s.ticketID, ticket.Version, next); err != nil {
			return err
		}
		if ticket.Assignee != nil {
			oldAssignee = &ticket.Assignee.ID
		}
		if next.Assignee != nil {
			newAssignee = &next.Assignee.ID
		}
		updated = next
		return nil
	})
	if err != nil {
		s.pending.discard()
		if apperrors.IsAccessDenied(err) {
			s.facade.metrics.Inc(observability.MetricAccessDenied)
		}
		return nil, err
	}

	s.confirm(updated)
	if updated.HeldBy(s.agentID, s.facade.now()) {
		s.renew(ctx)
	}
	s.facade.publish(ctx, events.Event{
		Type:      events.EventTicketAssigneeChanged,
		TicketID:  s.ticketID,
		ActorID:   s.agentID,
		ActorRole: domain.RoleStaff,
		Payload: events.TicketAssigneeChangedPayload{
			OldAssigneeID: oldAssignee,
			NewAssigneeID: newAssignee,
		},
	})
	return updated.Clone(), nil
}

// ChangePriority adjusts the ticket's priority as the lock holder.
func (s *Session) ChangePriority(ctx context.Context, priority domain.TicketPriority) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.validateLock(ctx); err != nil {
		return nil, err
	}

	var oldPriority domain.TicketPriority
	var updated *domain.Ticket
	err := s.facade.withRetry(ctx, func(ctx context.Context) error {
		ticket, err := s.facade.store.GetTicket(ctx, s.ticketID)
		if err != nil {
			return err
		}
		next, err := lifecycle.ChangePriority(ticket, priority, s.agentID, s.facade.now())
		if err != nil {
			return err
		}
		s.pending.priority = &priority
		if _, err := s.facade.store.CompareAndSwapTicket(ctx, s.ticketID, ticket.Version, next); err != nil {
			return err
		}
		oldPriority = ticket.Priority
		updated = next
		return nil
	})
	if err != nil {
		s.pending.discard()
		return nil, err
	}

	s.confirm(updated)
	s.renew(ctx)
	s.facade.publish(ctx, events.Event{
		Type:      events.EventTicketPriorityChanged,
		TicketID:  s.ticketID,
		ActorID:   s.agentID,
		ActorRole: domain.RoleStaff,
		Payload: events.TicketPriorityChangedPayload{
			OldPriority: oldPriority,
			NewPriority: priority,
		},
	})
	return updated.Clone(), nil
}

// SendMessage appends a staff message to the thread.
func (s *Session) SendMessage(ctx context.Context, body string, attachments []domain.AttachmentReference) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.validateLock(ctx); err != nil {
		return nil, err
	}
	msg, err := s.facade.AppendMessage(ctx, s.ticketID, domain.RoleStaff, s.agentID, body, attachments)
	if err != nil {
		return nil, err
	}
	s.renew(ctx)
	return msg, nil
}

// MarkRead marks the listed messages as read by the staff audience.
func (s *Session) MarkRead(ctx context.Context, messageIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.validateLock(ctx); err != nil {
		return err
	}
	if err := s.facade.MarkRead(ctx, s.ticketID, messageIDs, domain.RoleStaff, s.agentID); err != nil {
		return err
	}
	s.renew(ctx)
	return nil
}

// Unlock releases the lease explicitly. Safe to call when the lease has
// already lapsed.
func (s *Session) Unlock(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.facade.locks.Release(ctx, s.ticketID, s.agentID); err != nil {
		return err
	}
	s.facade.metrics.Inc(observability.MetricLockReleased)
	s.lease = domain.LockLease{}
	s.facade.publish(ctx, events.Event{
		Type:      events.EventTicketUnlocked,
		TicketID:  s.ticketID,
		ActorID:   s.agentID,
		ActorRole: domain.RoleStaff,
		Payload:   events.TicketUnlockedPayload{PreviousHolder: s.agentID},
	})
	return nil
}

// Close ends the session, releasing the lease if still held.
func (s *Session) Close(ctx context.Context) error {
	return s.Unlock(ctx)
}

func (s *Session) confirm(ticket *domain.Ticket) {
	s.snapshot = ticket.Clone()
	s.pending.discard()
}
