// Package session exposes the facade every mutating ticket operation passes
// through. It composes the lock coordinator, lifecycle machine and thread
// manager into per-ticket staff sessions, translating optimistic local
// edits into confirmed remote state and reconciling conflicts.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-session/internal/domain"
	"github.com/spec-kit/ticket-session/internal/events"
	"github.com/spec-kit/ticket-session/internal/lifecycle"
	"github.com/spec-kit/ticket-session/internal/lock"
	"github.com/spec-kit/ticket-session/internal/observability"
	"github.com/spec-kit/ticket-session/internal/store"
	"github.com/spec-kit/ticket-session/internal/thread"
	apperrors "github.com/spec-kit/ticket-session/pkg/util/errorutil"
)

// Config tunes lease and retry behavior.
type Config struct {
	LeaseDuration   time.Duration
	RetryAttempts   int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
}

// Dependencies bundles collaborators for the facade.
type Dependencies struct {
	Store      store.TicketStore
	Locks      *lock.Coordinator
	Threads    *thread.Manager
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
}

// Facade is the single entry point for mutating ticket operations.
type Facade struct {
	store      store.TicketStore
	locks      *lock.Coordinator
	threads    *thread.Manager
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	cfg        Config
	now        func() time.Time
}

// NewFacade constructs the facade.
func NewFacade(cfg Config, deps Dependencies) *Facade {
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 5 * time.Minute
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 50 * time.Millisecond
	}
	if cfg.RetryBackoffMax <= 0 {
		cfg.RetryBackoffMax = 2 * time.Second
	}
	return &Facade{
		store:      deps.Store,
		locks:      deps.Locks,
		threads:    deps.Threads,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

// WithClock overrides the time source; tests drive lease expiry through it.
// The lock coordinator shares the same clock.
func (f *Facade) WithClock(now func() time.Time) *Facade {
	f.now = now
	f.locks.WithClock(now)
	return f
}

// CreateTicketInput describes an author's new ticket.
type CreateTicketInput struct {
	Subject     string
	Description string
	Category    string
	Priority    domain.TicketPriority
}

// CreateTicket records a new Open ticket for the author and fans out
// TicketCreated.
func (f *Facade) CreateTicket(ctx context.Context, author domain.Actor, input CreateTicketInput) (*domain.Ticket, error) {
	if input.Subject == "" {
		return nil, apperrors.NewValidationError("subject required", nil)
	}
	ticket := &domain.Ticket{
		Subject:     input.Subject,
		Description: input.Description,
		Category:    input.Category,
		Priority:    input.Priority,
		Status:      domain.TicketStatusOpen,
		Author:      author,
	}
	if ticket.Priority == "" {
		ticket.Priority = domain.TicketPriorityMedium
	}
	if err := f.store.CreateTicket(ctx, ticket); err != nil {
		return nil, err
	}
	f.publish(ctx, events.Event{
		Type:      events.EventTicketCreated,
		TicketID:  ticket.ID,
		ActorID:   author.ID,
		ActorRole: domain.RoleStudent,
		Payload: events.TicketCreatedPayload{
			Subject:  ticket.Subject,
			Category: ticket.Category,
			Priority: ticket.Priority,
		},
	})
	return ticket, nil
}

// GetTicket returns the current ticket record.
func (f *Facade) GetTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	return f.store.GetTicket(ctx, ticketID)
}

// Open starts a staff session on the ticket. If the ticket is unlocked the
// facade acquires a lease on the agent's behalf; if another agent holds a
// live lease the session still opens, but every mutating call will fail
// with AccessDenied naming the holder until the lease lapses and the agent
// re-acquires.
func (f *Facade) Open(ctx context.Context, ticketID, agentID string) (*Session, error) {
	ticket, err := f.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	sess := &Session{facade: f, ticketID: ticketID, agentID: agentID, snapshot: ticket}

	state, err := f.locks.Inspect(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !state.Locked || state.Holder == agentID {
		lease, err := f.locks.Acquire(ctx, ticketID, agentID, f.cfg.LeaseDuration)
		if err != nil {
			if apperrors.IsAlreadyLocked(err) {
				// Lost the race to a competing agent; open read-only.
				f.metrics.Inc(observability.MetricLockContended)
				return sess, nil
			}
			return nil, err
		}
		f.metrics.Inc(observability.MetricLockAcquired)
		sess.lease = lease
		f.publish(ctx, events.Event{
			Type:      events.EventTicketLocked,
			TicketID:  ticketID,
			ActorID:   agentID,
			ActorRole: domain.RoleStaff,
			Payload: events.TicketLockedPayload{
				Holder:    agentID,
				ExpiresAt: lease.ExpiresAt,
			},
		})
	} else {
		f.metrics.Inc(observability.MetricLockContended)
	}
	return sess, nil
}

// Reopen transitions a Closed ticket back to Open. No lock is required:
// the ticket's author or any staff agent may reopen.
func (f *Facade) Reopen(ctx context.Context, ticketID, actorID string, role domain.Role) (*domain.Ticket, error) {
	var updated *domain.Ticket
	err := f.withRetry(ctx, func(ctx context.Context) error {
		ticket, err := f.store.GetTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		next, err := lifecycle.Apply(ticket, lifecycle.EventReopen, actorID, f.now())
		if err != nil {
			return err
		}
		if _, err := f.store.CompareAndSwapTicket(ctx, ticketID, ticket.Version, next); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	f.metrics.Inc(observability.MetricStatusChanged)
	f.publish(ctx, events.Event{
		Type:      events.EventTicketStatusChanged,
		TicketID:  ticketID,
		ActorID:   actorID,
		ActorRole: role,
		Payload: events.TicketStatusChangedPayload{
			OldStatus: domain.TicketStatusClosed,
			NewStatus: updated.Status,
		},
	})
	return updated, nil
}

// Rate records a one-time rating on a closed ticket. No lock is required.
func (f *Facade) Rate(ctx context.Context, ticketID, actorID string, value int) (*domain.Ticket, error) {
	var updated *domain.Ticket
	err := f.withRetry(ctx, func(ctx context.Context) error {
		ticket, err := f.store.GetTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		next, err := lifecycle.Rate(ticket, value)
		if err != nil {
			return err
		}
		if _, err := f.store.CompareAndSwapTicket(ctx, ticketID, ticket.Version, next); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	f.publish(ctx, events.Event{
		Type:      events.EventTicketRated,
		TicketID:  ticketID,
		ActorID:   actorID,
		ActorRole: domain.RoleStudent,
		Payload:   events.TicketRatedPayload{Rating: value},
	})
	return updated, nil
}

// AppendMessage adds a message on behalf of the ticket's author or another
// lockless participant. Messages are append-only and independent of lock
// ownership for non-staff senders.
func (f *Facade) AppendMessage(ctx context.Context, ticketID string, senderRole domain.Role, senderID, body string, attachments []domain.AttachmentReference) (*domain.Message, error) {
	var msg *domain.Message
	err := f.withRetry(ctx, func(ctx context.Context) error {
		var appendErr error
		msg, appendErr = f.threads.Append(ctx, ticketID, senderRole, senderID, body, attachments)
		return appendErr
	})
	if err != nil {
		return nil, err
	}
	f.metrics.Inc(observability.MetricMessageAppended)
	f.publishMessageAppended(ctx, msg, senderRole)
	return msg, nil
}

// MarkRead flips read-state to Read for the given audience on the listed
// messages. Idempotent; unknown ids are ignored.
func (f *Facade) MarkRead(ctx context.Context, ticketID string, messageIDs []string, readerRole domain.Role, readerID string) error {
	err := f.withRetry(ctx, func(ctx context.Context) error {
		return f.threads.MarkRead(ctx, ticketID, messageIDs, readerRole)
	})
	if err != nil {
		return err
	}
	f.publish(ctx, events.Event{
		Type:      events.EventMessageRead,
		TicketID:  ticketID,
		ActorID:   readerID,
		ActorRole: readerRole,
		Payload: events.MessageReadPayload{
			MessageIDs: messageIDs,
			ReaderRole: readerRole,
		},
	})
	return nil
}

// ListMessages returns the ticket's thread after the given sequence number.
func (f *Facade) ListMessages(ctx context.Context, ticketID string, afterSeq int64) ([]domain.Message, error) {
	return f.threads.List(ctx, ticketID, afterSeq)
}

// UnreadCount reports how many messages the audience has not observed yet.
func (f *Facade) UnreadCount(ctx context.Context, ticketID string, role domain.Role) (int, error) {
	return f.threads.UnreadCountFor(ctx, ticketID, role)
}

// Inspect exposes the current lock state, so callers can tell a user who
// holds the ticket now.
func (f *Facade) Inspect(ctx context.Context, ticketID string) (store.LockState, error) {
	return f.locks.Inspect(ctx, ticketID)
}

func (f *Facade) publishMessageAppended(ctx context.Context, msg *domain.Message, senderRole domain.Role) {
	f.publish(ctx, events.Event{
		Type:      events.EventMessageAppended,
		TicketID:  msg.TicketID,
		ActorID:   msg.SenderID,
		ActorRole: senderRole,
		Payload: events.MessageAppendedPayload{
			MessageID:   msg.ID,
			Seq:         msg.Seq,
			SenderRole:  msg.SenderRole,
			SenderID:    msg.SenderID,
			BodyPreview: preview(msg.Body, 120),
		},
	})
}

func (f *Facade) publish(ctx context.Context, event events.Event) {
	if f.dispatcher == nil {
		return
	}
	event.ID = uuid.NewString()
	event.Timestamp = f.now()
	if err := f.dispatcher.Publish(ctx, event); err != nil && f.logger != nil {
		f.logger.Warn("publish event", zap.Error(err), zap.String("event_type", string(event.Type)))
	}
}

// withRetry runs op with bounded exponential backoff. Only StoreUnavailable
// and Conflict are retried; each op re-reads current state itself, so a
// retry is never a blind replay of a stale write.
func (f *Facade) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	backoff := f.cfg.RetryBackoff
	var err error
	for attempt := 0; attempt <= f.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			f.metrics.Inc(observability.MetricRetry)
			select {
			case <-ctx.Done():
				return apperrors.NewStoreUnavailable(ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > f.cfg.RetryBackoffMax {
				backoff = f.cfg.RetryBackoffMax
			}
		}
		err = op(ctx)
		if err == nil || !apperrors.IsRetryable(err) {
			return err
		}
		if apperrors.IsConflict(err) {
			f.metrics.Inc(observability.MetricCASConflict)
		}
	}
	return err
}

func preview(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
