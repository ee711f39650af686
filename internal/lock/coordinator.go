// Package lock implements the lease-based exclusive-access protocol for
// tickets. At most one staff agent holds write access to a ticket at any
// instant; leases expire so a crashed or disconnected agent cannot freeze a
// ticket forever.
package lock

import (
	"context"
	"time"

	"github.com/spec-kit/ticket-session/internal/domain"
	"github.com/spec-kit/ticket-session/internal/store"
	apperrors "github.com/spec-kit/ticket-session/pkg/util/errorutil"
)

// Coordinator owns the exclusive-access invariant for tickets. It never
// retries failed calls; retry policy belongs to the session facade.
type Coordinator struct {
	store store.TicketStore
	now   func() time.Time
}

// NewCoordinator constructs the coordinator.
func NewCoordinator(st store.TicketStore) *Coordinator {
	return &Coordinator{store: st, now: time.Now}
}

// WithClock overrides the time source. Tests use this to drive lease expiry.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// Acquire claims the ticket's lease for agentID. It succeeds iff no lock
// exists, the existing lock has expired, or agentID already holds it (a
// re-acquire refreshes the lease). The claim is written with a single
// compare-and-swap against the version read, so a competing acquire that
// lands first forces this one to fail rather than silently overwrite.
func (c *Coordinator) Acquire(ctx context.Context, ticketID, agentID string, leaseDuration time.Duration) (domain.LockLease, error) {
	ticket, err := c.store.GetTicket(ctx, ticketID)
	if err != nil {
		return domain.LockLease{}, err
	}
	now := c.now()
	if ticket.LockedNow(now) && ticket.LockHolder != agentID {
		return domain.LockLease{}, apperrors.NewAlreadyLocked(ticket.LockHolder, ticket.LockExpiry)
	}

	next := ticket.Clone()
	next.Locked = true
	next.LockHolder = agentID
	next.LockExpiry = now.Add(leaseDuration)

	if _, err := c.store.CompareAndSwapTicket(ctx, ticketID, ticket.Version, next); err != nil {
		if apperrors.IsConflict(err) {
			// Another write landed between the read and the CAS. If it was a
			// competing acquire, report the winner; otherwise surface the
			// conflict for the caller's retry policy.
			if current, readErr := c.store.GetTicket(ctx, ticketID); readErr == nil && current.LockedNow(c.now()) && current.LockHolder != agentID {
				return domain.LockLease{}, apperrors.NewAlreadyLocked(current.LockHolder, current.LockExpiry)
			}
		}
		return domain.LockLease{}, err
	}
	return domain.LockLease{
		TicketID:   ticketID,
		Holder:     agentID,
		AcquiredAt: now,
		ExpiresAt:  next.LockExpiry,
	}, nil
}

// Renew extends the lease for the current, non-expired holder.
func (c *Coordinator) Renew(ctx context.Context, ticketID, agentID string, leaseDuration time.Duration) (domain.LockLease, error) {
	ticket, err := c.store.GetTicket(ctx, ticketID)
	if err != nil {
		return domain.LockLease{}, err
	}
	now := c.now()
	if !ticket.LockedNow(now) {
		return domain.LockLease{}, apperrors.NewAccessDenied("")
	}
	if ticket.LockHolder != agentID {
		return domain.LockLease{}, apperrors.NewAccessDenied(ticket.LockHolder)
	}

	next := ticket.Clone()
	next.LockExpiry = now.Add(leaseDuration)
	if _, err := c.store.CompareAndSwapTicket(ctx, ticketID, ticket.Version, next); err != nil {
		return domain.LockLease{}, err
	}
	return domain.LockLease{
		TicketID:   ticketID,
		Holder:     agentID,
		AcquiredAt: now,
		ExpiresAt:  next.LockExpiry,
	}, nil
}

// Release clears the lock fields. Releasing an already-unlocked ticket is a
// no-op success; releasing a lease held by a different agent is an error.
func (c *Coordinator) Release(ctx context.Context, ticketID, agentID string) error {
	ticket, err := c.store.GetTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	now := c.now()
	if !ticket.LockedNow(now) {
		return nil
	}
	if ticket.LockHolder != agentID {
		return apperrors.NewAccessDenied(ticket.LockHolder)
	}

	next := ticket.Clone()
	next.Locked = false
	next.LockHolder = ""
	next.LockExpiry = time.Time{}
	if _, err := c.store.CompareAndSwapTicket(ctx, ticketID, ticket.Version, next); err != nil {
		return err
	}
	return nil
}

// Inspect reports the ticket's lock state without mutating the record. An
// expired lease reads as unlocked; the stale fields are cleaned up lazily by
// the next Acquire.
func (c *Coordinator) Inspect(ctx context.Context, ticketID string) (store.LockState, error) {
	ticket, err := c.store.GetTicket(ctx, ticketID)
	if err != nil {
		return store.LockState{}, err
	}
	if !ticket.LockedNow(c.now()) {
		return store.LockState{}, nil
	}
	return store.LockState{
		Locked:    true,
		Holder:    ticket.LockHolder,
		ExpiresAt: ticket.LockExpiry,
	}, nil
}
