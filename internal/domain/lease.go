package domain

import "time"

// LockLease is the ephemeral view of a ticket's lock fields handed to the
// agent that acquired it. It is never persisted on its own; the ticket
// record's lock fields are the source of truth.
type LockLease struct {
	TicketID   string
	Holder     string
	AcquiredAt time.Time
	ExpiresAt  time.Time
	Renewals   int
}

// LiveAt reports whether the lease is still valid at the given instant.
func (l LockLease) LiveAt(now time.Time) bool {
	return l.ExpiresAt.After(now)
}
