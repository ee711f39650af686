// Package store defines the record-store boundary the coordination protocol
// persists through. Implementations must provide atomic conditional writes
// on tickets and atomic per-ticket sequence allocation on messages; all
// other protocol logic lives above this boundary.
package store

import (
	"context"
	"time"

	"github.com/spec-kit/ticket-session/internal/domain"
)

// LockState is the read-only view of a ticket's lock fields. An expired
// lease is reported as unlocked without mutating the record.
type LockState struct {
	Locked    bool
	Holder    string
	ExpiresAt time.Time
}

// TicketStore is the opaque record store the protocol calls through.
//
// Error contract: missing records surface as NotFound, version mismatches
// on CompareAndSwapTicket as Conflict, and I/O failures as StoreUnavailable
// (all from pkg/util/errorutil), so callers can tell ownership races from
// transient faults.
type TicketStore interface {
	// GetTicket returns the current ticket record including its version.
	GetTicket(ctx context.Context, id string) (*domain.Ticket, error)

	// CreateTicket persists a new ticket at version 1, filling ID and
	// timestamps on the passed record.
	CreateTicket(ctx context.Context, ticket *domain.Ticket) error

	// CompareAndSwapTicket writes next iff the stored version still equals
	// expectedVersion, returning the new version. The comparison and write
	// are a single atomic step: no read-then-write window.
	CompareAndSwapTicket(ctx context.Context, id string, expectedVersion int64, next *domain.Ticket) (int64, error)

	// AppendMessage persists msg with an atomically allocated per-ticket
	// sequence number, filling Seq, ID and SentAt on the passed record.
	// Sequence numbers for a ticket are strictly increasing and gapless in
	// delivered order; a failed append never leaves a hole visible to
	// ListMessages.
	AppendMessage(ctx context.Context, ticketID string, msg *domain.Message) error

	// ListMessages returns the ticket's messages with Seq > afterSeq in
	// ascending sequence order.
	ListMessages(ctx context.Context, ticketID string, afterSeq int64) ([]domain.Message, error)

	// MarkMessagesRead flips the read-state cell for role to Read on each
	// listed message. Unknown ids are ignored; Read never reverts to
	// Unread. Cells for different roles are independent, so concurrent
	// calls for different roles need no coordination.
	MarkMessagesRead(ctx context.Context, ticketID string, messageIDs []string, role domain.Role) error
}
