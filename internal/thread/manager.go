// Package thread manages per-ticket message logs: strictly increasing,
// gapless sequence numbers and per-audience read-state bookkeeping.
package thread

import (
	"context"
	"strings"
	"sync"

	"github.com/spec-kit/ticket-session/internal/domain"
	"github.com/spec-kit/ticket-session/internal/store"
	apperrors "github.com/spec-kit/ticket-session/pkg/util/errorutil"
)

// Manager serializes appends per ticket in-process on top of the store's
// atomic sequence allocation. Operations on different tickets run fully in
// parallel.
type Manager struct {
	store store.TicketStore

	mu      sync.Mutex
	perTick map[string]*sync.Mutex
}

// NewManager constructs the manager.
func NewManager(st store.TicketStore) *Manager {
	return &Manager{store: st, perTick: make(map[string]*sync.Mutex)}
}

func (m *Manager) ticketMutex(ticketID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	tm, ok := m.perTick[ticketID]
	if !ok {
		tm = &sync.Mutex{}
		m.perTick[ticketID] = tm
	}
	return tm
}

// Append accepts a new message for the ticket and assigns it the next
// sequence number. The message starts Read for the sender's own role and
// Unread for every other audience.
func (m *Manager) Append(ctx context.Context, ticketID string, senderRole domain.Role, senderID, body string, attachments []domain.AttachmentReference) (*domain.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperrors.NewValidationError("message body required", nil)
	}

	msg := &domain.Message{
		TicketID:    ticketID,
		SenderRole:  senderRole,
		SenderID:    senderID,
		Body:        body,
		Attachments: attachments,
		ReadStates:  domain.NewReadStates(senderRole),
	}

	tm := m.ticketMutex(ticketID)
	tm.Lock()
	defer tm.Unlock()
	if err := m.store.AppendMessage(ctx, ticketID, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// MarkRead flips the read-state for readerRole on each listed message to
// Read. Unknown ids are ignored so a reader racing a concurrent append is
// not an error, and Read never reverts to Unread.
func (m *Manager) MarkRead(ctx context.Context, ticketID string, messageIDs []string, readerRole domain.Role) error {
	if len(messageIDs) == 0 {
		return nil
	}
	return m.store.MarkMessagesRead(ctx, ticketID, messageIDs, readerRole)
}

// List returns the ticket's messages with Seq > afterSeq in sequence order.
func (m *Manager) List(ctx context.Context, ticketID string, afterSeq int64) ([]domain.Message, error) {
	return m.store.ListMessages(ctx, ticketID, afterSeq)
}

// UnreadCountFor counts messages the given audience has not yet observed.
// Advisory UI state: it reflects committed MarkRead calls but may lag ones
// still in flight.
func (m *Manager) UnreadCountFor(ctx context.Context, ticketID string, role domain.Role) (int, error) {
	msgs, err := m.store.ListMessages(ctx, ticketID, 0)
	if err != nil {
		return 0, err
	}
	count := 0
	for i := range msgs {
		if !msgs[i].ReadBy(role) {
			count++
		}
	}
	return count, nil
}
