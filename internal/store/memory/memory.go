// Package memory provides an in-process TicketStore used by tests and
// single-node deployments. It honors the same atomicity contract as the
// Postgres implementation: versioned compare-and-swap on tickets and
// serialized sequence allocation on messages.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/ticket-session/internal/domain"
	apperrors "github.com/spec-kit/ticket-session/pkg/util/errorutil"
)

// Store keeps tickets and messages in process memory.
type Store struct {
	mu       sync.Mutex
	tickets  map[string]*domain.Ticket
	messages map[string][]*domain.Message
	nextSeq  map[string]int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		tickets:  make(map[string]*domain.Ticket),
		messages: make(map[string][]*domain.Message),
		nextSeq:  make(map[string]int64),
	}
}

// GetTicket returns a copy of the stored ticket.
func (s *Store) GetTicket(ctx context.Context, id string) (*domain.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewStoreUnavailable(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[id]
	if !ok {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
	}
	return ticket.Clone(), nil
}

// CreateTicket persists a new ticket at version 1.
func (s *Store) CreateTicket(ctx context.Context, ticket *domain.Ticket) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewStoreUnavailable(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	if _, exists := s.tickets[ticket.ID]; exists {
		return apperrors.NewConflict("ticket already exists", map[string]any{"ticket_id": ticket.ID})
	}
	now := time.Now()
	ticket.CreatedAt = now
	ticket.UpdatedAt = now
	ticket.Version = 1
	s.tickets[ticket.ID] = ticket.Clone()
	return nil
}

// CompareAndSwapTicket writes next iff the stored version matches.
func (s *Store) CompareAndSwapTicket(ctx context.Context, id string, expectedVersion int64, next *domain.Ticket) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperrors.NewStoreUnavailable(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tickets[id]
	if !ok {
		return 0, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
	}
	if current.Version != expectedVersion {
		return 0, apperrors.NewConflict("ticket version changed", map[string]any{
			"ticket_id": id,
			"expected":  expectedVersion,
			"actual":    current.Version,
		})
	}
	stored := next.Clone()
	stored.ID = id
	stored.CreatedAt = current.CreatedAt
	stored.UpdatedAt = time.Now()
	stored.Version = current.Version + 1
	s.tickets[id] = stored
	next.Version = stored.Version
	next.UpdatedAt = stored.UpdatedAt
	return stored.Version, nil
}

// AppendMessage allocates the next sequence number and stores the message.
func (s *Store) AppendMessage(ctx context.Context, ticketID string, msg *domain.Message) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewStoreUnavailable(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[ticketID]; !ok {
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	seq := s.nextSeq[ticketID] + 1
	s.nextSeq[ticketID] = seq

	msg.TicketID = ticketID
	msg.Seq = seq
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.SentAt = time.Now()
	s.messages[ticketID] = append(s.messages[ticketID], cloneMessage(msg))
	return nil
}

// ListMessages returns messages with Seq > afterSeq in ascending order.
func (s *Store) ListMessages(ctx context.Context, ticketID string, afterSeq int64) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewStoreUnavailable(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.messages[ticketID]
	result := make([]domain.Message, 0, len(stored))
	for _, msg := range stored {
		if msg.Seq > afterSeq {
			result = append(result, *cloneMessage(msg))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Seq < result[j].Seq })
	return result, nil
}

// MarkMessagesRead flips read-state cells to Read for the given role.
func (s *Store) MarkMessagesRead(ctx context.Context, ticketID string, messageIDs []string, role domain.Role) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewStoreUnavailable(err)
	}
	wanted := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		wanted[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.messages[ticketID] {
		if _, ok := wanted[msg.ID]; ok {
			msg.ReadStates[role] = domain.ReadStateRead
		}
	}
	return nil
}

func cloneMessage(msg *domain.Message) *domain.Message {
	copied := *msg
	copied.ReadStates = make(map[domain.Role]domain.ReadState, len(msg.ReadStates))
	for role, state := range msg.ReadStates {
		copied.ReadStates[role] = state
	}
	if len(msg.Attachments) > 0 {
		copied.Attachments = append([]domain.AttachmentReference(nil), msg.Attachments...)
	}
	return &copied
}
