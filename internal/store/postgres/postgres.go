// Package postgres implements the record-store boundary on pgx. Ticket
// writes go through a versioned conditional UPDATE, message appends
// allocate their sequence number inside a transaction holding a per-ticket
// advisory lock, so the protocol's atomicity guarantees hold across
// processes sharing the database.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-session/internal/domain"
	apperrors "github.com/spec-kit/ticket-session/pkg/util/errorutil"
)

// Store is the Postgres-backed TicketStore.
type Store struct {
	pool *pgxpool.Pool
}

// New creates the store on an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const ticketColumns = `
	id, subject, description, category, priority, status,
	author_id, author_name, assignee_id, assignee_name, rating,
	locked, lock_holder, lock_expiry, version, created_at, updated_at, closed_at`

// GetTicket returns the current ticket record including its version.
func (s *Store) GetTicket(ctx context.Context, id string) (*domain.Ticket, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id=$1`, id)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
		}
		return nil, apperrors.NewStoreUnavailable(err)
	}
	return ticket, nil
}

// CreateTicket persists a new ticket at version 1.
func (s *Store) CreateTicket(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
		INSERT INTO tickets (subject, description, category, priority, status, author_id, author_name, assignee_id, assignee_name)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id, version, created_at, updated_at`
	var assigneeID, assigneeName *string
	if ticket.Assignee != nil {
		assigneeID = &ticket.Assignee.ID
		assigneeName = &ticket.Assignee.DisplayName
	}
	err := s.pool.QueryRow(ctx, query,
		ticket.Subject,
		ticket.Description,
		ticket.Category,
		ticket.Priority,
		ticket.Status,
		ticket.Author.ID,
		ticket.Author.DisplayName,
		assigneeID,
		assigneeName,
	).Scan(&ticket.ID, &ticket.Version, &ticket.CreatedAt, &ticket.UpdatedAt)
	if err != nil {
		return apperrors.NewStoreUnavailable(err)
	}
	return nil
}

// CompareAndSwapTicket writes next iff the stored version still matches.
// The version predicate rides on the UPDATE itself, so there is no
// read-then-write window.
func (s *Store) CompareAndSwapTicket(ctx context.Context, id string, expectedVersion int64, next *domain.Ticket) (int64, error) {
	const query = `
		UPDATE tickets SET
			subject=$1, description=$2, category=$3, priority=$4, status=$5,
			assignee_id=$6, assignee_name=$7, rating=$8,
			locked=$9, lock_holder=$10, lock_expiry=$11,
			closed_at=$12, version=version+1, updated_at=NOW()
		WHERE id=$13 AND version=$14
		RETURNING version, updated_at`
	var assigneeID, assigneeName *string
	if next.Assignee != nil {
		assigneeID = &next.Assignee.ID
		assigneeName = &next.Assignee.DisplayName
	}
	var lockExpiry any
	if !next.LockExpiry.IsZero() {
		lockExpiry = next.LockExpiry
	}
	var newVersion int64
	err := s.pool.QueryRow(ctx, query,
		next.Subject,
		next.Description,
		next.Category,
		next.Priority,
		next.Status,
		assigneeID,
		assigneeName,
		next.Rating,
		next.Locked,
		next.LockHolder,
		lockExpiry,
		next.ClosedAt,
		id,
		expectedVersion,
	).Scan(&newVersion, &next.UpdatedAt)
	if err == nil {
		next.Version = newVersion
		return newVersion, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, apperrors.NewStoreUnavailable(err)
	}

	// Zero rows means either the ticket vanished or the version moved on.
	var currentVersion int64
	checkErr := s.pool.QueryRow(ctx, `SELECT version FROM tickets WHERE id=$1`, id).Scan(&currentVersion)
	if checkErr != nil {
		if errors.Is(checkErr, pgx.ErrNoRows) {
			return 0, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
		}
		return 0, apperrors.NewStoreUnavailable(checkErr)
	}
	return 0, apperrors.NewConflict("ticket version changed", map[string]any{
		"ticket_id": id,
		"expected":  expectedVersion,
		"actual":    currentVersion,
	})
}

// AppendMessage allocates the next per-ticket sequence number and inserts
// the message and its read-state cells in one transaction. A rollback
// releases the allocation, so readers never see a hole.
func (s *Store) AppendMessage(ctx context.Context, ticketID string, msg *domain.Message) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return apperrors.NewStoreUnavailable(err)
	}
	defer tx.Rollback(ctx)

	// Serializes appends per ticket across every process sharing the DB.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ticketID); err != nil {
		return apperrors.NewStoreUnavailable(err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE id=$1)`, ticketID).Scan(&exists); err != nil {
		return apperrors.NewStoreUnavailable(err)
	}
	if !exists {
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}

	const insert = `
		INSERT INTO ticket_messages (ticket_id, seq, sender_role, sender_id, body)
		VALUES ($1, (SELECT COALESCE(MAX(seq),0)+1 FROM ticket_messages WHERE ticket_id=$1), $2, $3, $4)
		RETURNING id, seq, sent_at`
	if err := tx.QueryRow(ctx, insert, ticketID, msg.SenderRole, msg.SenderID, msg.Body).Scan(&msg.ID, &msg.Seq, &msg.SentAt); err != nil {
		return apperrors.NewStoreUnavailable(err)
	}

	for role, state := range msg.ReadStates {
		if _, err := tx.Exec(ctx,
			`INSERT INTO message_reads (message_id, reader_role, read_state) VALUES ($1,$2,$3)`,
			msg.ID, role, state); err != nil {
			return apperrors.NewStoreUnavailable(err)
		}
	}
	for i := range msg.Attachments {
		att := &msg.Attachments[i]
		if err := tx.QueryRow(ctx,
			`INSERT INTO message_attachments (message_id, storage_key, file_name, mime_type, size_bytes)
			 VALUES ($1,$2,$3,$4,$5) RETURNING id, created_at`,
			msg.ID, att.StorageKey, att.FileName, att.MimeType, att.SizeBytes).Scan(&att.ID, &att.CreatedAt); err != nil {
			return apperrors.NewStoreUnavailable(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.NewStoreUnavailable(err)
	}
	msg.TicketID = ticketID
	return nil
}

// ListMessages returns messages with Seq > afterSeq in ascending order,
// read states and attachments included.
func (s *Store) ListMessages(ctx context.Context, ticketID string, afterSeq int64) ([]domain.Message, error) {
	const query = `
		SELECT id, ticket_id, seq, sender_role, sender_id, body, sent_at
		FROM ticket_messages WHERE ticket_id=$1 AND seq > $2 ORDER BY seq ASC`
	rows, err := s.pool.Query(ctx, query, ticketID, afterSeq)
	if err != nil {
		return nil, apperrors.NewStoreUnavailable(err)
	}
	defer rows.Close()

	var result []domain.Message
	index := make(map[string]int)
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(&msg.ID, &msg.TicketID, &msg.Seq, &msg.SenderRole, &msg.SenderID, &msg.Body, &msg.SentAt); err != nil {
			return nil, apperrors.NewStoreUnavailable(err)
		}
		msg.ReadStates = make(map[domain.Role]domain.ReadState, len(domain.Roles))
		index[msg.ID] = len(result)
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreUnavailable(err)
	}
	if len(result) == 0 {
		return result, nil
	}

	if err := s.loadReadStates(ctx, ticketID, afterSeq, index, result); err != nil {
		return nil, err
	}
	if err := s.loadAttachments(ctx, ticketID, afterSeq, index, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) loadReadStates(ctx context.Context, ticketID string, afterSeq int64, index map[string]int, result []domain.Message) error {
	const query = `
		SELECT r.message_id, r.reader_role, r.read_state
		FROM message_reads r
		JOIN ticket_messages m ON m.id = r.message_id
		WHERE m.ticket_id=$1 AND m.seq > $2`
	rows, err := s.pool.Query(ctx, query, ticketID, afterSeq)
	if err != nil {
		return apperrors.NewStoreUnavailable(err)
	}
	defer rows.Close()
	for rows.Next() {
		var messageID string
		var role domain.Role
		var state domain.ReadState
		if err := rows.Scan(&messageID, &role, &state); err != nil {
			return apperrors.NewStoreUnavailable(err)
		}
		if i, ok := index[messageID]; ok {
			result[i].ReadStates[role] = state
		}
	}
	if err := rows.Err(); err != nil {
		return apperrors.NewStoreUnavailable(err)
	}
	return nil
}

func (s *Store) loadAttachments(ctx context.Context, ticketID string, afterSeq int64, index map[string]int, result []domain.Message) error {
	const query = `
		SELECT a.message_id, a.id, a.storage_key, a.file_name, a.mime_type, a.size_bytes, a.created_at
		FROM message_attachments a
		JOIN ticket_messages m ON m.id = a.message_id
		WHERE m.ticket_id=$1 AND m.seq > $2
		ORDER BY a.created_at ASC`
	rows, err := s.pool.Query(ctx, query, ticketID, afterSeq)
	if err != nil {
		return apperrors.NewStoreUnavailable(err)
	}
	defer rows.Close()
	for rows.Next() {
		var messageID string
		var att domain.AttachmentReference
		if err := rows.Scan(&messageID, &att.ID, &att.StorageKey, &att.FileName, &att.MimeType, &att.SizeBytes, &att.CreatedAt); err != nil {
			return apperrors.NewStoreUnavailable(err)
		}
		if i, ok := index[messageID]; ok {
			result[i].Attachments = append(result[i].Attachments, att)
		}
	}
	if err := rows.Err(); err != nil {
		return apperrors.NewStoreUnavailable(err)
	}
	return nil
}

// MarkMessagesRead flips read-state cells to Read for the given role. The
// predicate keeps Read from ever reverting, and ids outside the ticket are
// simply not matched.
func (s *Store) MarkMessagesRead(ctx context.Context, ticketID string, messageIDs []string, role domain.Role) error {
	if len(messageIDs) == 0 {
		return nil
	}
	const query = `
		UPDATE message_reads SET read_state='READ'
		WHERE reader_role=$1
		  AND message_id = ANY($2)
		  AND message_id IN (SELECT id FROM ticket_messages WHERE ticket_id=$3)`
	if _, err := s.pool.Exec(ctx, query, role, messageIDs, ticketID); err != nil {
		return apperrors.NewStoreUnavailable(err)
	}
	return nil
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	var assigneeID, assigneeName *string
	var lockExpiry *time.Time
	if err := row.Scan(
		&ticket.ID,
		&ticket.Subject,
		&ticket.Description,
		&ticket.Category,
		&ticket.Priority,
		&ticket.Status,
		&ticket.Author.ID,
		&ticket.Author.DisplayName,
		&assigneeID,
		&assigneeName,
		&ticket.Rating,
		&ticket.Locked,
		&ticket.LockHolder,
		&lockExpiry,
		&ticket.Version,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.ClosedAt,
	); err != nil {
		return nil, err
	}
	if assigneeID != nil {
		ticket.Assignee = &domain.Actor{ID: *assigneeID}
		if assigneeName != nil {
			ticket.Assignee.DisplayName = *assigneeName
		}
	}
	if lockExpiry != nil {
		ticket.LockExpiry = *lockExpiry
	}
	return &ticket, nil
}
