package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-session/internal/domain"
	apperrors "github.com/spec-kit/ticket-session/pkg/util/errorutil"
)

func createTicket(t *testing.T, st *Store) *domain.Ticket {
	t.Helper()
	ticket := &domain.Ticket{
		Subject: "exam results missing",
		Status:  domain.TicketStatusOpen,
		Author:  domain.Actor{ID: "student-1"},
	}
	require.NoError(t, st.CreateTicket(context.Background(), ticket))
	return ticket
}

func TestCreateAssignsIDAndVersion(t *testing.T) {
	st := New()
	ticket := createTicket(t, st)
	assert.NotEmpty(t, ticket.ID)
	assert.Equal(t, int64(1), ticket.Version)
}

func TestGetTicketReturnsCopy(t *testing.T) {
	st := New()
	ticket := createTicket(t, st)

	got, err := st.GetTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	got.Subject = "mutated"

	again, err := st.GetTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "exam results missing", again.Subject)
}

func TestGetTicketNotFound(t *testing.T) {
	st := New()
	_, err := st.GetTicket(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestCompareAndSwapBumpsVersion(t *testing.T) {
	st := New()
	ticket := createTicket(t, st)

	next := ticket.Clone()
	next.Status = domain.TicketStatusInProgress
	version, err := st.CompareAndSwapTicket(context.Background(), ticket.ID, 1, next)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
	assert.Equal(t, int64(2), next.Version)
}

func TestCompareAndSwapConflictOnStaleVersion(t *testing.T) {
	st := New()
	ticket := createTicket(t, st)

	first := ticket.Clone()
	first.Status = domain.TicketStatusInProgress
	_, err := st.CompareAndSwapTicket(context.Background(), ticket.ID, 1, first)
	require.NoError(t, err)

	stale := ticket.Clone()
	stale.Status = domain.TicketStatusClosed
	_, err = st.CompareAndSwapTicket(context.Background(), ticket.ID, 1, stale)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))

	current, err := st.GetTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, current.Status, "losing write must not land")
}

func TestAppendMessageAllocatesSequence(t *testing.T) {
	st := New()
	ticket := createTicket(t, st)

	for i := 1; i <= 3; i++ {
		msg := &domain.Message{
			SenderRole: domain.RoleStudent,
			SenderID:   "student-1",
			Body:       "hello",
			ReadStates: domain.NewReadStates(domain.RoleStudent),
		}
		require.NoError(t, st.AppendMessage(context.Background(), ticket.ID, msg))
		assert.Equal(t, int64(i), msg.Seq)
		assert.NotEmpty(t, msg.ID)
	}
}

func TestAppendMessageUnknownTicket(t *testing.T) {
	st := New()
	msg := &domain.Message{
		SenderRole: domain.RoleStudent,
		SenderID:   "student-1",
		Body:       "hello",
		ReadStates: domain.NewReadStates(domain.RoleStudent),
	}
	err := st.AppendMessage(context.Background(), "missing", msg)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestListMessagesIsolatedFromMutation(t *testing.T) {
	st := New()
	ticket := createTicket(t, st)
	msg := &domain.Message{
		SenderRole: domain.RoleStudent,
		SenderID:   "student-1",
		Body:       "hello",
		ReadStates: domain.NewReadStates(domain.RoleStudent),
	}
	require.NoError(t, st.AppendMessage(context.Background(), ticket.ID, msg))

	listed, err := st.ListMessages(context.Background(), ticket.ID, 0)
	require.NoError(t, err)
	listed[0].ReadStates[domain.RoleStaff] = domain.ReadStateRead

	again, err := st.ListMessages(context.Background(), ticket.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.ReadStateUnread, again[0].ReadStates[domain.RoleStaff])
}
