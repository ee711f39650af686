package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-session/internal/domain"
	"github.com/spec-kit/ticket-session/internal/store/memory"
	apperrors "github.com/spec-kit/ticket-session/pkg/util/errorutil"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTicket(t *testing.T, st *memory.Store) *domain.Ticket {
	t.Helper()
	ticket := &domain.Ticket{
		Subject: "printer on fire",
		Status:  domain.TicketStatusOpen,
		Author:  domain.Actor{ID: "student-1"},
	}
	require.NoError(t, st.CreateTicket(context.Background(), ticket))
	return ticket
}

func TestAcquireGrantsLease(t *testing.T) {
	st := memory.New()
	clock := newFakeClock()
	coord := NewCoordinator(st).WithClock(clock.Now)
	ticket := newTicket(t, st)

	lease, err := coord.Acquire(context.Background(), ticket.ID, "agent-a", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "agent-a", lease.Holder)
	assert.Equal(t, clock.Now().Add(5*time.Minute), lease.ExpiresAt)

	state, err := coord.Inspect(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.True(t, state.Locked)
	assert.Equal(t, "agent-a", state.Holder)
}

func TestAcquireContention(t *testing.T) {
	st := memory.New()
	clock := newFakeClock()
	coord := NewCoordinator(st).WithClock(clock.Now)
	ticket := newTicket(t, st)

	_, err := coord.Acquire(context.Background(), ticket.ID, "agent-a", 5*time.Minute)
	require.NoError(t, err)

	_, err = coord.Acquire(context.Background(), ticket.ID, "agent-b", 5*time.Minute)
	require.Error(t, err)
	assert.True(t, apperrors.IsAlreadyLocked(err))
	assert.Equal(t, "agent-a", apperrors.HolderFrom(err))
}

func TestAcquireAfterExpiryReplacesHolder(t *testing.T) {
	st := memory.New()
	clock := newFakeClock()
	coord := NewCoordinator(st).WithClock(clock.Now)
	ticket := newTicket(t, st)

	_, err := coord.Acquire(context.Background(), ticket.ID, "agent-a", 300*time.Second)
	require.NoError(t, err)

	clock.Advance(301 * time.Second)

	lease, err := coord.Acquire(context.Background(), ticket.ID, "agent-b", 300*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "agent-b", lease.Holder)

	state, err := coord.Inspect(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "agent-b", state.Holder)
}

func TestAcquireIsReentrantForHolder(t *testing.T) {
	st := memory.New()
	clock := newFakeClock()
	coord := NewCoordinator(st).WithClock(clock.Now)
	ticket := newTicket(t, st)

	first, err := coord.Acquire(context.Background(), ticket.ID, "agent-a", time.Minute)
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	second, err := coord.Acquire(context.Background(), ticket.ID, "agent-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, second.ExpiresAt.After(first.ExpiresAt))
}

func TestRenewExtendsLease(t *testing.T) {
	st := memory.New()
	clock := newFakeClock()
	coord := NewCoordinator(st).WithClock(clock.Now)
	ticket := newTicket(t, st)

	lease, err := coord.Acquire(context.Background(), ticket.ID, "agent-a", time.Minute)
	require.NoError(t, err)

	clock.Advance(45 * time.Second)
	renewed, err := coord.Renew(context.Background(), ticket.ID, "agent-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, renewed.ExpiresAt.After(lease.ExpiresAt))
}

func TestRenewFailsForNonHolder(t *testing.T) {
	st := memory.New()
	clock := newFakeClock()
	coord := NewCoordinator(st).WithClock(clock.Now)
	ticket := newTicket(t, st)

	_, err := coord.Acquire(context.Background(), ticket.ID, "agent-a", time.Minute)
	require.NoError(t, err)

	_, err = coord.Renew(context.Background(), ticket.ID, "agent-b", time.Minute)
	require.Error(t, err)
	assert.True(t, apperrors.IsAccessDenied(err))
	assert.Equal(t, "agent-a", apperrors.HolderFrom(err))
}

func TestRenewFailsAfterExpiry(t *testing.T) {
	st := memory.New()
	clock := newFakeClock()
	coord := NewCoordinator(st).WithClock(clock.Now)
	ticket := newTicket(t, st)

	_, err := coord.Acquire(context.Background(), ticket.ID, "agent-a", time.Minute)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = coord.Renew(context.Background(), ticket.ID, "agent-a", time.Minute)
	require.Error(t, err)
	assert.True(t, apperrors.IsAccessDenied(err))
}

func TestReleaseIsIdempotentForSameAgent(t *testing.T) {
	st := memory.New()
	clock := newFakeClock()
	coord := NewCoordinator(st).WithClock(clock.Now)
	ticket := newTicket(t, st)

	_, err := coord.Acquire(context.Background(), ticket.ID, "agent-a", time.Minute)
	require.NoError(t, err)

	require.NoError(t, coord.Release(context.Background(), ticket.ID, "agent-a"))
	require.NoError(t, coord.Release(context.Background(), ticket.ID, "agent-a"))

	state, err := coord.Inspect(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.False(t, state.Locked)
}

func TestReleaseByOtherAgentFails(t *testing.T) {
	st := memory.New()
	clock := newFakeClock()
	coord := NewCoordinator(st).WithClock(clock.Now)
	ticket := newTicket(t, st)

	_, err := coord.Acquire(context.Background(), ticket.ID, "agent-a", time.Minute)
	require.NoError(t, err)

	err = coord.Release(context.Background(), ticket.ID, "agent-b")
	require.Error(t, err)
	assert.True(t, apperrors.IsAccessDenied(err))
}

func TestInspectTreatsExpiredLockAsUnlockedWithoutMutating(t *testing.T) {
	st := memory.New()
	clock := newFakeClock()
	coord := NewCoordinator(st).WithClock(clock.Now)
	ticket := newTicket(t, st)

	_, err := coord.Acquire(context.Background(), ticket.ID, "agent-a", time.Minute)
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	state, err := coord.Inspect(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.False(t, state.Locked)

	// The record itself still carries the stale fields until the next Acquire.
	stored, err := st.GetTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.True(t, stored.Locked)
	assert.Equal(t, "agent-a", stored.LockHolder)
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	st := memory.New()
	clock := newFakeClock()
	coord := NewCoordinator(st).WithClock(clock.Now)
	ticket := newTicket(t, st)

	const agents = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < agents; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			agentID := "agent-" + string(rune('a'+n))
			if _, err := coord.Acquire(context.Background(), ticket.ID, agentID, time.Minute); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}
