package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-session/internal/domain"
	"github.com/spec-kit/ticket-session/internal/events"
	"github.com/spec-kit/ticket-session/internal/lifecycle"
	"github.com/spec-kit/ticket-session/internal/lock"
	"github.com/spec-kit/ticket-session/internal/observability"
	"github.com/spec-kit/ticket-session/internal/store"
	"github.com/spec-kit/ticket-session/internal/store/memory"
	"github.com/spec-kit/ticket-session/internal/thread"
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

// flakyStore fails the first failures CAS calls with StoreUnavailable so
// retry behavior can be observed.
type flakyStore struct {
	store.TicketStore
	mu       sync.Mutex
	failures int
}

func (f *flakyStore) CompareAndSwapTicket(ctx context.Context, id string, expectedVersion int64, next *domain.Ticket) (int64, error) {
	f.mu.Lock()
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return 0, apperrors.NewStoreUnavailable(nil)
	}
	return f.TicketStore.CompareAndSwapTicket(ctx, id, expectedVersion, next)
}

type fixture struct {
	store      store.TicketStore
	clock      *fakeClock
	facade     *Facade
	dispatcher events.Dispatcher
	events     *eventLog
	ticket     *domain.Ticket
}

type eventLog struct {
	mu   sync.Mutex
	seen []events.Event
}

func (l *eventLog) record(_ context.Context, event events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = append(l.seen, event)
	return nil
}

func (l *eventLog) types() []events.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.EventType, 0, len(l.seen))
	for _, e := range l.seen {
		out = append(out, e.Type)
	}
	return out
}

func newFixture(t *testing.T, st store.TicketStore) *fixture {
	t.Helper()
	if st == nil {
		st = memory.New()
	}
	clock := newFakeClock()
	dispatcher := events.NewInMemoryDispatcher()
	log := &eventLog{}
	for _, eventType := range []events.EventType{
		events.EventTicketCreated,
		events.EventTicketLocked,
		events.EventTicketUnlocked,
		events.EventTicketStatusChanged,
		events.EventTicketAssigneeChanged,
		events.EventTicketPriorityChanged,
		events.EventTicketRated,
		events.EventMessageAppended,
		events.EventMessageRead,
	} {
		dispatcher.Subscribe(eventType, log.record)
	}

	facade := NewFacade(Config{
		LeaseDuration: 300 * time.Second,
		RetryAttempts: 3,
		RetryBackoff:  time.Millisecond,
	}, Dependencies{
		Store:      st,
		Locks:      lock.NewCoordinator(st),
		Threads:    thread.NewManager(st),
		Dispatcher: dispatcher,
		Metrics:    observability.NewMetrics(),
	}).WithClock(clock.Now)

	fx := &fixture{store: st, clock: clock, facade: facade, dispatcher: dispatcher, events: log}
	ticket, err := facade.CreateTicket(context.Background(), domain.Actor{ID: "student-1", DisplayName: "Sam"}, CreateTicketInput{
		Subject:     "cannot download certificate",
		Description: "the button does nothing",
		Category:    "billing",
	})
	require.NoError(t, err)
	fx.ticket = ticket
	return fx
}

func TestOpenAutoAcquiresLock(t *testing.T) {
	fx := newFixture(t, nil)

	sess, err := fx.facade.Open(context.Background(), fx.ticket.ID, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, "agent-a", sess.Lease().Holder)

	state, err := fx.facade.Inspect(context.Background(), fx.ticket.ID)
	require.NoError(t, err)
	assert.True(t, state.Locked)
	assert.Equal(t, "agent-a", state.Holder)
	assert.Contains(t, fx.events.types(), events.EventTicketLocked)
}

func TestLockContentionScenario(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	// Agent A acquires ticket T with a 300s lease.
	sessA, err := fx.facade.Open(ctx, fx.ticket.ID, "agent-a")
	require.NoError(t, err)

	// Agent B attempts reassign -> AccessDenied{A}.
	sessB, err := fx.facade.Open(ctx, fx.ticket.ID, "agent-b")
	require.NoError(t, err)
	_, err = sessB.Reassign(ctx, &domain.Actor{ID: "agent-b"})
	require.Error(t, err)
	assert.True(t, apperrors.IsAccessDenied(err))
	assert.Equal(t, "agent-a", apperrors.HolderFrom(err))

	// A changes status -> succeeds and renews the lease.
	fx.clock.Advance(100 * time.Second)
	before := sessA.Lease().ExpiresAt
	_, err = sessA.ChangeStatus(ctx, lifecycle.EventStartWork)
	require.NoError(t, err)
	assert.True(t, sessA.Lease().ExpiresAt.After(before))
	assert.Equal(t, 1, sessA.Lease().Renewals)

	// At t=301s past the renewal with no further activity, B acquires.
	fx.clock.Advance(301 * time.Second)
	sessB2, err := fx.facade.Open(ctx, fx.ticket.ID, "agent-b")
	require.NoError(t, err)
	assert.Equal(t, "agent-b", sessB2.Lease().Holder)

	state, err := fx.facade.Inspect(ctx, fx.ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "agent-b", state.Holder)
}

func TestStaleSessionCannotWriteAfterTakeover(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	sessA, err := fx.facade.Open(ctx, fx.ticket.ID, "agent-a")
	require.NoError(t, err)

	fx.clock.Advance(301 * time.Second)
	_, err = fx.facade.Open(ctx, fx.ticket.ID, "agent-b")
	require.NoError(t, err)

	// A's lapsed session is denied on every mutating call and learns the
	// new holder.
	_, err = sessA.ChangeStatus(ctx, lifecycle.EventStartWork)
	require.Error(t, err)
	assert.True(t, apperrors.IsAccessDenied(err))
	assert.Equal(t, "agent-b", apperrors.HolderFrom(err))

	_, err = sessA.SendMessage(ctx, "late reply", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsAccessDenied(err))
}

func TestMessagesSurviveLockLoss(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	sessA, err := fx.facade.Open(ctx, fx.ticket.ID, "agent-a")
	require.NoError(t, err)
	msg, err := sessA.SendMessage(ctx, "working on it", nil)
	require.NoError(t, err)

	fx.clock.Advance(301 * time.Second)
	_, err = fx.facade.Open(ctx, fx.ticket.ID, "agent-b")
	require.NoError(t, err)

	msgs, err := fx.facade.ListMessages(ctx, fx.ticket.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, msg.ID, msgs[0].ID)
}

func TestUnreadScenario(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	m1, err := fx.facade.AppendMessage(ctx, fx.ticket.ID, domain.RoleStudent, "student-1", "it is still broken", nil)
	require.NoError(t, err)

	count, err := fx.facade.UnreadCount(ctx, fx.ticket.ID, domain.RoleStaff)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	sess, err := fx.facade.Open(ctx, fx.ticket.ID, "agent-a")
	require.NoError(t, err)
	require.NoError(t, sess.MarkRead(ctx, []string{m1.ID}))

	count, err = fx.facade.UnreadCount(ctx, fx.ticket.ID, domain.RoleStaff)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestRateScenario(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	sess, err := fx.facade.Open(ctx, fx.ticket.ID, "agent-a")
	require.NoError(t, err)
	_, err = sess.ChangeStatus(ctx, lifecycle.EventClose)
	require.NoError(t, err)

	rated, err := fx.facade.Rate(ctx, fx.ticket.ID, "student-1", 4)
	require.NoError(t, err)
	require.NotNil(t, rated.Rating)
	assert.Equal(t, 4, *rated.Rating)

	_, err = fx.facade.Rate(ctx, fx.ticket.ID, "student-1", 5)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeAlreadyRated, apperrors.CodeOf(err))

	stored, err := fx.facade.GetTicket(ctx, fx.ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, *stored.Rating)
}

func TestReopenNeedsNoLock(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	sess, err := fx.facade.Open(ctx, fx.ticket.ID, "agent-a")
	require.NoError(t, err)
	_, err = sess.ChangeStatus(ctx, lifecycle.EventClose)
	require.NoError(t, err)
	require.NoError(t, sess.Unlock(ctx))

	reopened, err := fx.facade.Reopen(ctx, fx.ticket.ID, "student-1", domain.RoleStudent)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, reopened.Status)
}

func TestRetryOnStoreUnavailable(t *testing.T) {
	base := memory.New()
	flaky := &flakyStore{TicketStore: base}
	fx := newFixture(t, flaky)
	ctx := context.Background()

	sess, err := fx.facade.Open(ctx, fx.ticket.ID, "agent-a")
	require.NoError(t, err)

	// The next two CAS attempts fail; the third succeeds inside the
	// facade's backoff loop.
	flaky.mu.Lock()
	flaky.failures = 2
	flaky.mu.Unlock()

	ticket, err := sess.ChangeStatus(ctx, lifecycle.EventStartWork)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, ticket.Status)
}

func TestRetryGivesUpAfterAttemptsExhausted(t *testing.T) {
	base := memory.New()
	flaky := &flakyStore{TicketStore: base}
	fx := newFixture(t, flaky)
	ctx := context.Background()

	sess, err := fx.facade.Open(ctx, fx.ticket.ID, "agent-a")
	require.NoError(t, err)

	flaky.mu.Lock()
	flaky.failures = 10
	flaky.mu.Unlock()

	_, err = sess.ChangeStatus(ctx, lifecycle.EventStartWork)
	require.Error(t, err)
	assert.True(t, apperrors.IsStoreUnavailable(err))
}

func TestTerminalErrorsAreNotRetried(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	sess, err := fx.facade.Open(ctx, fx.ticket.ID, "agent-a")
	require.NoError(t, err)

	// Close from Closed is InvalidTransition and must fail immediately.
	_, err = sess.ChangeStatus(ctx, lifecycle.EventClose)
	require.NoError(t, err)
	_, err = sess.ChangeStatus(ctx, lifecycle.EventClose)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidTransition, apperrors.CodeOf(err))
}

func TestUnlockEmitsEventAndReleases(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	sess, err := fx.facade.Open(ctx, fx.ticket.ID, "agent-a")
	require.NoError(t, err)
	require.NoError(t, sess.Unlock(ctx))

	state, err := fx.facade.Inspect(ctx, fx.ticket.ID)
	require.NoError(t, err)
	assert.False(t, state.Locked)
	assert.Contains(t, fx.events.types(), events.EventTicketUnlocked)

	// Unlocking again is a no-op success.
	require.NoError(t, sess.Unlock(ctx))
}

func TestEventFanOut(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	sess, err := fx.facade.Open(ctx, fx.ticket.ID, "agent-a")
	require.NoError(t, err)
	_, err = sess.ChangeStatus(ctx, lifecycle.EventStartWork)
	require.NoError(t, err)
	_, err = sess.Reassign(ctx, &domain.Actor{ID: "agent-a", DisplayName: "Alex"})
	require.NoError(t, err)
	_, err = sess.ChangePriority(ctx, domain.TicketPriorityHigh)
	require.NoError(t, err)
	_, err = sess.SendMessage(ctx, "picking this up", nil)
	require.NoError(t, err)

	seen := fx.events.types()
	assert.Contains(t, seen, events.EventTicketCreated)
	assert.Contains(t, seen, events.EventTicketLocked)
	assert.Contains(t, seen, events.EventTicketStatusChanged)
	assert.Contains(t, seen, events.EventTicketAssigneeChanged)
	assert.Contains(t, seen, events.EventTicketPriorityChanged)
	assert.Contains(t, seen, events.EventMessageAppended)
}

func TestClearAssignmentWithoutLock(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	sessA, err := fx.facade.Open(ctx, fx.ticket.ID, "agent-a")
	require.NoError(t, err)
	_, err = sessA.Reassign(ctx, &domain.Actor{ID: "agent-a"})
	require.NoError(t, err)
	require.NoError(t, sessA.Unlock(ctx))

	// Lock expiry left the assignment in place; another agent clears it
	// without acquiring.
	sessB, err := fx.facade.Open(ctx, fx.ticket.ID, "agent-b")
	require.NoError(t, err)
	require.NoError(t, sessB.Unlock(ctx))
	ticket, err := sessB.Reassign(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, ticket.Assignee)
}
