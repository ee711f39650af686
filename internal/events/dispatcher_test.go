package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherDeliversToAllSubscribers(t *testing.T) {
	d := NewInMemoryDispatcher()
	var first, second int
	d.Subscribe(EventTicketLocked, func(context.Context, Event) error {
		first++
		return nil
	})
	d.Subscribe(EventTicketLocked, func(context.Context, Event) error {
		second++
		return nil
	})
	d.Subscribe(EventTicketUnlocked, func(context.Context, Event) error {
		t.Fatal("wrong event type delivered")
		return nil
	})

	require.NoError(t, d.Publish(context.Background(), Event{Type: EventTicketLocked, TicketID: "t-1"}))
	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
}

func TestDispatcherContinuesPastFailingHandler(t *testing.T) {
	d := NewInMemoryDispatcher()
	var reached bool
	d.Subscribe(EventMessageAppended, func(context.Context, Event) error {
		return errors.New("handler blew up")
	})
	d.Subscribe(EventMessageAppended, func(context.Context, Event) error {
		reached = true
		return nil
	})

	require.NoError(t, d.Publish(context.Background(), Event{Type: EventMessageAppended}))
	assert.True(t, reached)
}
