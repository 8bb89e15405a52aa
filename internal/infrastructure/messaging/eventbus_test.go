package messaging

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fibreflow/ticket-notify/internal/domain/notification"
	"github.com/fibreflow/ticket-notify/internal/domain/shared"
	"github.com/fibreflow/ticket-notify/internal/domain/ticket"
)

func syncBus() *InMemoryEventBus {
	cfg := DefaultInMemoryEventBusConfig()
	cfg.AsyncMode = false
	return NewInMemoryEventBus(cfg)
}

func closedEvent() shared.Event {
	return notification.NewTicketEvent(shared.EventTicketClosed, ticket.Ticket{ID: "t-1"})
}

func TestInMemoryEventBus_RoutesByType(t *testing.T) {
	bus := syncBus()

	var closed, assigned, all int32
	require.NoError(t, bus.Subscribe(shared.EventTicketClosed, func(shared.Event) error { atomic.AddInt32(&closed, 1); return nil }))
	require.NoError(t, bus.Subscribe(shared.EventTicketAssigned, func(shared.Event) error { atomic.AddInt32(&assigned, 1); return nil }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { atomic.AddInt32(&all, 1); return nil }))

	require.NoError(t, bus.Publish(closedEvent()))

	assert.Equal(t, int32(1), closed)
	assert.Equal(t, int32(0), assigned)
	assert.Equal(t, int32(1), all)
}

func TestInMemoryEventBus_RecoversPanics(t *testing.T) {
	bus := syncBus()

	var after int32
	require.NoError(t, bus.Subscribe(shared.EventTicketClosed, func(shared.Event) error { panic("boom") }))
	require.NoError(t, bus.Subscribe(shared.EventTicketClosed, func(shared.Event) error { atomic.AddInt32(&after, 1); return nil }))

	assert.NotPanics(t, func() { _ = bus.Publish(closedEvent()) })
	assert.Equal(t, int32(1), after)

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.TotalHandlerExecs)
	assert.Equal(t, int64(1), snap.HandlerFailures)
}

func TestInMemoryEventBus_AsyncDrainsOnClose(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())

	var handled int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { atomic.AddInt32(&handled, 1); return nil }))

	for i := 0; i < 25; i++ {
		require.NoError(t, bus.Publish(closedEvent()))
	}
	require.NoError(t, bus.Close())

	assert.Equal(t, int32(25), atomic.LoadInt32(&handled))
	assert.ErrorIs(t, bus.Publish(closedEvent()), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventTicketClosed, func(shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestInMemoryEventBus_MiddlewareOrder(t *testing.T) {
	bus := syncBus()

	var order []string
	mark := func(name string) Middleware {
		return func(next shared.EventHandler) shared.EventHandler {
			return func(e shared.Event) error {
				order = append(order, name)
				return next(e)
			}
		}
	}
	bus.Use(mark("first"), mark("second"))
	require.NoError(t, bus.Subscribe(shared.EventTicketClosed, func(shared.Event) error {
		order = append(order, "handler")
		return errors.New("ignored")
	}))

	require.NoError(t, bus.Publish(closedEvent()))
	assert.Equal(t, []string{"first", "second", "handler"}, order)
}

func TestInMemoryEventBus_RejectsNil(t *testing.T) {
	bus := syncBus()
	assert.Error(t, bus.Publish(nil))
	assert.Error(t, bus.Subscribe(shared.EventTicketClosed, nil))
}
