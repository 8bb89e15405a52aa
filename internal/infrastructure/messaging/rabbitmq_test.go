package messaging

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fibreflow/ticket-notify/internal/domain/notification"
	"github.com/fibreflow/ticket-notify/internal/domain/shared"
)

type settlement struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (s *settlement) Ack(uint64, bool) error { s.acked = true; return nil }

func (s *settlement) Nack(_ uint64, _ bool, requeue bool) error {
	s.nacked = true
	s.requeue = requeue
	return nil
}

func (s *settlement) Reject(_ uint64, requeue bool) error {
	s.nacked = true
	s.requeue = requeue
	return nil
}

const assignedBody = `{
	"event_id": "evt-1",
	"event_type": "ticket.assigned",
	"occurred_at": "2025-12-27T10:00:00Z",
	"ticket": {"id": "t-1", "ticket_uid": "FT406824", "title": "Fibre cut", "assigned_to": "u-1"},
	"metadata": {"rejection_reason": "blurry photo"}
}`

func newTestConsumer(t *testing.T, handler TicketEventHandler) *RabbitMQConsumer {
	t.Helper()
	c, err := NewRabbitMQConsumer(DefaultRabbitMQConfig(), handler, nil)
	require.NoError(t, err)
	return c
}

func TestDecodeTicketEvent(t *testing.T) {
	ev, err := DecodeTicketEvent([]byte(assignedBody))
	require.NoError(t, err)

	assert.Equal(t, "evt-1", ev.ID)
	assert.Equal(t, shared.EventTicketAssigned, ev.Type)
	assert.Equal(t, "t-1", ev.AggregateID())
	assert.Equal(t, "FT406824", ev.Ticket.TicketUID)
	assert.Equal(t, "blurry photo", ev.Meta(notification.MetaRejectionReason))
	assert.Equal(t, 2025, ev.OccurredAt().Year())
	assert.True(t, ev.IsSupported())
}

func TestDecodeTicketEvent_Poison(t *testing.T) {
	for _, body := range []string{`not json`, `{}`, `{"event_type":"ticket.closed"}`} {
		_, err := DecodeTicketEvent([]byte(body))
		assert.ErrorIs(t, err, ErrPoison, body)
	}
}

func TestDecodeTicketEvent_UnknownTypeIsKept(t *testing.T) {
	ev, err := DecodeTicketEvent([]byte(`{"event_type":"ticket.reopened","ticket":{"id":"t-1"}}`))
	require.NoError(t, err)
	assert.False(t, ev.IsSupported())
}

func TestConsumerHandle_AcksOnSuccess(t *testing.T) {
	var got notification.TicketEvent
	c := newTestConsumer(t, func(_ context.Context, ev notification.TicketEvent) error {
		got = ev
		return nil
	})

	s := &settlement{}
	c.handle(context.Background(), amqp.Delivery{Acknowledger: s, Body: []byte(assignedBody)})

	assert.True(t, s.acked)
	assert.Equal(t, "t-1", got.Ticket.ID)
}

func TestConsumerHandle_PoisonIsAckedWithoutCallingHandler(t *testing.T) {
	called := false
	c := newTestConsumer(t, func(context.Context, notification.TicketEvent) error {
		called = true
		return nil
	})

	s := &settlement{}
	c.handle(context.Background(), amqp.Delivery{Acknowledger: s, Body: []byte(`{`)})

	assert.True(t, s.acked)
	assert.False(t, called)
}

func TestConsumerHandle_TransientErrorRequeuesOnce(t *testing.T) {
	c := newTestConsumer(t, func(context.Context, notification.TicketEvent) error {
		return errors.New("connection reset")
	})

	first := &settlement{}
	c.handle(context.Background(), amqp.Delivery{Acknowledger: first, Body: []byte(assignedBody)})
	assert.True(t, first.nacked)
	assert.True(t, first.requeue)

	second := &settlement{}
	c.handle(context.Background(), amqp.Delivery{Acknowledger: second, Body: []byte(assignedBody), Redelivered: true})
	assert.True(t, second.acked)
	assert.False(t, second.nacked)
}

func TestConsumerHandle_NotFoundIsDropped(t *testing.T) {
	c := newTestConsumer(t, func(context.Context, notification.TicketEvent) error {
		return shared.ErrTicketNotFound
	})

	s := &settlement{}
	c.handle(context.Background(), amqp.Delivery{Acknowledger: s, Body: []byte(assignedBody)})
	assert.True(t, s.acked)
}

func TestNewRabbitMQConsumer_Validates(t *testing.T) {
	_, err := NewRabbitMQConsumer(RabbitMQConfig{}, func(context.Context, notification.TicketEvent) error { return nil }, nil)
	assert.Error(t, err)

	_, err = NewRabbitMQConsumer(DefaultRabbitMQConfig(), nil, nil)
	assert.Error(t, err)
}
