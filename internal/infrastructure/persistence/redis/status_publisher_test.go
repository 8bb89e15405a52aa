package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fibreflow/ticket-notify/internal/domain/notification"
	"github.com/fibreflow/ticket-notify/internal/domain/shared"
	"github.com/fibreflow/ticket-notify/internal/domain/ticket"
	"github.com/fibreflow/ticket-notify/pkg/retry"
)

type recordingPublisher struct {
	channel string
	message interface{}
	err     error
}

func (r *recordingPublisher) Publish(_ context.Context, channel string, message interface{}) error {
	r.channel = channel
	r.message = message
	return r.err
}

func TestStatusPublisher_PublishesStatusChange(t *testing.T) {
	rec := &recordingPublisher{}
	p := newStatusPublisher(rec, nil)

	n := &notification.Notification{ID: "n-1", TicketID: "t-1", Status: notification.StatusDelivered, WAHAMessageID: "msg-1"}
	require.NoError(t, p.Handle(notification.NewStatusChangedEvent(n, notification.StatusSent)))

	assert.Equal(t, ChannelNotificationStatus, rec.channel)
	msg, ok := rec.message.(StatusMessage)
	require.True(t, ok)
	assert.Equal(t, "n-1", msg.NotificationID)
	assert.Equal(t, "sent", msg.From)
	assert.Equal(t, "delivered", msg.To)
	assert.Equal(t, "msg-1", msg.MessageID)
	assert.NotEmpty(t, msg.EventID)
}

func TestStatusPublisher_FailureIsRetryable(t *testing.T) {
	rec := &recordingPublisher{err: errors.New("redis down")}
	p := newStatusPublisher(rec, nil)

	n := &notification.Notification{ID: "n-1", Status: notification.StatusRead}
	err := p.Handle(notification.NewStatusChangedEvent(n, notification.StatusDelivered))
	require.Error(t, err)
	assert.True(t, retry.IsRetryable(err))
	assert.Contains(t, err.Error(), "redis down")
}

func TestStatusPublisher_IgnoresOtherEvents(t *testing.T) {
	rec := &recordingPublisher{}
	p := newStatusPublisher(rec, nil)

	require.NoError(t, p.Handle(notification.NewTicketEvent(shared.EventTicketClosed, ticket.Ticket{ID: "t-1"})))
	assert.Empty(t, rec.channel)
}
