package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fibreflow/ticket-notify/internal/domain/notification"
	"github.com/fibreflow/ticket-notify/internal/domain/shared"
	"github.com/fibreflow/ticket-notify/pkg/retry"
)

// channelPublisher is the subset of Cache the status publisher needs.
type channelPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// StatusMessage is the JSON published on ChannelNotificationStatus.
type StatusMessage struct {
	EventID        string    `json:"event_id"`
	NotificationID string    `json:"notification_id"`
	TicketID       string    `json:"ticket_id,omitempty"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	MessageID      string    `json:"waha_message_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// StatusPublisher forwards notification status changes from the event bus to
// Redis pub/sub. Delivery is best-effort: publish errors are logged and never
// returned to the bus.
type StatusPublisher struct {
	pub     channelPublisher
	channel string
	timeout time.Duration
	logger  *slog.Logger
}

// NewStatusPublisher creates a new StatusPublisher.
func NewStatusPublisher(cache *Cache, logger *slog.Logger) *StatusPublisher {
	return newStatusPublisher(cache, logger)
}

func newStatusPublisher(pub channelPublisher, logger *slog.Logger) *StatusPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusPublisher{
		pub:     pub,
		channel: ChannelNotificationStatus,
		timeout: 2 * time.Second,
		logger:  logger.With("component", "status_publisher"),
	}
}

// Handle implements shared.EventHandler.
func (p *StatusPublisher) Handle(event shared.Event) error {
	changed, ok := event.(notification.StatusChangedEvent)
	if !ok {
		return nil
	}

	msg := StatusMessage{
		EventID:        changed.ID,
		NotificationID: changed.NotificationID.String(),
		TicketID:       changed.TicketID,
		From:           changed.From.String(),
		To:             changed.To.String(),
		MessageID:      changed.MessageID,
		OccurredAt:     changed.OccurredAt(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.pub.Publish(ctx, p.channel, msg); err != nil {
		p.logger.Warn("failed to publish status change",
			"notification_id", msg.NotificationID,
			"to", msg.To,
			"error", err,
		)
		return retry.Retryable(fmt.Errorf("publish status %s: %w", msg.NotificationID, err))
	}
	return nil
}
