package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fibreflow/ticket-notify/internal/domain/notification"
	"github.com/fibreflow/ticket-notify/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RETRY NOTIFICATION COMMAND
// Resends the stored body of a failed notification and updates the row in place.
// ══════════════════════════════════════════════════════════════════════════════

// RetryNotificationCommand identifies the notification to resend.
type RetryNotificationCommand struct {
	NotificationID notification.NotificationID
}

// Validate validates the command.
func (c RetryNotificationCommand) Validate() error {
	if !c.NotificationID.IsValid() {
		return shared.NewDomainError("notification", "Retry", shared.ErrInvalidID, "notification_id is required")
	}
	return nil
}

// RetryNotificationResult reports whether the resend reached the gateway.
type RetryNotificationResult struct {
	Success      bool
	Notification *notification.Notification

	// Error is the gateway error when Success is false.
	Error string
}

// RetryNotificationHandler handles the RetryNotificationCommand.
type RetryNotificationHandler struct {
	repo           notification.Repository
	channel        notification.Channel
	eventPublisher shared.EventPublisher
	logger         *slog.Logger
	now            func() time.Time
}

// NewRetryNotificationHandler creates a new RetryNotificationHandler.
func NewRetryNotificationHandler(
	repo notification.Repository,
	channel notification.Channel,
	eventPublisher shared.EventPublisher,
	logger *slog.Logger,
) *RetryNotificationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryNotificationHandler{
		repo:           repo,
		channel:        channel,
		eventPublisher: eventPublisher,
		logger:         logger.With("component", "retry_notification"),
		now:            time.Now,
	}
}

// Handle executes the retry command. Only failed notifications can be
// retried. A gateway failure is not an error: it is recorded on the row and
// reported through the result.
func (h *RetryNotificationHandler) Handle(ctx context.Context, cmd RetryNotificationCommand) (*RetryNotificationResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("retry_notification: %w", err)
	}

	n, err := h.repo.GetByID(ctx, cmd.NotificationID)
	if err != nil {
		return nil, fmt.Errorf("retry_notification: %w", err)
	}
	if n.Status != notification.StatusFailed {
		return nil, fmt.Errorf("retry_notification: %w", shared.ErrNotificationNotRetry)
	}

	log := h.logger.With(
		"notification_id", n.ID,
		"ticket_id", n.TicketID,
		"retry_count", n.RetryCount,
	)

	receipt, sendErr := h.channel.Send(ctx, n.RecipientPhone, n.Content)

	rctx, cancel := recordContext(ctx)
	defer cancel()

	if sendErr != nil {
		tr := notification.FailedTransition(sendErr.Error())
		if err := h.repo.UpdateStatus(rctx, n.ID, tr); err != nil {
			return nil, fmt.Errorf("retry_notification: %w", errors.Join(sendErr, err))
		}
		n.Apply(tr)

		log.Warn("retry failed", "error", sendErr)
		return &RetryNotificationResult{Notification: n, Error: sendErr.Error()}, nil
	}

	sentAt := receipt.Timestamp
	if sentAt.IsZero() {
		sentAt = h.now()
	}
	tr := notification.RetriedTransition(receipt.MessageID, sentAt)
	if err := h.repo.UpdateStatus(rctx, n.ID, tr); err != nil {
		log.Error("retried message accepted by gateway but not recorded",
			"waha_message_id", receipt.MessageID,
			"error", err,
		)
		return nil, fmt.Errorf("retry_notification: message %s accepted by gateway but not recorded: %w",
			receipt.MessageID, err)
	}
	n.Apply(tr)

	if h.eventPublisher != nil {
		if err := h.eventPublisher.Publish(notification.NewSendOutcomeEvent(n, notification.StatusFailed)); err != nil {
			log.Warn("failed to publish event", "error", err)
		}
	}

	log.Info("notification retried", "waha_message_id", receipt.MessageID)
	return &RetryNotificationResult{Success: true, Notification: n}, nil
}
