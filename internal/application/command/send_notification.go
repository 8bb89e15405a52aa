// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fibreflow/ticket-notify/internal/domain/notification"
	"github.com/fibreflow/ticket-notify/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SEND NOTIFICATION COMMAND
// Renders a message, records it, hands it to the gateway and records the
// outcome. Every other write path ends up here.
// ══════════════════════════════════════════════════════════════════════════════

// SendNotificationCommand contains the data to send one WhatsApp message.
type SendNotificationCommand struct {
	// TicketID is optional; empty for messages that are not ticket-scoped.
	TicketID string

	RecipientType  notification.RecipientType
	RecipientPhone string
	RecipientName  string

	// TemplateID selects a registered template. When empty, MessageContent
	// is sent literally.
	TemplateID notification.TemplateID
	Variables  map[string]string

	MessageContent string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c SendNotificationCommand) Validate() error {
	if !c.RecipientType.IsValid() {
		return shared.ErrInvalidRecipientType
	}
	if !shared.PhoneNumber(c.RecipientPhone).IsValid() {
		return shared.ErrMissingPhone
	}
	if c.TemplateID == "" && strings.TrimSpace(c.MessageContent) == "" {
		return shared.ErrMissingContent
	}
	return nil
}

// SendNotificationResult contains the stored notification after the attempt.
type SendNotificationResult struct {
	Notification *notification.Notification

	// Attempts is the number of gateway calls made, 0 when the gateway
	// reported nothing.
	Attempts int
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// SendNotificationHandler handles the SendNotificationCommand.
type SendNotificationHandler struct {
	repo           notification.Repository
	channel        notification.Channel
	eventPublisher shared.EventPublisher
	logger         *slog.Logger
	now            func() time.Time
}

// NewSendNotificationHandler creates a new SendNotificationHandler.
// eventPublisher may be nil.
func NewSendNotificationHandler(
	repo notification.Repository,
	channel notification.Channel,
	eventPublisher shared.EventPublisher,
	logger *slog.Logger,
) *SendNotificationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SendNotificationHandler{
		repo:           repo,
		channel:        channel,
		eventPublisher: eventPublisher,
		logger:         logger.With("component", "send_notification"),
		now:            time.Now,
	}
}

// Handle executes the send notification command.
//
// Template errors are returned before anything is stored. A gateway failure
// returns the stored failed notification together with the gateway error.
// A message the gateway accepted but that could not be recorded is returned
// as an error naming the gateway message id.
func (h *SendNotificationHandler) Handle(ctx context.Context, cmd SendNotificationCommand) (*SendNotificationResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("send_notification: %w", err)
	}

	body, err := render(cmd)
	if err != nil {
		return nil, fmt.Errorf("send_notification: %w", err)
	}

	n, err := notification.NewNotification(notification.NewNotificationParams{
		TicketID:       cmd.TicketID,
		RecipientType:  cmd.RecipientType,
		RecipientPhone: cmd.RecipientPhone,
		RecipientName:  cmd.RecipientName,
		TemplateID:     cmd.TemplateID.String(),
		Content:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("send_notification: %w", err)
	}

	stored, err := h.repo.Create(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("send_notification: failed to record notification: %w", err)
	}

	log := h.logger.With(
		"notification_id", stored.ID,
		"ticket_id", stored.TicketID,
		"template_id", stored.TemplateID,
		"phone", shared.PhoneNumber(stored.RecipientPhone).Masked(),
	)
	if cmd.CorrelationID != "" {
		log = log.With("correlation_id", cmd.CorrelationID)
	}

	receipt, sendErr := h.channel.Send(ctx, stored.RecipientPhone, body)

	// The outcome is recorded even when the caller has gone away.
	rctx, cancel := recordContext(ctx)
	defer cancel()

	if sendErr != nil {
		tr := notification.FailedTransition(sendErr.Error())
		if err := h.repo.UpdateStatus(rctx, stored.ID, tr); err != nil {
			log.Error("failed to record send failure", "error", err, "send_error", sendErr)
			return nil, fmt.Errorf("send_notification: %w", errors.Join(sendErr, err))
		}
		stored.Apply(tr)
		h.publish(notification.NewSendOutcomeEvent(stored, notification.StatusPending), cmd.CorrelationID)

		log.Warn("notification failed", "error", sendErr)
		return &SendNotificationResult{Notification: stored}, fmt.Errorf("send_notification: %w", sendErr)
	}

	sentAt := receipt.Timestamp
	if sentAt.IsZero() {
		sentAt = h.now()
	}
	tr := notification.SentTransition(receipt.MessageID, sentAt)
	if err := h.repo.UpdateStatus(rctx, stored.ID, tr); err != nil {
		log.Error("message accepted by gateway but not recorded",
			"waha_message_id", receipt.MessageID,
			"error", err,
		)
		return nil, fmt.Errorf("send_notification: message %s accepted by gateway but not recorded: %w",
			receipt.MessageID, err)
	}
	stored.Apply(tr)
	h.publish(notification.NewSendOutcomeEvent(stored, notification.StatusPending), cmd.CorrelationID)

	log.Info("notification sent", "waha_message_id", receipt.MessageID, "attempts", receipt.Attempts)

	return &SendNotificationResult{
		Notification: stored,
		Attempts:     receipt.Attempts,
	}, nil
}

// render returns the message body for the command.
// recordTimeout bounds an outcome write made after the caller cancelled.
const recordTimeout = 10 * time.Second

// recordContext returns a context for writing a send outcome. It keeps the
// values of ctx but not its cancellation.
func recordContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
}

func render(cmd SendNotificationCommand) (string, error) {
	if cmd.TemplateID == "" {
		return cmd.MessageContent, nil
	}
	return notification.RenderTemplate(cmd.TemplateID, cmd.Variables)
}

func (h *SendNotificationHandler) publish(e notification.StatusChangedEvent, correlationID string) {
	if h.eventPublisher == nil {
		return
	}
	if correlationID != "" {
		e.BaseEvent = e.BaseEvent.WithCorrelationID(correlationID)
	}
	if err := h.eventPublisher.Publish(e); err != nil {
		h.logger.Warn("failed to publish event", "event_type", e.Type, "error", err)
	}
}
