package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fibreflow/ticket-notify/internal/domain/notification"
	"github.com/fibreflow/ticket-notify/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLY WEBHOOK COMMAND
// Moves a notification along its delivery states when the gateway reports
// sent, delivered, read or failed.
// ══════════════════════════════════════════════════════════════════════════════

// ApplyWebhookCommand carries one gateway delivery callback.
type ApplyWebhookCommand struct {
	Event notification.WebhookEvent
}

// Validate validates the command.
func (c ApplyWebhookCommand) Validate() error {
	if !c.Event.Type.IsValid() {
		return shared.NewDomainError("notification", "Webhook", shared.ErrInvalidInput,
			fmt.Sprintf("unsupported webhook event %q", c.Event.Type))
	}
	if c.Event.MessageID == "" {
		return shared.NewDomainError("notification", "Webhook", shared.ErrValidation, "message_id is required")
	}
	return nil
}

// ApplyWebhookResult describes what the callback did.
type ApplyWebhookResult struct {
	// Found is false when no notification has the message id.
	Found bool

	NotificationID notification.NotificationID
	Decision       notification.Decision
	From           notification.Status
	Status         notification.Status
}

// Updated reports whether the stored notification changed.
func (r *ApplyWebhookResult) Updated() bool {
	return r.Found && r.Decision == notification.DecisionApply
}

// ApplyWebhookHandler handles the ApplyWebhookCommand.
type ApplyWebhookHandler struct {
	repo           notification.Repository
	eventPublisher shared.EventPublisher
	logger         *slog.Logger
}

// NewApplyWebhookHandler creates a new ApplyWebhookHandler.
func NewApplyWebhookHandler(
	repo notification.Repository,
	eventPublisher shared.EventPublisher,
	logger *slog.Logger,
) *ApplyWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApplyWebhookHandler{
		repo:           repo,
		eventPublisher: eventPublisher,
		logger:         logger.With("component", "apply_webhook"),
	}
}

// Handle executes the webhook command. An unknown message id is not an
// error. Repeated, stale and out-of-order callbacks leave the row untouched.
func (h *ApplyWebhookHandler) Handle(ctx context.Context, cmd ApplyWebhookCommand) (*ApplyWebhookResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("apply_webhook: %w", err)
	}

	var from notification.Status
	n, decision, err := h.repo.UpdateByMessageID(ctx, cmd.Event.MessageID,
		func(current *notification.Notification) (notification.Transition, notification.Decision) {
			from = current.Status
			return notification.Track(current, cmd.Event)
		})
	if err != nil {
		if shared.IsNotFound(err) {
			h.logger.Debug("webhook for unknown message", "waha_message_id", cmd.Event.MessageID, "event", cmd.Event.Type)
			return &ApplyWebhookResult{}, nil
		}
		return nil, fmt.Errorf("apply_webhook: %w", err)
	}

	result := &ApplyWebhookResult{
		Found:          true,
		NotificationID: n.ID,
		Decision:       decision,
		From:           from,
		Status:         n.Status,
	}

	log := h.logger.With(
		"notification_id", n.ID,
		"waha_message_id", cmd.Event.MessageID,
		"event", cmd.Event.Type,
		"decision", decision.String(),
	)

	switch decision {
	case notification.DecisionApply:
		log.Info("delivery status updated", "from", from, "to", n.Status)
		if h.eventPublisher != nil {
			if err := h.eventPublisher.Publish(notification.NewStatusChangedEvent(n, from)); err != nil {
				log.Warn("failed to publish event", "error", err)
			}
		}
	case notification.DecisionNoop:
		log.Debug("webhook already applied", "status", n.Status)
	default:
		log.Warn("webhook ignored", "status", n.Status)
	}

	return result, nil
}
