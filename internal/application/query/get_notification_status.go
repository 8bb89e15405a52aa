// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/fibreflow/ticket-notify/internal/domain/notification"
	"github.com/fibreflow/ticket-notify/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET NOTIFICATION STATUS QUERY
// Returns the delivery state of one notification and whether it can be retried.
// ══════════════════════════════════════════════════════════════════════════════

// GetNotificationStatusQuery identifies the notification.
type GetNotificationStatusQuery struct {
	NotificationID notification.NotificationID
}

// Validate checks the query parameters.
func (q GetNotificationStatusQuery) Validate() error {
	if !q.NotificationID.IsValid() {
		return shared.NewDomainError("notification", "Status", shared.ErrInvalidID, "notification_id is required")
	}
	return nil
}

// NotificationStatusDTO is the delivery state of a notification.
type NotificationStatusDTO struct {
	NotificationID notification.NotificationID `json:"notification_id"`
	TicketID       string                      `json:"ticket_id,omitempty"`
	Status         notification.Status         `json:"status"`
	WAHAMessageID  string                      `json:"waha_message_id,omitempty"`
	SentAt         *time.Time                  `json:"sent_at,omitempty"`
	DeliveredAt    *time.Time                  `json:"delivered_at,omitempty"`
	ReadAt         *time.Time                  `json:"read_at,omitempty"`
	ErrorMessage   string                      `json:"error_message,omitempty"`
	RetryCount     int                         `json:"retry_count"`
	CanRetry       bool                        `json:"can_retry"`
}

// NewNotificationStatusDTO builds the DTO from a stored notification.
func NewNotificationStatusDTO(n *notification.Notification) NotificationStatusDTO {
	return NotificationStatusDTO{
		NotificationID: n.ID,
		TicketID:       n.TicketID,
		Status:         n.Status,
		WAHAMessageID:  n.WAHAMessageID,
		SentAt:         n.SentAt,
		DeliveredAt:    n.DeliveredAt,
		ReadAt:         n.ReadAt,
		ErrorMessage:   n.ErrorMessage,
		RetryCount:     n.RetryCount,
		CanRetry:       n.CanRetry(),
	}
}

// GetNotificationStatusHandler handles GetNotificationStatusQuery.
type GetNotificationStatusHandler struct {
	repo notification.Repository
}

// NewGetNotificationStatusHandler creates a new handler.
func NewGetNotificationStatusHandler(repo notification.Repository) *GetNotificationStatusHandler {
	return &GetNotificationStatusHandler{repo: repo}
}

// Handle executes the query.
func (h *GetNotificationStatusHandler) Handle(ctx context.Context, q GetNotificationStatusQuery) (*NotificationStatusDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_notification_status: %w", err)
	}

	n, err := h.repo.GetByID(ctx, q.NotificationID)
	if err != nil {
		return nil, fmt.Errorf("get_notification_status: %w", err)
	}

	dto := NewNotificationStatusDTO(n)
	return &dto, nil
}
