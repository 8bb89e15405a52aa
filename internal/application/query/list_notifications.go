package query

import (
	"context"
	"fmt"
	"time"

	"github.com/fibreflow/ticket-notify/internal/domain/notification"
	"github.com/fibreflow/ticket-notify/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST NOTIFICATIONS QUERY
// ══════════════════════════════════════════════════════════════════════════════

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ListNotificationsQuery narrows the listing.
type ListNotificationsQuery struct {
	TicketID       string
	Statuses       []notification.Status
	RecipientTypes []notification.RecipientType
	SentAfter      *time.Time
	SentBefore     *time.Time
	FailedOnly     bool

	Limit  int
	Offset int

	// IncludeStats adds per-status counts for the same filter.
	IncludeStats bool
}

// Validate checks the query and applies paging defaults.
func (q *ListNotificationsQuery) Validate() error {
	for _, s := range q.Statuses {
		if !s.IsValid() {
			return shared.ErrInvalidStatus
		}
	}
	for _, t := range q.RecipientTypes {
		if !t.IsValid() {
			return shared.ErrInvalidRecipientType
		}
	}
	if q.SentAfter != nil && q.SentBefore != nil && q.SentBefore.Before(*q.SentAfter) {
		return shared.NewDomainError("notification", "List", shared.ErrInvalidInput, "sent_before is earlier than sent_after")
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.Limit <= 0 {
		q.Limit = defaultListLimit
	}
	if q.Limit > maxListLimit {
		q.Limit = maxListLimit
	}
	return nil
}

// Filter converts the query into a repository filter.
func (q ListNotificationsQuery) Filter() notification.ListFilter {
	return notification.ListFilter{
		TicketID:       q.TicketID,
		Statuses:       q.Statuses,
		RecipientTypes: q.RecipientTypes,
		SentAfter:      q.SentAfter,
		SentBefore:     q.SentBefore,
		FailedOnly:     q.FailedOnly,
		Limit:          q.Limit,
		Offset:         q.Offset,
	}
}

// NotificationDTO is a notification as listed by the API.
type NotificationDTO struct {
	NotificationStatusDTO

	RecipientType  notification.RecipientType `json:"recipient_type"`
	RecipientPhone string                     `json:"recipient_phone"`
	RecipientName  string                     `json:"recipient_name,omitempty"`
	TemplateID     string                     `json:"message_template,omitempty"`
	Content        string                     `json:"message_content"`
	CreatedAt      time.Time                  `json:"created_at"`
	UpdatedAt      time.Time                  `json:"updated_at"`
}

// ListNotificationsResult contains one page of notifications.
type ListNotificationsResult struct {
	Notifications []NotificationDTO   `json:"notifications"`
	Count         int                 `json:"count"`
	Limit         int                 `json:"limit"`
	Offset        int                 `json:"offset"`
	Stats         *notification.Stats `json:"stats,omitempty"`
}

// ListNotificationsHandler handles ListNotificationsQuery.
type ListNotificationsHandler struct {
	repo notification.Repository
}

// NewListNotificationsHandler creates a new handler.
func NewListNotificationsHandler(repo notification.Repository) *ListNotificationsHandler {
	return &ListNotificationsHandler{repo: repo}
}

// Handle executes the query.
func (h *ListNotificationsHandler) Handle(ctx context.Context, q ListNotificationsQuery) (*ListNotificationsResult, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("list_notifications: %w", err)
	}

	filter := q.Filter()
	items, err := h.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list_notifications: %w", err)
	}

	result := &ListNotificationsResult{
		Notifications: make([]NotificationDTO, 0, len(items)),
		Count:         len(items),
		Limit:         q.Limit,
		Offset:        q.Offset,
	}
	for _, n := range items {
		result.Notifications = append(result.Notifications, NotificationDTO{
			NotificationStatusDTO: NewNotificationStatusDTO(n),
			RecipientType:         n.RecipientType,
			RecipientPhone:        n.RecipientPhone,
			RecipientName:         n.RecipientName,
			TemplateID:            n.TemplateID,
			Content:               n.Content,
			CreatedAt:             n.CreatedAt,
			UpdatedAt:             n.UpdatedAt,
		})
	}

	if q.IncludeStats {
		stats, err := h.repo.Stats(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("list_notifications: stats: %w", err)
		}
		result.Stats = stats
	}

	return result, nil
}
