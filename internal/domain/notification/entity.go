// Package notification contains the domain model for outbound WhatsApp
// notifications: the persisted notification record, its delivery-status
// state machine, the message template registry and the ticket-event
// trigger types.
package notification

import (
	"fmt"
	"strings"
	"time"

	"github.com/fibreflow/ticket-notify/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// NotificationID is the unique identifier of a stored notification.
type NotificationID string

// IsValid checks that the ID is not empty.
func (id NotificationID) IsValid() bool {
	return len(id) > 0
}

// String returns the string representation of the ID.
func (id NotificationID) String() string {
	return string(id)
}

// ══════════════════════════════════════════════════════════════════════════════
// RECIPIENT TYPE
// ══════════════════════════════════════════════════════════════════════════════

// RecipientType identifies who a notification is addressed to.
type RecipientType string

const (
	RecipientContractor RecipientType = "contractor"
	RecipientTechnician RecipientType = "technician"
	RecipientClient     RecipientType = "client"
	RecipientTeam       RecipientType = "team"
)

// IsValid checks that the recipient type is known.
func (t RecipientType) IsValid() bool {
	switch t {
	case RecipientContractor, RecipientTechnician, RecipientClient, RecipientTeam:
		return true
	default:
		return false
	}
}

// String returns the string representation.
func (t RecipientType) String() string {
	return string(t)
}

// ParseRecipientType parses and validates a recipient type.
func ParseRecipientType(s string) (RecipientType, error) {
	t := RecipientType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", shared.ErrInvalidRecipientType
	}
	return t, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// Status is the delivery status of a notification.
type Status string

const (
	// StatusPending is the state before any gateway call returns.
	StatusPending Status = "pending"

	// StatusSent is entered only on a successful gateway call.
	StatusSent Status = "sent"

	// StatusDelivered is reported by the gateway webhook.
	StatusDelivered Status = "delivered"

	// StatusRead is reported by the gateway webhook.
	StatusRead Status = "read"

	// StatusFailed is reachable from pending or sent.
	StatusFailed Status = "failed"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{StatusPending, StatusSent, StatusDelivered, StatusRead, StatusFailed}

// IsValid checks that the status is known.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSent, StatusDelivered, StatusRead, StatusFailed:
		return true
	default:
		return false
	}
}

// IsFinal returns true for statuses no webhook can move forward.
func (s Status) IsFinal() bool {
	return s == StatusRead || s == StatusFailed
}

// IsDelivered returns true once the message reached the recipient's device.
func (s Status) IsDelivered() bool {
	return s == StatusDelivered || s == StatusRead
}

// rank orders the forward path pending < sent < delivered < read.
// Failed has no rank.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return -1
	}
}

// String returns the string representation.
func (s Status) String() string {
	return string(s)
}

// ParseStatus parses and validates a status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", shared.ErrInvalidStatus
	}
	return st, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Notification is one WhatsApp message send attempt and its delivery state.
type Notification struct {
	ID NotificationID

	// TicketID is empty for notifications that are not ticket-scoped.
	TicketID string

	RecipientType  RecipientType
	RecipientPhone string
	RecipientName  string

	// TemplateID is empty when the body was supplied literally.
	TemplateID string

	// Content is the rendered body that was handed to the gateway.
	Content string

	Status        Status
	WAHAMessageID string

	SentAt      *time.Time
	DeliveredAt *time.Time
	ReadAt      *time.Time

	ErrorMessage string
	RetryCount   int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewNotificationParams holds the fields needed to record a send attempt.
type NewNotificationParams struct {
	TicketID       string
	RecipientType  RecipientType
	RecipientPhone string
	RecipientName  string
	TemplateID     string
	Content        string
}

// NewNotification creates a pending notification with validation.
// The ID and timestamps are assigned by the store.
func NewNotification(params NewNotificationParams) (*Notification, error) {
	if !params.RecipientType.IsValid() {
		return nil, shared.ErrInvalidRecipientType
	}
	if !shared.PhoneNumber(params.RecipientPhone).IsValid() {
		return nil, shared.ErrMissingPhone
	}
	if strings.TrimSpace(params.Content) == "" {
		return nil, shared.ErrMissingContent
	}

	return &Notification{
		TicketID:       params.TicketID,
		RecipientType:  params.RecipientType,
		RecipientPhone: params.RecipientPhone,
		RecipientName:  params.RecipientName,
		TemplateID:     params.TemplateID,
		Content:        params.Content,
		Status:         StatusPending,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN METHODS
// ══════════════════════════════════════════════════════════════════════════════

// Apply copies the fields of a transition onto the notification.
func (n *Notification) Apply(tr Transition) {
	n.Status = tr.To
	if tr.MessageID != "" {
		n.WAHAMessageID = tr.MessageID
	}
	if tr.SentAt != nil {
		n.SentAt = tr.SentAt
	}
	if tr.DeliveredAt != nil {
		n.DeliveredAt = tr.DeliveredAt
	}
	if tr.ReadAt != nil {
		n.ReadAt = tr.ReadAt
	}
	if tr.ClearError {
		n.ErrorMessage = ""
	}
	if tr.ErrorMessage != "" {
		n.ErrorMessage = tr.ErrorMessage
	}
	if tr.IncrementRetry {
		n.RetryCount++
	}
}

// CanRetry returns true if the notification failed with a recorded error.
func (n *Notification) CanRetry() bool {
	return n.Status == StatusFailed && n.ErrorMessage != ""
}

// IsTicketScoped returns true if the notification belongs to a ticket.
func (n *Notification) IsTicketScoped() bool {
	return n.TicketID != ""
}

// String returns a short description for logs.
func (n *Notification) String() string {
	return fmt.Sprintf("Notification{id=%s, ticket=%s, template=%s, status=%s}",
		n.ID, n.TicketID, n.TemplateID, n.Status)
}
