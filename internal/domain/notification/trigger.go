package notification

import (
	"time"

	"github.com/fibreflow/ticket-notify/internal/domain/shared"
	"github.com/fibreflow/ticket-notify/internal/domain/ticket"
)

// ══════════════════════════════════════════════════════════════════════════════
// TICKET EVENTS
// ══════════════════════════════════════════════════════════════════════════════

// eventTemplates maps every supported ticket event to the template it sends.
var eventTemplates = map[shared.EventType]TemplateID{
	shared.EventTicketAssigned:   TemplateTicketAssigned,
	shared.EventTicketQARejected: TemplateQARejected,
	shared.EventTicketClosed:     TemplateTicketClosed,
	shared.EventTicketSLAWarning: TemplateSLAWarning,
}

// SupportedEventTypes lists the ticket events that can produce a notification.
var SupportedEventTypes = []shared.EventType{
	shared.EventTicketAssigned,
	shared.EventTicketQARejected,
	shared.EventTicketClosed,
	shared.EventTicketSLAWarning,
}

// TemplateForEvent returns the template an event sends. ok is false for
// unsupported event types.
func TemplateForEvent(t shared.EventType) (TemplateID, bool) {
	id, ok := eventTemplates[t]
	return id, ok
}

// Metadata keys understood by the trigger pipeline.
const (
	MetaRejectionReason = "rejection_reason"
)

// TicketEvent is a ticket lifecycle transition that may produce a notification.
type TicketEvent struct {
	shared.BaseEvent

	Ticket         ticket.Ticket     `json:"ticket"`
	PreviousStatus string            `json:"previous_status,omitempty"`
	NewStatus      string            `json:"new_status,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// NewTicketEvent creates a ticket event stamped with the current time.
func NewTicketEvent(eventType shared.EventType, t ticket.Ticket) TicketEvent {
	return TicketEvent{
		BaseEvent: shared.NewBaseEvent(eventType, t.ID),
		Ticket:    t,
		Metadata:  make(map[string]string),
	}
}

// IsSupported returns false for the unsupported arm of the event union.
func (e TicketEvent) IsSupported() bool {
	_, ok := eventTemplates[e.Type]
	return ok
}

// Meta returns a metadata value or "".
func (e TicketEvent) Meta(key string) string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata[key]
}

// Payload implements shared.Event.
func (e TicketEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"ticket_id":       e.Ticket.ID,
		"ticket_uid":      e.Ticket.TicketUID,
		"previous_status": e.PreviousStatus,
		"new_status":      e.NewStatus,
		"metadata":        e.Metadata,
	}
}

// StatusChangedEvent is published after a webhook moves a notification.
type StatusChangedEvent struct {
	shared.BaseEvent

	NotificationID NotificationID `json:"notification_id"`
	TicketID       string         `json:"ticket_id,omitempty"`
	From           Status         `json:"from"`
	To             Status         `json:"to"`
	MessageID      string         `json:"waha_message_id"`
}

// NewStatusChangedEvent creates a StatusChangedEvent.
func NewStatusChangedEvent(n *Notification, from Status) StatusChangedEvent {
	return StatusChangedEvent{
		BaseEvent:      shared.NewBaseEvent(shared.EventNotificationStatusChanged, n.ID.String()),
		NotificationID: n.ID,
		TicketID:       n.TicketID,
		From:           from,
		To:             n.Status,
		MessageID:      n.WAHAMessageID,
	}
}

// NewSendOutcomeEvent creates the event for a finished send attempt. Its type
// is notification.sent or notification.failed depending on n.Status.
func NewSendOutcomeEvent(n *Notification, from Status) StatusChangedEvent {
	e := NewStatusChangedEvent(n, from)
	if n.Status == StatusFailed {
		e.Type = shared.EventNotificationFailed
	} else {
		e.Type = shared.EventNotificationSent
	}
	return e
}

// Payload implements shared.Event.
func (e StatusChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"notification_id": e.NotificationID.String(),
		"ticket_id":       e.TicketID,
		"from":            e.From.String(),
		"to":              e.To.String(),
		"waha_message_id": e.MessageID,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TRIGGER RESULT
// ══════════════════════════════════════════════════════════════════════════════

// SkipReason explains why an event did not produce a notification.
type SkipReason string

const (
	SkipDuplicate        SkipReason = "duplicate"
	SkipNoPhone          SkipReason = "no_phone"
	SkipDisabled         SkipReason = "disabled_by_preferences"
	SkipAssigneeNotFound SkipReason = "assignee_not_found"
	SkipUnsupportedEvent SkipReason = "unsupported_event_type"
)

// TriggerResult is the outcome of processing one ticket event.
//
// Success is false only when the pipeline itself failed. A deliberate skip
// has Success true, NotificationSent false and a SkippedReason.
type TriggerResult struct {
	Success          bool           `json:"success"`
	NotificationSent bool           `json:"notification_sent"`
	NotificationID   NotificationID `json:"notification_id,omitempty"`
	SkippedReason    SkipReason     `json:"skipped_reason,omitempty"`
	Err              error          `json:"-"`
}

// Sent builds the result for a delivered notification.
func Sent(id NotificationID) TriggerResult {
	return TriggerResult{Success: true, NotificationSent: true, NotificationID: id}
}

// Skipped builds the result for a deliberate skip.
func Skipped(reason SkipReason) TriggerResult {
	return TriggerResult{Success: true, SkippedReason: reason}
}

// Failed builds the result for a pipeline failure. id is set when a failed
// notification row was recorded.
func Failed(id NotificationID, err error) TriggerResult {
	return TriggerResult{NotificationID: id, Err: err}
}

// Error returns the pipeline error message or "".
func (r TriggerResult) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// ══════════════════════════════════════════════════════════════════════════════
// PREFERENCES
// ══════════════════════════════════════════════════════════════════════════════

// Preferences enables or disables notifications per event type.
// Absent entries are enabled. A Preferences value is never mutated after
// construction.
type Preferences map[shared.EventType]bool

// Enabled reports whether notifications for the event type are on.
func (p Preferences) Enabled(t shared.EventType) bool {
	enabled, ok := p[t]
	return !ok || enabled
}

// DefaultPreferences enables every supported event type.
func DefaultPreferences() Preferences {
	p := make(Preferences, len(SupportedEventTypes))
	for _, t := range SupportedEventTypes {
		p[t] = true
	}
	return p
}

// DefaultDedupWindow is how long an identical ticket notification is suppressed.
const DefaultDedupWindow = 5 * time.Minute
