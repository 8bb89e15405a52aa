package notification

import (
	"strings"
	"time"
)

// DefaultDeliveryFailure is recorded when a failed webhook carries no error text.
const DefaultDeliveryFailure = "Message delivery failed"

// ══════════════════════════════════════════════════════════════════════════════
// TRANSITION
// ══════════════════════════════════════════════════════════════════════════════

// Transition describes a status change and the fields it sets.
// Nil timestamps and empty strings leave the stored value untouched.
type Transition struct {
	To Status

	MessageID string

	SentAt      *time.Time
	DeliveredAt *time.Time
	ReadAt      *time.Time

	ErrorMessage string
	ClearError   bool

	IncrementRetry bool
}

// Decision tells the store what to do with a computed transition.
type Decision int

const (
	// DecisionApply means the transition must be persisted.
	DecisionApply Decision = iota

	// DecisionNoop means the notification already reflects the event.
	DecisionNoop

	// DecisionStale means the event is older than the recorded state.
	DecisionStale

	// DecisionInvalid means the event cannot move the notification from its current state.
	DecisionInvalid
)

// String returns the string representation.
func (d Decision) String() string {
	switch d {
	case DecisionApply:
		return "apply"
	case DecisionNoop:
		return "noop"
	case DecisionStale:
		return "stale"
	default:
		return "invalid"
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SYNCHRONOUS SEND RESULT
// ══════════════════════════════════════════════════════════════════════════════

// SentTransition is the transition for a send the gateway accepted.
func SentTransition(messageID string, at time.Time) Transition {
	at = at.UTC()
	return Transition{
		To:         StatusSent,
		MessageID:  messageID,
		SentAt:     &at,
		ClearError: true,
	}
}

// FailedTransition is the transition for a send the gateway rejected.
func FailedTransition(errMsg string) Transition {
	if strings.TrimSpace(errMsg) == "" {
		errMsg = DefaultDeliveryFailure
	}
	return Transition{
		To:           StatusFailed,
		ErrorMessage: errMsg,
	}
}

// RetriedTransition is the transition for a failed notification whose resend succeeded.
func RetriedTransition(messageID string, at time.Time) Transition {
	tr := SentTransition(messageID, at)
	tr.IncrementRetry = true
	return tr
}

// ══════════════════════════════════════════════════════════════════════════════
// WEBHOOK EVENTS
// ══════════════════════════════════════════════════════════════════════════════

// WebhookEventType is the delivery event reported by the gateway.
type WebhookEventType string

const (
	WebhookMessageSent      WebhookEventType = "message.sent"
	WebhookMessageDelivered WebhookEventType = "message.delivered"
	WebhookMessageRead      WebhookEventType = "message.read"
	WebhookMessageFailed    WebhookEventType = "message.failed"
)

// IsValid checks that the event type is one the tracker understands.
func (t WebhookEventType) IsValid() bool {
	switch t {
	case WebhookMessageSent, WebhookMessageDelivered, WebhookMessageRead, WebhookMessageFailed:
		return true
	default:
		return false
	}
}

// WebhookEvent is a delivery callback keyed by the gateway message id.
type WebhookEvent struct {
	Type      WebhookEventType
	MessageID string
	Timestamp time.Time
	Phone     string
	Error     string
}

// Track computes the transition a webhook event causes on n.
//
// Forward moves along pending, sent, delivered, read are applied. Repeats and
// regressions are no-ops that keep the recorded timestamps. A failed event
// never overwrites delivered or read.
func Track(n *Notification, ev WebhookEvent) (Transition, Decision) {
	at := ev.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()

	switch ev.Type {
	case WebhookMessageSent:
		switch n.Status {
		case StatusPending:
			return Transition{To: StatusSent, SentAt: &at}, DecisionApply
		case StatusFailed:
			return Transition{}, DecisionInvalid
		default:
			return Transition{}, DecisionNoop
		}

	case WebhookMessageDelivered:
		switch n.Status {
		case StatusSent:
			return Transition{To: StatusDelivered, DeliveredAt: &at}, DecisionApply
		case StatusDelivered, StatusRead:
			return Transition{}, DecisionNoop
		default:
			return Transition{}, DecisionInvalid
		}

	case WebhookMessageRead:
		switch n.Status {
		case StatusSent, StatusDelivered:
			tr := Transition{To: StatusRead, ReadAt: &at}
			if n.DeliveredAt == nil {
				tr.DeliveredAt = &at
			}
			return tr, DecisionApply
		case StatusRead:
			return Transition{}, DecisionNoop
		default:
			return Transition{}, DecisionInvalid
		}

	case WebhookMessageFailed:
		switch n.Status {
		case StatusPending, StatusSent:
			return FailedTransition(ev.Error), DecisionApply
		case StatusFailed:
			return Transition{}, DecisionNoop
		case StatusDelivered, StatusRead:
			recorded := n.ReadAt
			if recorded == nil {
				recorded = n.DeliveredAt
			}
			if ev.Timestamp.IsZero() || recorded == nil || !at.After(*recorded) {
				return Transition{}, DecisionStale
			}
			return Transition{}, DecisionInvalid
		}
	}

	return Transition{}, DecisionInvalid
}

// IsForward reports whether moving from one status to another follows the
// pending, sent, delivered, read order.
func IsForward(from, to Status) bool {
	return from.rank() >= 0 && to.rank() > from.rank()
}
