package notification

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// Repository stores notifications.
type Repository interface {
	// Create inserts a notification and returns it with its generated ID and timestamps.
	Create(ctx context.Context, n *Notification) (*Notification, error)

	// GetByID returns a notification or shared.ErrNotificationNotFound.
	GetByID(ctx context.Context, id NotificationID) (*Notification, error)

	// GetByMessageID returns the notification for a gateway message id
	// or shared.ErrNotificationNotFound.
	GetByMessageID(ctx context.Context, messageID string) (*Notification, error)

	// UpdateStatus persists a tracker-computed transition.
	// Writing the status the row already has is allowed.
	UpdateStatus(ctx context.Context, id NotificationID, tr Transition) error

	// UpdateByMessageID locks the notification for a gateway message id, asks
	// decide for a transition and persists it when the decision is
	// DecisionApply. It returns the notification as stored afterwards.
	UpdateByMessageID(ctx context.Context, messageID string, decide DecideFunc) (*Notification, Decision, error)

	// FindRecent returns the id of a notification for the same ticket and
	// template created at or after since. found is false when there is none.
	FindRecent(ctx context.Context, ticketID, templateID string, since time.Time) (id NotificationID, found bool, err error)

	// List returns notifications matching the filter, newest first.
	List(ctx context.Context, filter ListFilter) ([]*Notification, error)

	// Stats returns per-status counts for the filter.
	Stats(ctx context.Context, filter ListFilter) (*Stats, error)
}

// DecideFunc computes the transition for a locked notification.
type DecideFunc func(n *Notification) (Transition, Decision)

// ListFilter narrows List and Stats. Zero values mean "no filter".
type ListFilter struct {
	TicketID       string
	Statuses       []Status
	RecipientTypes []RecipientType
	SentAfter      *time.Time
	SentBefore     *time.Time
	FailedOnly     bool

	Limit  int
	Offset int
}

// EffectiveStatuses returns the statuses to filter by, honoring FailedOnly.
func (f ListFilter) EffectiveStatuses() []Status {
	if f.FailedOnly {
		return []Status{StatusFailed}
	}
	return f.Statuses
}

// ══════════════════════════════════════════════════════════════════════════════
// STATISTICS
// ══════════════════════════════════════════════════════════════════════════════

// Stats is the per-status breakdown of a notification listing.
type Stats struct {
	Total        int            `json:"total"`
	ByStatus     map[Status]int `json:"by_status"`
	DeliveryRate float64        `json:"delivery_rate"`
}

// NewStats builds stats from per-status counts. Every status gets an entry.
func NewStats(counts map[Status]int) *Stats {
	s := &Stats{ByStatus: make(map[Status]int, len(AllStatuses))}
	for _, st := range AllStatuses {
		s.ByStatus[st] = counts[st]
		s.Total += counts[st]
	}
	s.DeliveryRate = DeliveryRate(s.ByStatus[StatusDelivered], s.ByStatus[StatusRead], s.Total)
	return s
}

// DeliveryRate returns (delivered+read)/total as a percentage, 0 when total is 0.
func DeliveryRate(delivered, read, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(delivered+read) / float64(total) * 100
}

// ══════════════════════════════════════════════════════════════════════════════
// DEDUP GUARD
// ══════════════════════════════════════════════════════════════════════════════

// DedupGuard claims a ticket and template pair for the dedup window so that
// concurrent triggers for the same event send at most once.
type DedupGuard interface {
	// Claim returns true if the caller now owns the pair for window.
	Claim(ctx context.Context, ticketID, templateID string, window time.Duration) (bool, error)

	// Release gives the pair back, used when the send did not happen.
	Release(ctx context.Context, ticketID, templateID string) error
}
