package notification

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// DELIVERY RECEIPT
// ══════════════════════════════════════════════════════════════════════════════

// Receipt is what the messaging gateway returns for an accepted message.
type Receipt struct {
	// MessageID is the gateway message id used to correlate webhooks.
	MessageID string

	// Timestamp is when the gateway accepted the message.
	Timestamp time.Time

	// Attempts is how many gateway calls were made, retries included.
	Attempts int
}

// ══════════════════════════════════════════════════════════════════════════════
// CHANNEL INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Channel delivers a rendered message to a phone number.
// Implementations own retries and error classification.
type Channel interface {
	// Send delivers body to phone. The error is the last failure after retries.
	Send(ctx context.Context, phone, body string) (*Receipt, error)
}

// ChannelFunc adapts a function to the Channel interface.
type ChannelFunc func(ctx context.Context, phone, body string) (*Receipt, error)

// Send implements Channel.
func (f ChannelFunc) Send(ctx context.Context, phone, body string) (*Receipt, error) {
	return f(ctx, phone, body)
}
