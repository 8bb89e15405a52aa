package waha

import (
	"context"
	"log/slog"
	"time"

	"github.com/fibreflow/ticket-notify/internal/domain/notification"
	"github.com/fibreflow/ticket-notify/internal/domain/shared"
	"github.com/fibreflow/ticket-notify/pkg/circuitbreaker"
	"github.com/fibreflow/ticket-notify/pkg/retry"
)

// Sender delivers messages through the gateway with bounded retries.
// It implements notification.Channel.
type Sender struct {
	client   *Client
	session  string
	attempts int
	backoff  retry.Backoff
	breaker  *circuitbreaker.CircuitBreaker
	logger   *slog.Logger
}

// SenderOption configures a Sender.
type SenderOption func(*Sender)

// WithBackoff replaces the default exponential backoff.
func WithBackoff(b retry.Backoff) SenderOption {
	return func(s *Sender) {
		if b != nil {
			s.backoff = b
		}
	}
}

// WithBreaker puts a circuit breaker in front of every gateway call.
func WithBreaker(cb *circuitbreaker.CircuitBreaker) SenderOption {
	return func(s *Sender) {
		s.breaker = cb
	}
}

// WithSession overrides the client's default session.
func WithSession(session string) SenderOption {
	return func(s *Sender) {
		if session != "" {
			s.session = session
		}
	}
}

// NewSender creates a Sender that makes at most client.RetryAttempts()+1 calls per message.
func NewSender(client *Client, opts ...SenderOption) *Sender {
	s := &Sender{
		client:   client,
		session:  client.Session(),
		attempts: client.RetryAttempts() + 1,
		backoff:  retry.GatewayBackoff(),
		logger:   client.logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send implements notification.Channel. The returned error is the last
// *Error seen.
func (s *Sender) Send(ctx context.Context, phone, body string) (*notification.Receipt, error) {
	res, attempts, err := retry.Run(ctx, s.attempts, s.backoff,
		func(ctx context.Context, attempt int) retry.Outcome[*SendResult] {
			return s.attempt(ctx, phone, body)
		},
		func(attempt int, err error, delay time.Duration) {
			s.logger.Warn("send failed, retrying",
				"attempt", attempt,
				"max_attempts", s.attempts,
				"code", CodeOf(err),
				"phone", shared.PhoneNumber(phone).Masked(),
				"delay", delay,
			)
		},
	)
	if err != nil {
		s.logger.Error("send failed",
			"attempts", attempts,
			"code", CodeOf(err),
			"recoverable", IsRecoverable(err),
			"phone", shared.PhoneNumber(phone).Masked(),
			"error", err,
		)
		return nil, err
	}

	return &notification.Receipt{
		MessageID: res.MessageID,
		Timestamp: res.Timestamp,
		Attempts:  attempts,
	}, nil
}

// attempt runs one gateway call, through the breaker when configured.
func (s *Sender) attempt(ctx context.Context, phone, body string) retry.Outcome[*SendResult] {
	if s.breaker == nil {
		return s.client.Attempt(ctx, s.session, phone, body)
	}

	var out retry.Outcome[*SendResult]
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		out = s.client.Attempt(ctx, s.session, phone, body)
		return out.Err()
	})
	if circuitbreaker.IsBreakerError(err) {
		return retry.TerminalFailure[*SendResult](&Error{
			Code:        CodeServer,
			Message:     "gateway circuit open",
			URL:         s.client.sendTextURL(s.session),
			Phone:       phone,
			Recoverable: true,
			Err:         err,
		})
	}
	return out
}
