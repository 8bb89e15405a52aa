// Package retry provides bounded retries with exponential backoff and jitter.
//
// Run consumes an explicit Outcome per attempt and is used for gateway
// sends, where the callee classifies its own failures. Retrier wraps
// error-returning operations, marked with Retryable or Permanent, and is
// used for broker reconnects and event bus handlers.
package retry

import (
	"context"
	"errors"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MARKERS
// ══════════════════════════════════════════════════════════════════════════════

type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Retryable marks err as worth another attempt. Retryable(nil) is nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether err carries the Retryable mark.
func IsRetryable(err error) bool {
	var r *retryableError
	return errors.As(err, &r)
}

// Permanent marks err as final even when RetryIf would accept it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err carries the Permanent mark.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// unmark strips a top-level Retryable or Permanent wrapper.
func unmark(err error) error {
	switch e := err.(type) {
	case *retryableError:
		return e.err
	case *permanentError:
		return e.err
	}
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// RETRIER
// ══════════════════════════════════════════════════════════════════════════════

// Config holds retry configuration.
type Config struct {
	// MaxAttempts counts the first call. Default 3.
	MaxAttempts int

	Backoff ExponentialBackoff

	// RetryIf decides which errors are retried. When nil only errors marked
	// with Retryable are.
	RetryIf func(error) bool

	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Option configures a Retrier.
type Option func(*Config)

// WithMaxAttempts sets the attempt limit, first call included.
func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxAttempts = n
		}
	}
}

// WithInitialDelay sets the wait after the first failure.
func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) { c.Backoff.Initial = d }
}

// WithMaxDelay caps a single wait.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Config) { c.Backoff.Max = d }
}

// WithMultiplier sets the growth factor between waits.
func WithMultiplier(m float64) Option {
	return func(c *Config) { c.Backoff.Multiplier = m }
}

// WithJitter sets the random extra wait as a fraction of the base delay.
func WithJitter(j float64) Option {
	return func(c *Config) { c.Backoff.Jitter = j }
}

// WithRetryIf replaces the Retryable-only policy.
func WithRetryIf(fn func(error) bool) Option {
	return func(c *Config) { c.RetryIf = fn }
}

// WithOnRetry registers a callback run before each wait.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(c *Config) { c.OnRetry = fn }
}

// Retrier runs error-returning operations through Run.
type Retrier struct {
	config Config
}

// New creates a Retrier: 3 attempts, 100ms doubling to at most 30s, 10% jitter.
func New(opts ...Option) *Retrier {
	cfg := Config{
		MaxAttempts: 3,
		Backoff: ExponentialBackoff{
			Initial:    100 * time.Millisecond,
			Multiplier: 2.0,
			Max:        30 * time.Second,
			Jitter:     0.1,
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Retrier{config: cfg}
}

// Do calls operation until it succeeds, returns an error the policy does not
// retry, or the attempts run out. The returned error has its Retryable or
// Permanent mark removed.
func (r *Retrier) Do(ctx context.Context, operation func(ctx context.Context) error) error {
	var observers []Observer
	if r.config.OnRetry != nil {
		observers = append(observers, r.config.OnRetry)
	}

	_, _, err := Run(ctx, r.config.MaxAttempts, r.config.Backoff,
		func(ctx context.Context, _ int) Outcome[struct{}] {
			if err := ctx.Err(); err != nil {
				return TerminalFailure[struct{}](err)
			}
			err := operation(ctx)
			switch {
			case err == nil:
				return Success(struct{}{})
			case r.shouldRetry(err):
				return RetryableFailure[struct{}](err)
			default:
				return TerminalFailure[struct{}](err)
			}
		}, observers...)

	return unmark(err)
}

func (r *Retrier) shouldRetry(err error) bool {
	if IsPermanent(err) {
		return false
	}
	if r.config.RetryIf != nil {
		return r.config.RetryIf(err)
	}
	return IsRetryable(err)
}

// ══════════════════════════════════════════════════════════════════════════════
// PRESETS
// ══════════════════════════════════════════════════════════════════════════════

// GatewayBackoff returns the backoff used between WhatsApp gateway sends.
func GatewayBackoff() ExponentialBackoff {
	return DefaultBackoff()
}

// BrokerRetrier returns a Retrier for message broker reconnects. Every
// error is retried.
func BrokerRetrier() *Retrier {
	return New(
		WithMaxAttempts(10),
		WithInitialDelay(500*time.Millisecond),
		WithMaxDelay(30*time.Second),
		WithMultiplier(2.0),
		WithJitter(0.2),
		WithRetryIf(func(error) bool { return true }),
	)
}
