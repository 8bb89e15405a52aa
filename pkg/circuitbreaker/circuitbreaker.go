// Package circuitbreaker stops hammering the WhatsApp gateway while it is
// down, so queued sends fail fast and are recorded instead of each waiting
// out a full timeout.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned without calling through while open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when the half-open trial slots are taken.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// IsBreakerError reports whether err was produced by the breaker itself
// rather than by the protected call.
func IsBreakerError(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests)
}

// ══════════════════════════════════════════════════════════════════════════════
// OPTIONS
// ══════════════════════════════════════════════════════════════════════════════

type settings struct {
	failureThreshold int
	successThreshold int
	openFor          time.Duration
	halfOpenSlots    int
	isFailure        func(error) bool
	onStateChange    func(name string, from, to State)
}

// Option configures a CircuitBreaker.
type Option func(*settings)

// WithFailureThreshold sets how many consecutive failures open the circuit.
func WithFailureThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.failureThreshold = n
		}
	}
}

// WithSuccessThreshold sets how many half-open successes close it again.
func WithSuccessThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.successThreshold = n
		}
	}
}

// WithTimeout sets how long the circuit stays open before probing.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.openFor = d
		}
	}
}

// WithIsFailure limits which errors count towards opening. Errors for which
// fn returns false are treated as successes.
func WithIsFailure(fn func(error) bool) Option {
	return func(s *settings) { s.isFailure = fn }
}

// WithOnStateChange registers a transition callback. It runs with the
// breaker lock held and must not call back into the breaker.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(s *settings) { s.onStateChange = fn }
}

// ══════════════════════════════════════════════════════════════════════════════
// BREAKER
// ══════════════════════════════════════════════════════════════════════════════

// CircuitBreaker is a consecutive-failure breaker with a half-open trial.
type CircuitBreaker struct {
	name string
	cfg  settings

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	trials    int
}

// New creates a closed breaker. Defaults: 5 failures, 2 successes, 30s open,
// one half-open trial.
func New(name string, opts ...Option) *CircuitBreaker {
	cfg := settings{
		failureThreshold: 5,
		successThreshold: 2,
		openFor:          30 * time.Second,
		halfOpenSlots:    1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &CircuitBreaker{name: name, cfg: cfg}
}

// Execute runs fn when the circuit allows it and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

// Call runs fn through the breaker and returns its value.
func Call[T any](ctx context.Context, cb *CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := cb.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.openedAt) < cb.cfg.openFor {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		cb.trials = 1
		return nil
	case StateHalfOpen:
		if cb.trials >= cb.cfg.halfOpenSlots {
			return ErrTooManyRequests
		}
		cb.trials++
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failed := err != nil
	if failed && cb.cfg.isFailure != nil {
		failed = cb.cfg.isFailure(err)
	}

	if !failed {
		cb.failures = 0
		cb.successes++
		if cb.state == StateHalfOpen {
			cb.trials--
			if cb.successes >= cb.cfg.successThreshold {
				cb.transition(StateClosed)
			}
		}
		return
	}

	cb.successes = 0
	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.cfg.failureThreshold {
		cb.openedAt = time.Now()
		cb.transition(StateOpen)
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.failures, cb.successes, cb.trials = 0, 0, 0
	if cb.cfg.onStateChange != nil {
		cb.cfg.onStateChange(cb.name, from, to)
	}
}

// State returns the current position.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// IsOpen reports whether calls are currently rejected.
func (cb *CircuitBreaker) IsOpen() bool { return cb.State() == StateOpen }

// IsClosed reports normal operation.
func (cb *CircuitBreaker) IsClosed() bool { return cb.State() == StateClosed }

// GatewayBreaker returns the breaker used in front of the WhatsApp gateway.
// Only errors for which isFailure returns true count towards opening, so
// rejected phone numbers or bad credentials never trip it.
func GatewayBreaker(isFailure func(error) bool, onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New("waha-gateway",
		WithFailureThreshold(5),
		WithSuccessThreshold(2),
		WithTimeout(30*time.Second),
		WithIsFailure(isFailure),
		WithOnStateChange(onStateChange),
	)
}
