package retry

import (
	"context"
	"errors"
	"time"
)

// Kind classifies the result of one attempt.
type Kind int

const (
	KindSuccess Kind = iota
	KindRetryable
	KindTerminal
)

// String returns the string representation.
func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindRetryable:
		return "retryable"
	default:
		return "terminal"
	}
}

// Outcome is the result of a single attempt: a value, a failure worth
// retrying, or a failure that must be returned immediately.
type Outcome[T any] struct {
	kind  Kind
	value T
	err   error
}

// Success wraps a successful value.
func Success[T any](v T) Outcome[T] {
	return Outcome[T]{kind: KindSuccess, value: v}
}

// RetryableFailure wraps an error that may succeed on a later attempt.
func RetryableFailure[T any](err error) Outcome[T] {
	return Outcome[T]{kind: KindRetryable, err: err}
}

// TerminalFailure wraps an error that no retry can fix.
func TerminalFailure[T any](err error) Outcome[T] {
	return Outcome[T]{kind: KindTerminal, err: err}
}

// Kind returns the classification.
func (o Outcome[T]) Kind() Kind {
	return o.kind
}

// Value returns the value of a successful outcome.
func (o Outcome[T]) Value() T {
	return o.value
}

// Err returns the failure, nil on success.
func (o Outcome[T]) Err() error {
	return o.err
}

// Unpack returns the value and error.
func (o Outcome[T]) Unpack() (T, error) {
	return o.value, o.err
}

// ErrNoAttempts is returned by Run when maxAttempts is below 1.
var ErrNoAttempts = errors.New("retry: max attempts must be at least 1")

// Observer is notified before each wait. It must not block.
type Observer func(attempt int, err error, delay time.Duration)

// Run calls op until it succeeds, fails terminally, or maxAttempts calls
// have been made. It returns the value, the number of calls made and the
// last error.
//
// op receives the 1-based attempt number. Waits between attempts come from
// backoff and end early when ctx is done, in which case the last attempt's
// error is returned.
func Run[T any](
	ctx context.Context,
	maxAttempts int,
	backoff Backoff,
	op func(ctx context.Context, attempt int) Outcome[T],
	observers ...Observer,
) (T, int, error) {
	var zero T
	if maxAttempts < 1 {
		return zero, 0, ErrNoAttempts
	}
	if backoff == nil {
		backoff = DefaultBackoff()
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out := op(ctx, attempt)
		switch out.Kind() {
		case KindSuccess:
			return out.Value(), attempt, nil
		case KindTerminal:
			return zero, attempt, out.Err()
		}

		lastErr = out.Err()
		if attempt == maxAttempts {
			return zero, attempt, lastErr
		}

		delay := backoff.Delay(attempt)
		for _, obs := range observers {
			obs(attempt, lastErr, delay)
		}
		if !sleep(ctx, delay) {
			return zero, attempt, lastErr
		}
	}

	return zero, maxAttempts, lastErr
}
