package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Backoff decides how long to wait before the next attempt.
// attempt is the number of the attempt that just failed, starting at 1.
// Implementations must be non-decreasing in attempt and bounded.
type Backoff interface {
	Delay(attempt int) time.Duration
}

// BackoffFunc adapts a function to the Backoff interface.
type BackoffFunc func(attempt int) time.Duration

// Delay implements Backoff.
func (f BackoffFunc) Delay(attempt int) time.Duration {
	return f(attempt)
}

// ExponentialBackoff waits Initial * Multiplier^(attempt-1), capped at Max.
//
// Jitter adds up to Jitter*delay on top of the base delay. The jittered delay
// of one attempt is never below the base delay of the next, so the sequence
// stays non-decreasing as long as Jitter < Multiplier-1.
type ExponentialBackoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
	Jitter     float64
}

// DefaultBackoff is the gateway send backoff: 1s, 2s, 4s ... up to 30s, plus 10% jitter.
func DefaultBackoff() ExponentialBackoff {
	return ExponentialBackoff{
		Initial:    time.Second,
		Multiplier: 2.0,
		Max:        30 * time.Second,
		Jitter:     0.1,
	}
}

// Delay implements Backoff.
func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}

	base := float64(b.Initial) * math.Pow(mult, float64(attempt-1))
	if b.Max > 0 && base > float64(b.Max) {
		base = float64(b.Max)
	}

	if b.Jitter > 0 {
		base += base * b.Jitter * rand.Float64()
	}
	if b.Max > 0 && base > float64(b.Max) {
		base = float64(b.Max)
	}
	if base < 0 {
		base = 0
	}

	return time.Duration(base)
}

// ConstantBackoff always waits the same duration.
type ConstantBackoff time.Duration

// Delay implements Backoff.
func (b ConstantBackoff) Delay(int) time.Duration {
	return time.Duration(b)
}

// NoBackoff retries immediately. Intended for tests.
var NoBackoff Backoff = ConstantBackoff(0)

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
