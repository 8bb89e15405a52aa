package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fibreflow/ticket-notify/internal/domain/shared"
	"github.com/fibreflow/ticket-notify/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// RETRYING DISPATCH
// ══════════════════════════════════════════════════════════════════════════════

// RetryConfig controls how a failing bus handler is retried.
type RetryConfig struct {
	// MaxAttempts includes the first call.
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Timeout bounds the whole retry loop for one event.
	Timeout time.Duration
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Timeout:        10 * time.Second,
	}
}

// RetryMiddleware retries handlers that fail with a retry.Retryable error.
// Other errors fail immediately. When the last attempt fails the event is
// added to dlq (when not nil) under the given handler name.
func RetryMiddleware(name string, cfg RetryConfig, dlq *DeadLetterQueue, logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRetryConfig().Timeout
	}
	logger = logger.With("component", "dispatcher", "handler", name)

	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) error {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
			defer cancel()

			attempts := 0
			err := retry.New(
				retry.WithMaxAttempts(cfg.MaxAttempts),
				retry.WithInitialDelay(cfg.InitialBackoff),
				retry.WithMaxDelay(cfg.MaxBackoff),
				retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
					logger.Debug("retrying handler",
						"event_type", event.EventType(),
						"attempt", attempt,
						"backoff", delay,
						"error", err,
					)
				}),
			).Do(ctx, func(context.Context) error {
				attempts++
				return next(event)
			})
			if err == nil {
				return nil
			}

			if dlq != nil {
				dlq.Add(DeadLetterEntry{
					Event:       event,
					HandlerName: name,
					Error:       err,
					Attempts:    attempts,
					FailedAt:    time.Now(),
				})
			}
			return fmt.Errorf("handler %s failed after %d attempts: %w", name, attempts, err)
		}
	}
}

// Wrap applies middlewares to a single handler, first one outermost.
func Wrap(h shared.EventHandler, mw ...Middleware) shared.EventHandler {
	return chain(h, mw)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEAD LETTER QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// DeadLetterEntry represents an event a handler could not process.
type DeadLetterEntry struct {
	Event       shared.Event
	HandlerName string
	Error       error
	Attempts    int
	FailedAt    time.Time
}

// DeadLetterQueue is a bounded in-memory store of failed events. The oldest
// entry is dropped when the queue is full.
type DeadLetterQueue struct {
	mu      sync.RWMutex
	entries []DeadLetterEntry
	maxSize int
}

// NewDeadLetterQueue creates a new dead letter queue.
func NewDeadLetterQueue(maxSize int) *DeadLetterQueue {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &DeadLetterQueue{maxSize: maxSize}
}

// Add adds an entry to the queue.
func (q *DeadLetterQueue) Add(entry DeadLetterEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.maxSize {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, entry)
}

// Entries returns a copy of all entries.
func (q *DeadLetterQueue) Entries() []DeadLetterEntry {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]DeadLetterEntry, len(q.entries))
	copy(result, q.entries)
	return result
}

// Size returns the current queue size.
func (q *DeadLetterQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}

// Pop removes and returns the oldest entry.
func (q *DeadLetterQueue) Pop() (DeadLetterEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return DeadLetterEntry{}, false
	}
	entry := q.entries[0]
	q.entries = q.entries[1:]
	return entry, true
}

// Replay pops every entry and hands it to handler again. Entries that fail
// once more are put back. It returns how many were processed successfully.
func (q *DeadLetterQueue) Replay(handler shared.EventHandler) int {
	n := q.Size()
	ok := 0
	for i := 0; i < n; i++ {
		entry, found := q.Pop()
		if !found {
			break
		}
		if err := handler(entry.Event); err != nil {
			entry.Error = err
			entry.Attempts++
			entry.FailedAt = time.Now()
			q.Add(entry)
			continue
		}
		ok++
	}
	return ok
}
