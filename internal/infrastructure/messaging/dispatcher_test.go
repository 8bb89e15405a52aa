package messaging

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fibreflow/ticket-notify/internal/domain/shared"
	"github.com/fibreflow/ticket-notify/pkg/retry"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Timeout:        time.Second,
	}
}

func TestRetryMiddleware_RecoversAfterTransientFailure(t *testing.T) {
	dlq := NewDeadLetterQueue(10)
	calls := 0
	h := Wrap(func(shared.Event) error {
		calls++
		if calls < 3 {
			return retry.Retryable(errors.New("redis down"))
		}
		return nil
	}, RetryMiddleware("publisher", fastRetry(3), dlq, nil))

	require.NoError(t, h(closedEvent()))
	assert.Equal(t, 3, calls)
	assert.Zero(t, dlq.Size())
}

func TestRetryMiddleware_DeadLettersWhenExhausted(t *testing.T) {
	dlq := NewDeadLetterQueue(10)
	calls := 0
	h := Wrap(func(shared.Event) error {
		calls++
		return retry.Retryable(errors.New("redis down"))
	}, RetryMiddleware("publisher", fastRetry(2), dlq, nil))

	err := h(closedEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publisher failed after 2 attempts")
	assert.Equal(t, 2, calls)

	entries := dlq.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "publisher", entries[0].HandlerName)
	assert.Equal(t, 2, entries[0].Attempts)
	assert.Equal(t, shared.EventTicketClosed, entries[0].Event.EventType())
}

func TestRetryMiddleware_DoesNotRetryPlainErrors(t *testing.T) {
	dlq := NewDeadLetterQueue(10)
	calls := 0
	h := Wrap(func(shared.Event) error {
		calls++
		return errors.New("bad payload")
	}, RetryMiddleware("publisher", fastRetry(5), dlq, nil))

	require.Error(t, h(closedEvent()))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, dlq.Size())
}

func TestDeadLetterQueue_BoundedAndReplay(t *testing.T) {
	dlq := NewDeadLetterQueue(2)
	for i := 0; i < 3; i++ {
		dlq.Add(DeadLetterEntry{Event: closedEvent(), HandlerName: "h", Attempts: i})
	}
	require.Equal(t, 2, dlq.Size())

	first, ok := dlq.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, first.Attempts)

	dlq.Add(first)
	fail := true
	processed := dlq.Replay(func(shared.Event) error {
		if fail {
			fail = false
			return errors.New("still down")
		}
		return nil
	})
	assert.Equal(t, 1, processed)
	require.Equal(t, 1, dlq.Size())
	assert.Equal(t, "still down", dlq.Entries()[0].Error.Error())
}
