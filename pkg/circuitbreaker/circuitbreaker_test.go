package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("gateway down")

func failing(ctx context.Context) error { return errDown }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := New("test", WithFailureThreshold(2), WithTimeout(time.Hour))

	assert.ErrorIs(t, cb.Execute(context.Background(), failing), errDown)
	assert.ErrorIs(t, cb.Execute(context.Background(), failing), errDown)
	assert.True(t, cb.IsOpen())

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		t.Fatal("call must not run while open")
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, IsBreakerError(err))
}

func TestCircuitBreaker_IgnoresNonFailures(t *testing.T) {
	errRejected := errors.New("invalid phone")
	cb := GatewayBreaker(func(err error) bool { return !errors.Is(err, errRejected) }, nil)

	for i := 0; i < 10; i++ {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errRejected })
	}
	assert.True(t, cb.IsClosed())
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	var transitions []State
	cb := New("test",
		WithFailureThreshold(1),
		WithSuccessThreshold(1),
		WithTimeout(time.Millisecond),
		WithOnStateChange(func(name string, from, to State) { transitions = append(transitions, to) }),
	)

	_ = cb.Execute(context.Background(), failing)
	require.True(t, cb.IsOpen())

	time.Sleep(5 * time.Millisecond)
	v, err := Call(context.Background(), cb, func(ctx context.Context) (string, error) { return "ok", nil })

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.True(t, cb.IsClosed())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}
