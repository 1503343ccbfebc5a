package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

var errRemote = errors.New("remote down")

func fail(context.Context) error { return errRemote }
func succeed(context.Context) error { return nil }

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 11, 10, 9, 0, 0, 0, time.UTC)}
	var transitions []string
	cb := NewCircuitBreaker("classifier", Config{
		FailureThreshold: 2,
		Timeout:          time.Minute,
		Now:              clock.Now,
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	ctx := context.Background()
	require.ErrorIs(t, cb.Execute(ctx, fail), errRemote)
	require.ErrorIs(t, cb.Execute(ctx, fail), errRemote)
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, time.Minute, cb.RetryAfter())
	require.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen)
	clock.Advance(20 * time.Second)
	assert.Equal(t, 40*time.Second, cb.RetryAfter())

	clock.Advance(2 * time.Minute)
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.Zero(t, cb.RetryAfter())

	require.NoError(t, cb.Execute(ctx, succeed))
	require.ErrorIs(t, cb.Execute(ctx, succeed), ErrTooManyRequests)

	assert.Equal(t, []string{"closed->open", "open->half-open"}, transitions)
}

func TestBreakerClosesAfterHalfOpenSuccesses(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 11, 10, 9, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("classifier", Config{
		MaxRequests:      2,
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          time.Second,
		Now:              clock.Now,
	})

	ctx := context.Background()
	require.Error(t, cb.Execute(ctx, fail))
	clock.Advance(2 * time.Second)

	require.NoError(t, cb.Execute(ctx, succeed))
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerIgnoresCallerCancellation(t *testing.T) {
	cb := NewCircuitBreaker("classifier", Config{FailureThreshold: 1})

	err := cb.Execute(context.Background(), func(context.Context) error {
		return context.Canceled
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Counts().Requests)
}

func TestBreakerRecordsPanicAsFailure(t *testing.T) {
	cb := NewCircuitBreaker("classifier", Config{FailureThreshold: 1})

	assert.Panics(t, func() {
		_ = cb.Execute(context.Background(), func(context.Context) error {
			panic("boom")
		})
	})
	assert.Equal(t, StateOpen, cb.State())
}
