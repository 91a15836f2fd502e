package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(clock *fakeClock, options ...CircuitBreakerOption) *CircuitBreaker {
	cb := NewCircuitBreaker(options...)
	cb.now = clock.Now
	return cb
}

func fail() error { return errors.New("smtp down") }

func succeed() error { return nil }

func TestCircuitBreaker(t *testing.T) {
	ctx := context.Background()

	t.Run("starts in closed state", func(t *testing.T) {
		cb := NewCircuitBreaker()
		assert.Equal(t, StateClosed, cb.State())
		assert.Equal(t, "default", cb.Name())
	})

	t.Run("executes function in closed state", func(t *testing.T) {
		cb := NewCircuitBreaker()
		executed := false

		err := cb.Execute(ctx, func() error {
			executed = true
			return nil
		})

		assert.NoError(t, err)
		assert.True(t, executed)
	})

	t.Run("opens after failure threshold", func(t *testing.T) {
		clock := &fakeClock{now: time.Now()}
		cb := newTestBreaker(clock, WithFailureThreshold(3), WithName("smtp"))

		for i := 0; i < 3; i++ {
			assert.Error(t, cb.Execute(ctx, fail))
		}
		assert.Equal(t, StateOpen, cb.State())

		executed := false
		err := cb.Execute(ctx, func() error {
			executed = true
			return nil
		})
		require.Error(t, err)
		assert.False(t, executed)
		assert.ErrorIs(t, err, ErrCircuitOpen)

		var cbErr *CircuitBreakerError
		require.ErrorAs(t, err, &cbErr)
		assert.Equal(t, StateOpen, cbErr.State)
		assert.Equal(t, "smtp", cbErr.Name)
	})

	t.Run("success resets consecutive failures", func(t *testing.T) {
		cb := NewCircuitBreaker(WithFailureThreshold(2))

		assert.Error(t, cb.Execute(ctx, fail))
		assert.NoError(t, cb.Execute(ctx, succeed))
		assert.Error(t, cb.Execute(ctx, fail))

		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("half-open success closes the circuit", func(t *testing.T) {
		clock := &fakeClock{now: time.Now()}
		cb := newTestBreaker(clock, WithFailureThreshold(1), WithTimeout(time.Minute))

		assert.Error(t, cb.Execute(ctx, fail))
		assert.Equal(t, StateOpen, cb.State())

		clock.Advance(time.Minute)
		assert.NoError(t, cb.Execute(ctx, succeed))
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("half-open failure reopens the circuit", func(t *testing.T) {
		clock := &fakeClock{now: time.Now()}
		cb := newTestBreaker(clock, WithFailureThreshold(1), WithTimeout(time.Minute))

		assert.Error(t, cb.Execute(ctx, fail))
		clock.Advance(time.Minute)
		assert.Error(t, cb.Execute(ctx, fail))

		assert.Equal(t, StateOpen, cb.State())
		assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen)
	})

	t.Run("limits concurrent half-open calls", func(t *testing.T) {
		clock := &fakeClock{now: time.Now()}
		cb := newTestBreaker(clock, WithFailureThreshold(1), WithTimeout(time.Second))

		assert.Error(t, cb.Execute(ctx, fail))
		clock.Advance(time.Second)

		err := cb.Execute(ctx, func() error {
			// a second call while the trial is in flight is refused
			inner := cb.Execute(ctx, succeed)
			assert.ErrorIs(t, inner, ErrCircuitOpen)
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("cancelled context is not counted", func(t *testing.T) {
		cb := NewCircuitBreaker(WithFailureThreshold(1))
		cctx, cancel := context.WithCancel(ctx)

		err := cb.Execute(cctx, func() error {
			cancel()
			return cctx.Err()
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, StateClosed, cb.State())

		assert.ErrorIs(t, cb.Execute(cctx, succeed), context.Canceled)
	})

	t.Run("notifies state changes", func(t *testing.T) {
		changes := make(chan State, 2)
		cb := NewCircuitBreaker(
			WithName("smtp"),
			WithFailureThreshold(1),
			WithStateChange(func(name string, from, to State, reason string) {
				assert.Equal(t, "smtp", name)
				changes <- to
			}),
		)

		assert.Error(t, cb.Execute(ctx, fail))

		select {
		case to := <-changes:
			assert.Equal(t, StateOpen, to)
		case <-time.After(time.Second):
			t.Fatal("state change not reported")
		}

		cb.Reset()
		select {
		case to := <-changes:
			assert.Equal(t, StateClosed, to)
		case <-time.After(time.Second):
			t.Fatal("reset not reported")
		}
	})
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
