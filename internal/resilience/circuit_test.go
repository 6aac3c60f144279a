package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFail = errors.New("fail")

func failN(b *Breaker, n int) {
	for range n {
		_ = b.Execute(context.Background(), func(context.Context) error { return errFail })
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()

	b := NewBreaker(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})
	failN(b, 2)
	assert.Equal(t, CircuitClosed, b.State())
	assert.Equal(t, 2, b.Failures())

	failN(b, 1)
	assert.Equal(t, CircuitOpen, b.State())

	called := false
	err := b.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	t.Parallel()

	b := NewBreaker(CircuitBreakerConfig{FailureThreshold: 3})
	failN(b, 2)
	require.NoError(t, b.Execute(context.Background(), func(context.Context) error { return nil }))
	assert.Zero(t, b.Failures())
	failN(b, 2)
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	t.Parallel()

	now := time.Now()
	b := NewBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Second})
	b.now = func() time.Time { return now }

	failN(b, 1)
	assert.Equal(t, CircuitOpen, b.State())

	now = now.Add(11 * time.Second)
	assert.Equal(t, CircuitHalfOpen, b.State())

	val, err := Call(context.Background(), b, func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, val)
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	now := time.Now()
	b := NewBreaker(CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Second})
	b.now = func() time.Time { return now }

	failN(b, 2)
	now = now.Add(2 * time.Second)
	failN(b, 1)
	assert.Equal(t, CircuitOpen, b.State())

	_, err := Call(context.Background(), b, func(context.Context) (int, error) { return 0, nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreaker_TripsFilterAndTransitions(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var seen []string
	b := NewBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Trips:            IsTransient,
		OnStateChange: func(from, to CircuitState) {
			mu.Lock()
			seen = append(seen, from.String()+"->"+to.String())
			mu.Unlock()
		},
	})

	failN(b, 3)
	assert.Equal(t, CircuitClosed, b.State(), "permanent errors do not trip")

	_ = b.Execute(context.Background(), func(context.Context) error { return NewTransientError(errFail, 503) })
	assert.Equal(t, CircuitOpen, b.State())

	b.Reset()
	assert.Equal(t, CircuitClosed, b.State())
	assert.Equal(t, []string{"closed->open", "open->closed"}, seen)
}

func TestBreaker_Concurrent(t *testing.T) {
	t.Parallel()

	b := NewBreaker(CircuitBreakerConfig{FailureThreshold: 1000})
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Execute(context.Background(), func(context.Context) error {
				if i%2 == 0 {
					return errFail
				}
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, CircuitClosed, b.State())
}

func TestCircuitState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}
