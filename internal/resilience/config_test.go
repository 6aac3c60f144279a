package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromRetryConfig(t *testing.T) {
	t.Parallel()

	cfg := FromRetryConfig(5, 250, 2000)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 2*time.Second, cfg.MaxBackoff)

	def := FromRetryConfig(0, 0, 0)
	assert.Equal(t, DefaultRetryConfig().MaxAttempts, def.MaxAttempts)
	assert.Equal(t, DefaultRetryConfig().InitialBackoff, def.InitialBackoff)
}

func TestFromCircuitConfig(t *testing.T) {
	t.Parallel()

	cfg := FromCircuitConfig(7, 12)
	assert.Equal(t, 7, cfg.FailureThreshold)
	assert.Equal(t, 12*time.Second, cfg.ResetTimeout)

	def := FromCircuitConfig(-1, 0)
	assert.Equal(t, 5, def.FailureThreshold)
	assert.Equal(t, 30*time.Second, def.ResetTimeout)
}

func TestRun_RetriesThroughBreaker(t *testing.T) {
	t.Parallel()

	g := NewGuard("ollama", fastRetry(3), CircuitBreakerConfig{FailureThreshold: 10})

	calls := 0
	val, err := Run(context.Background(), g, func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", NewTransientError(errors.New("503"), 503)
		}
		return "done", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "done", val)
	assert.Equal(t, 2, calls)
	assert.Equal(t, CircuitClosed, g.Breaker.State())
}

func TestRun_OpenCircuitEndsRetries(t *testing.T) {
	t.Parallel()

	g := NewGuard("gemini", fastRetry(5), CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute})

	calls := 0
	_, err := Run(context.Background(), g, func(context.Context) (int, error) {
		calls++
		return 0, NewTransientError(errors.New("503"), 503)
	})

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, calls)
}

func TestRun_NilGuard(t *testing.T) {
	t.Parallel()

	val, err := Run(context.Background(), nil, func(context.Context) (int, error) { return 3, nil })
	require.NoError(t, err)
	assert.Equal(t, 3, val)
}

func TestGuards(t *testing.T) {
	t.Parallel()

	gs := NewGuards(fastRetry(1), CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	a := gs.Get("gemini")
	assert.Same(t, a, gs.Get("gemini"))
	gs.Get("gbif")

	_ = a.Breaker.Execute(context.Background(), func(context.Context) error { return errors.New("x") })
	assert.Equal(t, map[string]string{"gemini": "open", "gbif": "closed"}, gs.States())
}
