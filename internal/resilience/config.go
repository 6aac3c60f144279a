package resilience

import (
	"context"
	"sync"
	"time"
)

// FromRetryConfig builds a RetryConfig from flat configuration values.
// Non-positive values keep the defaults.
func FromRetryConfig(maxAttempts, initialBackoffMs, maxBackoffMs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	return cfg
}

// FromCircuitConfig builds a CircuitBreakerConfig from flat configuration
// values. Non-positive values keep the defaults.
func FromCircuitConfig(failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}

// Guard combines a retry policy with a breaker for one service. Each
// attempt passes through the breaker, so an open circuit ends the retries.
type Guard struct {
	Service string
	Retry   RetryConfig
	Breaker *Breaker
}

// NewGuard wires logging hooks for service into both policies.
func NewGuard(service string, retry RetryConfig, circuit CircuitBreakerConfig) *Guard {
	if retry.OnRetry == nil {
		retry.OnRetry = LogRetries(service, "call")
	}
	if circuit.OnStateChange == nil {
		circuit.OnStateChange = LogStateChanges(service)
	}
	return &Guard{Service: service, Retry: retry, Breaker: NewBreaker(circuit)}
}

// Run calls fn under g's retry policy and breaker. A nil guard calls fn once.
func Run[T any](ctx context.Context, g *Guard, fn func(ctx context.Context) (T, error)) (T, error) {
	if g == nil {
		return fn(ctx)
	}
	return Retry(ctx, g.Retry, func(ctx context.Context) (T, error) {
		return Call(ctx, g.Breaker, fn)
	})
}

// Guards is a registry of per-service guards sharing one configuration.
type Guards struct {
	retry   RetryConfig
	circuit CircuitBreakerConfig

	mu     sync.Mutex
	guards map[string]*Guard
}

// NewGuards creates an empty registry.
func NewGuards(retry RetryConfig, circuit CircuitBreakerConfig) *Guards {
	return &Guards{retry: retry, circuit: circuit, guards: make(map[string]*Guard)}
}

// Get returns the guard for service, creating it on first use.
func (gs *Guards) Get(service string) *Guard {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	g, ok := gs.guards[service]
	if !ok {
		g = NewGuard(service, gs.retry, gs.circuit)
		gs.guards[service] = g
	}
	return g
}

// States snapshots breaker states by service name.
func (gs *Guards) States() map[string]string {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	out := make(map[string]string, len(gs.guards))
	for name, g := range gs.guards {
		out[name] = g.Breaker.State().String()
	}
	return out
}
