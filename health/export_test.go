package health

import "github.com/rs/zerolog"

// NewTestBreaker builds a breaker with millisecond-level settings for tests.
func NewTestBreaker(failureThreshold, openDurationMS, halfOpenProbes int) *CircuitBreaker {
	logger := zerolog.Nop()
	return NewCircuitBreaker("test-backend", CircuitBreakerConfig{
		FailureThreshold: failureThreshold,
		OpenDurationMS:   openDurationMS,
		HalfOpenProbes:   halfOpenProbes,
	}, &logger)
}

// HasCircuits returns whether the circuits map is initialized (for testing).
func (t *Tracker) HasCircuits() bool {
	return t.circuits != nil
}
