package health

import (
	"sync"

	"github.com/rs/zerolog"
)

// Tracker manages per-backend circuit breakers.
// It provides thread-safe access to circuit breakers and exposes
// IsHealthyFunc closures for callers that only need a health bit.
type Tracker struct {
	circuits map[string]*CircuitBreaker
	logger   *zerolog.Logger
	config   CircuitBreakerConfig
	mu       sync.RWMutex
}

// NewTracker creates a Tracker with the given configuration.
func NewTracker(cfg CircuitBreakerConfig, logger *zerolog.Logger) *Tracker {
	return &Tracker{
		circuits: make(map[string]*CircuitBreaker),
		config:   cfg,
		logger:   logger,
	}
}

// GetOrCreateCircuit returns the circuit breaker for a backend, creating
// it if necessary. Thread-safe with lazy initialization.
func (t *Tracker) GetOrCreateCircuit(backendName string) *CircuitBreaker {
	// Fast path: check if circuit exists with read lock
	t.mu.RLock()
	cb, exists := t.circuits[backendName]
	t.mu.RUnlock()

	if exists {
		return cb
	}

	// Slow path: create circuit with write lock
	t.mu.Lock()
	defer t.mu.Unlock()

	// Double-check after acquiring write lock
	if cb, exists = t.circuits[backendName]; exists {
		return cb
	}

	cb = NewCircuitBreaker(backendName, t.config, t.logger)
	t.circuits[backendName] = cb

	if t.logger != nil {
		t.logger.Debug().
			Str("backend", backendName).
			Msg("created circuit breaker")
	}

	return cb
}

// IsHealthyFunc returns a closure that checks if a backend is healthy.
//
// A backend is considered healthy if its circuit is:
//   - CLOSED: Normal operation, traffic flows through
//   - HALF-OPEN: Testing recovery, probe operations are allowed
//
// A backend is unhealthy only if the circuit is OPEN.
func (t *Tracker) IsHealthyFunc(backendName string) func() bool {
	return func() bool {
		cb := t.GetOrCreateCircuit(backendName)
		// OPEN = unhealthy, CLOSED/HALF-OPEN = healthy
		return cb.State() != StateOpen
	}
}

// GetState returns the current state of a backend's circuit breaker.
// Returns StateClosed if no circuit exists (healthy by default).
func (t *Tracker) GetState(backendName string) State {
	t.mu.RLock()
	cb, exists := t.circuits[backendName]
	t.mu.RUnlock()

	if !exists {
		return StateClosed
	}
	return cb.State()
}

// RecordSuccess records a successful operation for a backend.
func (t *Tracker) RecordSuccess(backendName string) {
	cb := t.GetOrCreateCircuit(backendName)
	cb.ReportSuccess()

	if t.logger != nil {
		t.logger.Debug().
			Str("backend", backendName).
			Str("state", cb.State().String()).
			Msg("recorded success")
	}
}

// RecordFailure records a failed operation for a backend.
func (t *Tracker) RecordFailure(backendName string, err error) {
	cb := t.GetOrCreateCircuit(backendName)
	cb.ReportFailure(err)

	if t.logger != nil {
		t.logger.Debug().
			Str("backend", backendName).
			Str("state", cb.State().String()).
			Err(err).
			Msg("recorded failure")
	}
}

// AllStates returns a snapshot of all backend circuit states.
// Useful for debugging and monitoring.
func (t *Tracker) AllStates() map[string]State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	states := make(map[string]State, len(t.circuits))
	for name, cb := range t.circuits {
		states[name] = cb.State()
	}
	return states
}

// Reset drops every circuit and re-seeds the tracker's breaker
// settings, so all backends start closed under the new configuration.
// Hot reload uses this to apply changed thresholds while callers keep
// their Tracker pointer.
func (t *Tracker) Reset(cfg CircuitBreakerConfig, logger *zerolog.Logger) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.circuits = make(map[string]*CircuitBreaker)
	t.config = cfg
	t.logger = logger

	if t.logger != nil {
		t.logger.Debug().Msg("circuit tracker reset")
	}
}
