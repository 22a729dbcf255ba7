package health

import "errors"

// Sentinel errors for health tracking.
var (
	// ErrCircuitOpen is returned when the circuit breaker is open and rejecting operations.
	ErrCircuitOpen = errors.New("health: circuit breaker is open")

	// ErrProbeFailed is returned when a recovery probe fails.
	ErrProbeFailed = errors.New("health: probe failed")

	// ErrBackendUnhealthy is returned when a backend is marked as unhealthy.
	ErrBackendUnhealthy = errors.New("health: backend is unhealthy")
)
