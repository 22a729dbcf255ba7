package cachetier

import "errors"

var (
	// ErrClosed indicates an operation was attempted after the manager
	// was closed.
	ErrClosed = errors.New("cachetier: manager closed")

	// ErrUnknownBackend indicates an operation named a backend that is
	// not registered.
	ErrUnknownBackend = errors.New("cachetier: unknown backend")

	// ErrDuplicateBackend indicates a registration name is already
	// taken.
	ErrDuplicateBackend = errors.New("cachetier: backend already registered")

	// ErrNoBackends indicates an operation was routed with nothing
	// registered.
	ErrNoBackends = errors.New("cachetier: no backends registered")
)
