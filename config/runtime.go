package config

import "sync/atomic"

// Runtime holds the current configuration behind an atomic pointer so
// hot-reload can swap it without locking readers. In-flight operations
// keep the config they loaded; later operations observe the new one.
type Runtime struct {
	ptr atomic.Pointer[Config]
}

// NewRuntime creates a Runtime seeded with initial.
func NewRuntime(initial *Config) *Runtime {
	r := &Runtime{}
	r.ptr.Store(initial)
	return r
}

// Get returns the current configuration. Lock-free; call it
// per-operation rather than caching the result across reloads.
func (r *Runtime) Get() *Config {
	return r.ptr.Load()
}

// Store swaps in a new configuration. Called by the watcher's reload
// callback; readers see either the old config or the new one, never a
// mix.
func (r *Runtime) Store(cfg *Config) {
	r.ptr.Store(cfg)
}

var _ RuntimeConfig = (*Runtime)(nil)
