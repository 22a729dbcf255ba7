package cachetier

import (
	"context"
	"errors"
	"time"

	"github.com/cachetier/cachetier/backend"
)

// Option adjusts a single routed operation.
type Option func(*opCall)

type opCall struct {
	backendName string
	ttl         time.Duration
}

// WithBackend routes the operation to a named registration instead of
// the default.
func WithBackend(name string) Option {
	return func(c *opCall) {
		c.backendName = name
	}
}

// WithTTL overrides the stored entry's lifetime for this Set. Without
// it the registration's strategy default applies; backend.NoTTL pins
// the entry even when a default is configured.
func WithTTL(ttl time.Duration) Option {
	return func(c *opCall) {
		c.ttl = ttl
	}
}

func applyOptions(opts []Option) opCall {
	var c opCall
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Get retrieves a value by key. A miss is (nil, false, nil), never an
// error, so call sites stay simple; a non-nil error means the backend
// failed in a way fallback could not absorb, and best-effort callers
// may treat it as a miss too.
func (m *Manager) Get(ctx context.Context, key string, opts ...Option) ([]byte, bool, error) {
	call := applyOptions(opts)
	reg, err := m.resolve(call.backendName)
	if err != nil {
		return nil, false, err
	}
	data, err := reg.store.Get(ctx, key)
	switch {
	case err == nil:
		return data, true, nil
	case errors.Is(err, backend.ErrNotFound):
		return nil, false, nil
	default:
		return nil, false, err
	}
}

// Set stores a value under key, honoring WithTTL and WithBackend.
func (m *Manager) Set(ctx context.Context, key string, value []byte, opts ...Option) error {
	call := applyOptions(opts)
	reg, err := m.resolve(call.backendName)
	if err != nil {
		return err
	}
	return reg.store.SetWithTTL(ctx, key, value, call.ttl)
}

// Delete removes a key. Deleting a missing key is not an error.
func (m *Manager) Delete(ctx context.Context, key string, opts ...Option) error {
	call := applyOptions(opts)
	reg, err := m.resolve(call.backendName)
	if err != nil {
		return err
	}
	return reg.store.Delete(ctx, key)
}

// Exists reports whether key is present and unexpired.
func (m *Manager) Exists(ctx context.Context, key string, opts ...Option) (bool, error) {
	call := applyOptions(opts)
	reg, err := m.resolve(call.backendName)
	if err != nil {
		return false, err
	}
	return reg.store.Exists(ctx, key)
}

// Clear empties one registration: the named one, or the default.
func (m *Manager) Clear(ctx context.Context, opts ...Option) error {
	call := applyOptions(opts)
	reg, err := m.resolve(call.backendName)
	if err != nil {
		return err
	}
	return reg.store.Clear(ctx)
}

// ClearAll empties every registration.
func (m *Manager) ClearAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	var errs []error
	for name, reg := range m.regs {
		if err := reg.store.Clear(ctx); err != nil {
			errs = append(errs, err)
			logger().Warn().Str("backend", name).Err(err).Msg("clear failed")
		}
	}
	return errors.Join(errs...)
}
