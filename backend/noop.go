package backend

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Noop is a backend that stores nothing, used when caching is disabled.
// Writes succeed and discard their value; reads always miss.
type Noop struct {
	log    zerolog.Logger
	closed atomic.Bool
	misses atomic.Uint64
}

// NewNoop creates a no-op backend.
func NewNoop() *Noop {
	log := logger().With().Str("backend", string(KindNoop)).Logger()
	log.Debug().Str("note", "caching is disabled").Msg("noop backend created")
	return &Noop{log: log}
}

// Connect is a no-op.
func (c *Noop) Connect(_ context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Get always returns ErrNotFound.
func (c *Noop) Get(_ context.Context, key string) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	c.misses.Add(1)
	c.log.Debug().Str("key", key).Bool("hit", false).Msg("noop get")
	return nil, ErrNotFound
}

// Set discards the value.
func (c *Noop) Set(_ context.Context, key string, value []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.log.Debug().Str("key", key).Int("size", len(value)).Msg("noop set")
	return nil
}

// SetWithTTL discards the value.
func (c *Noop) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.log.Debug().Str("key", key).Int("size", len(value)).Dur("ttl", ttl).Msg("noop set")
	return nil
}

// Delete is a no-op.
func (c *Noop) Delete(_ context.Context, key string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.log.Debug().Str("key", key).Msg("noop delete")
	return nil
}

// Exists always returns false.
func (c *Noop) Exists(_ context.Context, _ string) (bool, error) {
	if c.closed.Load() {
		return false, ErrClosed
	}
	return false, nil
}

// Clear is a no-op.
func (c *Noop) Clear(_ context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Ping reports liveness.
func (c *Noop) Ping(_ context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Stats reports only the miss count; nothing is ever stored.
func (c *Noop) Stats() Stats {
	return Stats{Misses: c.misses.Load()}
}

// ResetStats zeroes the miss count.
func (c *Noop) ResetStats() {
	c.misses.Store(0)
}

// Close marks the backend as closed. Idempotent.
func (c *Noop) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.log.Info().Msg("noop backend closed")
	return nil
}

var (
	_ Backend       = (*Noop)(nil)
	_ Pinger        = (*Noop)(nil)
	_ StatsResetter = (*Noop)(nil)
)
