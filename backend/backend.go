// Package backend provides the uniform storage primitive for cachetier.
//
// A Backend is a key/value store reachable through one contract:
//   - local: sharded in-process map, no network I/O
//   - redis: remote store over a bounded connection pool
//   - ristretto: high-performance local cache with cost-based admission
//   - olric: distributed cache, embedded node or cluster client
//   - noop: caching disabled, writes succeed and store nothing
//
// All implementations are safe for concurrent use. Backends are
// constructed cheaply from configuration and perform I/O only once
// Connect is called; Close cancels background loops and releases
// resources.
//
// Basic usage:
//
//	cfg := backend.Config{
//		Kind: backend.KindLocal,
//		Local: backend.LocalConfig{ShardCount: 16},
//	}
//
//	b, err := backend.New(&cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := b.Connect(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer b.Close()
//
//	err = b.SetWithTTL(ctx, "key", []byte("value"), 5*time.Minute)
//
//	data, err := b.Get(ctx, "key")
//	if errors.Is(err, backend.ErrNotFound) {
//		// cache miss
//	}
package backend

import (
	"context"
	"time"
)

// TTL sentinels for Set operations.
const (
	// DefaultTTL asks the surrounding eviction strategy to apply its
	// configured default. Raw backends treat it the same as NoTTL.
	DefaultTTL time.Duration = 0

	// NoTTL stores the entry without an expiry, even when the strategy
	// has a default TTL configured.
	NoTTL time.Duration = -1
)

// Backend defines the storage contract shared by every cache tier.
// All implementations must be safe for concurrent use.
type Backend interface {
	// Connect establishes the backend: dials the remote store, builds
	// the connection pool, and starts background loops. Calling Connect
	// on an already-connected backend is a no-op.
	Connect(ctx context.Context) error

	// Get retrieves a value by key.
	// Returns ErrNotFound if the key does not exist or has expired.
	// Connectivity failures are reported wrapped in ErrUnavailable so
	// the resilience layer can classify them; a miss is never an error.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with no expiration.
	Set(ctx context.Context, key string, value []byte) error

	// SetWithTTL stores a value honoring the TTL sentinels above:
	// ttl > 0 expires the entry after ttl, NoTTL and DefaultTTL store
	// it without expiry at this layer.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether a key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// Clear removes every key owned by this backend.
	Clear(ctx context.Context) error

	// Stats returns a snapshot of the backend's counters. Counters are
	// monotonic and reset only through ResetStats on backends that
	// implement StatsResetter.
	Stats() Stats

	// Close disconnects the backend: stops background loops, drains
	// pools, and releases resources. After Close every operation
	// returns ErrClosed. Close is idempotent.
	Close() error
}

// Pinger is an optional interface for backends that support liveness
// probes. Local backends are always alive while open; remote backends
// validate connectivity.
//
// Use a type assertion to check for support:
//
//	if p, ok := b.(backend.Pinger); ok {
//		if err := p.Ping(ctx); err != nil {
//			// backend unreachable
//		}
//	}
type Pinger interface {
	// Ping verifies the backend connection is alive.
	Ping(ctx context.Context) error
}

// StatsResetter is an optional interface for backends whose counters can
// be reset. Resets happen only through this explicit call, never as a
// side effect of other operations.
type StatsResetter interface {
	// ResetStats zeroes all statistics counters.
	ResetStats()
}

// MultiGetter is an optional interface for batch reads.
//
//	if mg, ok := b.(backend.MultiGetter); ok {
//		values, err := mg.GetMulti(ctx, keys)
//	}
type MultiGetter interface {
	// GetMulti retrieves multiple values. Missing keys are omitted from
	// the result map; their absence is not an error.
	GetMulti(ctx context.Context, keys []string) (map[string][]byte, error)
}

// MultiSetter is an optional interface for batch writes.
type MultiSetter interface {
	// SetMulti stores multiple values with no expiration. A failure may
	// leave a subset of the keys written.
	SetMulti(ctx context.Context, items map[string][]byte) error

	// SetMultiWithTTL stores multiple values with a common TTL.
	SetMultiWithTTL(ctx context.Context, items map[string][]byte, ttl time.Duration) error
}
