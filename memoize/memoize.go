// Package memoize layers get-or-fetch-and-store logic over a cache
// backend.
//
// Do returns the cached value for a key when present and otherwise
// runs the caller's fetch function, stores the result, and returns it.
// Concurrent callers for the same key share a single fetch. When the
// cache itself is unreachable the fetch runs fresh: a degraded cache
// must never make data unavailable.
//
// DoTyped adds JSON serialization for arbitrary types; the reactive
// variants in this package expose the same composition over
// samber/ro observables.
package memoize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cachetier/cachetier/backend"
	"github.com/cachetier/cachetier/health"
)

// ErrFetchFailed is returned when a fetch produces no value.
var ErrFetchFailed = errors.New("memoize: fetch produced no value")

// ErrCorrupt indicates cached data could not be decoded. The corrupt
// entry is dropped and refetched.
var ErrCorrupt = errors.New("memoize: corrupt cached data")

// Fetch produces a value on a cache miss.
type Fetch func(ctx context.Context) ([]byte, error)

// Memoizer wraps a cache backend with get-or-fetch-and-store logic.
// All methods are safe for concurrent use.
type Memoizer struct {
	cache backend.Backend
	ttl   time.Duration
	group singleflight.Group
}

// New creates a Memoizer storing fetched values with defaultTTL.
// A zero defaultTTL defers to the strategy's default;
// backend.NoTTL pins values.
func New(cache backend.Backend, defaultTTL time.Duration) *Memoizer {
	return &Memoizer{cache: cache, ttl: defaultTTL}
}

// Cache returns the wrapped backend for direct access.
func (m *Memoizer) Cache() backend.Backend {
	return m.cache
}

// DefaultTTL returns the TTL applied by Do.
func (m *Memoizer) DefaultTTL() time.Duration {
	return m.ttl
}

// Do returns the cached value for key, fetching and storing it on a
// miss. An unreachable cache counts as a miss.
func (m *Memoizer) Do(ctx context.Context, key string, fetch Fetch) ([]byte, error) {
	return m.DoWithTTL(ctx, key, m.ttl, fetch)
}

// DoWithTTL is Do with an explicit TTL for the stored value.
func (m *Memoizer) DoWithTTL(ctx context.Context, key string, ttl time.Duration, fetch Fetch) ([]byte, error) {
	data, err := m.cache.Get(ctx, key)
	if err == nil {
		return data, nil
	}
	if !missEquivalent(err) {
		return nil, err
	}
	return m.flight(ctx, key, ttl, fetch)
}

// Invalidate removes a key so the next Do fetches fresh.
func (m *Memoizer) Invalidate(ctx context.Context, key string) error {
	return m.cache.Delete(ctx, key)
}

// flight runs fetch-and-store once per key, no matter how many callers
// arrive while it is in progress. The winner re-checks the cache so a
// value stored between the caller's miss and the flight is not
// refetched.
func (m *Memoizer) flight(ctx context.Context, key string, ttl time.Duration, fetch Fetch) ([]byte, error) {
	v, err, _ := m.group.Do(key, func() (any, error) {
		if data, err := m.cache.Get(ctx, key); err == nil {
			return data, nil
		}
		data, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		// Best effort: a failed store still returns the fetched value.
		_ = m.cache.SetWithTTL(ctx, key, data, ttl)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	data, _ := v.([]byte)
	return data, nil
}

// missEquivalent reports whether a read error should be treated as a
// miss. Unreachable caches and open circuits fall through to the
// fetch; lifecycle misuse (not connected, closed) propagates.
func missEquivalent(err error) bool {
	return errors.Is(err, backend.ErrNotFound) ||
		errors.Is(err, health.ErrCircuitOpen) ||
		backend.IsTransient(err)
}

// DoTyped returns the cached value for key decoded into T, fetching,
// encoding, and storing it on a miss. Corrupt cached data is dropped
// and refetched.
func DoTyped[T any](ctx context.Context, m *Memoizer, key string, fetch func(ctx context.Context) (T, error)) (T, error) {
	return DoTypedWithTTL(ctx, m, key, m.ttl, fetch)
}

// DoTypedWithTTL is DoTyped with an explicit TTL for the stored value.
// T must be JSON-serializable; an unencodable value is a serialization
// error, surfaced immediately.
func DoTypedWithTTL[T any](ctx context.Context, m *Memoizer, key string, ttl time.Duration, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	data, err := m.cache.Get(ctx, key)
	if err == nil {
		var out T
		if uerr := json.Unmarshal(data, &out); uerr == nil {
			return out, nil
		}
		// Drop the corrupt entry so the flight refetches instead of
		// re-reading it.
		_ = m.cache.Delete(ctx, key)
	} else if !missEquivalent(err) {
		return zero, err
	}

	raw, err := m.flight(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		out, ferr := fetch(ctx)
		if ferr != nil {
			return nil, ferr
		}
		encoded, merr := json.Marshal(out)
		if merr != nil {
			return nil, fmt.Errorf("%w: encode %s: %v", backend.ErrSerialization, key, merr)
		}
		return encoded, nil
	})
	if err != nil {
		return zero, err
	}

	var out T
	if uerr := json.Unmarshal(raw, &out); uerr != nil {
		return zero, fmt.Errorf("%w: decode %s: %v", ErrCorrupt, key, uerr)
	}
	return out, nil
}
