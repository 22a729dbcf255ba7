package backend

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/rs/zerolog"
)

// Ristretto is a local backend with cost-based admission. Entry cost is
// the byte length of the value; once MaxCost is reached, low-frequency
// entries are rejected or evicted to make room.
//
// Writes are asynchronous and may be dropped by the admission policy,
// so a Set is not guaranteed to be immediately readable.
type Ristretto struct {
	cfg       RistrettoConfig
	cache     *ristretto.Cache[string, []byte]
	closed    atomic.Bool
	connected atomic.Bool
	mu        sync.RWMutex
	stats     counters
	log       zerolog.Logger
}

// NewRistretto creates a ristretto backend. The cache is built by
// Connect.
func NewRistretto(cfg *RistrettoConfig) *Ristretto {
	return &Ristretto{
		cfg: *cfg,
		log: logger().With().Str("backend", string(KindRistretto)).Logger(),
	}
}

// Connect builds the underlying cache. Idempotent.
func (r *Ristretto) Connect(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Load() {
		return ErrClosed
	}
	if r.connected.Load() {
		return nil
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: r.cfg.GetNumCounters(),
		MaxCost:     r.cfg.GetMaxCost(),
		BufferItems: r.cfg.GetBufferItems(),
		Metrics:     true, // enable stats
	})
	if err != nil {
		r.log.Error().Err(err).Msg("failed to create ristretto cache")
		return err
	}

	r.cache = cache
	r.connected.Store(true)

	r.log.Info().
		Int64("num_counters", r.cfg.GetNumCounters()).
		Int64("max_cost", r.cfg.GetMaxCost()).
		Int64("buffer_items", r.cfg.GetBufferItems()).
		Msg("ristretto backend connected")
	return nil
}

// Get retrieves a value.
// Returns ErrNotFound if the key does not exist or has expired.
func (r *Ristretto) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.ready(); err != nil {
		return nil, err
	}

	value, found := r.cache.Get(key)
	if !found {
		r.stats.misses.Add(1)
		r.log.Debug().Str("key", key).Bool("hit", false).Msg("ristretto get")
		return nil, ErrNotFound
	}

	r.stats.hits.Add(1)
	r.log.Debug().Str("key", key).Bool("hit", true).Int("size", len(value)).Msg("ristretto get")

	// Return a copy to prevent mutation of cached data.
	return bytes.Clone(value), nil
}

// Set stores a value with no expiration. The admission policy may drop
// the write.
func (r *Ristretto) Set(ctx context.Context, key string, value []byte) error {
	return r.SetWithTTL(ctx, key, value, NoTTL)
}

// SetWithTTL stores a value; ttl > 0 expires it after ttl.
func (r *Ristretto) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.ready(); err != nil {
		return err
	}

	valueCopy := bytes.Clone(value)
	cost := int64(len(value))

	var admitted bool
	if ttl > 0 {
		admitted = r.cache.SetWithTTL(key, valueCopy, cost, ttl)
	} else {
		admitted = r.cache.Set(key, valueCopy, cost)
	}
	if !admitted {
		r.log.Debug().Str("key", key).Int("size", len(value)).Msg("ristretto set dropped by admission")
		return nil
	}

	r.stats.sets.Add(1)
	r.log.Debug().Str("key", key).Int("size", len(value)).Dur("ttl", ttl).Msg("ristretto set")
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (r *Ristretto) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.ready(); err != nil {
		return err
	}

	r.cache.Del(key)
	r.stats.deletes.Add(1)
	r.log.Debug().Str("key", key).Msg("ristretto delete")
	return nil
}

// Exists reports whether a key is present and unexpired.
func (r *Ristretto) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.ready(); err != nil {
		return false, err
	}

	_, found := r.cache.Get(key)
	return found, nil
}

// Clear removes every entry. Statistics are not reset.
func (r *Ristretto) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.ready(); err != nil {
		return err
	}

	r.cache.Clear()
	r.log.Debug().Msg("ristretto backend cleared")
	return nil
}

// Ping reports liveness. A connected ristretto backend is always alive.
func (r *Ristretto) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready()
}

// Stats merges the operation counters with ristretto's own metrics for
// eviction and residency.
func (r *Ristretto) Stats() Stats {
	st := r.stats.snapshot()
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed.Load() || !r.connected.Load() {
		return st
	}

	metrics := r.cache.Metrics
	st.Evictions = metrics.KeysEvicted()
	st.KeyCount = metrics.KeysAdded() - metrics.KeysEvicted()
	st.BytesUsed = metrics.CostAdded() - metrics.CostEvicted()
	return st
}

// ResetStats zeroes the operation counters and ristretto's metrics.
func (r *Ristretto) ResetStats() {
	r.stats.reset()
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.connected.Load() && !r.closed.Load() {
		r.cache.Metrics.Clear()
	}
}

// Close waits for pending writes and releases the cache. Idempotent.
func (r *Ristretto) Close() error {
	if r.closed.Load() {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Swap(true) {
		return nil
	}
	if r.cache != nil {
		// Wait for buffered writes before tearing down.
		r.cache.Wait()
		r.cache.Close()
	}
	r.log.Info().Msg("ristretto backend closed")
	return nil
}

func (r *Ristretto) ready() error {
	if r.closed.Load() {
		return ErrClosed
	}
	if !r.connected.Load() {
		return ErrNotConnected
	}
	return nil
}

var (
	_ Backend       = (*Ristretto)(nil)
	_ Pinger        = (*Ristretto)(nil)
	_ StatsResetter = (*Ristretto)(nil)
)
