package backend

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
)

// Local is a sharded in-process backend. Keys are distributed across
// independently locked map shards by xxhash, so concurrent operations
// on different keys rarely contend.
//
// Expired entries are reclaimed lazily on read; a surrounding TTL
// strategy adds background sweeping.
type Local struct {
	mu        sync.RWMutex
	shards    []*localShard
	mask      uint64
	connected bool
	closed    bool
	stats     counters
	log       zerolog.Logger
}

type localShard struct {
	mu      sync.RWMutex
	entries map[string]localEntry
}

type localEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e localEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewLocal creates a sharded local backend. The shard count is rounded
// up to a power of two so shard selection is a single mask.
func NewLocal(cfg *LocalConfig) *Local {
	n := nextPowerOfTwo(cfg.GetShardCount())
	return &Local{
		mask: uint64(n - 1),
		log:  logger().With().Str("backend", string(KindLocal)).Logger(),
	}
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Connect allocates the shards. Idempotent.
func (l *Local) Connect(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if l.connected {
		return nil
	}
	l.shards = make([]*localShard, l.mask+1)
	for i := range l.shards {
		l.shards[i] = &localShard{entries: make(map[string]localEntry)}
	}
	l.connected = true
	l.log.Debug().Int("shards", len(l.shards)).Msg("local backend connected")
	return nil
}

func (l *Local) shard(key string) *localShard {
	return l.shards[xxhash.Sum64String(key)&l.mask]
}

// Get retrieves a value. An entry past its expiry is deleted and
// reported as ErrNotFound.
func (l *Local) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.ready(); err != nil {
		return nil, err
	}

	s := l.shard(key)
	now := time.Now()

	s.mu.RLock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.RUnlock()
		l.stats.misses.Add(1)
		return nil, ErrNotFound
	}
	if e.expired(now) {
		s.mu.RUnlock()
		l.expire(s, key, now)
		l.stats.misses.Add(1)
		return nil, ErrNotFound
	}
	value := bytes.Clone(e.value)
	s.mu.RUnlock()

	l.stats.hits.Add(1)
	l.log.Debug().Str("key", key).Int("size", len(value)).Msg("local hit")
	return value, nil
}

// expire removes key if it is still present and still expired. The
// entry may have been replaced between the read and the write lock.
func (l *Local) expire(s *localShard, key string, now time.Time) {
	s.mu.Lock()
	if e, ok := s.entries[key]; ok && e.expired(now) {
		delete(s.entries, key)
		l.stats.expirations.Add(1)
	}
	s.mu.Unlock()
}

// Set stores a value with no expiration.
func (l *Local) Set(ctx context.Context, key string, value []byte) error {
	return l.SetWithTTL(ctx, key, value, NoTTL)
}

// SetWithTTL stores a value; ttl > 0 expires it after ttl.
func (l *Local) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.ready(); err != nil {
		return err
	}

	e := localEntry{value: bytes.Clone(value)}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}

	s := l.shard(key)
	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()

	l.stats.sets.Add(1)
	l.log.Debug().Str("key", key).Int("size", len(value)).Dur("ttl", ttl).Msg("local set")
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (l *Local) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.ready(); err != nil {
		return err
	}

	s := l.shard(key)
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()

	l.stats.deletes.Add(1)
	return nil
}

// Exists reports whether a key is present and unexpired.
func (l *Local) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.ready(); err != nil {
		return false, err
	}

	s := l.shard(key)
	now := time.Now()

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if e.expired(now) {
		l.expire(s, key, now)
		return false, nil
	}
	return true, nil
}

// Clear removes every entry. Statistics are not reset.
func (l *Local) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.ready(); err != nil {
		return err
	}

	for _, s := range l.shards {
		s.mu.Lock()
		s.entries = make(map[string]localEntry)
		s.mu.Unlock()
	}
	l.log.Debug().Msg("local backend cleared")
	return nil
}

// Stats returns a snapshot of the counters plus the live entry count.
func (l *Local) Stats() Stats {
	st := l.stats.snapshot()
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.connected || l.closed {
		return st
	}
	var n uint64
	for _, s := range l.shards {
		s.mu.RLock()
		n += uint64(len(s.entries))
		s.mu.RUnlock()
	}
	st.KeyCount = n
	return st
}

// ResetStats zeroes all counters.
func (l *Local) ResetStats() {
	l.stats.reset()
}

// Ping reports liveness. A connected local backend is always alive.
func (l *Local) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ready()
}

// GetMulti retrieves multiple keys; missing keys are omitted.
func (l *Local) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		value, err := l.Get(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out[key] = value
	}
	return out, nil
}

// SetMulti stores multiple values with no expiration.
func (l *Local) SetMulti(ctx context.Context, items map[string][]byte) error {
	return l.SetMultiWithTTL(ctx, items, NoTTL)
}

// SetMultiWithTTL stores multiple values with a common TTL.
func (l *Local) SetMultiWithTTL(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	for key, value := range items {
		if err := l.SetWithTTL(ctx, key, value, ttl); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the shards. Idempotent.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.shards = nil
	l.log.Debug().Msg("local backend closed")
	return nil
}

// ready must be called with l.mu held.
func (l *Local) ready() error {
	if l.closed {
		return ErrClosed
	}
	if !l.connected {
		return ErrNotConnected
	}
	return nil
}

var (
	_ Backend       = (*Local)(nil)
	_ Pinger        = (*Local)(nil)
	_ StatsResetter = (*Local)(nil)
	_ MultiGetter   = (*Local)(nil)
	_ MultiSetter   = (*Local)(nil)
)
