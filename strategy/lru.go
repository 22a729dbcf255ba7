package strategy

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cachetier/cachetier/backend"
)

// LRU bounds the number of entries, evicting the least recently used
// when a new key would exceed capacity. Reads and writes both refresh
// recency. Entries may also carry a TTL; one past its deadline is
// treated as absent no matter how recently it was used.
type LRU struct {
	cfg        LRUConfig
	inner      backend.Backend
	maxEntries int

	mu        sync.Mutex
	order     *list.List // front is most recently used
	items     map[string]*list.Element
	connected bool
	closed    bool

	evictions   atomic.Uint64
	expirations atomic.Uint64
}

type lruEntry struct {
	key       string
	expiresAt time.Time
}

var (
	_ Strategy              = (*LRU)(nil)
	_ backend.Pinger        = (*LRU)(nil)
	_ backend.StatsResetter = (*LRU)(nil)
)

// NewLRU wraps inner with least-recently-used eviction.
func NewLRU(inner backend.Backend, cfg LRUConfig) (*LRU, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &LRU{
		cfg:        cfg,
		inner:      inner,
		maxEntries: cfg.GetMaxEntries(),
		order:      list.New(),
		items:      make(map[string]*list.Element),
	}, nil
}

// Policy returns PolicyLRU.
func (s *LRU) Policy() Policy { return PolicyLRU }

// Connect connects the wrapped backend.
func (s *LRU) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return backend.ErrClosed
	}
	if s.connected {
		return nil
	}
	if err := s.inner.Connect(ctx); err != nil {
		return err
	}
	s.connected = true
	logger().Debug().Int("max_size", s.maxEntries).Msg("lru strategy connected")
	return nil
}

func (s *LRU) ready() error {
	if s.closed {
		return backend.ErrClosed
	}
	if !s.connected {
		return backend.ErrNotConnected
	}
	return nil
}

// Get returns the value for key and marks it most recently used.
// Untracked keys pass straight through without touching recency.
func (s *LRU) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return nil, err
	}
	el, ok := s.items[key]
	if !ok {
		return s.inner.Get(ctx, key)
	}
	ent := el.Value.(*lruEntry)
	if isExpired(ent.expiresAt, time.Now()) {
		s.removeEntry(ctx, el)
		s.expirations.Add(1)
		return nil, backend.ErrNotFound
	}
	value, err := s.inner.Get(ctx, key)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			s.dropEntry(el)
		}
		return nil, err
	}
	s.order.MoveToFront(el)
	return value, nil
}

// Set stores key with the configured default TTL and marks it most
// recently used.
func (s *LRU) Set(ctx context.Context, key string, value []byte) error {
	return s.SetWithTTL(ctx, key, value, backend.DefaultTTL)
}

// SetWithTTL stores key with an explicit TTL, evicting the least
// recently used entry first when a new key would exceed capacity.
func (s *LRU) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	if _, ok := s.items[key]; !ok {
		for s.order.Len() >= s.maxEntries {
			if !s.evictOldest(ctx) {
				break
			}
		}
	}
	effective := resolveTTL(ttl, s.cfg.DefaultTTL)
	if err := s.inner.SetWithTTL(ctx, key, value, innerTTL(effective)); err != nil {
		return err
	}
	deadline := expireAt(time.Now(), effective)
	if el, ok := s.items[key]; ok {
		el.Value.(*lruEntry).expiresAt = deadline
		s.order.MoveToFront(el)
	} else {
		s.items[key] = s.order.PushFront(&lruEntry{key: key, expiresAt: deadline})
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *LRU) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.inner.Delete(ctx, key); err != nil {
		return err
	}
	if el, ok := s.items[key]; ok {
		s.dropEntry(el)
	}
	return nil
}

// Exists reports presence without refreshing recency.
func (s *LRU) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return false, err
	}
	if el, ok := s.items[key]; ok {
		if isExpired(el.Value.(*lruEntry).expiresAt, time.Now()) {
			s.removeEntry(ctx, el)
			s.expirations.Add(1)
			return false, nil
		}
	}
	return s.inner.Exists(ctx, key)
}

// Clear removes every entry and its tracking.
func (s *LRU) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.inner.Clear(ctx); err != nil {
		return err
	}
	s.order.Init()
	s.items = make(map[string]*list.Element)
	return nil
}

// Stats reports the wrapped backend's counters with this strategy's
// evictions and expirations folded in. KeyCount reflects tracked
// entries.
func (s *LRU) Stats() backend.Stats {
	st := s.inner.Stats()
	st.Evictions += s.evictions.Load()
	st.Expirations += s.expirations.Load()
	st.KeyCount = uint64(s.Len())
	return st
}

// Len is the number of tracked entries.
func (s *LRU) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Ping checks the wrapped backend if it supports pinging.
func (s *LRU) Ping(ctx context.Context) error {
	s.mu.Lock()
	err := s.ready()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if p, ok := s.inner.(backend.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// ResetStats zeroes this strategy's counters and the backend's.
func (s *LRU) ResetStats() {
	s.evictions.Store(0)
	s.expirations.Store(0)
	if r, ok := s.inner.(backend.StatsResetter); ok {
		r.ResetStats()
	}
}

// Close closes the wrapped backend.
func (s *LRU) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.inner.Close()
}

// evictOldest removes the entry at the back of the recency order.
// Caller holds the lock.
func (s *LRU) evictOldest(ctx context.Context) bool {
	el := s.order.Back()
	if el == nil {
		return false
	}
	key := el.Value.(*lruEntry).key
	s.removeEntry(ctx, el)
	s.evictions.Add(1)
	logger().Debug().Str("key", key).Msg("lru eviction")
	return true
}

// removeEntry deletes the entry from the backend and the tracking
// structures. Caller holds the lock.
func (s *LRU) removeEntry(ctx context.Context, el *list.Element) {
	ent := el.Value.(*lruEntry)
	s.dropEntry(el)
	if err := s.inner.Delete(ctx, ent.key); err != nil {
		logger().Warn().Err(err).Str("key", ent.key).Msg("removed entry left in backend")
	}
}

// dropEntry removes tracking only. Caller holds the lock.
func (s *LRU) dropEntry(el *list.Element) {
	ent := el.Value.(*lruEntry)
	s.order.Remove(el)
	delete(s.items, ent.key)
}
