package strategy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cachetier/cachetier/backend"
)

// LFU bounds the number of entries, evicting the least frequently used
// when a new key would exceed capacity. A new entry starts at frequency
// one; each read hit and each overwrite adds one. Ties evict the entry
// inserted earliest. An optional aging pass multiplies every frequency
// by a factor below one so old popularity decays instead of pinning
// entries forever.
type LFU struct {
	cfg        LFUConfig
	inner      backend.Backend
	maxEntries int

	mu        sync.Mutex
	items     map[string]*lfuEntry
	connected bool
	closed    bool

	evictions   atomic.Uint64
	expirations atomic.Uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type lfuEntry struct {
	key        string
	expiresAt  time.Time
	frequency  float64
	insertedAt time.Time
}

var (
	_ Strategy              = (*LFU)(nil)
	_ backend.Pinger        = (*LFU)(nil)
	_ backend.StatsResetter = (*LFU)(nil)
)

// NewLFU wraps inner with least-frequently-used eviction.
func NewLFU(inner backend.Backend, cfg LFUConfig) (*LFU, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &LFU{
		cfg:        cfg,
		inner:      inner,
		maxEntries: cfg.GetMaxEntries(),
		items:      make(map[string]*lfuEntry),
	}, nil
}

// Policy returns PolicyLFU.
func (s *LFU) Policy() Policy { return PolicyLFU }

// Connect connects the wrapped backend and starts the aging loop when
// decay is configured.
func (s *LFU) Connect(ctx context.Context) error {
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
	if s.cfg.agingEnabled() {
		ageCtx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.wg.Add(1)
		go s.agingLoop(ageCtx, s.cfg.GetAgingInterval())
	}
	s.connected = true
	logger().Debug().
		Int("max_size", s.maxEntries).
		Float64("aging_factor", s.cfg.GetAgingFactor()).
		Msg("lfu strategy connected")
	return nil
}

func (s *LFU) ready() error {
	if s.closed {
		return backend.ErrClosed
	}
	if !s.connected {
		return backend.ErrNotConnected
	}
	return nil
}

// Get returns the value for key and adds one to its frequency.
// Untracked keys pass straight through without touching frequencies.
func (s *LFU) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return nil, err
	}
	ent, ok := s.items[key]
	if !ok {
		return s.inner.Get(ctx, key)
	}
	if isExpired(ent.expiresAt, time.Now()) {
		s.removeEntry(ctx, ent)
		s.expirations.Add(1)
		return nil, backend.ErrNotFound
	}
	value, err := s.inner.Get(ctx, key)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			delete(s.items, key)
		}
		return nil, err
	}
	ent.frequency++
	return value, nil
}

// Set stores key with the configured default TTL.
func (s *LFU) Set(ctx context.Context, key string, value []byte) error {
	return s.SetWithTTL(ctx, key, value, backend.DefaultTTL)
}

// SetWithTTL stores key with an explicit TTL, evicting the least
// frequently used entry first when a new key would exceed capacity.
// Overwriting an existing key adds one to its frequency and keeps its
// original insertion time.
func (s *LFU) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	if _, ok := s.items[key]; !ok {
		for len(s.items) >= s.maxEntries {
			if !s.evictColdest(ctx) {
				break
			}
		}
	}
	effective := resolveTTL(ttl, s.cfg.DefaultTTL)
	if err := s.inner.SetWithTTL(ctx, key, value, innerTTL(effective)); err != nil {
		return err
	}
	now := time.Now()
	if ent, ok := s.items[key]; ok {
		ent.expiresAt = expireAt(now, effective)
		ent.frequency++
	} else {
		s.items[key] = &lfuEntry{
			key:        key,
			expiresAt:  expireAt(now, effective),
			frequency:  1,
			insertedAt: now,
		}
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *LFU) Delete(ctx context.Context, key string) error {
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
	delete(s.items, key)
	return nil
}

// Exists reports presence without touching frequencies.
func (s *LFU) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return false, err
	}
	if ent, ok := s.items[key]; ok {
		if isExpired(ent.expiresAt, time.Now()) {
			s.removeEntry(ctx, ent)
			s.expirations.Add(1)
			return false, nil
		}
	}
	return s.inner.Exists(ctx, key)
}

// Clear removes every entry and its tracking.
func (s *LFU) Clear(ctx context.Context) error {
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
	s.items = make(map[string]*lfuEntry)
	return nil
}

// Stats reports the wrapped backend's counters with this strategy's
// evictions and expirations folded in. KeyCount reflects tracked
// entries.
func (s *LFU) Stats() backend.Stats {
	st := s.inner.Stats()
	st.Evictions += s.evictions.Load()
	st.Expirations += s.expirations.Load()
	st.KeyCount = uint64(s.Len())
	return st
}

// Len is the number of tracked entries.
func (s *LFU) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Ping checks the wrapped backend if it supports pinging.
func (s *LFU) Ping(ctx context.Context) error {
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
func (s *LFU) ResetStats() {
	s.evictions.Store(0)
	s.expirations.Store(0)
	if r, ok := s.inner.(backend.StatsResetter); ok {
		r.ResetStats()
	}
}

// Close stops the aging loop and closes the wrapped backend.
func (s *LFU) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	return s.inner.Close()
}

// evictColdest removes the entry with the lowest frequency, breaking
// ties toward the earliest insertion. Caller holds the lock.
func (s *LFU) evictColdest(ctx context.Context) bool {
	var victim *lfuEntry
	for _, ent := range s.items {
		if victim == nil ||
			ent.frequency < victim.frequency ||
			(ent.frequency == victim.frequency && ent.insertedAt.Before(victim.insertedAt)) {
			victim = ent
		}
	}
	if victim == nil {
		return false
	}
	s.removeEntry(ctx, victim)
	s.evictions.Add(1)
	logger().Debug().
		Str("key", victim.key).
		Float64("frequency", victim.frequency).
		Msg("lfu eviction")
	return true
}

// removeEntry deletes the entry from the backend and the tracking map.
// Caller holds the lock.
func (s *LFU) removeEntry(ctx context.Context, ent *lfuEntry) {
	delete(s.items, ent.key)
	if err := s.inner.Delete(ctx, ent.key); err != nil {
		logger().Warn().Err(err).Str("key", ent.key).Msg("removed entry left in backend")
	}
}

func (s *LFU) agingLoop(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.age()
		}
	}
}

// age multiplies every frequency by the configured factor so stale
// popularity decays over time.
func (s *LFU) age() {
	factor := s.cfg.GetAgingFactor()
	s.mu.Lock()
	for _, ent := range s.items {
		ent.frequency *= factor
	}
	s.mu.Unlock()
	logger().Debug().Float64("factor", factor).Msg("lfu aging pass")
}
