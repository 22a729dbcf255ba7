package strategy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/cachetier/cachetier/backend"
)

// sweepBurst is the limiter burst for background deletions.
const sweepBurst = 64

// TTL expires entries after a duration. Reads check the deadline before
// touching the backend, and a paced background sweep reclaims entries
// nobody reads anymore. Writes without a TTL of their own pick up the
// configured default; backend.NoTTL always pins an entry.
type TTL struct {
	cfg   TTLConfig
	inner backend.Backend

	mu        sync.RWMutex
	deadlines map[string]time.Time
	connected bool
	closed    bool

	expirations atomic.Uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var (
	_ Strategy              = (*TTL)(nil)
	_ backend.Pinger        = (*TTL)(nil)
	_ backend.StatsResetter = (*TTL)(nil)
)

// NewTTL wraps inner with time-based expiry.
func NewTTL(inner backend.Backend, cfg TTLConfig) (*TTL, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &TTL{
		cfg:       cfg,
		inner:     inner,
		deadlines: make(map[string]time.Time),
	}, nil
}

// Policy returns PolicyTTL.
func (s *TTL) Policy() Policy { return PolicyTTL }

// Connect connects the wrapped backend and starts the sweep loop.
func (s *TTL) Connect(ctx context.Context) error {
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
	if interval := s.cfg.GetSweepInterval(); interval > 0 {
		sweepCtx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.wg.Add(1)
		go s.sweepLoop(sweepCtx, interval)
	}
	s.connected = true
	logger().Debug().
		Dur("default_ttl", s.cfg.DefaultTTL).
		Dur("cleanup_interval", s.cfg.GetSweepInterval()).
		Msg("ttl strategy connected")
	return nil
}

func (s *TTL) ready() error {
	if s.closed {
		return backend.ErrClosed
	}
	if !s.connected {
		return backend.ErrNotConnected
	}
	return nil
}

// Get returns the value for key, treating entries past their deadline
// as absent.
func (s *TTL) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	if err := s.ready(); err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	deadline, tracked := s.deadlines[key]
	s.mu.RUnlock()

	if tracked && isExpired(deadline, time.Now()) {
		s.expire(ctx, key, deadline)
		return nil, backend.ErrNotFound
	}
	value, err := s.inner.Get(ctx, key)
	if err != nil {
		if tracked && errors.Is(err, backend.ErrNotFound) {
			s.forget(key, deadline)
		}
		return nil, err
	}
	return value, nil
}

// Set stores key with the configured default TTL.
func (s *TTL) Set(ctx context.Context, key string, value []byte) error {
	return s.SetWithTTL(ctx, key, value, backend.DefaultTTL)
}

// SetWithTTL stores key with an explicit TTL. The resolved TTL is also
// handed to the wrapped backend so server-side expiry stays aligned.
func (s *TTL) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	effective := resolveTTL(ttl, s.cfg.DefaultTTL)
	if err := s.inner.SetWithTTL(ctx, key, value, innerTTL(effective)); err != nil {
		return err
	}
	s.deadlines[key] = expireAt(time.Now(), effective)
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *TTL) Delete(ctx context.Context, key string) error {
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
	delete(s.deadlines, key)
	return nil
}

// Exists reports whether key is present and not past its deadline.
func (s *TTL) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	if err := s.ready(); err != nil {
		s.mu.RUnlock()
		return false, err
	}
	deadline, tracked := s.deadlines[key]
	s.mu.RUnlock()

	if tracked && isExpired(deadline, time.Now()) {
		s.expire(ctx, key, deadline)
		return false, nil
	}
	return s.inner.Exists(ctx, key)
}

// Clear removes every entry and its tracking.
func (s *TTL) Clear(ctx context.Context) error {
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
	s.deadlines = make(map[string]time.Time)
	return nil
}

// Stats reports the wrapped backend's counters with this strategy's
// expirations folded in. KeyCount reflects tracked entries.
func (s *TTL) Stats() backend.Stats {
	st := s.inner.Stats()
	st.Expirations += s.expirations.Load()
	st.KeyCount = uint64(s.Len())
	return st
}

// Len is the number of tracked entries, expired or not.
func (s *TTL) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.deadlines)
}

// Ping checks the wrapped backend if it supports pinging.
func (s *TTL) Ping(ctx context.Context) error {
	s.mu.RLock()
	err := s.ready()
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	if p, ok := s.inner.(backend.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// ResetStats zeroes this strategy's counters and the backend's.
func (s *TTL) ResetStats() {
	s.expirations.Store(0)
	if r, ok := s.inner.(backend.StatsResetter); ok {
		r.ResetStats()
	}
}

// Close stops the sweep loop and closes the wrapped backend.
func (s *TTL) Close() error {
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

// expire removes key if it still holds the observed deadline and that
// deadline has passed. The recheck keeps a concurrent Set from being
// erased.
func (s *TTL) expire(ctx context.Context, key string, seen time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	current, ok := s.deadlines[key]
	if !ok || !current.Equal(seen) || !isExpired(current, time.Now()) {
		return
	}
	delete(s.deadlines, key)
	s.expirations.Add(1)
	if err := s.inner.Delete(ctx, key); err != nil {
		logger().Warn().Err(err).Str("key", key).Msg("expired entry left in backend")
	}
}

// forget drops tracking for a key the backend no longer holds.
func (s *TTL) forget(key string, seen time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.deadlines[key]; ok && current.Equal(seen) {
		delete(s.deadlines, key)
	}
}

func (s *TTL) sweepLoop(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()
	limit := rate.Inf
	if r := s.cfg.GetSweepRate(); r > 0 {
		limit = rate.Limit(r)
	}
	limiter := rate.NewLimiter(limit, sweepBurst)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx, limiter)
		}
	}
}

// sweep deletes entries past their deadline. Deletions are paced by the
// limiter so a large expired set cannot saturate the backend.
func (s *TTL) sweep(ctx context.Context, limiter *rate.Limiter) {
	now := time.Now()
	s.mu.RLock()
	expired := make(map[string]time.Time)
	for key, deadline := range s.deadlines {
		if isExpired(deadline, now) {
			expired[key] = deadline
		}
	}
	s.mu.RUnlock()
	if len(expired) == 0 {
		return
	}

	for key, deadline := range expired {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		s.expire(ctx, key, deadline)
	}
	logger().Debug().Int("expired", len(expired)).Msg("sweep pass finished")
}
