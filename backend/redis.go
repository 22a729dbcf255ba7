package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis is a remote backend over a bounded connection pool. Every
// operation runs against the server; the pool caps concurrent
// connections and PoolTimeout bounds the wait for a free slot.
//
// A background probe pings the server on HealthCheckInterval and logs
// transitions, so an unreachable server is noticed between requests.
type Redis struct {
	cfg RedisConfig

	mu        sync.RWMutex
	client    *redis.Client
	connected bool
	closed    bool

	healthy  atomic.Bool
	connErrs atomic.Uint64
	stats    counters

	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    zerolog.Logger
}

// NewRedis creates a Redis backend. The connection is established by
// Connect.
func NewRedis(cfg *RedisConfig) (*Redis, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Redis{
		cfg: *cfg,
		log: logger().With().Str("backend", string(KindRedis)).Logger(),
	}, nil
}

// Connect builds the pool, verifies the server with a ping, and starts
// the health probe. Idempotent.
func (r *Redis) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.connected {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         r.cfg.Address,
		Password:     r.cfg.Password,
		DB:           r.cfg.DB,
		PoolSize:     r.cfg.GetMaxConnections(),
		MinIdleConns: r.cfg.MinIdleConns,
		DialTimeout:  r.cfg.GetSocketTimeout(),
		ReadTimeout:  r.cfg.GetSocketTimeout(),
		WriteTimeout: r.cfg.GetSocketTimeout(),
		PoolTimeout:  r.cfg.GetPoolTimeout(),
	})

	pingCtx, cancel := context.WithTimeout(ctx, r.cfg.GetSocketTimeout())
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		r.connErrs.Add(1)
		return fmt.Errorf("%w: connect %s: %v", ErrUnavailable, r.cfg.Address, err)
	}

	r.client = client
	r.connected = true
	r.healthy.Store(true)

	if interval := r.cfg.GetHealthCheckInterval(); interval > 0 {
		loopCtx, cancelLoop := context.WithCancel(context.Background())
		r.cancel = cancelLoop
		r.wg.Add(1)
		go r.healthLoop(loopCtx, interval)
	}

	r.log.Info().
		Str("address", r.cfg.Address).
		Int("pool_size", r.cfg.GetMaxConnections()).
		Msg("redis backend connected")
	return nil
}

func (r *Redis) healthLoop(ctx context.Context, interval time.Duration) {
	defer r.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, r.cfg.GetSocketTimeout())
			err := r.client.Ping(pingCtx).Err()
			cancel()
			if err != nil {
				if r.healthy.Swap(false) {
					r.log.Warn().Err(err).Msg("redis health check failed")
				}
				r.connErrs.Add(1)
				continue
			}
			if !r.healthy.Swap(true) {
				r.log.Info().Msg("redis connection recovered")
			}
		}
	}
}

func (r *Redis) key(key string) string {
	if r.cfg.KeyPrefix == "" {
		return key
	}
	return r.cfg.KeyPrefix + key
}

// Get retrieves a value from the server.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.ready(); err != nil {
		return nil, err
	}

	value, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.stats.misses.Add(1)
			return nil, ErrNotFound
		}
		return nil, r.opErr("get", err)
	}
	r.stats.hits.Add(1)
	r.log.Debug().Str("key", key).Int("size", len(value)).Msg("redis hit")
	return value, nil
}

// Set stores a value with no expiration.
func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	return r.SetWithTTL(ctx, key, value, NoTTL)
}

// SetWithTTL stores a value; ttl > 0 sets a server-side expiry.
func (r *Redis) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.ready(); err != nil {
		return err
	}

	var expiry time.Duration
	if ttl > 0 {
		expiry = ttl
	}
	if err := r.client.Set(ctx, r.key(key), value, expiry).Err(); err != nil {
		return r.opErr("set", err)
	}
	r.stats.sets.Add(1)
	r.log.Debug().Str("key", key).Int("size", len(value)).Dur("ttl", ttl).Msg("redis set")
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.ready(); err != nil {
		return err
	}

	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return r.opErr("delete", err)
	}
	r.stats.deletes.Add(1)
	return nil
}

// Exists reports whether a key is present on the server.
func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.ready(); err != nil {
		return false, err
	}

	n, err := r.client.Exists(ctx, r.key(key)).Result()
	if err != nil {
		return false, r.opErr("exists", err)
	}
	return n > 0, nil
}

// Clear removes every key under the configured prefix using SCAN, so
// the server is never blocked by a full keyspace walk.
func (r *Redis) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.ready(); err != nil {
		return err
	}

	pattern := r.cfg.KeyPrefix + "*"
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()

	batch := make([]string, 0, 512)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := r.client.Del(ctx, batch...).Err(); err != nil {
			return r.opErr("clear", err)
		}
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return r.opErr("clear", err)
	}
	if err := flush(); err != nil {
		return err
	}
	r.log.Debug().Str("pattern", pattern).Msg("redis backend cleared")
	return nil
}

// GetMulti retrieves multiple keys with a single MGET.
func (r *Redis) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.ready(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = r.key(k)
	}
	values, err := r.client.MGet(ctx, prefixed...).Result()
	if err != nil {
		return nil, r.opErr("mget", err)
	}

	out := make(map[string][]byte, len(keys))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			r.stats.misses.Add(1)
			continue
		}
		out[keys[i]] = []byte(s)
		r.stats.hits.Add(1)
	}
	return out, nil
}

// SetMulti stores multiple values with no expiration.
func (r *Redis) SetMulti(ctx context.Context, items map[string][]byte) error {
	return r.SetMultiWithTTL(ctx, items, NoTTL)
}

// SetMultiWithTTL stores multiple values in one pipelined round trip.
func (r *Redis) SetMultiWithTTL(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.ready(); err != nil {
		return err
	}

	var expiry time.Duration
	if ttl > 0 {
		expiry = ttl
	}
	pipe := r.client.Pipeline()
	for k, v := range items {
		pipe.Set(ctx, r.key(k), v, expiry)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return r.opErr("mset", err)
	}
	r.stats.sets.Add(uint64(len(items)))
	return nil
}

// Ping verifies the server connection.
func (r *Redis) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.ready(); err != nil {
		return err
	}

	if err := r.client.Ping(ctx).Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		r.connErrs.Add(1)
		return fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}
	return nil
}

// Stats returns a snapshot of the counters.
func (r *Redis) Stats() Stats {
	st := r.stats.snapshot()
	st.ConnectionErrors = r.connErrs.Load()
	return st
}

// ResetStats zeroes all counters.
func (r *Redis) ResetStats() {
	r.stats.reset()
	r.connErrs.Store(0)
}

// Close stops the health probe and drains the pool. Idempotent.
func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()

	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.log.Debug().Msg("redis backend closed")
	return err
}

// opErr classifies a failed operation: cancellations pass through,
// anything else counts as a connectivity failure and is marked
// transient.
func (r *Redis) opErr(op string, err error) error {
	r.stats.errors.Add(1)
	if errors.Is(err, context.Canceled) {
		return err
	}
	r.connErrs.Add(1)
	r.log.Warn().Err(err).Str("op", op).Msg("redis operation failed")
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

// ready must be called with r.mu held.
func (r *Redis) ready() error {
	if r.closed {
		return ErrClosed
	}
	if !r.connected {
		return ErrNotConnected
	}
	return nil
}

var (
	_ Backend       = (*Redis)(nil)
	_ Pinger        = (*Redis)(nil)
	_ StatsResetter = (*Redis)(nil)
	_ MultiGetter   = (*Redis)(nil)
	_ MultiSetter   = (*Redis)(nil)
)
