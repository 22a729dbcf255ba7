// Package resilience wraps a remote backend with retries, a circuit
// breaker, a concurrency limit, and an optional local fallback.
//
// Transient failures are retried with exponential backoff and jitter.
// Consecutive failures open a circuit breaker that short-circuits
// further calls without touching the network. While the circuit is
// open, or once retries are exhausted, operations are transparently
// served by the fallback backend when one is configured and enabled;
// otherwise the original error surfaces to the caller.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cachetier/cachetier/backend"
	"github.com/cachetier/cachetier/health"
)

var errRemoteDown = fmt.Errorf("%w: remote backend not connected", backend.ErrUnavailable)

// Options configures a Wrapper.
type Options struct {
	// Name identifies the wrapped backend in logs, stats, and the
	// health tracker. Defaults to "remote".
	Name string

	// Remote is the backend being protected. Required.
	Remote backend.Backend

	// Fallback is the local backend that serves operations while the
	// remote is unavailable. Nil disables fallback regardless of
	// configuration.
	Fallback backend.Backend

	// Tracker, when set, owns the circuit breaker so health probes
	// can observe it. The tracker's breaker settings take precedence
	// over the Config's circuit fields. When nil a standalone breaker
	// is built from Config.
	Tracker *health.Tracker

	// Config holds retry, breaker, fallback, and concurrency
	// settings. Nil means defaults.
	Config *Config
}

// Wrapper is a backend.Backend that executes every operation against
// the remote through the retry, breaker, and concurrency machinery.
// All methods are safe for concurrent use.
type Wrapper struct {
	name     string
	remote   backend.Backend
	fallback backend.Backend
	breaker  *health.CircuitBreaker
	sem      *Semaphore
	cfg      *Config
	policy   retryPolicy

	mu        sync.RWMutex
	connected bool
	closed    bool

	// connectMu serializes remote connection attempts from Connect
	// and probe-driven reconnects. closing stops a reconnect that
	// races with Close.
	connectMu sync.Mutex
	closing   atomic.Bool
	remoteUp  atomic.Bool

	retries       atomic.Uint64
	fallbackHits  atomic.Uint64
	shortCircuits atomic.Uint64
	connErrs      atomic.Uint64
	trips         atomic.Uint64
	lastState     atomic.Int32
}

// New creates a resilience wrapper around opts.Remote.
func New(opts Options) (*Wrapper, error) {
	if opts.Remote == nil {
		return nil, errors.New("resilience: remote backend is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	name := opts.Name
	if name == "" {
		name = "remote"
	}

	var breaker *health.CircuitBreaker
	if opts.Tracker != nil {
		breaker = opts.Tracker.GetOrCreateCircuit(name)
	} else {
		breaker = health.NewCircuitBreaker(name, cfg.circuitConfig(), logger())
	}

	return &Wrapper{
		name:     name,
		remote:   opts.Remote,
		fallback: opts.Fallback,
		breaker:  breaker,
		sem:      NewSemaphore(cfg.MaxInflight, cfg.GetAcquireTimeout()),
		cfg:      cfg,
		policy:   newRetryPolicy(cfg),
	}, nil
}

// Name returns the wrapped backend's name.
func (w *Wrapper) Name() string {
	return w.name
}

// State returns the circuit breaker's current state.
func (w *Wrapper) State() health.State {
	return w.breaker.State()
}

// Connect connects the fallback first, then the remote. When the
// remote is unreachable and fallback is enabled the wrapper starts
// degraded: operations are served locally until a health probe or a
// later Ping reconnects the remote.
func (w *Wrapper) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return backend.ErrClosed
	}
	if w.connected {
		return nil
	}

	if w.fallback != nil {
		if err := w.fallback.Connect(ctx); err != nil {
			return fmt.Errorf("resilience: fallback connect: %w", err)
		}
	}

	if err := w.withRetry(ctx, "connect", func(ctx context.Context) error {
		return w.connectRemote(ctx)
	}); err != nil {
		w.breaker.ReportFailure(err)
		w.observeTrip()
		if !w.fallbackReady() {
			return err
		}
		logger().Warn().
			Str("backend", w.name).
			Err(err).
			Msg("remote unavailable, starting degraded")
	}

	w.connected = true
	return nil
}

// connectRemote performs a raw connection attempt, bypassing the
// breaker so probes can reach a remote behind an open circuit.
func (w *Wrapper) connectRemote(ctx context.Context) error {
	w.connectMu.Lock()
	defer w.connectMu.Unlock()
	if w.closing.Load() {
		return backend.ErrClosed
	}
	if w.remoteUp.Load() {
		return nil
	}
	if err := w.remote.Connect(ctx); err != nil {
		return err
	}
	w.remoteUp.Store(true)
	logger().Info().Str("backend", w.name).Msg("remote backend connected")
	return nil
}

func (w *Wrapper) ready() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	switch {
	case w.closed:
		return backend.ErrClosed
	case !w.connected:
		return backend.ErrNotConnected
	}
	return nil
}

func (w *Wrapper) fallbackReady() bool {
	return w.fallback != nil && w.cfg.FallbackEnabled()
}

// shouldFallback reports whether a failed remote operation may be
// served locally. Misses, canceled contexts, and data errors are the
// caller's answer and never trigger fallback.
func (w *Wrapper) shouldFallback(err error) bool {
	return errors.Is(err, health.ErrCircuitOpen) ||
		errors.Is(err, backend.ErrNotConnected) ||
		health.CountsAsFailure(err)
}

// attempt runs one logical operation against the remote: a single
// breaker verdict covering every retry. An open circuit rejects the
// call before any network activity.
func (w *Wrapper) attempt(ctx context.Context, op string, fn func(context.Context) error) error {
	done, err := w.breaker.Allow()
	if err != nil {
		w.shortCircuits.Add(1)
		w.observeTrip()
		return err
	}

	if !w.remoteUp.Load() {
		done(errRemoteDown)
		w.observeTrip()
		w.connErrs.Add(1)
		return errRemoteDown
	}

	err = w.withRetry(ctx, op, func(ctx context.Context) error {
		release, aerr := w.sem.Acquire(ctx)
		if aerr != nil {
			return aerr
		}
		defer release()
		return fn(ctx)
	})
	done(err)
	w.observeTrip()
	if health.CountsAsFailure(err) {
		w.connErrs.Add(1)
	}
	return err
}

// withRetry runs fn up to the configured attempt count, sleeping the
// backoff between tries. Only transient errors are retried.
func (w *Wrapper) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for attemptNum := 1; ; attemptNum++ {
		err = fn(ctx)
		if err == nil || !retryable(err) || attemptNum >= w.policy.attempts {
			return err
		}
		delay := w.policy.backoff(attemptNum)
		w.retries.Add(1)
		logger().Debug().
			Str("backend", w.name).
			Str("op", op).
			Int("attempt", attemptNum).
			Dur("backoff", delay).
			Err(err).
			Msg("retrying after transient failure")
		if serr := sleep(ctx, delay); serr != nil {
			return serr
		}
	}
}

// execute runs primary against the remote and, when it fails in a way
// fallback can absorb, serves the operation from the local backend.
func (w *Wrapper) execute(ctx context.Context, op string, primary, fallback func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.ready(); err != nil {
		return err
	}
	err := w.attempt(ctx, op, primary)
	if err == nil || !w.shouldFallback(err) {
		return err
	}
	if !w.fallbackReady() {
		return err
	}
	w.fallbackHits.Add(1)
	logger().Debug().
		Str("backend", w.name).
		Str("op", op).
		Err(err).
		Msg("serving from fallback")
	return fallback(ctx)
}

// observeTrip counts closed-to-open transitions by watching the state
// across operations.
func (w *Wrapper) observeTrip() {
	st := w.breaker.State()
	prev := health.State(w.lastState.Swap(int32(st)))
	if st == health.StateOpen && prev != health.StateOpen {
		w.trips.Add(1)
		logger().Warn().
			Str("backend", w.name).
			Uint64("trips", w.trips.Load()).
			Msg("circuit breaker tripped")
	}
}

// Get retrieves a value, reading from the fallback while the remote
// is unavailable. A miss is returned as backend.ErrNotFound and never
// triggers fallback.
func (w *Wrapper) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := w.execute(ctx, "get",
		func(ctx context.Context) error {
			v, err := w.remote.Get(ctx, key)
			if err != nil {
				return err
			}
			value = v
			return nil
		},
		func(ctx context.Context) error {
			v, err := w.fallback.Get(ctx, key)
			if err != nil {
				return err
			}
			value = v
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set stores a value without expiry.
func (w *Wrapper) Set(ctx context.Context, key string, value []byte) error {
	return w.SetWithTTL(ctx, key, value, backend.NoTTL)
}

// SetWithTTL stores a value, writing to the fallback while the remote
// is unavailable so reads during the outage stay coherent.
func (w *Wrapper) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return w.execute(ctx, "set",
		func(ctx context.Context) error {
			return w.remote.SetWithTTL(ctx, key, value, ttl)
		},
		func(ctx context.Context) error {
			return w.fallback.SetWithTTL(ctx, key, value, ttl)
		},
	)
}

// Delete removes a key from the remote. The fallback copy is removed
// as well so a later outage cannot resurrect deleted data.
func (w *Wrapper) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.ready(); err != nil {
		return err
	}
	if w.fallback != nil {
		if err := w.fallback.Delete(ctx, key); err != nil {
			logger().Warn().
				Str("backend", w.name).
				Err(err).
				Msg("fallback delete failed")
		}
	}
	err := w.attempt(ctx, "delete", func(ctx context.Context) error {
		return w.remote.Delete(ctx, key)
	})
	if err == nil || !w.shouldFallback(err) {
		return err
	}
	if !w.fallbackReady() {
		return err
	}
	w.fallbackHits.Add(1)
	return nil
}

// Exists reports key presence, consulting the fallback while the
// remote is unavailable.
func (w *Wrapper) Exists(ctx context.Context, key string) (bool, error) {
	var found bool
	err := w.execute(ctx, "exists",
		func(ctx context.Context) error {
			ok, err := w.remote.Exists(ctx, key)
			if err != nil {
				return err
			}
			found = ok
			return nil
		},
		func(ctx context.Context) error {
			ok, err := w.fallback.Exists(ctx, key)
			if err != nil {
				return err
			}
			found = ok
			return nil
		},
	)
	if err != nil {
		return false, err
	}
	return found, nil
}

// Clear empties both the remote and the fallback.
func (w *Wrapper) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.ready(); err != nil {
		return err
	}
	if w.fallback != nil {
		if err := w.fallback.Clear(ctx); err != nil {
			logger().Warn().
				Str("backend", w.name).
				Err(err).
				Msg("fallback clear failed")
		}
	}
	err := w.attempt(ctx, "clear", func(ctx context.Context) error {
		return w.remote.Clear(ctx)
	})
	if err == nil || !w.shouldFallback(err) {
		return err
	}
	if !w.fallbackReady() {
		return err
	}
	w.fallbackHits.Add(1)
	return nil
}

// Ping verifies the remote, reconnecting it first when a startup
// failure left the wrapper degraded. Health probes drive recovery
// through this method.
func (w *Wrapper) Ping(ctx context.Context) error {
	if err := w.ready(); err != nil {
		return err
	}
	if !w.remoteUp.Load() {
		return w.connectRemote(ctx)
	}
	if p, ok := w.remote.(backend.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Stats returns the remote's counters overlaid with the wrapper's
// resilience counters. Calls rejected by the open circuit count as
// errors. Fallback hits count operations served locally; the fallback
// backend's own counters are not merged.
func (w *Wrapper) Stats() backend.Stats {
	st := w.remote.Stats()
	st.CircuitState = w.breaker.State().String()
	st.CircuitTrips += w.trips.Load()
	st.Retries += w.retries.Load()
	st.FallbackHits += w.fallbackHits.Load()
	st.ConnectionErrors += w.connErrs.Load()
	st.Errors += w.shortCircuits.Load()
	return st
}

// ResetStats zeroes the wrapper's counters and those of the remote
// and fallback when they support resetting.
func (w *Wrapper) ResetStats() {
	w.retries.Store(0)
	w.fallbackHits.Store(0)
	w.shortCircuits.Store(0)
	w.connErrs.Store(0)
	w.trips.Store(0)
	if r, ok := w.remote.(backend.StatsResetter); ok {
		r.ResetStats()
	}
	if w.fallback != nil {
		if r, ok := w.fallback.(backend.StatsResetter); ok {
			r.ResetStats()
		}
	}
}

// SemaphoreStats returns a snapshot of the concurrency limiter.
func (w *Wrapper) SemaphoreStats() SemaphoreStats {
	return w.sem.Stats()
}

// Close releases the remote and the fallback. Close is idempotent.
func (w *Wrapper) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.connected = false
	w.closing.Store(true)
	w.mu.Unlock()

	// Wait out any in-flight reconnect so remoteUp is settled.
	w.connectMu.Lock()
	defer w.connectMu.Unlock()

	var errs []error
	if w.remoteUp.Load() {
		if err := w.remote.Close(); err != nil {
			errs = append(errs, fmt.Errorf("resilience: remote close: %w", err))
		}
		w.remoteUp.Store(false)
	}
	if w.fallback != nil {
		if err := w.fallback.Close(); err != nil {
			errs = append(errs, fmt.Errorf("resilience: fallback close: %w", err))
		}
	}
	return errors.Join(errs...)
}

var (
	_ backend.Backend       = (*Wrapper)(nil)
	_ backend.Pinger        = (*Wrapper)(nil)
	_ backend.StatsResetter = (*Wrapper)(nil)
)
