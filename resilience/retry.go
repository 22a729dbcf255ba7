package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cachetier/cachetier/backend"
)

// retryPolicy computes exponential backoff delays between attempts.
type retryPolicy struct {
	attempts   int
	base       time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64
}

func newRetryPolicy(cfg *Config) retryPolicy {
	return retryPolicy{
		attempts:   cfg.GetRetryAttempts(),
		base:       cfg.GetRetryBackoffBase(),
		max:        cfg.GetRetryBackoffMax(),
		multiplier: cfg.GetRetryMultiplier(),
		jitter:     cfg.GetRetryJitter(),
	}
}

// backoff returns the sleep before the given retry, 1-based: the first
// retry sleeps base, the second base*multiplier, and so on, capped at
// max. Jitter spreads the result over a band of ±(jitter/2) around the
// computed value so synchronized callers do not retry in lockstep.
func (p retryPolicy) backoff(retryNum int) time.Duration {
	d := float64(p.base) * math.Pow(p.multiplier, float64(retryNum-1))
	if d > float64(p.max) {
		d = float64(p.max)
	}
	if p.jitter > 0 {
		band := d * p.jitter
		d = d - band/2 + rand.Float64()*band
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// retryable reports whether a failed attempt should be retried.
// Permanent errors such as malformed payloads, misses, and canceled
// contexts propagate immediately.
func retryable(err error) bool {
	return backend.IsTransient(err)
}

// sleep waits out the backoff delay, returning early with the context
// error if the caller gives up.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
