package resilience

import (
	"fmt"
	"time"

	"github.com/cachetier/cachetier/health"
)

// Default resilience settings. Retries back off exponentially from
// 100ms, doubling each attempt up to 2s, with a ±10% jitter band.
const (
	DefaultRetryAttempts    = 3
	DefaultRetryBackoffBase = 100 * time.Millisecond
	DefaultRetryBackoffMax  = 2 * time.Second
	DefaultRetryMultiplier  = 2.0
	DefaultRetryJitter      = 0.2
	DefaultAcquireTimeout   = 1 * time.Second
)

// Config controls retries, the circuit breaker, fallback, and the
// concurrency limit for one wrapped backend.
type Config struct {
	// RetryAttempts is the total number of attempts per operation,
	// including the first. 1 disables retries.
	RetryAttempts int `yaml:"retry_attempts" toml:"retry_attempts"`

	// RetryBackoffBase is the sleep before the first retry. Each
	// subsequent retry multiplies it by RetryMultiplier.
	RetryBackoffBase time.Duration `yaml:"retry_backoff_base" toml:"retry_backoff_base"`

	// RetryBackoffMax caps the computed backoff.
	RetryBackoffMax time.Duration `yaml:"retry_backoff_max" toml:"retry_backoff_max"`

	// RetryMultiplier is the exponential growth factor. Must be >= 1.
	RetryMultiplier float64 `yaml:"retry_multiplier" toml:"retry_multiplier"`

	// RetryJitter widens each backoff into a randomized band of
	// ±(jitter/2) around the computed value. 0 disables jitter,
	// values are clamped to [0, 1].
	RetryJitter float64 `yaml:"retry_jitter" toml:"retry_jitter"`

	// CircuitBreakerThreshold is the consecutive failure count that
	// opens the circuit.
	CircuitBreakerThreshold int `yaml:"circuit_breaker_threshold" toml:"circuit_breaker_threshold"`

	// CircuitBreakerTimeout is how long the circuit stays open before
	// moving to half-open.
	CircuitBreakerTimeout time.Duration `yaml:"circuit_breaker_timeout" toml:"circuit_breaker_timeout"`

	// HalfOpenMaxCalls bounds the trial calls allowed through a
	// half-open circuit.
	HalfOpenMaxCalls int `yaml:"half_open_max_calls" toml:"half_open_max_calls"`

	// EnableFallback routes operations to the local fallback backend
	// when the remote is unavailable. Defaults to true.
	EnableFallback *bool `yaml:"enable_fallback" toml:"enable_fallback"`

	// MaxInflight bounds in-flight remote operations. 0 or negative
	// means unlimited.
	MaxInflight int `yaml:"max_inflight" toml:"max_inflight"`

	// AcquireTimeout is how long an operation waits for a concurrency
	// slot before failing with ErrPoolExhausted.
	AcquireTimeout time.Duration `yaml:"acquire_timeout" toml:"acquire_timeout"`
}

// DefaultConfig returns a Config with retries, breaker, and fallback
// at their defaults and no concurrency limit.
func DefaultConfig() *Config {
	return &Config{
		RetryAttempts:    DefaultRetryAttempts,
		RetryBackoffBase: DefaultRetryBackoffBase,
		RetryBackoffMax:  DefaultRetryBackoffMax,
		RetryMultiplier:  DefaultRetryMultiplier,
		RetryJitter:      DefaultRetryJitter,
	}
}

// GetRetryAttempts returns the attempt count, falling back to the
// default when unset.
func (c *Config) GetRetryAttempts() int {
	if c.RetryAttempts <= 0 {
		return DefaultRetryAttempts
	}
	return c.RetryAttempts
}

// GetRetryBackoffBase returns the base backoff, falling back to the
// default when unset.
func (c *Config) GetRetryBackoffBase() time.Duration {
	if c.RetryBackoffBase <= 0 {
		return DefaultRetryBackoffBase
	}
	return c.RetryBackoffBase
}

// GetRetryBackoffMax returns the backoff cap, falling back to the
// default when unset.
func (c *Config) GetRetryBackoffMax() time.Duration {
	if c.RetryBackoffMax <= 0 {
		return DefaultRetryBackoffMax
	}
	return c.RetryBackoffMax
}

// GetRetryMultiplier returns the growth factor, falling back to the
// default when unset.
func (c *Config) GetRetryMultiplier() float64 {
	if c.RetryMultiplier < 1 {
		return DefaultRetryMultiplier
	}
	return c.RetryMultiplier
}

// GetRetryJitter returns the jitter fraction clamped to [0, 1].
func (c *Config) GetRetryJitter() float64 {
	if c.RetryJitter < 0 {
		return 0
	}
	if c.RetryJitter > 1 {
		return 1
	}
	return c.RetryJitter
}

// GetAcquireTimeout returns the slot acquire timeout, falling back to
// the default when unset.
func (c *Config) GetAcquireTimeout() time.Duration {
	if c.AcquireTimeout <= 0 {
		return DefaultAcquireTimeout
	}
	return c.AcquireTimeout
}

// FallbackEnabled reports whether failed operations may be served by
// the local fallback backend. Defaults to true when unset.
func (c *Config) FallbackEnabled() bool {
	if c.EnableFallback == nil {
		return true
	}
	return *c.EnableFallback
}

// circuitConfig maps the breaker settings onto the health package's
// configuration, leaving unset fields to its defaults.
func (c *Config) circuitConfig() health.CircuitBreakerConfig {
	return health.CircuitBreakerConfig{
		FailureThreshold: c.CircuitBreakerThreshold,
		OpenDurationMS:   int(c.CircuitBreakerTimeout.Milliseconds()),
		HalfOpenProbes:   c.HalfOpenMaxCalls,
	}
}

// Validate checks the configuration for values that cannot be
// defaulted away.
func (c *Config) Validate() error {
	if c.RetryBackoffBase < 0 {
		return fmt.Errorf("resilience: retry_backoff_base must not be negative, got %s", c.RetryBackoffBase)
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("resilience: retry_backoff_max must not be negative, got %s", c.RetryBackoffMax)
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoffBase > c.RetryBackoffMax {
		return fmt.Errorf("resilience: retry_backoff_base %s exceeds retry_backoff_max %s", c.RetryBackoffBase, c.RetryBackoffMax)
	}
	if c.RetryMultiplier != 0 && c.RetryMultiplier < 1 {
		return fmt.Errorf("resilience: retry_multiplier must be at least 1, got %g", c.RetryMultiplier)
	}
	if c.RetryJitter < 0 || c.RetryJitter > 1 {
		return fmt.Errorf("resilience: retry_jitter must be within [0, 1], got %g", c.RetryJitter)
	}
	if c.CircuitBreakerTimeout < 0 {
		return fmt.Errorf("resilience: circuit_breaker_timeout must not be negative, got %s", c.CircuitBreakerTimeout)
	}
	return nil
}
