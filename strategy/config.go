package strategy

import (
	"errors"
	"fmt"
	"time"

	"github.com/cachetier/cachetier/backend"
)

// Defaults applied when a config field is left zero.
const (
	DefaultMaxEntries    = 1000
	DefaultSweepInterval = time.Minute
	DefaultSweepRate     = 1000
	DefaultAgingFactor   = 1.0
	DefaultAgingInterval = time.Minute
)

// Config selects a policy and carries its settings. Only the section
// matching Policy is consulted.
type Config struct {
	Policy Policy    `yaml:"policy" toml:"policy"`
	TTL    TTLConfig `yaml:"ttl" toml:"ttl"`
	LRU    LRUConfig `yaml:"lru" toml:"lru"`
	LFU    LFUConfig `yaml:"lfu" toml:"lfu"`
}

// DefaultConfig returns a passthrough configuration.
func DefaultConfig() *Config {
	return &Config{Policy: PolicyNone}
}

// Validate checks the policy and its matching section.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("strategy: nil config")
	}
	if err := c.Policy.Validate(); err != nil {
		return err
	}
	switch c.Policy {
	case PolicyTTL:
		return c.TTL.Validate()
	case PolicyLRU:
		return c.LRU.Validate()
	case PolicyLFU:
		return c.LFU.Validate()
	}
	return nil
}

// TTLConfig controls the ttl policy.
type TTLConfig struct {
	// DefaultTTL applies to writes that carry no TTL of their own.
	// Zero means such entries never expire.
	DefaultTTL time.Duration `yaml:"default_ttl" toml:"default_ttl"`

	// SweepInterval is how often the background sweep scans for
	// expired entries. Zero applies DefaultSweepInterval, negative
	// disables the sweep and leaves only lazy expiry on read.
	SweepInterval time.Duration `yaml:"cleanup_interval" toml:"cleanup_interval"`

	// SweepRate caps background deletions per second so a large
	// expired set cannot saturate the backend. Zero applies
	// DefaultSweepRate, negative removes the cap.
	SweepRate int `yaml:"cleanup_rate" toml:"cleanup_rate"`
}

// Validate checks the ttl settings.
func (c *TTLConfig) Validate() error {
	if c.DefaultTTL < 0 {
		return fmt.Errorf("strategy: ttl default_ttl must not be negative, got %s", c.DefaultTTL)
	}
	return nil
}

// GetSweepInterval returns SweepInterval or the default.
func (c *TTLConfig) GetSweepInterval() time.Duration {
	if c.SweepInterval == 0 {
		return DefaultSweepInterval
	}
	return c.SweepInterval
}

// GetSweepRate returns SweepRate or the default.
func (c *TTLConfig) GetSweepRate() int {
	if c.SweepRate == 0 {
		return DefaultSweepRate
	}
	return c.SweepRate
}

// LRUConfig controls the lru policy.
type LRUConfig struct {
	// MaxEntries bounds the number of tracked entries. Zero applies
	// DefaultMaxEntries.
	MaxEntries int `yaml:"max_size" toml:"max_size"`

	// DefaultTTL applies to writes that carry no TTL of their own.
	// Zero means such entries never expire.
	DefaultTTL time.Duration `yaml:"default_ttl" toml:"default_ttl"`
}

// Validate checks the lru settings.
func (c *LRUConfig) Validate() error {
	if c.MaxEntries < 0 {
		return fmt.Errorf("strategy: lru max_size must not be negative, got %d", c.MaxEntries)
	}
	if c.DefaultTTL < 0 {
		return fmt.Errorf("strategy: lru default_ttl must not be negative, got %s", c.DefaultTTL)
	}
	return nil
}

// GetMaxEntries returns MaxEntries or the default.
func (c *LRUConfig) GetMaxEntries() int {
	if c.MaxEntries == 0 {
		return DefaultMaxEntries
	}
	return c.MaxEntries
}

// LFUConfig controls the lfu policy.
type LFUConfig struct {
	// MaxEntries bounds the number of tracked entries. Zero applies
	// DefaultMaxEntries.
	MaxEntries int `yaml:"max_size" toml:"max_size"`

	// DefaultTTL applies to writes that carry no TTL of their own.
	// Zero means such entries never expire.
	DefaultTTL time.Duration `yaml:"default_ttl" toml:"default_ttl"`

	// AgingFactor is multiplied into every frequency on each aging
	// pass so stale popularity decays. Must be in (0, 1]. Zero applies
	// DefaultAgingFactor, which disables decay.
	AgingFactor float64 `yaml:"aging_factor" toml:"aging_factor"`

	// AgingInterval is how often the aging pass runs. Zero applies
	// DefaultAgingInterval, negative disables the pass.
	AgingInterval time.Duration `yaml:"aging_interval" toml:"aging_interval"`
}

// Validate checks the lfu settings.
func (c *LFUConfig) Validate() error {
	if c.MaxEntries < 0 {
		return fmt.Errorf("strategy: lfu max_size must not be negative, got %d", c.MaxEntries)
	}
	if c.DefaultTTL < 0 {
		return fmt.Errorf("strategy: lfu default_ttl must not be negative, got %s", c.DefaultTTL)
	}
	if c.AgingFactor < 0 || c.AgingFactor > 1 {
		return fmt.Errorf("strategy: lfu aging_factor must be in (0, 1], got %g", c.AgingFactor)
	}
	return nil
}

// GetMaxEntries returns MaxEntries or the default.
func (c *LFUConfig) GetMaxEntries() int {
	if c.MaxEntries == 0 {
		return DefaultMaxEntries
	}
	return c.MaxEntries
}

// GetAgingFactor returns AgingFactor or the default.
func (c *LFUConfig) GetAgingFactor() float64 {
	if c.AgingFactor == 0 {
		return DefaultAgingFactor
	}
	return c.AgingFactor
}

// GetAgingInterval returns AgingInterval or the default.
func (c *LFUConfig) GetAgingInterval() time.Duration {
	if c.AgingInterval == 0 {
		return DefaultAgingInterval
	}
	return c.AgingInterval
}

func (c *LFUConfig) agingEnabled() bool {
	return c.GetAgingFactor() < 1 && c.GetAgingInterval() > 0
}

// resolveTTL maps a per-write TTL to an effective duration, where zero
// means the entry never expires. backend.NoTTL always wins over the
// configured default.
func resolveTTL(ttl, defaultTTL time.Duration) time.Duration {
	switch {
	case ttl > 0:
		return ttl
	case ttl == backend.DefaultTTL && defaultTTL > 0:
		return defaultTTL
	default:
		return 0
	}
}

// innerTTL converts an effective duration to the TTL handed to the
// wrapped backend, so server-side expiry stays aligned with strategy
// metadata.
func innerTTL(effective time.Duration) time.Duration {
	if effective > 0 {
		return effective
	}
	return backend.NoTTL
}

// expireAt converts an effective duration to a deadline. The zero time
// means the entry never expires.
func expireAt(now time.Time, effective time.Duration) time.Time {
	if effective > 0 {
		return now.Add(effective)
	}
	return time.Time{}
}

func isExpired(deadline, now time.Time) bool {
	return !deadline.IsZero() && now.After(deadline)
}
