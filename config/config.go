// Package config provides configuration loading, validation, and
// hot-reload for cachetier.
package config

import (
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/mo"

	"github.com/cachetier/cachetier/backend"
	"github.com/cachetier/cachetier/health"
	"github.com/cachetier/cachetier/resilience"
	"github.com/cachetier/cachetier/strategy"
)

// RuntimeConfig is the read side of a hot-reloadable configuration.
// Components that must observe config changes hold this interface
// instead of a *Config pointer, which would go stale after a reload.
type RuntimeConfig interface {
	Get() *Config
}

// Log level constants.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Config is the complete cachetier configuration.
type Config struct {
	// Caches lists the backend registrations the manager is built
	// from.
	Caches []CacheConfig `yaml:"caches" toml:"caches"`

	// Default names the registration that serves operations routed
	// without an explicit backend. Empty means the first cache listed.
	Default string `yaml:"default" toml:"default"`

	Logging LoggingConfig `yaml:"logging" toml:"logging"`
	Health  health.Config `yaml:"health" toml:"health"`
}

// DefaultConfig returns a single local LRU cache with info logging, the
// smallest configuration that runs.
func DefaultConfig() *Config {
	return &Config{
		Caches: []CacheConfig{
			{
				Name:    "default",
				Backend: *backend.DefaultConfig(),
				Strategy: &strategy.Config{
					Policy: strategy.PolicyLRU,
					LRU:    strategy.LRUConfig{MaxEntries: strategy.DefaultMaxEntries},
				},
			},
		},
		Logging: LoggingConfig{Level: LevelInfo, Format: "json"},
	}
}

// GetDefaultName returns the default registration name, falling back
// to the first cache listed.
func (c *Config) GetDefaultName() string {
	if c.Default != "" {
		return c.Default
	}
	if len(c.Caches) > 0 {
		return c.Caches[0].Name
	}
	return ""
}

// CacheConfig describes one named registration: a backend, an optional
// eviction strategy, and optional resilience hardening for remote
// tiers.
type CacheConfig struct {
	// Name identifies the registration in routing, stats, and logs.
	Name string `yaml:"name" toml:"name"`

	// Backend selects and configures the storage tier.
	Backend backend.Config `yaml:"backend" toml:"backend"`

	// Strategy layers an eviction policy over the backend. Nil means
	// the backend's own behavior applies.
	Strategy *strategy.Config `yaml:"strategy" toml:"strategy"`

	// Resilience wraps the backend with retry, circuit breaker, and
	// fallback machinery. Nil leaves the backend bare; remote tiers
	// normally set it.
	Resilience *resilience.Config `yaml:"resilience" toml:"resilience"`

	// Fallback configures the local backend that serves operations
	// while the wrapped backend is unavailable. Consulted only when
	// Resilience is set with fallback enabled; nil then means a default
	// local backend.
	Fallback *backend.Config `yaml:"fallback" toml:"fallback"`
}

// Resilient reports whether this registration is wrapped.
func (c *CacheConfig) Resilient() bool {
	return c.Resilience != nil
}

// GetFallbackOption returns the fallback backend configuration as an
// Option: the explicit one, the default local backend when resilience
// is enabled with fallback on, or None when no fallback applies.
func (c *CacheConfig) GetFallbackOption() mo.Option[*backend.Config] {
	if c.Resilience == nil || !c.Resilience.FallbackEnabled() {
		return mo.None[*backend.Config]()
	}
	if c.Fallback != nil {
		return mo.Some(c.Fallback)
	}
	return mo.Some(backend.DefaultConfig())
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string `yaml:"level" toml:"level"`

	// Format is json, console, or pretty. Console auto-detects a
	// terminal; pretty forces colored output.
	Format string `yaml:"format" toml:"format"`

	// Output is stdout, stderr, or a file path. Empty means stdout.
	Output string `yaml:"output" toml:"output"`

	// Pretty forces colored console output regardless of Format.
	Pretty bool `yaml:"pretty" toml:"pretty"`
}

// ParseLevel converts the configured level to a zerolog.Level,
// defaulting to info for anything unrecognized.
func (l *LoggingConfig) ParseLevel() zerolog.Level {
	switch strings.ToLower(l.Level) {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
