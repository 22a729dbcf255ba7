package config

import (
	"strings"
	"testing"

	"github.com/cachetier/cachetier/backend"
	"github.com/cachetier/cachetier/resilience"
	"github.com/cachetier/cachetier/strategy"
)

func configWithCache(cc CacheConfig) *Config {
	return &Config{Caches: []CacheConfig{cc}}
}

func localCache(name string) CacheConfig {
	return CacheConfig{
		Name:    name,
		Backend: backend.Config{Kind: backend.KindLocal},
	}
}

func TestValidateValidMinimalConfig(t *testing.T) {
	t.Parallel()

	cfg := configWithCache(localCache("default"))

	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got error: %v", err)
	}
}

func TestValidateValidFullConfig(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Caches: []CacheConfig{
			{
				Name: "sessions",
				Backend: backend.Config{
					Kind:  backend.KindRedis,
					Redis: backend.RedisConfig{Address: "127.0.0.1:6379"},
				},
				Strategy: &strategy.Config{
					Policy: strategy.PolicyLRU,
					LRU:    strategy.LRUConfig{MaxEntries: 1000},
				},
				Resilience: &resilience.Config{RetryAttempts: 3},
				Fallback:   &backend.Config{Kind: backend.KindLocal},
			},
			localCache("catalog"),
		},
		Default: "sessions",
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got error: %v", err)
	}
}

func TestValidateEmptyConfig(t *testing.T) {
	t.Parallel()

	cfg := &Config{}

	// No caches is valid: the manager is built empty and registrations
	// can be added programmatically.
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got error: %v", err)
	}
}

func TestValidateMissingCacheName(t *testing.T) {
	t.Parallel()

	cfg := configWithCache(CacheConfig{
		Backend: backend.Config{Kind: backend.KindLocal},
	})

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected error for missing cache name")
	}

	if !strings.Contains(err.Error(), "caches[0].name is required") {
		t.Errorf("Expected 'caches[0].name is required' error, got: %v", err)
	}
}

func TestValidateDuplicateCacheNames(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Caches: []CacheConfig{localCache("dup"), localCache("dup")},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected error for duplicate cache names")
	}

	if !strings.Contains(err.Error(), "duplicate cache name: dup") {
		t.Errorf("Expected duplicate name error, got: %v", err)
	}
}

func TestValidateInvalidBackendKind(t *testing.T) {
	t.Parallel()

	cfg := configWithCache(CacheConfig{
		Name:    "bad",
		Backend: backend.Config{Kind: "memcached"},
	})

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected error for invalid backend kind")
	}

	if !strings.Contains(err.Error(), "cache[bad].backend") {
		t.Errorf("Expected error scoped to cache[bad].backend, got: %v", err)
	}
}

func TestValidateRedisWithoutAddress(t *testing.T) {
	t.Parallel()

	cfg := configWithCache(CacheConfig{
		Name:    "sessions",
		Backend: backend.Config{Kind: backend.KindRedis},
	})

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected error for redis backend without address")
	}

	if !strings.Contains(err.Error(), "redis address is required") {
		t.Errorf("Expected redis address error, got: %v", err)
	}
}

func TestValidateInvalidStrategy(t *testing.T) {
	t.Parallel()

	cc := localCache("sessions")
	cc.Strategy = &strategy.Config{Policy: "mru"}
	cfg := configWithCache(cc)

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected error for invalid strategy policy")
	}

	if !strings.Contains(err.Error(), "cache[sessions].strategy") {
		t.Errorf("Expected error scoped to cache[sessions].strategy, got: %v", err)
	}
}

func TestValidateInvalidResilience(t *testing.T) {
	t.Parallel()

	cc := localCache("sessions")
	cc.Resilience = &resilience.Config{RetryJitter: 2.0}
	cfg := configWithCache(cc)

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected error for invalid resilience settings")
	}

	if !strings.Contains(err.Error(), "cache[sessions].resilience") {
		t.Errorf("Expected error scoped to cache[sessions].resilience, got: %v", err)
	}
}

func TestValidateFallbackRequiresResilience(t *testing.T) {
	t.Parallel()

	cc := localCache("sessions")
	cc.Fallback = &backend.Config{Kind: backend.KindLocal}
	cfg := configWithCache(cc)

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected error for fallback without resilience")
	}

	if !strings.Contains(err.Error(), "cache[sessions].fallback requires a resilience section") {
		t.Errorf("Expected fallback-requires-resilience error, got: %v", err)
	}
}

func TestValidateDefaultNamesUnknownCache(t *testing.T) {
	t.Parallel()

	cfg := configWithCache(localCache("only"))
	cfg.Default = "ghost"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected error for default naming unknown cache")
	}

	if !strings.Contains(err.Error(), `default names unknown cache "ghost"`) {
		t.Errorf("Expected unknown default error, got: %v", err)
	}
}

func TestValidateInvalidLogLevel(t *testing.T) {
	t.Parallel()

	cfg := configWithCache(localCache("default"))
	cfg.Logging.Level = "verbose"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected error for invalid log level")
	}

	if !strings.Contains(err.Error(), "logging.level is invalid") {
		t.Errorf("Expected log level error, got: %v", err)
	}
}

func TestValidateInvalidLogFormat(t *testing.T) {
	t.Parallel()

	cfg := configWithCache(localCache("default"))
	cfg.Logging.Format = "xml"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected error for invalid log format")
	}

	if !strings.Contains(err.Error(), "logging.format is invalid") {
		t.Errorf("Expected log format error, got: %v", err)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Caches: []CacheConfig{
			{Backend: backend.Config{Kind: "memcached"}},
			localCache("ok"),
		},
		Default: "ghost",
		Logging: LoggingConfig{Level: "verbose"},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected errors")
	}

	var verr *ValidationError
	ok := false
	if verr, ok = err.(*ValidationError); !ok {
		t.Fatalf("Expected *ValidationError, got %T", err)
	}

	// Missing name, invalid kind, unknown default, invalid level.
	if len(verr.Errors) != 4 {
		t.Errorf("Expected 4 collected errors, got %d: %v", len(verr.Errors), verr.Errors)
	}

	if !strings.Contains(err.Error(), "config validation failed with 4 errors") {
		t.Errorf("Expected aggregated message, got: %v", err)
	}
}

func TestValidationErrorMessages(t *testing.T) {
	t.Parallel()

	empty := &ValidationError{}
	if empty.Error() != "config validation failed" {
		t.Errorf("Unexpected empty message: %s", empty.Error())
	}
	if empty.HasErrors() {
		t.Error("Empty ValidationError should report no errors")
	}
	if empty.ToError() != nil {
		t.Error("Empty ValidationError should convert to nil")
	}

	single := &ValidationError{}
	single.Add("something broke")
	if single.Error() != "config validation failed: something broke" {
		t.Errorf("Unexpected single message: %s", single.Error())
	}

	multi := &ValidationError{}
	multi.Add("first")
	multi.Addf("second %d", 2)
	if !strings.Contains(multi.Error(), "2 errors") {
		t.Errorf("Expected error count in message, got: %s", multi.Error())
	}
	if !strings.Contains(multi.Error(), "second 2") {
		t.Errorf("Expected formatted message, got: %s", multi.Error())
	}
}
