package backend

import (
	"fmt"
	"time"
)

// Kind selects the backend implementation.
type Kind string

const (
	// KindLocal is a sharded in-process map.
	KindLocal Kind = "local"
	// KindRedis is a remote Redis server over a connection pool.
	KindRedis Kind = "redis"
	// KindRistretto is a local cost-based cache.
	KindRistretto Kind = "ristretto"
	// KindOlric is a distributed cache, embedded or client mode.
	KindOlric Kind = "olric"
	// KindNoop disables caching entirely.
	KindNoop Kind = "noop"
)

// Validate returns an error if the kind is not recognized.
func (k Kind) Validate() error {
	switch k {
	case KindLocal, KindRedis, KindRistretto, KindOlric, KindNoop:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidKind, k)
	}
}

// Default values applied when a config field is zero.
const (
	DefaultShardCount = 16

	DefaultMaxConnections      = 10
	DefaultSocketTimeout       = 3 * time.Second
	DefaultPoolTimeout         = 4 * time.Second
	DefaultHealthCheckInterval = 30 * time.Second

	DefaultNumCounters = 1e7     // 10M counters tracks ~1M items
	DefaultMaxCost     = 1 << 30 // 1GB
	DefaultBufferItems = 64

	DefaultDMapName = "cachetier"
	DefaultBindAddr = "0.0.0.0:3320"
)

// Config selects and configures a backend. Only the section matching
// Kind is consulted.
type Config struct {
	Kind      Kind            `yaml:"kind" toml:"kind"`
	Local     LocalConfig     `yaml:"local" toml:"local"`
	Redis     RedisConfig     `yaml:"redis" toml:"redis"`
	Ristretto RistrettoConfig `yaml:"ristretto" toml:"ristretto"`
	Olric     OlricConfig     `yaml:"olric" toml:"olric"`
}

// DefaultConfig returns a local backend configuration with default
// sharding.
func DefaultConfig() *Config {
	return &Config{
		Kind:  KindLocal,
		Local: LocalConfig{ShardCount: DefaultShardCount},
	}
}

// Validate checks the kind and the section it selects.
func (c *Config) Validate() error {
	if err := c.Kind.Validate(); err != nil {
		return err
	}
	switch c.Kind {
	case KindRedis:
		return c.Redis.Validate()
	case KindOlric:
		return c.Olric.Validate()
	default:
		return nil
	}
}

// LocalConfig configures the sharded in-process backend.
type LocalConfig struct {
	// ShardCount is the number of independently locked map shards.
	ShardCount int `yaml:"shard_count" toml:"shard_count"`
}

// GetShardCount returns the shard count, applying the default.
func (c *LocalConfig) GetShardCount() int {
	if c.ShardCount <= 0 {
		return DefaultShardCount
	}
	return c.ShardCount
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	// Address is the host:port of the Redis server. Required.
	Address  string `yaml:"address" toml:"address"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`

	// KeyPrefix is prepended to every key, namespacing this cache
	// within a shared Redis instance.
	KeyPrefix string `yaml:"key_prefix" toml:"key_prefix"`

	// MaxConnections bounds the connection pool.
	MaxConnections int `yaml:"max_connections" toml:"max_connections"`
	MinIdleConns   int `yaml:"min_idle_conns" toml:"min_idle_conns"`

	// SocketTimeout bounds dial, read, and write on a single
	// connection.
	SocketTimeout time.Duration `yaml:"socket_timeout" toml:"socket_timeout"`

	// PoolTimeout bounds the wait for a free pool slot when all
	// connections are busy.
	PoolTimeout time.Duration `yaml:"pool_timeout" toml:"pool_timeout"`

	// HealthCheckInterval paces the background liveness probe.
	// Zero applies the default; negative disables the probe.
	HealthCheckInterval time.Duration `yaml:"health_check_interval" toml:"health_check_interval"`
}

// Validate checks required fields.
func (c *RedisConfig) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("backend: redis address is required")
	}
	return nil
}

// GetMaxConnections returns the pool size, applying the default.
func (c *RedisConfig) GetMaxConnections() int {
	if c.MaxConnections <= 0 {
		return DefaultMaxConnections
	}
	return c.MaxConnections
}

// GetSocketTimeout returns the per-operation socket timeout, applying
// the default.
func (c *RedisConfig) GetSocketTimeout() time.Duration {
	if c.SocketTimeout <= 0 {
		return DefaultSocketTimeout
	}
	return c.SocketTimeout
}

// GetPoolTimeout returns the pool-wait timeout, applying the default.
func (c *RedisConfig) GetPoolTimeout() time.Duration {
	if c.PoolTimeout <= 0 {
		return DefaultPoolTimeout
	}
	return c.PoolTimeout
}

// GetHealthCheckInterval returns the probe interval, applying the
// default. Returns 0 when the probe is disabled.
func (c *RedisConfig) GetHealthCheckInterval() time.Duration {
	if c.HealthCheckInterval < 0 {
		return 0
	}
	if c.HealthCheckInterval == 0 {
		return DefaultHealthCheckInterval
	}
	return c.HealthCheckInterval
}

// RistrettoConfig configures the cost-based local backend.
type RistrettoConfig struct {
	// NumCounters is the number of keys to track frequency for.
	// Recommended: 10x the expected number of items.
	NumCounters int64 `yaml:"num_counters" toml:"num_counters"`

	// MaxCost is the total cost budget; entry cost is its byte length.
	MaxCost int64 `yaml:"max_cost" toml:"max_cost"`

	// BufferItems is the number of keys per Get buffer.
	BufferItems int64 `yaml:"buffer_items" toml:"buffer_items"`
}

// GetNumCounters returns the counter budget, applying the default.
func (c *RistrettoConfig) GetNumCounters() int64 {
	if c.NumCounters <= 0 {
		return DefaultNumCounters
	}
	return c.NumCounters
}

// GetMaxCost returns the cost budget, applying the default.
func (c *RistrettoConfig) GetMaxCost() int64 {
	if c.MaxCost <= 0 {
		return DefaultMaxCost
	}
	return c.MaxCost
}

// GetBufferItems returns the Get buffer size, applying the default.
func (c *RistrettoConfig) GetBufferItems() int64 {
	if c.BufferItems <= 0 {
		return DefaultBufferItems
	}
	return c.BufferItems
}

// OlricMode selects how the olric backend joins the cluster.
type OlricMode string

const (
	// OlricModeEmbedded runs an olric node inside this process.
	OlricModeEmbedded OlricMode = "embedded"
	// OlricModeClient connects to an external olric cluster.
	OlricModeClient OlricMode = "client"
)

// OlricConfig configures the distributed backend.
type OlricConfig struct {
	// Mode is embedded or client. Defaults to embedded.
	Mode OlricMode `yaml:"mode" toml:"mode"`

	// Addresses lists cluster members to connect to in client mode.
	Addresses []string `yaml:"addresses" toml:"addresses"`

	// Peers lists existing members an embedded node should join.
	Peers []string `yaml:"peers" toml:"peers"`

	// DMapName is the distributed map holding this cache's entries.
	DMapName string `yaml:"dmap_name" toml:"dmap_name"`

	// BindAddr is the host:port the embedded node listens on.
	BindAddr string `yaml:"bind_addr" toml:"bind_addr"`

	// Environment tunes memberlist gossip for the deployment: local,
	// lan, or wan. Defaults to local.
	Environment string `yaml:"environment" toml:"environment"`

	// MemberlistPort overrides the gossip port of the embedded node.
	MemberlistPort int `yaml:"memberlist_port" toml:"memberlist_port"`

	// ReplicaCount is the number of copies kept per entry. Zero leaves
	// olric's default in place.
	ReplicaCount int `yaml:"replica_count" toml:"replica_count"`

	// ReadQuorum and WriteQuorum are the member counts required for a
	// successful read or write.
	ReadQuorum  int `yaml:"read_quorum" toml:"read_quorum"`
	WriteQuorum int `yaml:"write_quorum" toml:"write_quorum"`

	// MemberCountQuorum is the minimum cluster size to stay
	// operational.
	MemberCountQuorum int32 `yaml:"member_count_quorum" toml:"member_count_quorum"`
}

// Validate checks mode-specific requirements.
func (c *OlricConfig) Validate() error {
	switch c.GetMode() {
	case OlricModeEmbedded:
		return nil
	case OlricModeClient:
		if len(c.Addresses) == 0 {
			return fmt.Errorf("backend: olric client mode requires at least one address")
		}
		return nil
	default:
		return fmt.Errorf("backend: invalid olric mode %q", c.Mode)
	}
}

// GetMode returns the cluster mode, applying the default.
func (c *OlricConfig) GetMode() OlricMode {
	if c.Mode == "" {
		return OlricModeEmbedded
	}
	return c.Mode
}

// GetDMapName returns the distributed map name, applying the default.
func (c *OlricConfig) GetDMapName() string {
	if c.DMapName == "" {
		return DefaultDMapName
	}
	return c.DMapName
}

// GetBindAddr returns the embedded bind address, applying the default.
func (c *OlricConfig) GetBindAddr() string {
	if c.BindAddr == "" {
		return DefaultBindAddr
	}
	return c.BindAddr
}

// GetEnvironment returns the memberlist environment, applying the
// default.
func (c *OlricConfig) GetEnvironment() string {
	if c.Environment == "" {
		return "local"
	}
	return c.Environment
}
