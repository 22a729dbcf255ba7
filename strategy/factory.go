package strategy

import (
	"time"

	"github.com/cachetier/cachetier/backend"
)

// New builds the strategy selected by cfg around inner. A nil cfg
// yields a passthrough.
func New(inner backend.Backend, cfg *Config) (Strategy, error) {
	start := time.Now()
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		logger().Error().Err(err).Str("policy", string(cfg.Policy)).Msg("invalid strategy config")
		return nil, err
	}

	var (
		st  Strategy
		err error
	)
	switch cfg.Policy {
	case PolicyNone:
		st = NewPassthrough(inner)
	case PolicyTTL:
		st, err = NewTTL(inner, cfg.TTL)
	case PolicyLRU:
		st, err = NewLRU(inner, cfg.LRU)
	case PolicyLFU:
		st, err = NewLFU(inner, cfg.LFU)
	default:
		return nil, errInvalidPolicy(cfg.Policy)
	}
	if err != nil {
		return nil, err
	}

	logger().Debug().
		Str("policy", string(cfg.Policy)).
		Dur("init_time", time.Since(start)).
		Msg("strategy created")
	return st, nil
}
