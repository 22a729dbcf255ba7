package backend

import (
	"fmt"
	"time"
)

// New creates a Backend from the configuration. It returns an error if
// the configuration is invalid; the backend performs no I/O until
// Connect is called.
//
// Example:
//
//	cfg := backend.Config{
//		Kind: backend.KindRistretto,
//		Ristretto: backend.RistrettoConfig{
//			NumCounters: 1e6,
//			MaxCost:     100 << 20, // 100 MB
//			BufferItems: 64,
//		},
//	}
//	b, err := backend.New(&cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
func New(cfg *Config) (Backend, error) {
	log := logger().With().Str("component", "backend_factory").Logger()
	start := time.Now()

	if err := cfg.Validate(); err != nil {
		log.Debug().Err(err).Str("kind", string(cfg.Kind)).Msg("backend factory: validation failed")
		return nil, err
	}

	var b Backend
	var err error

	switch cfg.Kind {
	case KindLocal:
		b = NewLocal(&cfg.Local)
	case KindRedis:
		b, err = NewRedis(&cfg.Redis)
	case KindRistretto:
		b = NewRistretto(&cfg.Ristretto)
	case KindOlric:
		b, err = NewOlric(&cfg.Olric)
	case KindNoop:
		b = NewNoop()
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, cfg.Kind)
	}

	if err != nil {
		log.Error().Err(err).Str("kind", string(cfg.Kind)).Msg("backend factory: initialization failed")
		return nil, err
	}

	log.Debug().
		Str("kind", string(cfg.Kind)).
		Dur("init_time", time.Since(start)).
		Msg("backend factory: backend created")
	return b, nil
}
