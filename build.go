package cachetier

import (
	"context"
	"fmt"

	"github.com/cachetier/cachetier/backend"
	"github.com/cachetier/cachetier/config"
	"github.com/cachetier/cachetier/health"
	"github.com/cachetier/cachetier/resilience"
)

// BuildOption adjusts how Build assembles a manager.
type BuildOption func(*buildOptions)

type buildOptions struct {
	tracker *health.Tracker
	checker *health.Checker
}

// WithTracker shares circuit breakers between the resilience wrappers
// and the given tracker, so health probes observe the same circuits
// operations trip.
func WithTracker(t *health.Tracker) BuildOption {
	return func(o *buildOptions) {
		o.tracker = t
	}
}

// WithChecker registers a recovery probe on c for every
// resilience-wrapped registration, letting the checker reconnect
// remotes whose circuits are open.
func WithChecker(c *health.Checker) BuildOption {
	return func(o *buildOptions) {
		o.checker = c
	}
}

// Build assembles a Manager from configuration: one registration per
// cache entry, each a backend optionally hardened by the resilience
// wrapper and layered with its eviction strategy. A partial failure
// tears down what was already connected.
func Build(ctx context.Context, cfg *config.Config, opts ...BuildOption) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	m := NewManager()
	for i := range cfg.Caches {
		cc := &cfg.Caches[i]
		if err := buildCache(ctx, m, cc, &o); err != nil {
			_ = m.Close()
			return nil, err
		}
	}

	if cfg.Default != "" {
		if err := m.SetDefault(cfg.Default); err != nil {
			_ = m.Close()
			return nil, err
		}
	}
	return m, nil
}

func buildCache(ctx context.Context, m *Manager, cc *config.CacheConfig, o *buildOptions) error {
	store, err := backend.New(&cc.Backend)
	if err != nil {
		return fmt.Errorf("cachetier: cache %q: %w", cc.Name, err)
	}

	if cc.Resilient() {
		store, err = wrapResilient(cc, store, o.tracker)
		if err != nil {
			return fmt.Errorf("cachetier: cache %q: %w", cc.Name, err)
		}
	}

	if err := m.Register(ctx, cc.Name, store, cc.Strategy); err != nil {
		return err
	}

	// Probes target the composed store: pinging through the strategy
	// and wrapper reaches the remote, and a degraded wrapper uses the
	// probe to reconnect.
	if o.checker != nil && cc.Resilient() {
		if reg, ok := m.Backend(cc.Name); ok {
			o.checker.RegisterBackend(health.NewBackendProbe(cc.Name, reg))
		}
	}
	return nil
}

func wrapResilient(cc *config.CacheConfig, remote backend.Backend, tracker *health.Tracker) (backend.Backend, error) {
	var fallback backend.Backend
	if fbCfg, ok := cc.GetFallbackOption().Get(); ok {
		fb, err := backend.New(fbCfg)
		if err != nil {
			return nil, fmt.Errorf("fallback: %w", err)
		}
		fallback = fb
	}

	return resilience.New(resilience.Options{
		Name:     cc.Name,
		Remote:   remote,
		Fallback: fallback,
		Tracker:  tracker,
		Config:   cc.Resilience,
	})
}
