// Package cachetier is a resilient caching layer for read-heavy RPC
// clients.
//
// A Manager routes cache operations to named registrations, each a
// storage backend (package backend) optionally wrapped by an eviction
// strategy (package strategy) and, for remote tiers, by retry, circuit
// breaker, and fallback machinery (package resilience). The manager
// holds no cache data itself: it is routing plus statistics
// aggregation.
//
// Registrations are composed explicitly:
//
//	mgr := cachetier.NewManager()
//	defer mgr.Close()
//
//	local := backend.NewLocal(&backend.LocalConfig{ShardCount: 16})
//	err := mgr.Register(ctx, "sessions", local, &strategy.Config{
//		Policy: strategy.PolicyLRU,
//		LRU:    strategy.LRUConfig{MaxEntries: 10_000},
//	})
//
//	err = mgr.Set(ctx, key, value, cachetier.WithTTL(5*time.Minute))
//	data, found, err := mgr.Get(ctx, key)
//
// or assembled from configuration with Build, which also wires the
// resilience wrapper and the health tracker.
package cachetier

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/cachetier/cachetier/backend"
	"github.com/cachetier/cachetier/strategy"
)

// Manager routes cache operations to named backend registrations.
// All methods are safe for concurrent use.
type Manager struct {
	mu          sync.RWMutex
	regs        map[string]*registration
	defaultName string
	closed      bool
}

// registration is one named (backend, strategy) pair. The store field
// is the outermost layer of the composed chain.
type registration struct {
	name  string
	store backend.Backend
}

// NewManager creates an empty Manager. Backends are added with
// Register.
func NewManager() *Manager {
	return &Manager{regs: make(map[string]*registration)}
}

// Register composes strat around store, connects the chain, and adds
// it under name. A nil strat registers the backend as is. The first
// successful registration becomes the default route until SetDefault
// says otherwise.
//
// On a connect failure the store is released and nothing is
// registered. When the store is a resilience wrapper with fallback
// enabled, a connect failure of the remote alone does not fail
// registration; the wrapper starts degraded instead.
func (m *Manager) Register(ctx context.Context, name string, store backend.Backend, strat *strategy.Config) error {
	if name == "" {
		return errors.New("cachetier: registration name is required")
	}
	if store == nil {
		return errors.New("cachetier: backend is required")
	}

	composed, err := strategy.New(store, strat)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.regs[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateBackend, name)
	}

	if err := composed.Connect(ctx); err != nil {
		// Release whatever construction allocated.
		_ = composed.Close()
		return fmt.Errorf("cachetier: connect %q: %w", name, err)
	}

	m.regs[name] = &registration{name: name, store: composed}
	if m.defaultName == "" {
		m.defaultName = name
	}
	logger().Info().
		Str("backend", name).
		Str("policy", string(composed.Policy())).
		Bool("default", m.defaultName == name).
		Msg("backend registered")
	return nil
}

// SetDefault routes operations that carry no WithBackend option to
// name.
func (m *Manager) SetDefault(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.regs[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	m.defaultName = name
	return nil
}

// DefaultName returns the name operations route to by default, empty
// when nothing is registered.
func (m *Manager) DefaultName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultName
}

// Names returns the registered backend names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := lo.Keys(m.regs)
	sort.Strings(names)
	return names
}

// Backend returns the composed store registered under name. Health
// probing uses this to reach each registration's Pinger.
func (m *Manager) Backend(name string) (backend.Backend, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reg, ok := m.regs[name]
	if !ok {
		return nil, false
	}
	return reg.store, true
}

// resolve picks the registration an operation routes to.
func (m *Manager) resolve(name string) (*registration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	if name == "" {
		name = m.defaultName
	}
	if name == "" {
		return nil, ErrNoBackends
	}
	reg, ok := m.regs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return reg, nil
}

// Stats returns a per-registration snapshot of counters, keyed by
// name.
func (m *Manager) Stats() map[string]backend.Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lo.MapEntries(m.regs, func(name string, reg *registration) (string, backend.Stats) {
		return name, reg.store.Stats()
	})
}

// AggregateStats merges every registration's counters into one
// snapshot. The hit rate is recomputed from the merged totals.
func (m *Manager) AggregateStats() backend.Stats {
	return lo.Reduce(lo.Values(m.Stats()), func(agg backend.Stats, st backend.Stats, _ int) backend.Stats {
		agg.Merge(st)
		return agg
	}, backend.Stats{})
}

// ResetStats zeroes the counters of every registration that supports
// resetting.
func (m *Manager) ResetStats() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, reg := range m.regs {
		if r, ok := reg.store.(backend.StatsResetter); ok {
			r.ResetStats()
		}
	}
}

// Close disconnects every registration and marks the manager closed.
// Close is idempotent; operations after Close return ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	for name, reg := range m.regs {
		if err := reg.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cachetier: close %q: %w", name, err))
		}
	}
	logger().Info().Int("backends", len(m.regs)).Msg("manager closed")
	return errors.Join(errs...)
}
