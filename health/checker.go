// Package health provides circuit breaking and recovery probing for
// cache backends.
//
// The checker.go file implements synthetic probes during OPEN state.
// When a circuit opens due to failures, the checker runs periodic
// lightweight probes to detect backend recovery faster than waiting for
// the full cooldown period.
//
// Key features:
//   - Probe interface for pluggable recovery checks
//   - PingProbe for backends that support pinging
//   - Periodic monitoring with configurable interval and jitter
//   - Only probes OPEN circuits (not CLOSED or HALF-OPEN)
package health

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cachetier/cachetier/backend"
)

// probeTimeout bounds a single recovery probe.
const probeTimeout = 5 * time.Second

// Probe defines how to check whether a backend has recovered.
// Implementations should be lightweight and fast (a ping, not a full
// workload).
type Probe interface {
	// Check probes the backend. Returns nil if healthy.
	Check(ctx context.Context) error

	// BackendName returns the name of the backend being probed.
	BackendName() string
}

// PingProbe probes a backend through its Ping method.
type PingProbe struct {
	name   string
	pinger backend.Pinger
}

// NewPingProbe creates a ping-based recovery probe.
func NewPingProbe(name string, p backend.Pinger) *PingProbe {
	return &PingProbe{name: name, pinger: p}
}

// Check pings the backend.
func (p *PingProbe) Check(ctx context.Context) error {
	if err := p.pinger.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	return nil
}

// BackendName returns the name of the backend being probed.
func (p *PingProbe) BackendName() string {
	return p.name
}

// NoOpProbe always reports healthy.
// Used when a backend exposes no way to probe it.
type NoOpProbe struct {
	name string
}

// NewNoOpProbe creates a probe that always succeeds.
func NewNoOpProbe(name string) *NoOpProbe {
	return &NoOpProbe{name: name}
}

// Check always returns nil (healthy).
func (n *NoOpProbe) Check(_ context.Context) error {
	return nil
}

// BackendName returns the name of the backend.
func (n *NoOpProbe) BackendName() string {
	return n.name
}

// NewBackendProbe creates the probe appropriate for the backend:
// ping-based when the backend supports it, no-op otherwise.
func NewBackendProbe(name string, b backend.Backend) Probe {
	if p, ok := b.(backend.Pinger); ok {
		return NewPingProbe(name, p)
	}
	return NewNoOpProbe(name)
}

// Checker monitors backend health and triggers recovery checks.
// It runs periodic probes against backends with OPEN circuits to detect
// recovery faster than waiting for the full cooldown period.
type Checker struct {
	ctx     context.Context
	tracker *Tracker
	probes  map[string]Probe
	logger  *zerolog.Logger
	cancel  context.CancelFunc
	config  ProbeConfig
	wg      sync.WaitGroup
	mu      sync.RWMutex
}

// NewChecker creates a new Checker.
func NewChecker(tracker *Tracker, cfg ProbeConfig, logger *zerolog.Logger) *Checker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Checker{
		tracker: tracker,
		config:  cfg,
		probes:  make(map[string]Probe),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// RegisterBackend adds a recovery probe for a backend.
func (h *Checker) RegisterBackend(probe Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[probe.BackendName()] = probe
}

// Start begins periodic probing for all registered backends.
// Should be called once after all backends are registered.
func (h *Checker) Start() {
	if !h.config.IsEnabled() {
		if h.logger != nil {
			h.logger.Info().Msg("health checker disabled")
		}
		return
	}

	interval := h.config.GetInterval()
	// Add jitter (0-2s) so multiple processes never probe in lockstep
	jitter := cryptoRandDuration(2 * time.Second)
	ticker := time.NewTicker(interval + jitter)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer ticker.Stop()

		if h.logger != nil {
			h.logger.Info().
				Dur("interval", interval).
				Dur("jitter", jitter).
				Msg("health checker started")
		}

		for {
			select {
			case <-h.ctx.Done():
				if h.logger != nil {
					h.logger.Info().Msg("health checker stopped")
				}
				return
			case <-ticker.C:
				h.checkAllBackends()
			}
		}
	}()
}

// Stop stops the health checker and waits for the goroutine to finish.
func (h *Checker) Stop() {
	h.cancel()
	h.wg.Wait()
}

// checkAllBackends runs probes for all backends with OPEN circuits.
func (h *Checker) checkAllBackends() {
	h.mu.RLock()
	probes := make([]Probe, 0, len(h.probes))
	for _, probe := range h.probes {
		probes = append(probes, probe)
	}
	h.mu.RUnlock()

	for _, probe := range probes {
		name := probe.BackendName()
		state := h.tracker.GetState(name)

		// Only probe backends with OPEN circuits
		if state != StateOpen {
			continue
		}

		ctx, cancel := context.WithTimeout(h.ctx, probeTimeout)
		err := probe.Check(ctx)
		cancel()

		if err != nil {
			if h.logger != nil {
				h.logger.Debug().
					Str("backend", name).
					Err(err).
					Msg("recovery probe failed")
			}
			continue
		}

		// Successful probe - record success to help circuit transition
		if h.logger != nil {
			h.logger.Info().
				Str("backend", name).
				Msg("recovery probe succeeded, recording success")
		}
		h.tracker.RecordSuccess(name)
	}
}

// cryptoRandDuration returns a cryptographically random duration between 0 and maxDur.
func cryptoRandDuration(maxDur time.Duration) time.Duration {
	if maxDur <= 0 {
		return 0
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// Fallback to zero jitter if crypto/rand fails
		return 0
	}
	n := binary.LittleEndian.Uint64(b[:])
	//nolint:gosec // G115: maxDur is always positive (checked above), safe conversion
	return time.Duration(n % uint64(maxDur))
}
