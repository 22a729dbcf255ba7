package strategy

import (
	"context"

	"github.com/cachetier/cachetier/backend"
)

// Passthrough applies no strategy-level eviction; the wrapped backend's
// own behavior governs entry lifetime.
type Passthrough struct {
	backend.Backend
}

var (
	_ Strategy              = (*Passthrough)(nil)
	_ backend.Pinger        = (*Passthrough)(nil)
	_ backend.StatsResetter = (*Passthrough)(nil)
)

// NewPassthrough wraps inner without any eviction bookkeeping.
func NewPassthrough(inner backend.Backend) *Passthrough {
	return &Passthrough{Backend: inner}
}

// Policy returns PolicyNone.
func (s *Passthrough) Policy() Policy { return PolicyNone }

// Len reports the wrapped backend's own key count.
func (s *Passthrough) Len() int {
	return int(s.Backend.Stats().KeyCount)
}

// Ping checks the wrapped backend if it supports pinging.
func (s *Passthrough) Ping(ctx context.Context) error {
	if p, ok := s.Backend.(backend.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// ResetStats zeroes the wrapped backend's counters when supported.
func (s *Passthrough) ResetStats() {
	if r, ok := s.Backend.(backend.StatsResetter); ok {
		r.ResetStats()
	}
}
