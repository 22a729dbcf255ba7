package backend

import "sync/atomic"

// Stats is a point-in-time snapshot of a backend's counters. Fields
// that do not apply to a given backend are zero.
type Stats struct {
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Sets        uint64 `json:"sets"`
	Deletes     uint64 `json:"deletes"`
	Errors      uint64 `json:"errors"`
	Evictions   uint64 `json:"evictions"`
	Expirations uint64 `json:"expirations"`

	// KeyCount is the number of live entries, when the backend can
	// report it cheaply.
	KeyCount uint64 `json:"key_count"`

	// BytesUsed is the resident value size, when the backend tracks
	// cost.
	BytesUsed uint64 `json:"bytes_used,omitempty"`

	// HitRate is Hits / (Hits + Misses), 0 when no reads have happened.
	HitRate float64 `json:"hit_rate"`

	// Resilience counters, populated by the resilience wrapper.
	CircuitState     string `json:"circuit_state,omitempty"`
	CircuitTrips     uint64 `json:"circuit_trips,omitempty"`
	Retries          uint64 `json:"retries,omitempty"`
	FallbackHits     uint64 `json:"fallback_hits,omitempty"`
	ConnectionErrors uint64 `json:"connection_errors,omitempty"`
}

// Merge accumulates other into s. Counters add; HitRate is recomputed
// from the merged totals; CircuitState is kept from s unless empty.
func (s *Stats) Merge(other Stats) {
	s.Hits += other.Hits
	s.Misses += other.Misses
	s.Sets += other.Sets
	s.Deletes += other.Deletes
	s.Errors += other.Errors
	s.Evictions += other.Evictions
	s.Expirations += other.Expirations
	s.KeyCount += other.KeyCount
	s.BytesUsed += other.BytesUsed
	s.CircuitTrips += other.CircuitTrips
	s.Retries += other.Retries
	s.FallbackHits += other.FallbackHits
	s.ConnectionErrors += other.ConnectionErrors
	if s.CircuitState == "" {
		s.CircuitState = other.CircuitState
	}
	s.HitRate = hitRate(s.Hits, s.Misses)
}

func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// counters holds the atomic tallies shared by all backend
// implementations. The zero value is ready to use.
type counters struct {
	hits        atomic.Uint64
	misses      atomic.Uint64
	sets        atomic.Uint64
	deletes     atomic.Uint64
	errors      atomic.Uint64
	evictions   atomic.Uint64
	expirations atomic.Uint64
}

func (c *counters) snapshot() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	return Stats{
		Hits:        hits,
		Misses:      misses,
		Sets:        c.sets.Load(),
		Deletes:     c.deletes.Load(),
		Errors:      c.errors.Load(),
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
		HitRate:     hitRate(hits, misses),
	}
}

func (c *counters) reset() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.sets.Store(0)
	c.deletes.Store(0)
	c.errors.Store(0)
	c.evictions.Store(0)
	c.expirations.Store(0)
}
