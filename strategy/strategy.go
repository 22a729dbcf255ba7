// Package strategy layers eviction policies over a backend.
//
// A Strategy is a Backend that tracks per-key metadata and decides when
// entries leave the cache:
//   - ttl: entries expire after a duration, with lazy expiry on read
//     and a paced background sweep
//   - lru: a fixed number of entries, least recently used evicted first
//   - lfu: a fixed number of entries, least frequently used evicted
//     first, with optional frequency aging
//   - none: passthrough, the backend's own behavior applies
//
// The wrapped backend stores the values; the strategy owns only the
// bookkeeping. Strategies are safe for concurrent use and keep per-key
// operations linearizable by serializing metadata updates with the
// backend write they belong to.
package strategy

import (
	"github.com/cachetier/cachetier/backend"
)

// Strategy is a Backend with an eviction policy attached.
type Strategy interface {
	backend.Backend

	// Policy identifies the eviction policy in effect.
	Policy() Policy

	// Len is the number of entries the strategy currently tracks.
	Len() int
}

// Policy selects the eviction behavior.
type Policy string

const (
	// PolicyNone applies no strategy-level eviction.
	PolicyNone Policy = "none"
	// PolicyTTL expires entries after a duration.
	PolicyTTL Policy = "ttl"
	// PolicyLRU evicts the least recently used entry at capacity.
	PolicyLRU Policy = "lru"
	// PolicyLFU evicts the least frequently used entry at capacity.
	PolicyLFU Policy = "lfu"
)

// Validate returns an error if the policy is not recognized.
func (p Policy) Validate() error {
	switch p {
	case PolicyNone, PolicyTTL, PolicyLRU, PolicyLFU:
		return nil
	default:
		return errInvalidPolicy(p)
	}
}
