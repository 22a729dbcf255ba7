package resilience

import (
	"context"
	"sync/atomic"
	"time"
)

// Semaphore bounds the number of in-flight remote operations, modeling
// a fixed-size connection pool. A nil or unlimited Semaphore admits
// every caller immediately.
// All methods are safe for concurrent use.
type Semaphore struct {
	slots          chan struct{}
	acquireTimeout time.Duration

	acquired  atomic.Uint64
	exhausted atomic.Uint64
}

// NewSemaphore creates a semaphore admitting up to maxInflight
// callers at once. maxInflight <= 0 means unlimited. acquireTimeout
// bounds how long Acquire waits for a free slot; <= 0 falls back to
// DefaultAcquireTimeout.
func NewSemaphore(maxInflight int, acquireTimeout time.Duration) *Semaphore {
	s := &Semaphore{acquireTimeout: acquireTimeout}
	if s.acquireTimeout <= 0 {
		s.acquireTimeout = DefaultAcquireTimeout
	}
	if maxInflight > 0 {
		s.slots = make(chan struct{}, maxInflight)
	}
	return s
}

// Acquire claims a slot, blocking until one frees up, the context is
// done, or the acquire timeout elapses. On success the returned
// release function must be called exactly once. Timing out returns
// ErrPoolExhausted.
func (s *Semaphore) Acquire(ctx context.Context) (release func(), err error) {
	if s == nil || s.slots == nil {
		return func() {}, nil
	}

	select {
	case s.slots <- struct{}{}:
		s.acquired.Add(1)
		return s.release, nil
	default:
	}

	timer := time.NewTimer(s.acquireTimeout)
	defer timer.Stop()

	select {
	case s.slots <- struct{}{}:
		s.acquired.Add(1)
		return s.release, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		s.exhausted.Add(1)
		return nil, ErrPoolExhausted
	}
}

func (s *Semaphore) release() {
	<-s.slots
}

// InFlight returns the number of slots currently held.
func (s *Semaphore) InFlight() int {
	if s == nil || s.slots == nil {
		return 0
	}
	return len(s.slots)
}

// Capacity returns the slot count, or 0 when unlimited.
func (s *Semaphore) Capacity() int {
	if s == nil || s.slots == nil {
		return 0
	}
	return cap(s.slots)
}

// SemaphoreStats is a snapshot of semaphore activity.
type SemaphoreStats struct {
	Capacity  int    `json:"capacity"`
	InFlight  int    `json:"in_flight"`
	Acquired  uint64 `json:"acquired"`
	Exhausted uint64 `json:"exhausted"`
}

// Stats returns a snapshot of the current state of the semaphore.
func (s *Semaphore) Stats() SemaphoreStats {
	if s == nil {
		return SemaphoreStats{}
	}
	return SemaphoreStats{
		Capacity:  s.Capacity(),
		InFlight:  s.InFlight(),
		Acquired:  s.acquired.Load(),
		Exhausted: s.exhausted.Load(),
	}
}
