package resilience_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cachetier/cachetier/backend"
	"github.com/cachetier/cachetier/resilience"
)

func TestSemaphoreAcquireRelease(t *testing.T) {
	t.Parallel()
	s := resilience.NewSemaphore(2, time.Second)
	ctx := context.Background()

	if s.Capacity() != 2 {
		t.Fatalf("Capacity = %d, want 2", s.Capacity())
	}

	rel1, err := s.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire 1: %v", err)
	}
	rel2, err := s.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire 2: %v", err)
	}
	if s.InFlight() != 2 {
		t.Fatalf("InFlight = %d, want 2", s.InFlight())
	}

	rel1()
	if s.InFlight() != 1 {
		t.Fatalf("InFlight after release = %d, want 1", s.InFlight())
	}
	rel3, err := s.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	rel2()
	rel3()

	st := s.Stats()
	if st.Acquired != 3 || st.Exhausted != 0 || st.InFlight != 0 {
		t.Fatalf("Stats = %+v, want 3 acquired, 0 exhausted, 0 in flight", st)
	}
}

func TestSemaphoreUnlimited(t *testing.T) {
	t.Parallel()
	s := resilience.NewSemaphore(0, time.Millisecond)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rel, err := s.Acquire(ctx)
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			rel()
		}()
	}
	wg.Wait()

	if s.Capacity() != 0 {
		t.Fatalf("Capacity = %d, want 0 for unlimited", s.Capacity())
	}
	if s.InFlight() != 0 {
		t.Fatalf("InFlight = %d, want 0", s.InFlight())
	}
}

func TestSemaphoreTimeout(t *testing.T) {
	t.Parallel()
	s := resilience.NewSemaphore(1, 20*time.Millisecond)
	ctx := context.Background()

	rel, err := s.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer rel()

	start := time.Now()
	_, err = s.Acquire(ctx)
	if !errors.Is(err, resilience.ErrPoolExhausted) {
		t.Fatalf("Acquire = %v, want ErrPoolExhausted", err)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("Acquire gave up after %s, want it to wait out the timeout", elapsed)
	}
	if !backend.IsTransient(err) {
		t.Fatal("pool exhaustion must classify as transient")
	}
	if st := s.Stats(); st.Exhausted != 1 {
		t.Fatalf("Exhausted = %d, want 1", st.Exhausted)
	}
}

func TestSemaphoreContextCanceled(t *testing.T) {
	t.Parallel()
	s := resilience.NewSemaphore(1, time.Minute)

	rel, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer rel()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err = s.Acquire(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Acquire = %v, want context.Canceled", err)
	}
}

func TestSemaphoreBlockedAcquireUnblocks(t *testing.T) {
	t.Parallel()
	s := resilience.NewSemaphore(1, time.Minute)
	ctx := context.Background()

	rel, err := s.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	got := make(chan error, 1)
	go func() {
		rel2, err := s.Acquire(ctx)
		if err == nil {
			rel2()
		}
		got <- err
	}()

	time.Sleep(10 * time.Millisecond)
	rel()

	select {
	case err := <-got:
		if err != nil {
			t.Fatalf("blocked Acquire = %v, want nil after release", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked Acquire never unblocked")
	}
}

func TestSemaphoreConcurrencyBound(t *testing.T) {
	t.Parallel()
	const capacity = 3
	s := resilience.NewSemaphore(capacity, time.Minute)
	ctx := context.Background()

	var inFlight, peak atomic.Int32
	var wg sync.WaitGroup
	for range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rel, err := s.Acquire(ctx)
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
			rel()
		}()
	}
	wg.Wait()

	if p := peak.Load(); p > capacity {
		t.Fatalf("peak concurrency = %d, want at most %d", p, capacity)
	}
}
