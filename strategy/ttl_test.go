package strategy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cachetier/cachetier/backend"
)

func newTestTTL(t *testing.T, cfg TTLConfig) *TTL {
	t.Helper()
	s, err := NewTTL(backend.NewLocal(&backend.LocalConfig{ShardCount: 4}), cfg)
	if err != nil {
		t.Fatalf("NewTTL failed: %v", err)
	}
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestTTL_SetGet(t *testing.T) {
	s := newTestTTL(t, TTLConfig{})
	ctx := context.Background()

	if got := s.Policy(); got != PolicyTTL {
		t.Errorf("Policy returned %q, want %q", got, PolicyTTL)
	}

	value := []byte("test-value")
	if err := s.Set(ctx, "test-key", value); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get(ctx, "test-key")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, value) {
		t.Errorf("Get returned %q, want %q", got, value)
	}

	_, err = s.Get(ctx, "nonexistent-key")
	if !errors.Is(err, backend.ErrNotFound) {
		t.Errorf("Get nonexistent key returned %v, want ErrNotFound", err)
	}
}

func TestTTL_DefaultTTLApplied(t *testing.T) {
	s := newTestTTL(t, TTLConfig{DefaultTTL: 25 * time.Millisecond, SweepInterval: -1})
	ctx := context.Background()

	if err := s.Set(ctx, "expiring", []byte("v")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := s.Get(ctx, "expiring"); err != nil {
		t.Fatalf("Get before expiry failed: %v", err)
	}

	time.Sleep(60 * time.Millisecond)

	if _, err := s.Get(ctx, "expiring"); !errors.Is(err, backend.ErrNotFound) {
		t.Errorf("Get after expiry returned %v, want ErrNotFound", err)
	}
	if got := s.Stats().Expirations; got != 1 {
		t.Errorf("Expirations = %d, want 1", got)
	}
	if got := s.Len(); got != 0 {
		t.Errorf("Len = %d, want 0", got)
	}
}

func TestTTL_ExplicitTTLWins(t *testing.T) {
	s := newTestTTL(t, TTLConfig{DefaultTTL: 25 * time.Millisecond, SweepInterval: -1})
	ctx := context.Background()

	if err := s.SetWithTTL(ctx, "long-lived", []byte("v"), 200*time.Millisecond); err != nil {
		t.Fatalf("SetWithTTL failed: %v", err)
	}

	time.Sleep(60 * time.Millisecond)

	if _, err := s.Get(ctx, "long-lived"); err != nil {
		t.Errorf("Get after default window returned %v, want value", err)
	}
}

func TestTTL_NoTTLNeverExpires(t *testing.T) {
	s := newTestTTL(t, TTLConfig{DefaultTTL: 25 * time.Millisecond, SweepInterval: -1})
	ctx := context.Background()

	// backend.NoTTL must override the configured default, not fall
	// back to it.
	if err := s.SetWithTTL(ctx, "pinned", []byte("v"), backend.NoTTL); err != nil {
		t.Fatalf("SetWithTTL failed: %v", err)
	}

	time.Sleep(60 * time.Millisecond)

	if _, err := s.Get(ctx, "pinned"); err != nil {
		t.Errorf("Get returned %v, want value", err)
	}
	exists, err := s.Exists(ctx, "pinned")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("Exists = false, want true")
	}
}

func TestTTL_ZeroDefaultNeverExpires(t *testing.T) {
	s := newTestTTL(t, TTLConfig{SweepInterval: -1})
	ctx := context.Background()

	if err := s.Set(ctx, "durable", []byte("v")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	time.Sleep(40 * time.Millisecond)

	if _, err := s.Get(ctx, "durable"); err != nil {
		t.Errorf("Get returned %v, want value", err)
	}
}

func TestTTL_OverwriteRefreshesDeadline(t *testing.T) {
	s := newTestTTL(t, TTLConfig{SweepInterval: -1})
	ctx := context.Background()

	if err := s.SetWithTTL(ctx, "refreshed", []byte("v1"), 40*time.Millisecond); err != nil {
		t.Fatalf("SetWithTTL failed: %v", err)
	}
	time.Sleep(25 * time.Millisecond)
	if err := s.SetWithTTL(ctx, "refreshed", []byte("v2"), 200*time.Millisecond); err != nil {
		t.Fatalf("SetWithTTL refresh failed: %v", err)
	}
	time.Sleep(40 * time.Millisecond)

	got, err := s.Get(ctx, "refreshed")
	if err != nil {
		t.Fatalf("Get after refresh returned %v, want value", err)
	}
	if !bytes.Equal(got, []byte("v2")) {
		t.Errorf("Get returned %q, want %q", got, "v2")
	}
}

func TestTTL_ExistsReportsExpiry(t *testing.T) {
	s := newTestTTL(t, TTLConfig{SweepInterval: -1})
	ctx := context.Background()

	if err := s.SetWithTTL(ctx, "fleeting", []byte("v"), 25*time.Millisecond); err != nil {
		t.Fatalf("SetWithTTL failed: %v", err)
	}
	exists, err := s.Exists(ctx, "fleeting")
	if err != nil || !exists {
		t.Fatalf("Exists = %v, %v, want true, nil", exists, err)
	}

	time.Sleep(60 * time.Millisecond)

	exists, err = s.Exists(ctx, "fleeting")
	if err != nil {
		t.Fatalf("Exists after expiry failed: %v", err)
	}
	if exists {
		t.Error("Exists = true after expiry, want false")
	}
	if got := s.Stats().Expirations; got != 1 {
		t.Errorf("Expirations = %d, want 1", got)
	}
}

func TestTTL_DeleteStopsTracking(t *testing.T) {
	s := newTestTTL(t, TTLConfig{SweepInterval: -1})
	ctx := context.Background()

	if err := s.SetWithTTL(ctx, "doomed", []byte("v"), time.Hour); err != nil {
		t.Fatalf("SetWithTTL failed: %v", err)
	}
	if err := s.Delete(ctx, "doomed"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if got := s.Len(); got != 0 {
		t.Errorf("Len = %d, want 0", got)
	}
	if _, err := s.Get(ctx, "doomed"); !errors.Is(err, backend.ErrNotFound) {
		t.Errorf("Get returned %v, want ErrNotFound", err)
	}

	// Deleting again is not an error.
	if err := s.Delete(ctx, "doomed"); err != nil {
		t.Errorf("second Delete returned %v, want nil", err)
	}
}

func TestTTL_ClearDropsEverything(t *testing.T) {
	s := newTestTTL(t, TTLConfig{SweepInterval: -1})
	ctx := context.Background()

	for i := range 3 {
		key := fmt.Sprintf("key-%d", i)
		if err := s.SetWithTTL(ctx, key, []byte("v"), time.Hour); err != nil {
			t.Fatalf("SetWithTTL failed: %v", err)
		}
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if got := s.Len(); got != 0 {
		t.Errorf("Len = %d, want 0", got)
	}
	if _, err := s.Get(ctx, "key-0"); !errors.Is(err, backend.ErrNotFound) {
		t.Errorf("Get after Clear returned %v, want ErrNotFound", err)
	}
}

func TestTTL_SweepReclaimsExpired(t *testing.T) {
	s := newTestTTL(t, TTLConfig{
		DefaultTTL:    20 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
	})
	ctx := context.Background()

	for i := range 5 {
		key := fmt.Sprintf("key-%d", i)
		if err := s.Set(ctx, key, []byte("v")); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	// The sweep must reclaim entries nobody reads.
	waitFor(t, 2*time.Second, func() bool {
		return s.Len() == 0
	})
	if got := s.Stats().Expirations; got != 5 {
		t.Errorf("Expirations = %d, want 5", got)
	}
}

func TestTTL_SweepDisabled(t *testing.T) {
	s := newTestTTL(t, TTLConfig{
		DefaultTTL:    20 * time.Millisecond,
		SweepInterval: -1,
	})
	ctx := context.Background()

	if err := s.Set(ctx, "lazy-only", []byte("v")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	time.Sleep(60 * time.Millisecond)

	// No background reclaim: the entry stays tracked until a read
	// notices the deadline.
	if got := s.Len(); got != 1 {
		t.Fatalf("Len = %d before read, want 1", got)
	}
	if _, err := s.Get(ctx, "lazy-only"); !errors.Is(err, backend.ErrNotFound) {
		t.Errorf("Get returned %v, want ErrNotFound", err)
	}
	if got := s.Len(); got != 0 {
		t.Errorf("Len = %d after read, want 0", got)
	}
}

func TestTTL_BackendLostKey(t *testing.T) {
	inner := backend.NewLocal(&backend.LocalConfig{ShardCount: 4})
	s, err := NewTTL(inner, TTLConfig{SweepInterval: -1})
	if err != nil {
		t.Fatalf("NewTTL failed: %v", err)
	}
	ctx := context.Background()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.SetWithTTL(ctx, "ghost", []byte("v"), backend.NoTTL); err != nil {
		t.Fatalf("SetWithTTL failed: %v", err)
	}

	// Remove the value behind the strategy's back.
	if err := inner.Delete(ctx, "ghost"); err != nil {
		t.Fatalf("inner Delete failed: %v", err)
	}

	if _, err := s.Get(ctx, "ghost"); !errors.Is(err, backend.ErrNotFound) {
		t.Errorf("Get returned %v, want ErrNotFound", err)
	}
	if got := s.Len(); got != 0 {
		t.Errorf("Len = %d after ghost cleanup, want 0", got)
	}
}

func TestTTL_AlignsBackendExpiry(t *testing.T) {
	inner := backend.NewLocal(&backend.LocalConfig{ShardCount: 4})
	s, err := NewTTL(inner, TTLConfig{SweepInterval: -1})
	if err != nil {
		t.Fatalf("NewTTL failed: %v", err)
	}
	ctx := context.Background()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.SetWithTTL(ctx, "aligned", []byte("v"), 25*time.Millisecond); err != nil {
		t.Fatalf("SetWithTTL failed: %v", err)
	}

	time.Sleep(60 * time.Millisecond)

	// The backend received the same TTL, so the entry is gone there
	// too, not only in strategy bookkeeping.
	if _, err := inner.Get(ctx, "aligned"); !errors.Is(err, backend.ErrNotFound) {
		t.Errorf("inner Get returned %v, want ErrNotFound", err)
	}
}

func TestTTL_Lifecycle(t *testing.T) {
	s, err := NewTTL(backend.NewLocal(&backend.LocalConfig{ShardCount: 4}), TTLConfig{SweepInterval: -1})
	if err != nil {
		t.Fatalf("NewTTL failed: %v", err)
	}
	ctx := context.Background()

	if _, err := s.Get(ctx, "k"); !errors.Is(err, backend.ErrNotConnected) {
		t.Errorf("Get before Connect returned %v, want ErrNotConnected", err)
	}
	if err := s.Set(ctx, "k", []byte("v")); !errors.Is(err, backend.ErrNotConnected) {
		t.Errorf("Set before Connect returned %v, want ErrNotConnected", err)
	}

	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := s.Connect(ctx); err != nil {
		t.Errorf("second Connect returned %v, want nil", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close returned %v, want nil", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, backend.ErrClosed) {
		t.Errorf("Get after Close returned %v, want ErrClosed", err)
	}
	if err := s.Connect(ctx); !errors.Is(err, backend.ErrClosed) {
		t.Errorf("Connect after Close returned %v, want ErrClosed", err)
	}
}

func TestTTL_CanceledContext(t *testing.T) {
	s := newTestTTL(t, TTLConfig{SweepInterval: -1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Get(ctx, "k"); !errors.Is(err, context.Canceled) {
		t.Errorf("Get returned %v, want context.Canceled", err)
	}
	if err := s.Set(ctx, "k", []byte("v")); !errors.Is(err, context.Canceled) {
		t.Errorf("Set returned %v, want context.Canceled", err)
	}
}

func TestTTL_StatsAndReset(t *testing.T) {
	s := newTestTTL(t, TTLConfig{SweepInterval: -1})
	ctx := context.Background()

	if err := s.Set(ctx, "a", []byte("v")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "b", []byte("v")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := s.Get(ctx, "a"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("Get returned %v, want ErrNotFound", err)
	}

	st := s.Stats()
	if st.Hits != 1 || st.Misses != 1 || st.Sets != 2 {
		t.Errorf("Stats = %+v, want 1 hit, 1 miss, 2 sets", st)
	}
	if st.KeyCount != 2 {
		t.Errorf("KeyCount = %d, want 2", st.KeyCount)
	}

	s.ResetStats()
	st = s.Stats()
	if st.Hits != 0 || st.Misses != 0 || st.Sets != 0 || st.Expirations != 0 {
		t.Errorf("Stats after reset = %+v, want zeroes", st)
	}
	if st.KeyCount != 2 {
		t.Errorf("KeyCount after reset = %d, want 2", st.KeyCount)
	}
}

func TestTTL_NegativeDefaultRejected(t *testing.T) {
	_, err := NewTTL(backend.NewLocal(&backend.LocalConfig{ShardCount: 4}), TTLConfig{DefaultTTL: -time.Second})
	if err == nil {
		t.Fatal("NewTTL accepted a negative default TTL")
	}
}
