package strategy

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/cachetier/cachetier/backend"
)

func newTestInner() backend.Backend {
	return backend.NewLocal(&backend.LocalConfig{ShardCount: 4})
}

func TestNew_NilConfig(t *testing.T) {
	s, err := New(newTestInner(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := s.(*Passthrough); !ok {
		t.Errorf("New returned %T, want *Passthrough", s)
	}
	if got := s.Policy(); got != PolicyNone {
		t.Errorf("Policy = %q, want none", got)
	}
}

func TestNew_PolicySelection(t *testing.T) {
	tests := []struct {
		policy Policy
		check  func(Strategy) bool
	}{
		{PolicyNone, func(s Strategy) bool { _, ok := s.(*Passthrough); return ok }},
		{PolicyTTL, func(s Strategy) bool { _, ok := s.(*TTL); return ok }},
		{PolicyLRU, func(s Strategy) bool { _, ok := s.(*LRU); return ok }},
		{PolicyLFU, func(s Strategy) bool { _, ok := s.(*LFU); return ok }},
	}
	for _, tt := range tests {
		s, err := New(newTestInner(), &Config{Policy: tt.policy})
		if err != nil {
			t.Fatalf("New(%q) failed: %v", tt.policy, err)
		}
		if !tt.check(s) {
			t.Errorf("New(%q) returned %T", tt.policy, s)
		}
		if got := s.Policy(); got != tt.policy {
			t.Errorf("Policy = %q, want %q", got, tt.policy)
		}
	}
}

func TestNew_InvalidPolicy(t *testing.T) {
	_, err := New(newTestInner(), &Config{Policy: "fifo"})
	if !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("New returned %v, want ErrInvalidPolicy", err)
	}
}

func TestNew_InvalidSection(t *testing.T) {
	_, err := New(newTestInner(), &Config{
		Policy: PolicyLFU,
		LFU:    LFUConfig{AgingFactor: 3},
	})
	if err == nil {
		t.Fatal("New accepted an invalid lfu section")
	}
}

func TestPassthrough_Delegates(t *testing.T) {
	s := NewPassthrough(newTestInner())
	ctx := context.Background()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, []byte("v")) {
		t.Errorf("Get returned %q, want %q", got, "v")
	}
	if got := s.Len(); got != 1 {
		t.Errorf("Len = %d, want 1", got)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping returned %v, want nil", err)
	}

	s.ResetStats()
	st := s.Stats()
	if st.Hits != 0 || st.Sets != 0 {
		t.Errorf("Stats after reset = %+v, want zeroed counters", st)
	}
}
