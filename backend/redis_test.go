package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	b, err := NewRedis(&RedisConfig{
		Address:             mr.Addr(),
		HealthCheckInterval: -1, // no background probe in tests
	})
	if err != nil {
		t.Fatalf("NewRedis failed: %v", err)
	}
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() {
		b.Close()
	})
	return b, mr
}

func TestRedis_GetSet(t *testing.T) {
	b, _ := newTestRedis(t)
	ctx := context.Background()

	key := "test-key"
	value := []byte("test-value")

	if err := b.Set(ctx, key, value); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := b.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, value) {
		t.Errorf("Get returned %q, want %q", got, value)
	}

	// Test cache miss
	_, err = b.Get(ctx, "nonexistent-key")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get nonexistent key returned %v, want ErrNotFound", err)
	}
}

func TestRedis_SetWithTTL_Expires(t *testing.T) {
	b, mr := newTestRedis(t)
	ctx := context.Background()

	key := "ttl-key"
	if err := b.SetWithTTL(ctx, key, []byte("ttl-value"), time.Second); err != nil {
		t.Fatalf("SetWithTTL failed: %v", err)
	}

	// Should exist immediately after set
	if _, err := b.Get(ctx, key); err != nil {
		t.Fatalf("Get immediately after SetWithTTL failed: %v", err)
	}

	// Advance the server clock past the TTL
	mr.FastForward(2 * time.Second)

	if _, err := b.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after TTL expiry returned %v, want ErrNotFound", err)
	}
}

func TestRedis_SetWithNoTTL_DoesNotExpire(t *testing.T) {
	b, mr := newTestRedis(t)
	ctx := context.Background()

	if err := b.SetWithTTL(ctx, "forever", []byte("v"), NoTTL); err != nil {
		t.Fatalf("SetWithTTL failed: %v", err)
	}

	mr.FastForward(time.Hour)

	if _, err := b.Get(ctx, "forever"); err != nil {
		t.Errorf("Get after NoTTL set returned %v, want nil", err)
	}
}

func TestRedis_KeyPrefix(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	b, err := NewRedis(&RedisConfig{
		Address:             mr.Addr(),
		KeyPrefix:           "cachetier:",
		HealthCheckInterval: -1,
	})
	if err != nil {
		t.Fatalf("NewRedis failed: %v", err)
	}
	ctx := context.Background()
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	if err := b.Set(ctx, "a", []byte("v")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// The key is stored under the prefix
	if !mr.Exists("cachetier:a") {
		t.Error("prefixed key not found on server")
	}
	if mr.Exists("a") {
		t.Error("unprefixed key found on server")
	}
}

func TestRedis_ClearRespectsPrefix(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	b, err := NewRedis(&RedisConfig{
		Address:             mr.Addr(),
		KeyPrefix:           "cachetier:",
		HealthCheckInterval: -1,
	})
	if err != nil {
		t.Fatalf("NewRedis failed: %v", err)
	}
	ctx := context.Background()
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	for i := 0; i < 5; i++ {
		if err := b.Set(ctx, fmt.Sprintf("key-%d", i), []byte("v")); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}
	// A foreign key outside the prefix must survive Clear
	if err := mr.Set("other-app:key", "keep"); err != nil {
		t.Fatalf("miniredis Set failed: %v", err)
	}

	if err := b.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	if mr.Exists("cachetier:key-0") {
		t.Error("prefixed key survived Clear")
	}
	if !mr.Exists("other-app:key") {
		t.Error("foreign key was removed by Clear")
	}
}

func TestRedis_Delete(t *testing.T) {
	b, _ := newTestRedis(t)
	ctx := context.Background()

	if err := b.Set(ctx, "del-key", []byte("v")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := b.Delete(ctx, "del-key"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := b.Get(ctx, "del-key"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete returned %v, want ErrNotFound", err)
	}

	// Deleting a nonexistent key is idempotent
	if err := b.Delete(ctx, "never-existed"); err != nil {
		t.Errorf("Delete nonexistent key returned %v, want nil", err)
	}
}

func TestRedis_Exists(t *testing.T) {
	b, _ := newTestRedis(t)
	ctx := context.Background()

	exists, err := b.Exists(ctx, "absent")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("Exists = true for absent key, want false")
	}

	if err := b.Set(ctx, "present", []byte("v")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	exists, err = b.Exists(ctx, "present")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("Exists = false for present key, want true")
	}
}

func TestRedis_MultiGetSet(t *testing.T) {
	b, _ := newTestRedis(t)
	ctx := context.Background()

	items := map[string][]byte{
		"m1": []byte("v1"),
		"m2": []byte("v2"),
	}
	if err := b.SetMulti(ctx, items); err != nil {
		t.Fatalf("SetMulti failed: %v", err)
	}

	got, err := b.GetMulti(ctx, []string{"m1", "m2", "absent"})
	if err != nil {
		t.Fatalf("GetMulti failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetMulti returned %d entries, want 2", len(got))
	}
	if !bytes.Equal(got["m1"], []byte("v1")) {
		t.Errorf("GetMulti[m1] = %q, want v1", got["m1"])
	}
	if _, ok := got["absent"]; ok {
		t.Error("GetMulti included absent key")
	}
}

func TestRedis_ConnectFailure(t *testing.T) {
	b, err := NewRedis(&RedisConfig{
		Address:             "127.0.0.1:1",
		SocketTimeout:       200 * time.Millisecond,
		HealthCheckInterval: -1,
	})
	if err != nil {
		t.Fatalf("NewRedis failed: %v", err)
	}

	err = b.Connect(context.Background())
	if err == nil {
		t.Fatal("Connect to dead address succeeded, want error")
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Connect error = %v, want ErrUnavailable", err)
	}
	if !IsTransient(err) {
		t.Errorf("Connect error %v should be transient", err)
	}
}

func TestRedis_ServerDownIsTransient(t *testing.T) {
	b, mr := newTestRedis(t)
	ctx := context.Background()

	if err := b.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	mr.Close()

	_, err := b.Get(ctx, "k")
	if err == nil {
		t.Fatal("Get against closed server succeeded, want error")
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Get error = %v, want ErrUnavailable", err)
	}
	if !IsTransient(err) {
		t.Errorf("Get error %v should be transient", err)
	}

	st := b.Stats()
	if st.Errors == 0 {
		t.Error("Errors counter not incremented after failed operation")
	}
	if st.ConnectionErrors == 0 {
		t.Error("ConnectionErrors counter not incremented after failed operation")
	}
}

func TestRedis_MissingAddress(t *testing.T) {
	if _, err := NewRedis(&RedisConfig{}); err == nil {
		t.Fatal("NewRedis without address succeeded, want error")
	}
}

func TestRedis_Ping(t *testing.T) {
	b, mr := newTestRedis(t)
	ctx := context.Background()

	if err := b.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	mr.Close()

	if err := b.Ping(ctx); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Ping against closed server returned %v, want ErrUnavailable", err)
	}
}

func TestRedis_ClosedOperations(t *testing.T) {
	b, _ := newTestRedis(t)
	ctx := context.Background()

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := b.Get(ctx, "k"); !errors.Is(err, ErrClosed) {
		t.Errorf("Get after Close returned %v, want ErrClosed", err)
	}

	// Close is idempotent
	if err := b.Close(); err != nil {
		t.Errorf("second Close returned %v, want nil", err)
	}
}
