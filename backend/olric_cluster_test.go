//go:build integration
// +build integration

package backend

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"
)

// testCluster builds embedded nodes that gossip with each other. Every
// node shares one dmap name; each gets its own bind and gossip ports.
type testCluster struct {
	t     *testing.T
	nodes []*Olric
	peers []string
	dmap  string
}

func newTestCluster(t *testing.T) *testCluster {
	t.Helper()
	return &testCluster{
		t:    t,
		dmap: fmt.Sprintf("cluster-dmap-%d", getNextPort()),
	}
}

func (c *testCluster) addMember() *Olric {
	c.t.Helper()

	bindPort := getNextPort()
	gossipPort := getNextPort()

	b, err := NewOlric(&OlricConfig{
		Mode:           OlricModeEmbedded,
		DMapName:       c.dmap,
		BindAddr:       fmt.Sprintf("127.0.0.1:%d", bindPort),
		MemberlistPort: gossipPort,
		Peers:          append([]string(nil), c.peers...),
		ReplicaCount:   2,
	})
	if err != nil {
		c.t.Fatalf("NewOlric failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := b.Connect(ctx); err != nil {
		c.t.Fatalf("Connect failed: %v", err)
	}
	c.t.Cleanup(func() {
		_ = b.Close()
	})

	c.peers = append(c.peers, fmt.Sprintf("127.0.0.1:%d", gossipPort))
	c.nodes = append(c.nodes, b)
	return b
}

func (c *testCluster) removeMember(i int) {
	c.t.Helper()
	if err := c.nodes[i].Close(); err != nil {
		c.t.Logf("node %d close: %v", i, err)
	}
}

func TestOlricClusterReplication(t *testing.T) {
	cluster := newTestCluster(t)
	ctx := context.Background()

	node1 := cluster.addMember()
	node2 := cluster.addMember()

	key := "replicated-key"
	value := []byte("replicated-value")

	if err := node1.Set(ctx, key, value); err != nil {
		t.Fatalf("Set on node 1 failed: %v", err)
	}

	// Give the partitions time to settle.
	time.Sleep(500 * time.Millisecond)

	got, err := node2.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get on node 2 failed: %v", err)
	}
	if !bytes.Equal(got, value) {
		t.Errorf("node 2 got %q, want %q", got, value)
	}
}

func TestOlricClusterTTLReplication(t *testing.T) {
	cluster := newTestCluster(t)
	ctx := context.Background()

	node1 := cluster.addMember()
	node2 := cluster.addMember()

	key := "ttl-replicated-key"
	value := []byte("ttl-replicated-value")
	ttl := 2 * time.Second

	if err := node1.SetWithTTL(ctx, key, value, ttl); err != nil {
		t.Fatalf("SetWithTTL on node 1 failed: %v", err)
	}

	time.Sleep(500 * time.Millisecond)

	got, err := node2.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get on node 2 failed: %v", err)
	}
	if !bytes.Equal(got, value) {
		t.Errorf("node 2 got %q, want %q", got, value)
	}

	time.Sleep(ttl)

	if _, err := node1.Get(ctx, key); err == nil {
		t.Error("node 1: key should have expired")
	}
	if _, err := node2.Get(ctx, key); err == nil {
		t.Error("node 2: key should have expired")
	}
}

func TestOlricClusterNodeLeave(t *testing.T) {
	cluster := newTestCluster(t)
	ctx := context.Background()

	node1 := cluster.addMember()
	node2 := cluster.addMember()

	key := "survive-key"
	value := []byte("survive-value")

	if err := node1.Set(ctx, key, value); err != nil {
		t.Fatalf("Set on node 1 failed: %v", err)
	}

	time.Sleep(500 * time.Millisecond)

	cluster.removeMember(0)

	// Give the cluster time to notice the departure.
	time.Sleep(time.Second)

	got, err := node2.Get(ctx, key)
	if err != nil {
		// The partition owning the key may still be rebalancing.
		t.Logf("Get after node departure: %v (replica may be rebalancing)", err)
		return
	}
	if !bytes.Equal(got, value) {
		t.Errorf("node 2 got %q after node 1 left, want %q", got, value)
	}
}

func TestOlricClusterDynamicJoin(t *testing.T) {
	cluster := newTestCluster(t)
	ctx := context.Background()

	node1 := cluster.addMember()
	cluster.addMember()

	if err := node1.Set(ctx, "key1", []byte("value1")); err != nil {
		t.Fatalf("Set on node 1 failed: %v", err)
	}

	time.Sleep(500 * time.Millisecond)

	node3 := cluster.addMember()

	got, err := node3.Get(ctx, "key1")
	if err != nil {
		t.Logf("node 3 Get: %v (partitions may be rebalancing after join)", err)
	} else if !bytes.Equal(got, []byte("value1")) {
		t.Errorf("node 3 got %q, want %q", got, "value1")
	}

	for i, n := range cluster.nodes {
		if err := n.Ping(ctx); err != nil {
			t.Errorf("node %d ping failed: %v", i+1, err)
		}
	}
}
