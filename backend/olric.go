package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/memberlist"
	"github.com/olric-data/olric"
	olricconfig "github.com/olric-data/olric/config"
	"github.com/rs/zerolog"
)

const olricStartupTimeout = 10 * time.Second

// Olric is a distributed backend. It supports two modes:
//   - embedded: runs an olric node inside this process, joining the
//     peers listed in the configuration
//   - client: connects to an existing olric cluster
type Olric struct {
	cfg OlricConfig

	db     *olric.Olric // embedded mode only, nil in client mode
	client olric.Client
	dmap   olric.DMap

	mu        sync.RWMutex
	closed    atomic.Bool
	connected atomic.Bool
	stats     counters
	connErrs  atomic.Uint64
	log       zerolog.Logger
}

// NewOlric creates an olric backend. The node or cluster connection is
// established by Connect.
func NewOlric(cfg *OlricConfig) (*Olric, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Olric{
		cfg: *cfg,
		log: logger().With().Str("backend", string(KindOlric)).Logger(),
	}, nil
}

// parseBindAddr splits an address that may be host:port or just host.
// The port is 0 when absent.
func parseBindAddr(addr string) (h string, p int) {
	h, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	p, err = strconv.Atoi(portStr)
	if err != nil {
		return h, 0
	}
	return h, p
}

// memberlistConfig builds the gossip configuration for the deployment
// environment, optionally pinning the gossip port.
func memberlistConfig(env, host string, port int) *memberlist.Config {
	var mc *memberlist.Config
	switch env {
	case "lan":
		mc = memberlist.DefaultLANConfig()
	case "wan":
		mc = memberlist.DefaultWANConfig()
	default:
		mc = memberlist.DefaultLocalConfig()
	}
	if host != "" {
		mc.BindAddr = host
	}
	if port > 0 {
		mc.BindPort = port
		mc.AdvertisePort = port
	}
	return mc
}

// Connect starts the embedded node or dials the cluster, then opens the
// distributed map. Idempotent.
func (o *Olric) Connect(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed.Load() {
		return ErrClosed
	}
	if o.connected.Load() {
		return nil
	}

	var err error
	switch o.cfg.GetMode() {
	case OlricModeEmbedded:
		err = o.connectEmbedded(ctx)
	case OlricModeClient:
		err = o.connectClient(ctx)
	}
	if err != nil {
		return err
	}
	o.connected.Store(true)
	return nil
}

func (o *Olric) connectEmbedded(ctx context.Context) error {
	env := o.cfg.GetEnvironment()
	c := olricconfig.New(env)

	bindAddr, bindPort := parseBindAddr(o.cfg.GetBindAddr())
	c.BindAddr = bindAddr
	if bindPort > 0 {
		c.BindPort = bindPort
	}
	if len(o.cfg.Peers) > 0 {
		c.Peers = o.cfg.Peers
	}
	if o.cfg.ReplicaCount > 0 {
		c.ReplicaCount = o.cfg.ReplicaCount
	}
	if o.cfg.ReadQuorum > 0 {
		c.ReadQuorum = o.cfg.ReadQuorum
	}
	if o.cfg.WriteQuorum > 0 {
		c.WriteQuorum = o.cfg.WriteQuorum
	}
	if o.cfg.MemberCountQuorum > 0 {
		c.MemberCountQuorum = o.cfg.MemberCountQuorum
	}
	c.MemberlistConfig = memberlistConfig(env, bindAddr, o.cfg.MemberlistPort)

	// Olric's own logging is far too chatty for a library.
	c.LogOutput = io.Discard
	c.Logger = log.New(io.Discard, "", 0)

	// Must be set before olric.New, the node signals readiness here.
	ready := make(chan struct{})
	c.Started = func() {
		close(ready)
	}

	db, err := olric.New(c)
	if err != nil {
		o.log.Error().Err(err).Msg("olric: failed to create embedded instance")
		return err
	}

	startErr := make(chan error, 1)
	go func() {
		if err := db.Start(); err != nil {
			startErr <- err
		}
	}()

	startupCtx, cancel := context.WithTimeout(ctx, olricStartupTimeout)
	defer cancel()

	select {
	case <-ready:
		o.log.Debug().Msg("olric: embedded node ready")
	case err := <-startErr:
		o.log.Error().Err(err).Msg("olric: embedded node failed to start")
		o.connErrs.Add(1)
		return fmt.Errorf("%w: olric start: %v", ErrUnavailable, err)
	case <-startupCtx.Done():
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), time.Second)
		defer cancelShutdown()
		_ = db.Shutdown(shutdownCtx)
		o.connErrs.Add(1)
		return fmt.Errorf("%w: olric start: %v", ErrUnavailable, startupCtx.Err())
	}

	client := db.NewEmbeddedClient()
	dm, err := client.NewDMap(o.cfg.GetDMapName())
	if err != nil {
		o.log.Error().Err(err).Str("dmap", o.cfg.GetDMapName()).Msg("olric: failed to create dmap")
		if shutdownErr := db.Shutdown(context.Background()); shutdownErr != nil {
			o.log.Error().Err(shutdownErr).Msg("olric: failed to shutdown after dmap creation error")
		}
		return err
	}

	o.db = db
	o.client = client
	o.dmap = dm

	o.log.Info().
		Str("bind_addr", bindAddr).
		Int("bind_port", bindPort).
		Str("environment", env).
		Str("dmap", o.cfg.GetDMapName()).
		Int("peers", len(o.cfg.Peers)).
		Msg("olric backend connected (embedded)")
	return nil
}

func (o *Olric) connectClient(ctx context.Context) error {
	client, err := olric.NewClusterClient(o.cfg.Addresses)
	if err != nil {
		o.log.Error().Err(err).Strs("addresses", o.cfg.Addresses).Msg("olric: failed to connect to cluster")
		o.connErrs.Add(1)
		return fmt.Errorf("%w: olric connect: %v", ErrUnavailable, err)
	}

	dm, err := client.NewDMap(o.cfg.GetDMapName())
	if err != nil {
		o.log.Error().Err(err).Str("dmap", o.cfg.GetDMapName()).Msg("olric: failed to create dmap")
		if closeErr := client.Close(ctx); closeErr != nil {
			o.log.Error().Err(closeErr).Msg("olric: failed to close client after dmap creation error")
		}
		return err
	}

	o.client = client
	o.dmap = dm

	o.log.Info().
		Strs("addresses", o.cfg.Addresses).
		Str("dmap", o.cfg.GetDMapName()).
		Msg("olric backend connected (client)")
	return nil
}

// Get retrieves a value from the cluster.
func (o *Olric) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if err := o.ready(); err != nil {
		return nil, err
	}

	resp, err := o.dmap.Get(ctx, key)
	if err != nil {
		if errors.Is(err, olric.ErrKeyNotFound) {
			o.stats.misses.Add(1)
			o.log.Debug().Str("key", key).Bool("hit", false).Msg("olric get")
			return nil, ErrNotFound
		}
		return nil, o.opErr("get", err)
	}

	value, err := resp.Byte()
	if err != nil {
		o.stats.errors.Add(1)
		return nil, fmt.Errorf("%w: decode %q: %v", ErrSerialization, key, err)
	}

	o.stats.hits.Add(1)
	o.log.Debug().Str("key", key).Bool("hit", true).Int("size", len(value)).Msg("olric get")
	return bytes.Clone(value), nil
}

// Set stores a value with no expiration.
func (o *Olric) Set(ctx context.Context, key string, value []byte) error {
	return o.SetWithTTL(ctx, key, value, NoTTL)
}

// SetWithTTL stores a value; ttl > 0 expires it cluster-wide after ttl.
func (o *Olric) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if err := o.ready(); err != nil {
		return err
	}

	valueCopy := bytes.Clone(value)
	var err error
	if ttl > 0 {
		err = o.dmap.Put(ctx, key, valueCopy, olric.EX(ttl))
	} else {
		err = o.dmap.Put(ctx, key, valueCopy)
	}
	if err != nil {
		return o.opErr("set", err)
	}

	o.stats.sets.Add(1)
	o.log.Debug().Str("key", key).Int("size", len(value)).Dur("ttl", ttl).Msg("olric set")
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (o *Olric) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if err := o.ready(); err != nil {
		return err
	}

	_, err := o.dmap.Delete(ctx, key)
	if err != nil && !errors.Is(err, olric.ErrKeyNotFound) {
		return o.opErr("delete", err)
	}
	o.stats.deletes.Add(1)
	o.log.Debug().Str("key", key).Msg("olric delete")
	return nil
}

// Exists reports whether a key is present in the cluster.
func (o *Olric) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if err := o.ready(); err != nil {
		return false, err
	}

	_, err := o.dmap.Get(ctx, key)
	if errors.Is(err, olric.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, o.opErr("exists", err)
	}
	return true, nil
}

// Clear flushes the distributed map on the cluster.
func (o *Olric) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if err := o.ready(); err != nil {
		return err
	}

	if err := o.dmap.Destroy(ctx); err != nil {
		return o.opErr("clear", err)
	}
	o.log.Debug().Str("dmap", o.cfg.GetDMapName()).Msg("olric backend cleared")
	return nil
}

// Ping verifies cluster connectivity. A probe read on a reserved key is
// used; a not-found reply means the connection is working.
func (o *Olric) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if err := o.ready(); err != nil {
		return err
	}

	_, err := o.dmap.Get(ctx, "__ping_healthcheck__")
	if err != nil && !errors.Is(err, olric.ErrKeyNotFound) {
		if errors.Is(err, context.Canceled) {
			return err
		}
		o.connErrs.Add(1)
		o.log.Debug().Err(err).Msg("olric ping: unhealthy")
		return fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}
	o.log.Debug().Msg("olric ping: healthy")
	return nil
}

// Stats returns a snapshot of the local operation counters. Cluster
// statistics need a member address and are out of scope here; use the
// olric client directly for those.
func (o *Olric) Stats() Stats {
	st := o.stats.snapshot()
	st.ConnectionErrors = o.connErrs.Load()
	return st
}

// ResetStats zeroes all counters.
func (o *Olric) ResetStats() {
	o.stats.reset()
	o.connErrs.Store(0)
}

// Close shuts down the embedded node or disconnects the cluster client.
// Idempotent.
func (o *Olric) Close() error {
	if o.closed.Load() {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed.Swap(true) {
		return nil
	}

	ctx := context.Background()

	if o.dmap != nil {
		// Not critical, we are already shutting down.
		if dmapErr := o.dmap.Close(ctx); dmapErr != nil {
			o.log.Debug().Err(dmapErr).Msg("olric: dmap close error during shutdown")
		}
	}

	if o.db != nil {
		// Embedded mode: shut down the node.
		if err := o.db.Shutdown(ctx); err != nil {
			o.log.Error().Err(err).Msg("olric: embedded node shutdown error")
			return err
		}
		o.log.Info().Msg("olric backend closed (embedded)")
		return nil
	}

	if o.client != nil {
		if err := o.client.Close(ctx); err != nil {
			o.log.Error().Err(err).Msg("olric: client disconnect error")
			return err
		}
		o.log.Info().Msg("olric backend closed (client)")
	}
	return nil
}

// opErr classifies a failed operation: cancellations pass through,
// anything else counts as a connectivity failure and is marked
// transient.
func (o *Olric) opErr(op string, err error) error {
	o.stats.errors.Add(1)
	if errors.Is(err, context.Canceled) {
		return err
	}
	o.connErrs.Add(1)
	o.log.Warn().Err(err).Str("op", op).Msg("olric operation failed")
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

func (o *Olric) ready() error {
	if o.closed.Load() {
		return ErrClosed
	}
	if !o.connected.Load() {
		return ErrNotConnected
	}
	return nil
}

var (
	_ Backend       = (*Olric)(nil)
	_ Pinger        = (*Olric)(nil)
	_ StatsResetter = (*Olric)(nil)
)
