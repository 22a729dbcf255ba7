package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cachetier/cachetier"
	"github.com/cachetier/cachetier/di"
	"github.com/cachetier/cachetier/keys"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run a read/write workload against the configured caches",
	Long: `Drive a synthetic workload through the cache manager built from the
config file, then print per-cache statistics. Useful for sizing eviction
strategies and validating resilience settings against a live backend.

The config file is watched during the run, so strategy or backend edits
apply to the remaining operations.`,
	RunE: runBench,
}

func init() {
	rootCmd.AddCommand(benchCmd)
	benchCmd.Flags().Int("ops", 10000, "total operations to issue")
	benchCmd.Flags().Int("workers", 8, "concurrent workers")
	benchCmd.Flags().Int("value-size", 256, "value payload size in bytes")
	benchCmd.Flags().Float64("read-ratio", 0.8, "fraction of operations that are reads")
	benchCmd.Flags().Int("key-space", 1000, "number of distinct keys in the workload")
	benchCmd.Flags().Duration("ttl", 0, "per-write TTL (0 uses the strategy default)")
	benchCmd.Flags().String("cache", "", "cache to target (default: the configured default)")
	benchCmd.Flags().Bool("json", false, "print statistics as JSON")
}

type benchOptions struct {
	Ops       int
	Workers   int
	ValueSize int
	ReadRatio float64
	KeySpace  int
	TTL       time.Duration
	Cache     string
	JSON      bool
}

func (o benchOptions) routeOpts() []cachetier.Option {
	var opts []cachetier.Option
	if o.Cache != "" {
		opts = append(opts, cachetier.WithBackend(o.Cache))
	}
	return opts
}

func (o benchOptions) writeOpts() []cachetier.Option {
	opts := o.routeOpts()
	if o.TTL > 0 {
		opts = append(opts, cachetier.WithTTL(o.TTL))
	}
	return opts
}

//nolint:cyclop // flag unpacking is repetitive, not complex
func benchOptionsFromFlags(cmd *cobra.Command) (benchOptions, error) {
	var opts benchOptions
	var err error

	if opts.Ops, err = cmd.Flags().GetInt("ops"); err != nil {
		return opts, fmt.Errorf("failed to get ops flag: %w", err)
	}
	if opts.Workers, err = cmd.Flags().GetInt("workers"); err != nil {
		return opts, fmt.Errorf("failed to get workers flag: %w", err)
	}
	if opts.ValueSize, err = cmd.Flags().GetInt("value-size"); err != nil {
		return opts, fmt.Errorf("failed to get value-size flag: %w", err)
	}
	if opts.ReadRatio, err = cmd.Flags().GetFloat64("read-ratio"); err != nil {
		return opts, fmt.Errorf("failed to get read-ratio flag: %w", err)
	}
	if opts.KeySpace, err = cmd.Flags().GetInt("key-space"); err != nil {
		return opts, fmt.Errorf("failed to get key-space flag: %w", err)
	}
	if opts.TTL, err = cmd.Flags().GetDuration("ttl"); err != nil {
		return opts, fmt.Errorf("failed to get ttl flag: %w", err)
	}
	if opts.Cache, err = cmd.Flags().GetString("cache"); err != nil {
		return opts, fmt.Errorf("failed to get cache flag: %w", err)
	}
	if opts.JSON, err = cmd.Flags().GetBool("json"); err != nil {
		return opts, fmt.Errorf("failed to get json flag: %w", err)
	}

	return opts, opts.validate()
}

func (o benchOptions) validate() error {
	if o.Ops < 1 {
		return fmt.Errorf("ops must be at least 1, got %d", o.Ops)
	}
	if o.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", o.Workers)
	}
	if o.ValueSize < 1 {
		return fmt.Errorf("value-size must be at least 1, got %d", o.ValueSize)
	}
	if o.ReadRatio < 0 || o.ReadRatio > 1 {
		return fmt.Errorf("read-ratio must be within [0, 1], got %g", o.ReadRatio)
	}
	if o.KeySpace < 1 {
		return fmt.Errorf("key-space must be at least 1, got %d", o.KeySpace)
	}
	return nil
}

func runBench(cmd *cobra.Command, _ []string) error {
	opts, err := benchOptionsFromFlags(cmd)
	if err != nil {
		return err
	}

	// Determine config path
	configPath := cfgFile
	if configPath == "" {
		configPath = findConfigFile()
	}

	container, err := di.NewContainer(configPath)
	if err != nil {
		log.Error().Err(err).Str("path", configPath).Msg("failed to create container")
		return err
	}
	defer func() {
		if err := container.Shutdown(); err != nil {
			log.Error().Err(err).Msg("container shutdown")
		}
	}()

	mgrSvc, err := di.Invoke[*di.ManagerService](container)
	if err != nil {
		log.Error().Err(err).Msg("failed to build cache manager")
		return err
	}

	// Recovery probes reconnect circuits that open during the run.
	di.MustInvoke[*di.CheckerService](container).Start()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	di.MustInvoke[*di.ConfigService](container).StartWatching(ctx)

	// SIGINT/SIGTERM stop the workload and still flush statistics.
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigint)
	go func() {
		select {
		case <-sigint:
			log.Info().Msg("interrupted, stopping workload...")
			cancel()
		case <-ctx.Done():
		}
	}()

	runID := uuid.NewString()[:8]
	log.Info().
		Str("run", runID).
		Int("ops", opts.Ops).
		Int("workers", opts.Workers).
		Float64("read_ratio", opts.ReadRatio).
		Msg("starting cache workload")

	start := time.Now()
	completed, err := runWorkload(ctx, mgrSvc, runID, opts)
	elapsed := time.Since(start)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("workload error")
		return err
	}

	printStats(mgrSvc.Get(), opts, completed, elapsed)

	return nil
}

// runWorkload spreads opts.Ops across workers, each issuing reads and
// writes over a shared key space so reads can hit earlier writes. The
// manager is fetched per operation, so a hot-reloaded config applies to
// the remaining operations.
func runWorkload(ctx context.Context, mgrSvc *di.ManagerService, runID string, opts benchOptions) (int64, error) {
	builder := keys.New("bench")
	payload := make([]byte, opts.ValueSize)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}

	var completed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)

	perWorker := opts.Ops / opts.Workers
	extra := opts.Ops % opts.Workers

	for w := 0; w < opts.Workers; w++ {
		count := perWorker
		if w < extra {
			count++
		}
		seed := int64(w + 1)

		g.Go(func() error {
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < count; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}

				key, err := builder.Key(runID, "entry", rng.Intn(opts.KeySpace))
				if err != nil {
					return err
				}

				mgr := mgrSvc.Get()
				if rng.Float64() < opts.ReadRatio {
					_, _, err = mgr.Get(gctx, key, opts.routeOpts()...)
				} else {
					err = mgr.Set(gctx, key, payload, opts.writeOpts()...)
				}
				if err != nil {
					return err
				}
				completed.Add(1)
			}
			return nil
		})
	}

	err := g.Wait()

	return completed.Load(), err
}

func opsPerSec(completed int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(completed) / elapsed.Seconds()
}

func printStats(mgr *cachetier.Manager, opts benchOptions, completed int64, elapsed time.Duration) {
	stats := mgr.Stats()

	if opts.JSON {
		out, err := json.MarshalIndent(map[string]any{
			"elapsed":     elapsed.String(),
			"ops":         completed,
			"ops_per_sec": opsPerSec(completed, elapsed),
			"caches":      stats,
			"total":       mgr.AggregateStats(),
		}, "", "  ")
		if err != nil {
			log.Error().Err(err).Msg("failed to marshal stats")
			return
		}
		fmt.Println(string(out))
		return
	}

	fmt.Printf("completed %d ops in %s (%.0f ops/sec)\n",
		completed, elapsed.Round(time.Millisecond), opsPerSec(completed, elapsed))
	for _, name := range mgr.Names() {
		st := stats[name]
		fmt.Printf("  %-12s hits=%d misses=%d sets=%d hit_rate=%.2f",
			name, st.Hits, st.Misses, st.Sets, st.HitRate)
		if st.CircuitState != "" {
			fmt.Printf(" circuit=%s retries=%d fallback_hits=%d",
				st.CircuitState, st.Retries, st.FallbackHits)
		}
		fmt.Println()
	}
	agg := mgr.AggregateStats()
	fmt.Printf("  %-12s hits=%d misses=%d sets=%d hit_rate=%.2f\n",
		"total", agg.Hits, agg.Misses, agg.Sets, agg.HitRate)
}
