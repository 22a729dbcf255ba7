package di

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/do/v2"

	"github.com/cachetier/cachetier"
	"github.com/cachetier/cachetier/config"
)

// ManagerService wraps the cache manager with hot-reload support.
// It uses atomic.Pointer for lock-free manager reads: operations in
// flight finish on the manager they started on while new operations
// use the rebuilt one.
type ManagerService struct {
	manager atomic.Pointer[cachetier.Manager]
	Manager *cachetier.Manager
	cfgSvc  *ConfigService
	tracker *HealthTrackerService
	checker *CheckerService
}

// Get returns the current manager via atomic load (lock-free read).
func (m *ManagerService) Get() *cachetier.Manager {
	return m.manager.Load()
}

// NewManager builds the cache manager from configuration.
func NewManager(i do.Injector) (*ManagerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	// Resolve the logger first so package loggers are installed before
	// any backend connects.
	_ = do.MustInvoke[*LoggerService](i)
	trackerSvc := do.MustInvoke[*HealthTrackerService](i)
	checkerSvc := do.MustInvoke[*CheckerService](i)

	svc := &ManagerService{
		cfgSvc:  cfgSvc,
		tracker: trackerSvc,
		checker: checkerSvc,
	}

	mgr, err := svc.build(cfgSvc.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to build cache manager: %w", err)
	}
	svc.manager.Store(mgr)
	svc.Manager = mgr
	svc.startWatching()

	return svc, nil
}

// build assembles a manager from cfg, sharing circuits with the health
// tracker and registering recovery probes on the current checker.
func (m *ManagerService) build(cfg *config.Config) (*cachetier.Manager, error) {
	// Use a background context with timeout for backend connections
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return cachetier.Build(ctx, cfg,
		cachetier.WithTracker(m.tracker.Tracker),
		cachetier.WithChecker(m.checker.Current()),
	)
}

func (m *ManagerService) startWatching() {
	if m.cfgSvc == nil || m.cfgSvc.watcher == nil {
		return
	}

	// The checker service registered its reload callback first, so by
	// the time this one runs the probes land on the rebuilt checker.
	m.cfgSvc.watcher.OnReload(func(newCfg *config.Config) error {
		mgr, err := m.build(newCfg)
		if err != nil {
			return fmt.Errorf("cache manager rebuild failed, keeping previous: %w", err)
		}

		old := m.manager.Swap(mgr)
		m.Manager = mgr
		if old != nil {
			if err := old.Close(); err != nil {
				log.Error().Err(err).Msg("closing replaced cache manager")
			}
		}
		log.Info().Msg("cache manager rebuilt from reloaded config")
		return nil
	})
}

// Shutdown implements do.Shutdowner for graceful manager cleanup.
func (m *ManagerService) Shutdown() error {
	if mgr := m.manager.Load(); mgr != nil {
		return mgr.Close()
	}
	return nil
}
