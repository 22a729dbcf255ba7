package di

import (
	"sync"

	"github.com/samber/do/v2"

	"github.com/cachetier/cachetier/config"
	"github.com/cachetier/cachetier/health"
)

// HealthTrackerService wraps the health tracker for DI.
type HealthTrackerService struct {
	Tracker *health.Tracker
	cfgSvc  *ConfigService
	logger  *LoggerService
}

// CheckerService wraps the recovery prober for DI.
type CheckerService struct {
	Checker   *health.Checker
	cfgSvc    *ConfigService
	tracker   *HealthTrackerService
	logger    *LoggerService
	started   bool
	startedMu sync.Mutex
}

// NewHealthTracker creates the health tracker from configuration.
func NewHealthTracker(i do.Injector) (*HealthTrackerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)

	tracker := health.NewTracker(
		cfgSvc.Config.Health.CircuitBreaker,
		loggerSvc.Logger,
	)
	return &HealthTrackerService{
		Tracker: tracker,
		cfgSvc:  cfgSvc,
		logger:  loggerSvc,
	}, nil
}

// NewChecker creates the recovery prober from configuration.
// Backend probes are registered by the manager build, which composes
// the stores the probes must ping.
func NewChecker(i do.Injector) (*CheckerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	trackerSvc := do.MustInvoke[*HealthTrackerService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)

	checkerSvc := &CheckerService{
		Checker:   nil,
		cfgSvc:    cfgSvc,
		tracker:   trackerSvc,
		logger:    loggerSvc,
		started:   false,
		startedMu: sync.Mutex{},
	}

	if err := checkerSvc.rebuildFrom(cfgSvc.Config); err != nil {
		return nil, err
	}
	checkerSvc.startWatching()

	return checkerSvc, nil
}

// Shutdown implements do.Shutdowner for graceful checker cleanup.
func (h *CheckerService) Shutdown() error {
	h.startedMu.Lock()
	defer h.startedMu.Unlock()
	if h.Checker != nil && h.started {
		h.Checker.Stop()
		h.started = false
	}
	return nil
}

// Start starts the recovery prober and records that it is running.
func (h *CheckerService) Start() {
	h.startedMu.Lock()
	h.started = true
	checker := h.Checker
	h.startedMu.Unlock()

	if checker != nil {
		checker.Start()
	}
}

// Current returns the checker currently in effect. Reload swaps the
// checker, so callers registering probes must fetch it fresh rather
// than hold the field.
func (h *CheckerService) Current() *health.Checker {
	h.startedMu.Lock()
	defer h.startedMu.Unlock()
	return h.Checker
}

func (h *CheckerService) startWatching() {
	if h.cfgSvc == nil || h.cfgSvc.watcher == nil {
		return
	}

	h.cfgSvc.watcher.OnReload(func(newCfg *config.Config) error {
		return h.rebuildFrom(newCfg)
	})
}

func (h *CheckerService) rebuildFrom(cfg *config.Config) error {
	if cfg == nil {
		return nil
	}

	// Reset tracker with updated config (preserves pointer for wrappers)
	h.tracker.Tracker.Reset(cfg.Health.CircuitBreaker, h.logger.Logger)

	checker := health.NewChecker(
		h.tracker.Tracker,
		cfg.Health.Probes,
		h.logger.Logger,
	)

	h.swapChecker(checker)
	return nil
}

func (h *CheckerService) swapChecker(checker *health.Checker) {
	h.startedMu.Lock()
	wasRunning := h.started
	oldChecker := h.Checker
	h.Checker = checker
	h.startedMu.Unlock()

	if oldChecker != nil && wasRunning {
		oldChecker.Stop()
		checker.Start()
	}
}
