package di

import (
	"sync/atomic"

	"github.com/cachetier/cachetier/config"
)

// Exported for testing.
// This file provides access to unexported identifiers needed by tests in package di_test.

// GetConfigAtomic returns the atomic pointer for config storage.
func (c *ConfigService) GetConfigAtomic() *atomic.Pointer[config.Config] {
	return &c.config
}

// GetWatcher returns the watcher for testing purposes.
func (c *ConfigService) GetWatcher() *config.Watcher {
	return c.watcher
}

// NewConfigServiceUninitialized creates a ConfigService without a watcher
// or stored config.
func NewConfigServiceUninitialized() *ConfigService {
	return &ConfigService{
		watcher: nil,
		Config:  nil,
		path:    "",
	}
}

// NewConfigServiceWithConfig creates a ConfigService with config and nil watcher.
func NewConfigServiceWithConfig(cfg *config.Config) *ConfigService {
	svc := &ConfigService{
		watcher: nil,
		Config:  cfg,
		path:    "",
	}
	svc.config.Store(cfg)
	return svc
}
