package di

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/samber/do/v2"

	"github.com/cachetier/cachetier"
	"github.com/cachetier/cachetier/backend"
	"github.com/cachetier/cachetier/config"
	"github.com/cachetier/cachetier/resilience"
	"github.com/cachetier/cachetier/strategy"
)

// LoggerService wraps the zerolog logger for DI.
type LoggerService struct {
	Logger *zerolog.Logger
}

// NewLogger creates the zerolog logger from configuration and installs
// it as the package logger of every cachetier package. Each package tags
// its own component field.
func NewLogger(i do.Injector) (*LoggerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)

	logger, err := config.NewLogger(cfgSvc.Config.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	cachetier.SetLogger(&logger)
	backend.SetLogger(&logger)
	strategy.SetLogger(&logger)
	resilience.SetLogger(&logger)

	return &LoggerService{Logger: &logger}, nil
}
