package strategy

import (
	"sync"

	"github.com/rs/zerolog"
)

var (
	loggerMu sync.RWMutex
	// Logger is the package logger. Replace it with SetLogger.
	Logger = zerolog.Nop()
)

// SetLogger replaces the package logger. Pass a configured zerolog
// logger to see strategy sweep, eviction, and lifecycle events.
func SetLogger(l *zerolog.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	Logger = l.With().Str("component", "strategy").Logger()
}

func logger() *zerolog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return &Logger
}
