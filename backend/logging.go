package backend

import (
	"sync"

	"github.com/rs/zerolog"
)

var (
	loggerMu sync.RWMutex
	// Logger is the package-level logger for backend operations.
	// Defaults to a disabled logger; set via SetLogger.
	Logger = zerolog.Nop()
)

// SetLogger sets the package-level logger for backend operations.
func SetLogger(l *zerolog.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	Logger = l.With().Str("component", "backend").Logger()
}

// logger returns the current package-level logger.
func logger() zerolog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return Logger
}
