package logging

import (
	"os"
	"sync"
)

var (
	globalLogger = New(Config{Level: LevelInfo, Format: FormatJSON, Output: os.Stderr})
	globalMu     sync.RWMutex
)

// SetGlobal sets the global logger.
func SetGlobal(l *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// Global returns the global logger.
func Global() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Configure creates and installs a global logger from config values.
// Caller information is added at debug level.
func Configure(level, format string) *Logger {
	l := New(Config{
		Level:     ParseLevel(level),
		Format:    ParseFormat(format),
		Output:    os.Stderr,
		AddCaller: ParseLevel(level) == LevelDebug,
	})
	SetGlobal(l)
	return l
}
