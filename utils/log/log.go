// Package log provides the process-wide structured logger. Components log
// through these package-level functions; none takes a *zap.SugaredLogger
// in its constructor. Configure replaces the logger they all write to.
package log

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu     sync.RWMutex
	logger = newDefault()
)

func newDefault() *zap.SugaredLogger {
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	return l.Sugar()
}

// Configure replaces the package-level logger. Called once at startup from
// main() using the level/encoding parsed out of config.Config.
func Configure(l *zap.SugaredLogger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// With returns a logger with the given key/value pairs attached to every
// subsequent entry.
func With(args ...interface{}) *zap.SugaredLogger {
	return current().With(args...)
}

// Debugf logs a formatted message at debug level.
func Debugf(format string, args ...interface{}) {
	current().Debugf(format, args...)
}

// Infof logs a formatted message at info level.
func Infof(format string, args ...interface{}) {
	current().Infof(format, args...)
}

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...interface{}) {
	current().Warnf(format, args...)
}

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...interface{}) {
	current().Errorf(format, args...)
}

// Fatalf logs a formatted message at fatal level and exits the process.
func Fatalf(format string, args ...interface{}) {
	current().Fatalf(format, args...)
}
