package logging

import (
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger = NewLogrusAdapterFromLogger(logrus.StandardLogger())
)

// GetLogger returns the process-wide default logger. Constructors fall
// back to it when they are handed a nil Logger.
func GetLogger() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetLogger replaces the process-wide default logger.
func SetLogger(logger Logger) {
	if logger == nil {
		return
	}
	defaultMu.Lock()
	defaultLogger = logger
	defaultMu.Unlock()
}

// SetAllLogLevels forces level on the logrus standard logger and on the
// default logger when it is logrus-backed.
func SetAllLogLevels(level logrus.Level) {
	logrus.SetLevel(level)
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	if adapter, ok := defaultLogger.(*LogrusAdapter); ok {
		adapter.logger.SetLevel(level)
	}
}

// OrDefault returns logger, or the default logger when logger is nil.
func OrDefault(logger Logger) Logger {
	if logger == nil {
		return GetLogger()
	}
	return logger
}
