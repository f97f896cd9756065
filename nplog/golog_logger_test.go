package nplog

import (
	"testing"

	"github.com/kataras/golog"
	"github.com/stretchr/testify/assert"
)

func TestNewGologLoggerDefaultsToInfo(t *testing.T) {
	logger := NewGologLogger(golog.New())
	assert.NotNil(t, logger)
	assert.Equal(t, LogLevelInfo, logger.GetLevel())
	var _ Logger = logger
}

func TestGologLoggerSetLevelRoundTrips(t *testing.T) {
	logger := NewGologLogger(golog.New())
	for _, level := range []LogLevel{LogLevelDebug, LogLevelWarn, LogLevelError, LogLevelNone} {
		logger.SetLevel(level)
		assert.Equal(t, level, logger.GetLevel())
	}
}

func TestGologLoggerLoggingDoesNotPanic(t *testing.T) {
	logger := NewGologLogger(golog.New())
	logger.SetLevel(LogLevelDebug)

	logger.Debug("debug: %s", "detail")
	logger.Info("info: %d items", 3)
	logger.Warn("warn: %v", map[string]int{"retries": 2})
	logger.Error("error: %f", 3.14)
}

func TestGologLoggerFiltersBelowConfiguredLevel(t *testing.T) {
	logger := NewGologLogger(golog.New())
	logger.SetLevel(LogLevelError)

	// Filtered out by level; these must not panic even though the
	// underlying golog instance is never reached.
	logger.Debug("suppressed")
	logger.Info("suppressed")
	logger.Warn("suppressed")
	logger.Error("this one logs")
}
