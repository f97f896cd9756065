package nplog

import (
	"github.com/kataras/golog"
)

// GologLogger adapts a kataras/golog logger to the Logger interface,
// for callers who already run golog elsewhere and want the pipeline
// runner's logging folded into the same sink and level configuration.
type GologLogger struct {
	logger *golog.Logger
	level  LogLevel
}

var _ Logger = (*GologLogger)(nil)

// NewGologLogger wraps an existing golog.Logger at LogLevelInfo.
func NewGologLogger(logger *golog.Logger) *GologLogger {
	return &GologLogger{
		logger: logger,
		level:  LogLevelInfo,
	}
}

func (l *GologLogger) logf(golog func(string, ...any), minLevel LogLevel, format string, v ...any) {
	if l.level > minLevel {
		return
	}
	golog(format, v...)
}

// Debug logs debug messages
func (l *GologLogger) Debug(format string, v ...any) { l.logf(l.logger.Debugf, LogLevelDebug, format, v...) }

// Info logs informational messages
func (l *GologLogger) Info(format string, v ...any) { l.logf(l.logger.Infof, LogLevelInfo, format, v...) }

// Warn logs warning messages
func (l *GologLogger) Warn(format string, v ...any) { l.logf(l.logger.Warnf, LogLevelWarn, format, v...) }

// Error logs error messages
func (l *GologLogger) Error(format string, v ...any) { l.logf(l.logger.Errorf, LogLevelError, format, v...) }

// SetLevel sets the log level
func (l *GologLogger) SetLevel(level LogLevel) {
	l.level = level

	// Convert to golog level string
	gologLevel := "info"
	switch level {
	case LogLevelDebug:
		gologLevel = "debug"
	case LogLevelInfo:
		gologLevel = "info"
	case LogLevelWarn:
		gologLevel = "warn"
	case LogLevelError:
		gologLevel = "error"
	case LogLevelNone:
		gologLevel = "disable"
	}

	l.logger.SetLevel(gologLevel)
}

// GetLevel returns the current log level
func (l *GologLogger) GetLevel() LogLevel {
	return l.level
}