// Package logging provides leveled, component-prefixed logging for blockvfs,
// backed by zerolog.
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents different logging levels
type LogLevel int

const (
	// LevelError only logs errors
	LevelError LogLevel = iota
	// LevelWarn logs warnings and errors
	LevelWarn
	// LevelInfo logs general information, warnings and errors
	LevelInfo
	// LevelDebug logs detailed debug information and all above
	LevelDebug
	// LevelTrace logs very detailed trace information and all above
	LevelTrace
)

var zerologLevels = map[LogLevel]zerolog.Level{
	LevelError: zerolog.ErrorLevel,
	LevelWarn:  zerolog.WarnLevel,
	LevelInfo:  zerolog.InfoLevel,
	LevelDebug: zerolog.DebugLevel,
	LevelTrace: zerolog.TraceLevel,
}

// Logger provides structured logging capabilities with a component prefix.
type Logger struct {
	logger zerolog.Logger
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// GetLogger returns the default logger instance.
func GetLogger() *Logger {
	once.Do(func() {
		defaultLogger = NewLogger(os.Stderr, false)

		// Set initial log level from environment
		if level := os.Getenv("LOG_LEVEL"); level != "" {
			switch level {
			case "ERROR":
				defaultLogger.SetLevel(LevelError)
			case "WARN":
				defaultLogger.SetLevel(LevelWarn)
			case "INFO":
				defaultLogger.SetLevel(LevelInfo)
			case "DEBUG":
				defaultLogger.SetLevel(LevelDebug)
			case "TRACE":
				defaultLogger.SetLevel(LevelTrace)
			}
		}
	})
	return defaultLogger
}

// NewLogger creates a new logger writing to the given output. When pretty is
// set, output is rendered for human consumption on a console instead of JSON.
func NewLogger(output io.Writer, pretty bool) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	if pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	l := zerolog.New(output).
		Level(zerolog.InfoLevel).
		With().
		Timestamp().
		Logger()

	return &Logger{logger: l}
}

// SetLevel sets the logging level.
func (l *Logger) SetLevel(level LogLevel) {
	zl, ok := zerologLevels[level]
	if !ok {
		zl = zerolog.InfoLevel
	}
	l.logger = l.logger.Level(zl)
}

// SetPretty switches the default logger output to console rendering. Intended
// to be called once during startup, before any component loggers are derived.
func SetPretty(pretty bool) {
	if !pretty {
		return
	}
	lg := GetLogger()
	lg.logger = lg.logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// WithPrefix creates a new logger tagged with a component name.
func (l *Logger) WithPrefix(prefix string) *Logger {
	return &Logger{logger: l.logger.With().Str("component", prefix).Logger()}
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.logger.Info().Msgf(format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

// Trace logs a trace message
func (l *Logger) Trace(format string, args ...interface{}) {
	l.logger.Trace().Msgf(format, args...)
}
