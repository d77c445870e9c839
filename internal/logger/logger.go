// Package logger provides leveled logging with support for debug, info, warn, and error levels.
// It keeps a printf-style call surface on top of zerolog so call sites stay terse
// while output remains structured (JSON) or human readable (text).
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Level represents a logging level
type Level int

const (
	// DebugLevel logs are typically voluminous, and are usually disabled in production.
	DebugLevel Level = iota
	// InfoLevel is the default logging priority.
	InfoLevel
	// WarnLevel logs are more important than Info, but don't need individual human review.
	WarnLevel
	// ErrorLevel logs are high-priority. If an application is running smoothly, it shouldn't generate any error-level logs.
	ErrorLevel
)

var (
	// Global logger instance; nil until Init is called, which keeps tests quiet.
	defaultLogger *zerolog.Logger
)

// ParseLevel maps a config string to a Level, defaulting to InfoLevel.
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Init initializes the default logger with the specified level and format
func Init(level string, format string) {
	InitWithWriter(level, format, os.Stderr)
}

// InitWithWriter is Init with an explicit destination.
func InitWithWriter(level string, format string, w io.Writer) {
	out := w
	if strings.ToLower(format) == "text" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "2006-01-02 15:04:05.000"}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	l := zerolog.New(out).
		Level(ParseLevel(level).zerolog()).
		With().
		Timestamp().
		Logger()
	defaultLogger = &l
}

// Component returns a child logger tagged with the component name.
func Component(name string) zerolog.Logger {
	if defaultLogger == nil {
		return zerolog.Nop()
	}
	return defaultLogger.With().Str("component", name).Logger()
}

// Debug logs a message at DebugLevel
func Debug(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Debug().Msgf(format, args...)
	}
}

// Info logs a message at InfoLevel
func Info(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Info().Msgf(format, args...)
	}
}

// Warn logs a message at WarnLevel
func Warn(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Warn().Msgf(format, args...)
	}
}

// Error logs a message at ErrorLevel
func Error(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Error().Msgf(format, args...)
	}
}

// Fatal logs a message at ErrorLevel and exits
func Fatal(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.WithLevel(zerolog.FatalLevel).Msgf(format, args...)
	} else {
		fmt.Fprintf(os.Stderr, "[FATAL] "+format+"\n", args...)
	}
	os.Exit(1)
}
