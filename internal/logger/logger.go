// Package logger builds the zerolog loggers used by the command line tools.
package logger

import (
	"io"
	"strings"

	"github.com/rs/zerolog"

	"frapdiff/internal/models"
)

// ParseLevel maps debug, info, warn and error onto zerolog levels
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info", "":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	}
	return zerolog.NoLevel, &models.ConfigurationError{
		Field:   "log level",
		Value:   level,
		Allowed: []string{"debug", "info", "warn", "error"},
	}
}

// New creates a timestamped JSON logger writing to w
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// NewConsole creates a human readable logger writing to w
func NewConsole(w io.Writer, level zerolog.Level) zerolog.Logger {
	return New(zerolog.ConsoleWriter{Out: w, NoColor: true}, level)
}
