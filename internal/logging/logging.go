// Package logging builds the zerolog logger the rest of savekeep writes to.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Configure builds a stderr logger from config values.
func Configure(level, format string) zerolog.Logger {
	return New(os.Stderr, level, format)
}

// New builds a logger writing to w. format "console" gives human readable lines,
// anything else JSON. Unknown levels fall back to info.
func New(w io.Writer, level, format string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	output := w
	if strings.EqualFold(format, "console") {
		output = zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(output).Level(lvl).With().Timestamp().Str("app", "savekeep").Logger()
}
