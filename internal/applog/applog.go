// Package applog configures the process-wide structured logger. It is
// created once at boot and threaded through the application context rather
// than referenced as a global, per the injected-context design note (spec §9).
package applog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger writing to w (os.Stdout in production, a
// buffer in tests). pretty enables the human-readable console writer for
// interactive use; daemons should leave it false and emit JSON lines.
func New(w io.Writer, pretty bool, level string) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// Component returns a child logger tagged with a component field, so every
// line a package emits can be filtered by "component=admission" etc.
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
