// Package logging configures the zerolog logger used by the keg binary.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level maps a -v count to a zerolog level: warnings by default, then info,
// debug and trace.
func Level(verbosity int) zerolog.Level {
	switch {
	case verbosity <= 0:
		return zerolog.WarnLevel
	case verbosity == 1:
		return zerolog.InfoLevel
	case verbosity == 2:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// New returns a console logger writing to w at the level for verbosity.
// Caller information is added from debug upwards.
func New(w io.Writer, verbosity int, noColor bool) zerolog.Logger {
	console := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.Kitchen,
		NoColor:    noColor,
	}
	ctx := zerolog.New(console).Level(Level(verbosity)).With().Timestamp()
	if verbosity >= 2 {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}

// Setup returns the logger for the CLI. Colors are disabled when NO_COLOR
// is set.
func Setup(w io.Writer, verbosity int) zerolog.Logger {
	_, noColor := os.LookupEnv("NO_COLOR")
	logger := New(w, verbosity, noColor)
	logger.Debug().Int("verbosity", verbosity).Msg("logger initialized")
	return logger
}

// Component derives a logger tagged with the package that uses it.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
