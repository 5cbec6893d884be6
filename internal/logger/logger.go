// Package logger provides structured logging for the macro host, adapted
// from the teacher's component-scoped zerolog wrapper: instead of
// per-feature loggers (Database, HTTP, Webhook...) this host exposes one
// logger per pipeline stage, since that is how failures need to be
// attributed (spec.md §7: "reported with the plugin's identity").
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the global logger instance, configured by Initialize.
var Log zerolog.Logger

// Initialize sets up the global logger. level is parsed by zerolog
// (e.g. "debug", "info", "warn"); pretty selects human-readable console
// output over newline-delimited JSON.
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().Str("service", "scarb-macro-host").Logger()
	Log.Info().Str("level", logLevel.String()).Bool("pretty", pretty).Msg("logger initialized")
}

func init() {
	// A usable default so tests and library callers that never call
	// Initialize still get sane (quiet) logging instead of a nil logger.
	Log = zerolog.New(os.Stderr).With().Timestamp().Str("service", "scarb-macro-host").Logger()
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
}

// GetLogger returns the global logger instance.
func GetLogger() *zerolog.Logger { return &Log }

// Build returns a logger scoped to the plugin build cache (C3).
func Build() *zerolog.Logger {
	l := Log.With().Str("component", "buildcache").Logger()
	return &l
}

// Load returns a logger scoped to the plugin loader (C2).
func Load() *zerolog.Logger {
	l := Log.With().Str("component", "loader").Logger()
	return &l
}

// Dispatch returns a logger scoped to the AST dispatcher (C6).
func Dispatch() *zerolog.Logger {
	l := Log.With().Str("component", "dispatcher").Logger()
	return &l
}

// PostProcess returns a logger scoped to the post-processor (C7).
func PostProcess() *zerolog.Logger {
	l := Log.With().Str("component", "postprocess").Logger()
	return &l
}

// Registry returns a logger scoped to the expansion registry (C4).
func Registry() *zerolog.Logger {
	l := Log.With().Str("component", "registry").Logger()
	return &l
}
