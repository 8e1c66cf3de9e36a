package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide root logger. It defaults to info-level JSON on
// stdout so startup code may log before Init runs; Init replaces it with the
// configured logger.
var Logger = zerolog.New(os.Stdout).Level(zerolog.InfoLevel).With().Timestamp().Logger()

// Config holds logging configuration.
type Config struct {
	// Level is a zerolog level name ("debug", "info", "warn", "error").
	// Unrecognized names fall back to info rather than failing startup.
	Level string
	// Console switches from JSON to human-readable console output, for
	// development. Production deployments keep the JSON default.
	Console bool
	// Output defaults to stdout.
	Output io.Writer
}

// Init replaces the root logger. The level is carried on the logger itself,
// so a second Init (tests) cannot leak a level into unrelated packages the
// way a global level filter would.
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	Logger = zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// WithComponent returns a child logger tagged with the component name. Every
// long-lived component (allocator, issuer, publisher, api) keeps one.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithIssuerID returns a child logger tagged with the issuer instance.
func WithIssuerID(issuerID string) zerolog.Logger {
	return Logger.With().Str("issuer_id", issuerID).Logger()
}

// WithAllocatorID returns a child logger tagged with the index allocator;
// used by everything that touches one list management document's state.
func WithAllocatorID(allocatorID string) zerolog.Logger {
	return Logger.With().Str("allocator_id", allocatorID).Logger()
}

// WithListID returns a child logger tagged with a status list credential URL.
func WithListID(listID string) zerolog.Logger {
	return Logger.With().Str("list_id", listID).Logger()
}
