// Package obslog provides structured logging for the cache/versioning core
// using zerolog. It wraps a single global logger with component- and
// request-scoped child loggers so every package logs with consistent fields.
package obslog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance. Init must run before any package
// logs; until then Logger is the zero zerolog.Logger, which discards every
// event.
var Logger zerolog.Logger

// Level is a logging verbosity threshold.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config configures the global logger.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger from Config.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent returns a child logger tagged with the given component name.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithWorker returns a child logger tagged with a worker index.
func WithWorker(workerID int) zerolog.Logger {
	return Logger.With().Int("worker", workerID).Logger()
}

// WithKey returns a child logger tagged with a cache key.
func WithKey(key string) zerolog.Logger {
	return Logger.With().Str("cache_key", key).Logger()
}

// WithObjectID returns a child logger tagged with a document identifier.
func WithObjectID(id string) zerolog.Logger {
	return Logger.With().Str("object_id", id).Logger()
}

func Info(msg string)  { Logger.Info().Msg(msg) }
func Debug(msg string) { Logger.Debug().Msg(msg) }
func Warn(msg string)  { Logger.Warn().Msg(msg) }
func Error(msg string) { Logger.Error().Msg(msg) }

// Errorf logs msg at error level with err attached.
func Errorf(msg string, err error) {
	Logger.Error().Err(err).Msg(msg)
}

// Critical logs at error level with a "[CRITICAL]" prefix, matching the
// barrier's timeout-logging contract (§4.D / §5 of the spec).
func Critical(msg string) {
	Logger.Error().Msg("[CRITICAL] " + msg)
}
