// Package log wraps zerolog with the child-logger helpers the rest of the
// codebase uses to tag output by task, orchestrator or blueprint.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide base logger. Init must be called once at
// startup before any package-level helper is used.
var Logger zerolog.Logger

// Level mirrors zerolog's levels so callers don't need to import zerolog
// directly just to configure logging.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Config controls process-wide logging setup.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init configures the package logger. Called once from each cmd's
// cobra.OnInitialize.
func Init(cfg Config) {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(string(cfg.Level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if !cfg.JSONOutput {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	Logger = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// WithComponent scopes a logger to a subsystem name, e.g. "scheduler" or
// "api".
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithTask scopes a logger to a task id, used throughout the scheduler and
// spawn packages.
func WithTask(taskID string) zerolog.Logger {
	return Logger.With().Str("task_id", taskID).Logger()
}

// WithOrchestrator scopes a logger to an orchestrator id.
func WithOrchestrator(orchestratorID string) zerolog.Logger {
	return Logger.With().Str("orchestrator", orchestratorID).Logger()
}

// WithBlueprint scopes a logger to a blueprint name for pool/spawn logging.
func WithBlueprint(blueprint string) zerolog.Logger {
	return Logger.With().Str("blueprint", blueprint).Logger()
}

func Info() *zerolog.Event  { return Logger.Info() }
func Debug() *zerolog.Event { return Logger.Debug() }
func Warn() *zerolog.Event  { return Logger.Warn() }
func Error() *zerolog.Event { return Logger.Error() }
