package telemetry

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is a zerolog logger that knows the procsim field names.
type Logger struct {
	zlog zerolog.Logger
}

// NewLogger builds a logger from cfg. A file output is opened for append.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	var w io.Writer
	switch cfg.Output {
	case "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	case "discard":
		w = io.Discard
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("log output: %w", err)
		}
		w = f
	}
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zctx := zerolog.New(w).Level(level).With().Timestamp()
	if cfg.Caller {
		zctx = zctx.Caller()
	}
	zlog := zctx.Logger()
	if cfg.DebugSampleEvery > 1 {
		zlog = zlog.Sample(zerolog.LevelSampler{
			DebugSampler: &zerolog.BasicSampler{N: cfg.DebugSampleEvery},
		})
	}
	return &Logger{zlog: zlog}, nil
}

// NewComponentLogger returns a child logger tagged with component.
func (l *Logger) NewComponentLogger(component string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("component", component) })
}

// Zerolog returns the underlying logger, the form the process, pvt and
// policy packages take.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

func (l *Logger) with(fn func(zerolog.Context) zerolog.Context) *Logger {
	return &Logger{zlog: fn(l.zlog.With()).Logger()}
}

// WithRunID tags entries with a run.
func (l *Logger) WithRunID(runID string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("run_id", runID) })
}

// WithUnit tags entries with an equipment node.
func (l *Logger) WithUnit(name, unitType string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context {
		return c.Str("unit", name).Str("unit_type", unitType)
	})
}

// WithExperiment tags entries with a PVT experiment.
func (l *Logger) WithExperiment(id, kind string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context {
		return c.Str("experiment_id", id).Str("experiment", kind)
	})
}

// WithError attaches err.
func (l *Logger) WithError(err error) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Err(err) })
}

func (l *Logger) Debug(msg string) { l.zlog.Debug().Msg(msg) }
func (l *Logger) Info(msg string)  { l.zlog.Info().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.zlog.Warn().Msg(msg) }
func (l *Logger) Error(msg string) { l.zlog.Error().Msg(msg) }

// Warnf logs a formatted warning.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.zlog.Warn().Msgf(format, args...)
}
