// Package logging provides the uploader's structured logger.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/seqlab/run-uploader/internal/constants"
	"github.com/seqlab/run-uploader/internal/events"
)

// Options configures NewLogger.
type Options struct {
	// Console receives human-readable output. Defaults to stdout; stderr is
	// left to the progress bars.
	Console io.Writer

	// File, when set, receives JSON lines rotated by lumberjack.
	File string

	// Verbose lowers the global level to debug.
	Verbose bool

	// Bus, when set, gets a LogEvent for every warning and error.
	Bus *events.EventBus
}

// Logger wraps zerolog with the uploader's sinks.
type Logger struct {
	zlog    zerolog.Logger
	console io.Writer
	file    *lumberjack.Logger
	bus     *events.EventBus
}

// NewLogger creates a logger and makes it the global zerolog logger, so
// packages logging through zerolog/log share the same sinks.
func NewLogger(opts Options) *Logger {
	if opts.Console == nil {
		opts.Console = os.Stdout
	}
	l := &Logger{bus: opts.Bus}
	if opts.File != "" {
		_ = os.MkdirAll(filepath.Dir(opts.File), 0700)
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    constants.LogMaxSizeMB,
			MaxBackups: constants.LogMaxBackups,
			MaxAge:     constants.LogMaxAgeDays,
			Compress:   true,
		}
	}
	l.SetOutput(opts.Console)

	if opts.Verbose {
		SetGlobalLevel(zerolog.DebugLevel)
	} else {
		SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = l.zlog
	return l
}

// NewDefaultCLILogger creates a console-only logger at info level.
func NewDefaultCLILogger() *Logger {
	return NewLogger(Options{})
}

// SetOutput swaps the console writer, e.g. to print above progress bars.
func (l *Logger) SetOutput(w io.Writer) {
	l.console = w
	writers := []io.Writer{zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}}
	if l.file != nil {
		writers = append(writers, l.file)
	}
	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	if l.bus != nil {
		zl = zl.Hook(busHook{bus: l.bus})
	}
	l.zlog = zl
	log.Logger = l.zlog
}

// Output returns the current console writer.
func (l *Logger) Output() io.Writer {
	return l.console
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Info returns an info level event.
func (l *Logger) Info() *zerolog.Event { return l.zlog.Info() }

// Error returns an error level event.
func (l *Logger) Error() *zerolog.Event { return l.zlog.Error() }

// Debug returns a debug level event.
func (l *Logger) Debug() *zerolog.Event { return l.zlog.Debug() }

// Warn returns a warn level event.
func (l *Logger) Warn() *zerolog.Event { return l.zlog.Warn() }

// With creates a child logger with additional context.
func (l *Logger) With() zerolog.Context { return l.zlog.With() }

// Zerolog returns the underlying logger.
func (l *Logger) Zerolog() zerolog.Logger { return l.zlog }

// Debugf logs a debug message with printf-style formatting.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.zlog.Debug().Msgf(format, args...)
}

// Infof logs an info message with printf-style formatting.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.zlog.Info().Msgf(format, args...)
}

// Warnf logs a warning message with printf-style formatting.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.zlog.Warn().Msgf(format, args...)
}

// Errorf logs an error message with printf-style formatting.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.zlog.Error().Msgf(format, args...)
}

// SetGlobalLevel sets the global log level.
func SetGlobalLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

// busHook forwards warnings and errors to the event bus.
type busHook struct {
	bus *events.EventBus
}

func (h busHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	switch level {
	case zerolog.WarnLevel:
		h.bus.PublishLog(events.WarnLevel, "", "", msg, nil)
	case zerolog.ErrorLevel, zerolog.FatalLevel:
		h.bus.PublishLog(events.ErrorLevel, "", "", msg, nil)
	}
}

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	})
}
