// Package logger wraps zerolog with the small surface the pipeline uses.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wonny/hedgefund/pkg/config"
)

// Logger is an immutable field set over a zerolog.Logger. Every With*
// call returns a child; the receiver is never changed.
// ⭐ SSOT: all logging goes through this package
type Logger struct {
	zlog zerolog.Logger
}

// New builds the process logger. Output goes to stderr so the CLI can keep
// stdout for results.
// ⭐ SSOT: the global level is set here and nowhere else
func New(cfg *config.Config) *Logger {
	var out io.Writer = os.Stderr
	switch cfg.LogFormat {
	case "console", "pretty":
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	zerolog.SetGlobalLevel(parseLogLevel(cfg.LogLevel))
	return &Logger{zlog: zerolog.New(out).With().Timestamp().Str("env", cfg.Env).Logger()}
}

// NewWithWriter builds a JSON logger on w without touching the global level.
func NewWithWriter(w io.Writer, level string) *Logger {
	return &Logger{zlog: zerolog.New(w).Level(parseLogLevel(level)).With().Timestamp().Logger()}
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// parseLogLevel accepts zerolog level names plus "warning"; anything it
// does not know, including the empty string, means info.
func parseLogLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return zerolog.WarnLevel
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func (l *Logger) Debug(msg string) { l.zlog.Debug().Msg(msg) }
func (l *Logger) Info(msg string)  { l.zlog.Info().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.zlog.Warn().Msg(msg) }
func (l *Logger) Error(msg string) { l.zlog.Error().Msg(msg) }

// Infof and Warnf format like fmt.Sprintf.
func (l *Logger) Infof(format string, args ...interface{}) { l.zlog.Info().Msgf(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{}) { l.zlog.Warn().Msgf(format, args...) }

// Component tags every entry with the subsystem that wrote it.
func (l *Logger) Component(name string) *Logger {
	return l.WithField("component", name)
}

func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{zlog: l.zlog.With().Interface(key, value).Logger()}
}

// WithFields adds every entry of fields; map order does not matter since
// the output is keyed.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	c := l.zlog.With()
	for k, v := range fields {
		c = c.Interface(k, v)
	}
	return &Logger{zlog: c.Logger()}
}

func (l *Logger) WithError(err error) *Logger {
	return &Logger{zlog: l.zlog.With().Err(err).Logger()}
}
