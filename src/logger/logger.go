package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger defines the interface for logging throughout the application.
// Different implementations can be used for different contexts (console, silent, structured, etc.)
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	// Fatal records a fatal condition. It does not exit the process.
	Fatal(msg string, args ...interface{})
}

// Options controls how a ZerologLogger renders.
type Options struct {
	Level   string
	Console bool
	Fields  map[string]string
}

// ZerologLogger writes leveled logs through zerolog.
type ZerologLogger struct {
	zl zerolog.Logger
}

// New creates a logger writing to w. Console mode renders human readable lines,
// otherwise one JSON object per line is written.
func New(w io.Writer, opts Options) *ZerologLogger {
	if opts.Console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true}
	}
	zerolog.TimeFieldFormat = time.RFC3339

	ctx := zerolog.New(w).With().Timestamp()
	for k, v := range opts.Fields {
		ctx = ctx.Str(k, v)
	}
	return &ZerologLogger{zl: ctx.Logger().Level(ParseLevel(opts.Level))}
}

// NewTee writes JSON lines to w and human readable lines to console.
func NewTee(w, console io.Writer, opts Options) *ZerologLogger {
	opts.Console = false
	cw := zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339, NoColor: true}
	return New(zerolog.MultiLevelWriter(w, cw), opts)
}

// NewConsoleLogger writes human-readable logs to stderr at Info level.
func NewConsoleLogger() *ZerologLogger {
	return New(os.Stderr, Options{Level: "Info", Console: true})
}

// ParseLevel maps a LogLevel setting (Fatal, Error, Warn, Info, Debug) onto a
// zerolog level. Unknown values fall back to Info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "fatal":
		return zerolog.FatalLevel
	case "error":
		return zerolog.ErrorLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "debug":
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

// With returns a child logger carrying an extra field.
func (l *ZerologLogger) With(key, value string) *ZerologLogger {
	return &ZerologLogger{zl: l.zl.With().Str(key, value).Logger()}
}

func (l *ZerologLogger) Debug(msg string, args ...interface{}) {
	l.zl.Debug().Msg(format(msg, args))
}

func (l *ZerologLogger) Info(msg string, args ...interface{}) {
	l.zl.Info().Msg(format(msg, args))
}

func (l *ZerologLogger) Warn(msg string, args ...interface{}) {
	l.zl.Warn().Msg(format(msg, args))
}

func (l *ZerologLogger) Error(msg string, args ...interface{}) {
	l.zl.Error().Msg(format(msg, args))
}

func (l *ZerologLogger) Fatal(msg string, args ...interface{}) {
	l.zl.WithLevel(zerolog.FatalLevel).Msg(format(msg, args))
}

func format(msg string, args []interface{}) string {
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

// SilentLogger discards all log messages.
// Used by the MCP server, where stdout carries the protocol.
type SilentLogger struct{}

func NewSilentLogger() *SilentLogger {
	return &SilentLogger{}
}

func (s *SilentLogger) Debug(msg string, args ...interface{}) {}
func (s *SilentLogger) Info(msg string, args ...interface{})  {}
func (s *SilentLogger) Warn(msg string, args ...interface{})  {}
func (s *SilentLogger) Error(msg string, args ...interface{}) {}
func (s *SilentLogger) Fatal(msg string, args ...interface{}) {}
