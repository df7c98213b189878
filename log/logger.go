/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package log provides a thin structured logging facade used across the library.
// It is backed by github.com/ssgreg/logf.
package log

import (
	"io"
	"os"

	"github.com/ssgreg/logf"
	"github.com/ssgreg/logftext"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Field holds data of a single structured log field.
type Field = logf.Field

// CloseFunc flushes and closes the underlying log writer.
type CloseFunc logf.ChannelWriterCloseFunc

// Commonly used field constructors re-exported from logf.
var (
	Error    = logf.Error
	String   = logf.String
	Int      = logf.Int
	Int64    = logf.Int64
	Float64  = logf.Float64
	Bool     = logf.Bool
	Duration = logf.Duration
	Time     = logf.Time
	Any      = logf.Any
)

// FieldLogger is an interface for loggers which write logs in structured format.
type FieldLogger interface {
	With(...Field) FieldLogger

	Debug(string, ...Field)
	Info(string, ...Field)
	Warn(string, ...Field)
	Error(string, ...Field)
}

// LogfAdapter adapts logf.Logger to the FieldLogger interface.
type LogfAdapter struct {
	Logger *logf.Logger
}

// NewDisabledLogger returns a logger that logs nothing.
func NewDisabledLogger() FieldLogger {
	return &LogfAdapter{logf.NewDisabledLogger()}
}

// NewLogger returns a new logger built from the provided configuration.
// The returned CloseFunc must be called before the process exits to flush buffered entries.
func NewLogger(cfg *Config) (FieldLogger, CloseFunc) {
	channel, closeFunc := logf.NewChannelWriter(logf.ChannelWriterConfig{
		Appender:          makeAppender(cfg),
		EnableSyncOnError: true,
	})
	logfLogger := logf.NewLogger(cfg.Level.toLogfLevel(), channel)
	logfLogger = logfLogger.With(logf.Int("pid", os.Getpid()))
	return &LogfAdapter{logfLogger}, CloseFunc(closeFunc)
}

// With returns a new logger with the given additional fields.
func (l *LogfAdapter) With(fs ...Field) FieldLogger {
	return &LogfAdapter{l.Logger.With(fs...)}
}

// Debug logs message at "debug" level.
func (l *LogfAdapter) Debug(s string, fields ...Field) {
	l.Logger.Debug(s, fields...)
}

// Info logs message at "info" level.
func (l *LogfAdapter) Info(s string, fields ...Field) {
	l.Logger.Info(s, fields...)
}

// Warn logs message at "warn" level.
func (l *LogfAdapter) Warn(s string, fields ...Field) {
	l.Logger.Warn(s, fields...)
}

// Error logs message at "error" level.
func (l *LogfAdapter) Error(s string, fields ...Field) {
	l.Logger.Error(s, fields...)
}

func makeAppender(cfg *Config) logf.Appender {
	switch cfg.Output {
	case OutputFile:
		writer := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    int(uint64(cfg.File.Rotation.MaxSize) / 1024 / 1024),
			MaxBackups: cfg.File.Rotation.MaxBackups,
			Compress:   cfg.File.Rotation.Compress,
		}
		return makeAppenderWithWriter(cfg, writer)
	case OutputStderr:
		return makeAppenderWithWriter(cfg, os.Stderr)
	}
	return makeAppenderWithWriter(cfg, os.Stdout)
}

func makeAppenderWithWriter(cfg *Config, w io.Writer) logf.Appender {
	if cfg.Format == FormatText {
		noColor := cfg.NoColor
		return logftext.NewAppender(w, logftext.EncoderConfig{
			NoColor:    &noColor,
			EncodeTime: logf.RFC3339NanoTimeEncoder,
		})
	}
	return logf.NewWriteAppender(w, logf.NewJSONEncoder(logf.JSONEncoderConfig{
		EncodeTime:   logf.RFC3339NanoTimeEncoder,
		FieldKeyTime: "time",
	}))
}
