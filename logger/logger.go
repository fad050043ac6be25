// Package logger provides the structured logger used across the server: a
// small Field-based interface backed by zerolog, with console, JSON and
// daily-rotated file outputs.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Well-known field keys shared by every component.
const (
	KeyConnID     = "conn_id"
	KeySessionID  = "session_id"
	KeyRemoteAddr = "remote_addr"
	KeyMsgType    = "msg_type"
	KeyError      = "error"
)

// Field represents a key-value pair for structured log output.
type Field struct {
	Key   string
	Value any
}

// Err wraps err in a Field under KeyError. A nil error yields a nil value.
func Err(err error) Field {
	if err == nil {
		return Field{Key: KeyError, Value: nil}
	}

	return Field{Key: KeyError, Value: err.Error()}
}

// ConnID returns a Field carrying a connection id.
func ConnID(id uint32) Field {
	return Field{Key: KeyConnID, Value: id}
}

// SessionID returns a Field carrying a game session id.
func SessionID(id uint32) Field {
	return Field{Key: KeySessionID, Value: id}
}

// Logger is an interface for structured logging. Implementations write log
// entries at different levels and support attaching structured fields.
// Component loggers are derived with With.
type Logger interface {
	// Debug logs a message at debug level with optional structured fields.
	Debug(msg string, fields ...Field)

	// Info logs a message at info level with optional structured fields.
	Info(msg string, fields ...Field)

	// Warn logs a message at warn level with optional structured fields.
	Warn(msg string, fields ...Field)

	// Error logs a message at error level with optional structured fields.
	Error(msg string, fields ...Field)

	// With returns a new Logger that includes the given fields in all
	// subsequent log entries. The receiver is unchanged.
	//
	// Parameters:
	//   - fields: Key-value pairs to attach to the derived logger
	//
	// Returns:
	//   - A new Logger with the specified fields
	With(fields ...Field) Logger

	// GetLoggerInstance returns the underlying zerolog.Logger for integration
	// with libraries that need a concrete logger.
	GetLoggerInstance() interface{}

	// Close releases resources held by the logger (e.g. file handles).
	// It is safe to call multiple times.
	Close() error
}

// zerologLogger is the zerolog-based implementation of Logger.
type zerologLogger struct {
	logger         zerolog.Logger
	fileWriter     *DailyFileWriter
	ownsFileWriter bool
}

// ParseLevel maps a configuration level name ("debug", "info", "warn",
// "error", "disabled") to a zerolog level. Matching is case-insensitive.
//
// Parameters:
//   - level: The level name
//
// Returns:
//   - The zerolog level
//   - An error for an unrecognised name
func ParseLevel(level string) (zerolog.Level, error) {
	l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	if l == zerolog.NoLevel {
		return zerolog.InfoLevel, nil
	}

	return l, nil
}

// NewZerologLogger builds a Logger that wraps the given zerolog.Logger,
// adding a service name and timestamp to all entries and filtering by level.
//
// Parameters:
//   - l: The zerolog.Logger to wrap
//   - serviceName: Name of the service, added as a field to every log entry
//   - level: Minimum level to log
//
// Returns:
//   - A Logger that writes through the given zerolog instance
func NewZerologLogger(l zerolog.Logger, serviceName string, level zerolog.Level) Logger {
	return &zerologLogger{
		logger: l.With().Str("service", serviceName).Timestamp().Logger().Level(level),
	}
}

// NewConsoleLogger builds a human-readable Logger writing to stderr, meant
// for interactive runs of the daemon and the client.
func NewConsoleLogger(serviceName string, level zerolog.Level) Logger {
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	return NewZerologLogger(zerolog.New(w), serviceName, level)
}

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() Logger {
	return &zerologLogger{logger: zerolog.Nop()}
}

// NewZerologFileLogger creates a Logger that writes JSON entries to both
// stdout and daily-rotated log files in logDir, named {serviceName}_{date}.log.
//
// Parameters:
//   - serviceName: Name of the service, used in log entries and file names
//   - logDir: Directory for log files; created if it does not exist
//   - level: Minimum level to log
//
// Returns:
//   - A Logger that writes to stdout and rotating files
//   - An error if logDir or the first log file cannot be created
func NewZerologFileLogger(serviceName string, logDir string, level zerolog.Level) (Logger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	fileWriter, err := NewDailyFileWriter(serviceName, logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create file writer: %w", err)
	}

	multi := io.MultiWriter(os.Stdout, fileWriter)
	return &zerologLogger{
		logger:         zerolog.New(multi).With().Str("service", serviceName).Timestamp().Logger().Level(level),
		fileWriter:     fileWriter,
		ownsFileWriter: true,
	}, nil
}

// Debug implements Logger.
func (z *zerologLogger) Debug(msg string, fields ...Field) {
	z.logger.Debug().Fields(toMap(fields)).Msg(msg)
}

// Info implements Logger.
func (z *zerologLogger) Info(msg string, fields ...Field) {
	z.logger.Info().Fields(toMap(fields)).Msg(msg)
}

// Warn implements Logger.
func (z *zerologLogger) Warn(msg string, fields ...Field) {
	z.logger.Warn().Fields(toMap(fields)).Msg(msg)
}

// Error implements Logger.
func (z *zerologLogger) Error(msg string, fields ...Field) {
	z.logger.Error().Fields(toMap(fields)).Msg(msg)
}

// With implements Logger.
func (z *zerologLogger) With(fields ...Field) Logger {
	return &zerologLogger{
		logger:     z.logger.With().Fields(toMap(fields)).Logger(),
		fileWriter: z.fileWriter,
	}
}

// GetLoggerInstance implements Logger.
func (z *zerologLogger) GetLoggerInstance() interface{} {
	return z.logger
}

// Close implements Logger.
func (z *zerologLogger) Close() error {
	if z.fileWriter != nil && z.ownsFileWriter {
		return z.fileWriter.Close()
	}

	return nil
}

func toMap(fields []Field) map[string]any {
	if len(fields) == 0 {
		return nil
	}

	m := make(map[string]any, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}

	return m
}
