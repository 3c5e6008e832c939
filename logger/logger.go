// Package logger provides the structured logging interface used across the
// relay, backed by zerolog, with optional daily-rotated log files and an
// operator hook that mirrors log lines to a callback.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Field is a key-value pair attached to a log entry.
type Field struct {
	Key   string
	Value any
}

// Logger writes leveled, structured log entries.
type Logger interface {
	// Debug logs msg at debug level with optional fields.
	Debug(msg string, fields ...Field)

	// Info logs msg at info level with optional fields.
	Info(msg string, fields ...Field)

	// Warn logs msg at warn level with optional fields.
	Warn(msg string, fields ...Field)

	// Error logs msg at error level with optional fields.
	Error(msg string, fields ...Field)

	// With returns a Logger that adds fields to every entry. The receiver
	// is left unchanged.
	//
	// Parameters:
	//   - fields: Key-value pairs to attach to the derived logger
	//
	// Returns:
	//   - A new Logger carrying the fields
	With(fields ...Field) Logger

	// GetLoggerInstance returns the underlying zerolog.Logger.
	GetLoggerInstance() interface{}

	// Close releases any file handles owned by the logger. It is safe to
	// call multiple times.
	Close() error
}

// MessageHook receives the message of every log entry at or above the
// hook's level. It is how the server surfaces its operator "log message"
// events.
type MessageHook func(level zerolog.Level, msg string)

type zerologLogger struct {
	logger         zerolog.Logger
	fileWriter     *DailyFileWriter
	ownsFileWriter bool
}

// NewZerologLogger wraps l, tagging every entry with serviceName and a
// timestamp and dropping entries below level.
//
// Parameters:
//   - l: The zerolog.Logger to write through
//   - serviceName: Value of the "service" field on every entry
//   - level: Minimum level to log
//
// Returns:
//   - A Logger writing through l
func NewZerologLogger(l zerolog.Logger, serviceName string, level zerolog.Level) Logger {
	return &zerologLogger{
		logger: l.With().Str("service", serviceName).Timestamp().Logger().Level(level),
	}
}

// NewZerologWriterLogger is NewZerologLogger over a fresh zerolog.Logger
// writing JSON lines to w.
func NewZerologWriterLogger(w io.Writer, serviceName string, level zerolog.Level) Logger {
	return NewZerologLogger(zerolog.New(w), serviceName, level)
}

// NewZerologFileLogger writes to stdout and to daily-rotated files named
// {serviceName}_{date}.log inside logDir, creating logDir if needed.
//
// Parameters:
//   - serviceName: Service name for entries and file names
//   - logDir: Directory for log files
//   - level: Minimum level to log
//
// Returns:
//   - The Logger; call Close to release the file
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

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() Logger {
	return &zerologLogger{logger: zerolog.Nop()}
}

// WithMessageHook returns a Logger that also calls hook with the message of
// each entry at or above minLevel. Loggers not created by this package are
// returned unchanged.
//
// Parameters:
//   - l: The logger to extend
//   - minLevel: Lowest level forwarded to hook
//   - hook: Callback receiving level and message; it runs on the logging goroutine
//
// Returns:
//   - The hooked Logger
func WithMessageHook(l Logger, minLevel zerolog.Level, hook MessageHook) Logger {
	z, ok := l.(*zerologLogger)
	if !ok || hook == nil {
		return l
	}

	return &zerologLogger{
		logger: z.logger.Hook(zerolog.HookFunc(func(_ *zerolog.Event, level zerolog.Level, msg string) {
			if level >= minLevel && level < zerolog.NoLevel && msg != "" {
				hook(level, msg)
			}
		})),
		fileWriter: z.fileWriter,
	}
}

// ParseLevel maps a config string such as "debug" or "WARN" to a zerolog
// level. An empty string means info.
func ParseLevel(s string) (zerolog.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zerolog.InfoLevel, nil
	}

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}

	return level, nil
}

func (z *zerologLogger) Debug(msg string, fields ...Field) {
	z.logger.Debug().Fields(toMap(fields)).Msg(msg)
}

func (z *zerologLogger) Info(msg string, fields ...Field) {
	z.logger.Info().Fields(toMap(fields)).Msg(msg)
}

func (z *zerologLogger) Warn(msg string, fields ...Field) {
	z.logger.Warn().Fields(toMap(fields)).Msg(msg)
}

func (z *zerologLogger) Error(msg string, fields ...Field) {
	z.logger.Error().Fields(toMap(fields)).Msg(msg)
}

func (z *zerologLogger) With(fields ...Field) Logger {
	return &zerologLogger{
		logger:     z.logger.With().Fields(toMap(fields)).Logger(),
		fileWriter: z.fileWriter,
	}
}

func (z *zerologLogger) GetLoggerInstance() interface{} {
	return z.logger
}

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
