package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

const (
	// DefaultLogLevel is the default log level
	DefaultLogLevel = zerolog.InfoLevel
)

// DefaultLogWriter is the default log io.Writer implementor
var DefaultLogWriter = os.Stderr

// Logger wraps a zerolog.Logger together with the writer it logs to.
type Logger struct {
	*zerolog.Logger
	writer io.Writer
}

// NewLogger creates a New Logger
func NewLogger(logger *zerolog.Logger, writer io.Writer) *Logger {
	return &Logger{
		Logger: logger,
		writer: writer,
	}
}

// NewDefaultLogger creates a new Logger with default log writer and level
func NewDefaultLogger() *Logger {
	logger := zerolog.New(DefaultLogWriter).Level(DefaultLogLevel).With().Timestamp().Logger()
	return &Logger{
		Logger: &logger,
		writer: DefaultLogWriter,
	}
}

// NewDebugLogger creates a new Logger with default log writer with debug level
func NewDebugLogger() *Logger {
	logger := zerolog.New(DefaultLogWriter).Level(zerolog.DebugLevel).With().Timestamp().Logger()
	return &Logger{
		Logger: &logger,
		writer: DefaultLogWriter,
	}
}

// NewSubLogger creates a sub Logger of the parent one, with the same writer
// and one extra string field.
func NewSubLogger(parentLogger *Logger, key, value string) *Logger {
	subLogger := parentLogger.With().Str(key, value).Logger()
	return &Logger{
		Logger: &subLogger,
		writer: parentLogger.writer,
	}
}

// WithUnit returns a sub Logger that tags every line with the work unit's
// offset and the worker running it.
func (l *Logger) WithUnit(offset, workerNum int) *Logger {
	subLogger := l.With().Int("unit", offset).Int("worker", workerNum).Logger()
	return &Logger{
		Logger: &subLogger,
		writer: l.writer,
	}
}

// Writer returns the writer underneath the logger.
func (l *Logger) Writer() io.Writer {
	return l.writer
}
