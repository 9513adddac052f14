package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// TimeFormat is how timestamps render in console and file output.
const TimeFormat = "2006-01-02 15:04:05"

// RunLogPaths names the files of a RunLog.
type RunLogPaths struct {
	// Info receives every line.
	Info string

	// Error receives only ERROR (and worse) lines. It is not created
	// until the first such line is written.
	Error string
}

// RunLog is the logger for one verification run. It fans out to the
// console, an info log file, and an error log file.
type RunLog struct {
	*Logger

	Paths RunLogPaths

	infoFile  *lumberjack.Logger
	errorFile *lumberjack.Logger
}

// OpenRunLog prepares a RunLog. Parent directories are created eagerly;
// the files themselves are opened on first write and appended to.
func OpenRunLog(paths RunLogPaths, console io.Writer, level zerolog.Level) (*RunLog, error) {
	for _, p := range []string{paths.Info, paths.Error} {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return nil, errors.Wrapf(err, "creating log directory for %#q", p)
		}
	}

	infoFile := newFileWriter(paths.Info)
	errorFile := newFileWriter(paths.Error)

	writers := []io.Writer{
		zerolog.LevelWriterAdapter{Writer: NewLineWriter(infoFile, true)},
		&zerolog.FilteredLevelWriter{
			Writer: zerolog.LevelWriterAdapter{Writer: NewLineWriter(errorFile, true)},
			Level:  zerolog.ErrorLevel,
		},
	}

	if console != nil {
		writers = append(writers, NewLineWriter(console, false))
	}

	writer := zerolog.SyncWriter(zerolog.MultiLevelWriter(writers...))

	l := zerolog.New(writer).Level(level).With().Timestamp().Logger()

	return &RunLog{
		Logger:    NewLogger(&l, writer),
		Paths:     paths,
		infoFile:  infoFile,
		errorFile: errorFile,
	}, nil
}

// Close flushes and closes both log files.
func (rl *RunLog) Close() error {
	infoErr := rl.infoFile.Close()
	errorErr := rl.errorFile.Close()

	if infoErr != nil {
		return errors.Wrapf(infoErr, "closing %#q", rl.Paths.Info)
	}

	return errors.Wrapf(errorErr, "closing %#q", rl.Paths.Error)
}

func newFileWriter(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename: path,
		MaxSize:  1024,
	}
}

// NewLineWriter renders zerolog events as plain lines such as
//
//	INFO  [2006-01-02 15:04:05] message key=value
func NewLineWriter(out io.Writer, noColor bool) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    noColor,
		TimeFormat: TimeFormat,
		PartsOrder: []string{
			zerolog.LevelFieldName,
			zerolog.TimestampFieldName,
			zerolog.MessageFieldName,
		},
		FormatLevel: func(i any) string {
			return strings.ToUpper(fmt.Sprintf("%-5s", i))
		},
		FormatTimestamp: func(i any) string {
			s := fmt.Sprint(i)

			t, err := time.Parse(zerolog.TimeFieldFormat, s)
			if err == nil {
				s = t.Local().Format(TimeFormat)
			}

			return "[" + s + "]"
		},
	}
}
