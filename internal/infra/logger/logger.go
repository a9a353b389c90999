// Package logger provides structured logging using zerolog.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Config represents logger configuration.
type Config struct {
	Output string // "stdout", "stderr", or "file"
	Level  string // "trace", "debug", "info", "warn", "error"
	File   string // log file path (used when Output is "file")
}

// Init initializes the global zerolog logger with the given configuration.
// The returned closer releases the log file, if any.
func Init(cfg Config) (io.Closer, error) {
	level := parseLevel(cfg.Level)
	console := isConsole(cfg.Output)

	var writer io.Writer
	var closer io.Closer = nopCloser{}
	switch {
	case strings.EqualFold(cfg.Output, "stderr"):
		writer = os.Stderr
	case console:
		writer = os.Stdout
	default:
		if cfg.File == "" {
			return nil, errors.New("log file path is required for file output")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create log directory")
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open log file")
		}
		writer = f
		closer = f
	}

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.TimeOnly
	zerolog.TimestampFieldName = "time"
	zerolog.LevelFieldName = "level"
	zerolog.MessageFieldName = "message"

	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		parts := strings.Split(file, string(filepath.Separator))
		if len(parts) > 1 {
			return filepath.Join(parts[len(parts)-2:]...) + ":" + strconv.Itoa(line)
		}
		return filepath.Base(file) + ":" + strconv.Itoa(line)
	}

	logger := newLogger(writer, level, console)
	zerolog.DefaultContextLogger = &logger
	zlog.Logger = logger

	return closer, nil
}

// newLogger builds a console logger (colour) for terminals and a JSON logger otherwise.
// Caller info is only attached at debug level and below.
func newLogger(writer io.Writer, level zerolog.Level, console bool) zerolog.Logger {
	withCaller := level <= zerolog.DebugLevel

	if !console {
		ctx := zerolog.New(writer).With().Timestamp()
		if withCaller {
			return ctx.Caller().Logger()
		}
		return ctx.Logger()
	}

	if withCaller {
		return zerolog.New(zerolog.ConsoleWriter{
			Out:        writer,
			TimeFormat: time.TimeOnly,
			PartsOrder: []string{"time", "level", "message", "caller"},
			FormatCaller: func(i interface{}) string {
				return "(" + i.(string) + ")"
			},
		}).With().Timestamp().Caller().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        writer,
		TimeFormat: time.TimeOnly,
	}).With().Timestamp().Logger()
}

func isConsole(output string) bool {
	switch strings.ToLower(output) {
	case "stdout", "stderr", "":
		return true
	default:
		return false
	}
}

// parseLevel parses the log level string.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
