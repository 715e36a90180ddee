// Package logging builds the service logger. Records are written with
// zerolog; the console format is used for interactive terminals and JSON
// everywhere else unless a format is forced.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger aliases zerolog.Logger so packages outside logging do not need to
// import zerolog just to accept one.
type Logger = zerolog.Logger

// Options describes logger construction parameters.
type Options struct {
	Level  string
	Format string
	// File, when set, receives JSON records through a rotating writer in
	// addition to stdout.
	File string
	// Out overrides stdout. Used by tests.
	Out io.Writer
}

// New constructs a zerolog logger using the provided options.
func New(opts Options) (Logger, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), err
	}

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" || format == "auto" {
		format = "json"
		if isTerminal(out) {
			format = "console"
		}
	}

	var primary io.Writer
	switch format {
	case "json":
		primary = out
	case "console":
		primary = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	default:
		return zerolog.Nop(), fmt.Errorf("log format: unsupported value %q", opts.Format)
	}

	writers := []io.Writer{primary}
	if file := strings.TrimSpace(opts.File); file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return zerolog.Nop(), fmt.Errorf("ensure log directory: %w", err)
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		})
	}

	var sink io.Writer = primary
	if len(writers) > 1 {
		sink = zerolog.MultiLevelWriter(writers...)
	}

	return zerolog.New(sink).Level(level).With().Timestamp().Logger(), nil
}

// Nop returns a disabled logger.
func Nop() Logger {
	return zerolog.Nop()
}

func parseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("log level: unsupported value %q", level)
	}
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
