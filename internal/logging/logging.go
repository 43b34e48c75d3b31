// Package logging builds the process logger: a colored console handler plus
// a rotating log file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/dupwatch/internal/utils"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"
	defaultMaxSizeMB  = 20
	defaultMaxBackups = 5
	defaultMaxAgeDays = 30
)

type Options struct {
	Level slog.Level
	// Console defaults to stdout.
	Console io.Writer
	// File is the log file path; empty disables file logging.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Setup installs the default slog logger. The returned closer flushes and
// closes the log file.
func Setup(opts Options) (*slog.Logger, io.Closer, error) {
	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	handlers := []slog.Handler{
		tint.NewHandler(console, &tint.Options{
			Level:      opts.Level,
			TimeFormat: consoleTimeFormat,
			NoColor:    !isTerminal(console),
		}),
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		if err := utils.EnsureParent(opts.File); err != nil {
			return nil, nil, fmt.Errorf("log dir: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    valueOr(opts.MaxSizeMB, defaultMaxSizeMB),
			MaxBackups: valueOr(opts.MaxBackups, defaultMaxBackups),
			MaxAge:     valueOr(opts.MaxAgeDays, defaultMaxAgeDays),
		}
		// the file always records debug, whatever the console level
		handlers = append(handlers, slog.NewTextHandler(rotator, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		closer = rotator
	}

	logger := slog.New(NewFanoutHandler(handlers...))
	slog.SetDefault(logger)
	return logger, closer, nil
}

// ParseLevel accepts debug, info, warn or error (any case). Empty is info.
func ParseLevel(s string) (slog.Level, error) {
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", s, err)
	}
	return level, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func valueOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
