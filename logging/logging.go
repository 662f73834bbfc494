// ABOUTME: Process-wide structured logger built on zerolog with optional rotating file output.
// ABOUTME: The TUI routes logs to a lumberjack file because Bubble Tea owns the terminal.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger     = zerolog.Nop()
	loggerLock sync.RWMutex
	closer     io.Closer
)

// Options controls where and how much is logged.
type Options struct {
	Level string
	// File, when set, sends JSON lines to a rotating file instead of the console.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Console selects a human-readable writer on Stderr when File is empty.
	Console bool
}

// Setup replaces the global logger. It returns a function that flushes and
// closes any file output.
func Setup(opts Options) (func() error, error) {
	var out io.Writer
	var c io.Closer

	switch {
	case opts.File != "":
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, err
		}
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 10),
			MaxBackups: orDefault(opts.MaxBackups, 3),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
			Compress:   true,
		}
		out, c = lj, lj
	case opts.Console:
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	default:
		out = os.Stderr
	}

	l := zerolog.New(out).Level(ParseLevel(opts.Level)).With().Timestamp().Logger()

	loggerLock.Lock()
	prev := closer
	logger, closer = l, c
	loggerLock.Unlock()
	if prev != nil {
		_ = prev.Close()
	}

	return func() error {
		if c == nil {
			return nil
		}
		return c.Close()
	}, nil
}

// SetOutput points the global logger at w. Intended for tests.
func SetOutput(w io.Writer, level string) {
	loggerLock.Lock()
	defer loggerLock.Unlock()
	logger = zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
}

// SetLevel changes the global log level at runtime.
func SetLevel(level string) {
	loggerLock.Lock()
	logger = logger.Level(ParseLevel(level))
	loggerLock.Unlock()
}

// ParseLevel converts a level name to a zerolog.Level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func current() *zerolog.Logger {
	loggerLock.RLock()
	defer loggerLock.RUnlock()
	l := logger
	return &l
}

func Debug() *zerolog.Event { return current().Debug() }
func Info() *zerolog.Event  { return current().Info() }
func Warn() *zerolog.Event  { return current().Warn() }
func Error() *zerolog.Event { return current().Error() }

// Logger returns a copy of the underlying zerolog.Logger for integrations.
func Logger() zerolog.Logger {
	return *current()
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
