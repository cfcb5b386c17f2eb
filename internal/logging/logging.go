// Package logging builds the process-wide slog logger: level selection
// with debug override, text output on stderr, and an optional rotating
// file sink for long-lived deployments where spawned children keep
// writing stderr through the proxy's log.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the sink and verbosity. Debug wins over Level.
type Options struct {
	Level string // debug, info, warn, error
	Debug bool
	File  string // when set, logs rotate at MaxSizeMB in this file instead of stderr
}

// MaxSizeMB is the rotation threshold for the file sink.
const MaxSizeMB = 20

// ParseLevel maps a level name to its slog.Level, defaulting to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds the logger and installs it as slog's default.
func New(opts Options) *slog.Logger {
	level := ParseLevel(opts.Level)
	if opts.Debug {
		level = slog.LevelDebug
	}

	var sink io.Writer = os.Stderr
	if opts.File != "" {
		sink = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    MaxSizeMB,
			MaxBackups: 3,
			Compress:   true,
		}
	}

	log := slog.New(slog.NewTextHandler(sink, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)
	return log
}
