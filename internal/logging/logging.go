package logging

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/petems/signal-tray/internal/config"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New creates a zerolog logger writing to the console and to a rotated
// log file, at the configured level.
func New(cfg config.LogConfig) zerolog.Logger {
	return build(cfg, Path())
}

// NewWithLevel creates a logger with default rotation at the given level.
// An unparseable level falls back to info.
func NewWithLevel(level string) zerolog.Logger {
	cfg := config.Default().Log
	cfg.Level = level
	return New(cfg)
}

func build(cfg config.LogConfig, logPath string) zerolog.Logger {
	var file io.Writer = io.Discard
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err == nil {
		file = &lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    cfg.MaxSizeMB,  // megabytes after which new file is created
			MaxBackups: cfg.MaxBackups, // number of backups
			MaxAge:     cfg.MaxAgeDays, // days
			Compress:   true,
		}
	}

	// Multi-writer: console + file
	multi := zerolog.MultiLevelWriter(
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
		file,
	)

	return zerolog.New(multi).Level(parseLevel(cfg.Level)).With().Timestamp().Caller().Logger()
}

func parseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(s)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// Path returns the platform-specific log file path
func Path() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Logs"
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	default:
		if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.local/state"
		}
	}

	return filepath.Join(base, "signal-tray", "signal-tray.log")
}
