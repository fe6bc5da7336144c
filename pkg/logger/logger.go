package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/onurcolak/sequence-dialer/environments"
)

var current atomic.Pointer[slog.Logger]

func init() {
	current.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
}

// Init configures the process-wide logger (called once from the command entrypoint).
// When cfg.File is set, output is written to stderr and to a size-rotated file.
func Init(cfg environments.LogConfig) {
	var out io.Writer = os.Stderr
	if cfg.File != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		})
	}

	l := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}))
	current.Store(l)
	slog.SetDefault(l)
}

// ParseLevel maps a config level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// Logger returns the configured structured logger.
func Logger() *slog.Logger {
	return current.Load()
}

func logf(level slog.Level, format string, v ...any) {
	l := current.Load()
	if !l.Enabled(context.Background(), level) {
		return
	}
	l.Log(context.Background(), level, fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	logf(slog.LevelInfo, format, v...)
}

func Warnf(format string, v ...any) {
	logf(slog.LevelWarn, format, v...)
}

func Errorf(format string, v ...any) {
	logf(slog.LevelError, format, v...)
}

func Debugf(format string, v ...any) {
	logf(slog.LevelDebug, format, v...)
}

func Fatalf(format string, v ...any) {
	logf(slog.LevelError, "[FATAL] "+format, v...)
	os.Exit(1)
}
