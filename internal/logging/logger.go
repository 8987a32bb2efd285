package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LevelCritical sits above slog's error level and marks conditions an
// operator must look at.
const LevelCritical = slog.Level(12)

type Logger struct {
	*slog.Logger
	writer *AsyncWriter
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	case "critical":
		return LevelCritical, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// NewLogger writes JSON lines to a rotated file at path through an
// AsyncWriter. An empty path logs to stdout only; mirror also copies file
// output to stdout.
func NewLogger(level slog.Level, path string, mirror bool, rot Rotation) (*Logger, error) {
	l := &Logger{}
	var out io.Writer = os.Stdout
	if path != "" {
		aw, err := OpenAsyncFile(path, 10000, rot)
		if err != nil {
			return nil, err
		}
		l.writer = aw
		out = aw
		if mirror {
			out = io.MultiWriter(aw, os.Stdout)
		}
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= LevelCritical {
					a.Value = slog.StringValue("CRITICAL")
				}
			}
			return a
		},
	})
	l.Logger = slog.New(handler)
	return l, nil
}

func (l *Logger) Critical(msg string, args ...any) {
	l.Log(context.Background(), LevelCritical, msg, args...)
}

func (l *Logger) Close() error {
	if l.writer == nil {
		return nil
	}
	return l.writer.Close()
}

var GlobalLogger *Logger

func InitGlobalLogger(level slog.Level, path string, mirror bool, rot Rotation) error {
	logger, err := NewLogger(level, path, mirror, rot)
	if err != nil {
		return err
	}
	GlobalLogger = logger
	slog.SetDefault(logger.Logger)
	return nil
}

// L returns the process logger, or slog's default before initialization.
func L() *slog.Logger {
	if GlobalLogger != nil {
		return GlobalLogger.Logger
	}
	return slog.Default()
}

func Debug(msg string, args ...any) {
	L().Debug(msg, args...)
}

func Info(msg string, args ...any) {
	L().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	L().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	L().Error(msg, args...)
}

func Critical(msg string, args ...any) {
	L().Log(context.Background(), LevelCritical, msg, args...)
}

func Close() error {
	if GlobalLogger == nil {
		return nil
	}
	return GlobalLogger.Close()
}
