package logging

import (
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation bounds a log file on disk. Zero fields keep lumberjack's
// defaults (100 MB, no backup limit, no age limit).
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func DefaultRotation() Rotation {
	return Rotation{MaxSizeMB: 64, MaxBackups: 7, MaxAgeDays: 14, Compress: true}
}

// RotatingFile opens path lazily on first write and rolls it over by size.
// Rolled files are named path-<timestamp>.ext next to it.
func RotatingFile(path string, r Rotation) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    r.MaxSizeMB,
		MaxBackups: r.MaxBackups,
		MaxAge:     r.MaxAgeDays,
		Compress:   r.Compress,
		LocalTime:  false,
	}
}
