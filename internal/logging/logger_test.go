package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestLoggerWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	l, err := NewLogger(slog.LevelInfo, path, false, DefaultRotation())
	require.NoError(t, err)

	l.Debug("hidden")
	l.Info("decision", "guild", "1", "action", "ban")
	l.Critical("worker panic", "guild", "2")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "decision", first["msg"])
	assert.Equal(t, "ban", first["action"])

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "CRITICAL", second["level"])
}

func TestAsyncWriterRollsOverBySize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "decisions.log")
	f := RotatingFile(path, Rotation{MaxSizeMB: 1, MaxBackups: 2})
	aw := NewAsyncWriter(f, 16)

	line := []byte(strings.Repeat("x", 1023) + "\n")
	for i := 0; i < 1100; i++ {
		for {
			if len(aw.buffer) < cap(aw.buffer) {
				break
			}
			time.Sleep(time.Millisecond)
		}
		_, err := aw.Write(line)
		require.NoError(t, err)
	}
	require.NoError(t, aw.Close())
	assert.Zero(t, aw.Dropped())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "current file plus one rolled backup")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(1<<20))
}

func TestOpenAsyncFileRejectsUnwritablePath(t *testing.T) {
	_, err := OpenAsyncFile(filepath.Join(t.TempDir(), "missing", "x.log"), 16, DefaultRotation())
	assert.Error(t, err)
}
