package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_DisabledDiscards(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Options{Enabled: false, Writer: &buf}))
	Error("dropped")
	assert.Zero(t, buf.Len())
}

func TestInit_Writer(t *testing.T) {
	t.Cleanup(func() { _ = Init(Options{}) })

	var buf bytes.Buffer
	require.NoError(t, Init(Options{Enabled: true, Writer: &buf, Level: slog.LevelDebug}))

	Debug("grow", "mag", 1, "class", 3)
	Warn("exhausted")

	out := buf.String()
	assert.Contains(t, out, "msg=grow")
	assert.Contains(t, out, "mag=1")
	assert.Contains(t, out, "msg=exhausted")
}

func TestInit_JSON(t *testing.T) {
	t.Cleanup(func() { _ = Init(Options{}) })

	var buf bytes.Buffer
	require.NoError(t, Init(Options{Enabled: true, Writer: &buf, JSON: true}))
	Error("corruption", "ptr", "0x10")
	assert.Contains(t, buf.String(), `"msg":"corruption"`)
}

func TestInit_LogDirCreatesDailyFile(t *testing.T) {
	t.Cleanup(func() { _ = Init(Options{}) })

	dir := t.TempDir()
	require.NoError(t, Init(Options{Enabled: true, LogDir: dir}))
	Info("hello")

	name := logPrefix + time.Now().Format("2006-01-02") + logSuffix
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Contains(t, string(data), "msg=hello")
}

func TestCleanOldLogs(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	old := logPrefix + "2024-01-01" + logSuffix
	recent := logPrefix + "2024-03-09" + logSuffix
	other := "unrelated.txt"
	for _, n := range []string{old, recent, other} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0o644))
	}

	cleanOldLogs(dir, now)

	assert.NoFileExists(t, filepath.Join(dir, old))
	assert.FileExists(t, filepath.Join(dir, recent))
	assert.FileExists(t, filepath.Join(dir, other))
}
