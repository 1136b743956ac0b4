package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewWritesStderrAndFile(t *testing.T) {
	var stderr bytes.Buffer
	dest := filepath.Join(t.TempDir(), "logs", "psm.log")

	logger, closer, err := New(Options{Level: "info", Format: "text", Dest: dest, Stderr: &stderr})
	require.NoError(t, err)
	logger.Debug("hidden")
	logger.Info("Successfully completed.", "service", "contacts")
	require.NoError(t, closer.Close())

	assert.Contains(t, stderr.String(), "Successfully completed.")
	assert.NotContains(t, stderr.String(), "hidden")
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(data), "service=contacts")
}

func TestNewNoFile(t *testing.T) {
	var stderr bytes.Buffer
	dest := filepath.Join(t.TempDir(), "psm.log")

	logger, closer, err := New(Options{Format: "json", Dest: dest, NoFile: true, Stderr: &stderr})
	require.NoError(t, err)
	logger.Info("hello")
	require.NoError(t, closer.Close())

	assert.NoFileExists(t, dest)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(stderr.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
}

func TestAutoFormatOffTerminal(t *testing.T) {
	var stderr bytes.Buffer
	logger, _, err := New(Options{Format: "auto", NoFile: true, Stderr: &stderr})
	require.NoError(t, err)
	logger.Info("x")
	assert.True(t, json.Valid(bytes.TrimSpace(stderr.Bytes())))
}

func TestDefaultDest(t *testing.T) {
	assert.Equal(t, "/var/log/psm/psm.log", DefaultDest(0, "/var/root"))
	assert.Equal(t, "/Users/alice/Library/Logs/psm/psm.log", DefaultDest(501, "/Users/alice"))
	assert.Equal(t, "/var/log/psm/psm.log", DefaultDest(501, ""))
}
