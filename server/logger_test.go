package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arenasync/config"
)

func restoreLog(t *testing.T) {
	prev := Log
	t.Cleanup(func() { Log = prev })
}

func TestInitLoggerWritesRotatedFile(t *testing.T) {
	restoreLog(t)
	path := filepath.Join(t.TempDir(), "arena.log")
	cfg := config.LoggingConfig{Level: "info", Format: "json", File: path, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1}
	require.NoError(t, InitLogger(cfg))

	Log.Infow("hello", "id", "1")
	Log.Debugw("filtered by level")
	SyncLogger()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"hello"`)
	assert.NotContains(t, string(b), "filtered by level")
}

func TestInitLoggerConsole(t *testing.T) {
	restoreLog(t)
	require.NoError(t, InitLogger(config.LoggingConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, Log)
}

func TestInitLoggerInvalid(t *testing.T) {
	restoreLog(t)
	assert.Error(t, InitLogger(config.LoggingConfig{Level: "trace", Format: "json"}))
	assert.Error(t, InitLogger(config.LoggingConfig{Level: "info", Format: "xml"}))
}
