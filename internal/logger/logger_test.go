package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]log.Level{
		"debug":   log.DebugLevel,
		"INFO":    log.InfoLevel,
		"warning": log.WarnLevel,
		"warn":    log.WarnLevel,
		"error":   log.ErrorLevel,
		"fatal":   log.FatalLevel,
		"chatty":  log.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLogLevel(in), in)
	}
}

func TestConfigure_EnvLevelAndFlagPrecedence(t *testing.T) {
	t.Setenv("BTSTEST_LOG_LEVEL", "DEBUG")
	require.NoError(t, Configure("", "", false))
	assert.Equal(t, log.DebugLevel, Logger.GetLevel())

	require.NoError(t, Configure("error", "", false))
	assert.Equal(t, log.ErrorLevel, Logger.GetLevel())

	require.NoError(t, Configure("debug", "", true))
	assert.Equal(t, log.InfoLevel, Logger.GetLevel(), "test mode pins the level")
}

func TestConfigure_LogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "btstest.log")
	require.NoError(t, Configure("info", path, true))
	t.Cleanup(func() { _ = Configure("info", "", false) })

	Info("node ready", "node", "alice")
	NewStyledLogger("session").Warn("mismatch", "client", "alice")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "node ready")
	assert.Contains(t, string(data), "session")
	assert.Contains(t, string(data), "mismatch")
}

func TestConfigure_ClosesPreviousLogFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Configure("info", filepath.Join(dir, "first.log"), false))
	first := logFile
	require.NotNil(t, first)

	require.NoError(t, Configure("info", filepath.Join(dir, "second.log"), false))
	_, err := first.Write([]byte("late\n"))
	assert.ErrorIs(t, err, os.ErrClosed)
	require.NotNil(t, logFile)

	require.NoError(t, Configure("info", "", false))
	assert.Nil(t, logFile)
}

func TestConfigure_BadLogFile(t *testing.T) {
	err := Configure("info", filepath.Join(t.TempDir(), "missing", "x.log"), false)
	assert.Error(t, err)
}

func TestSetOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	Error("boom", "error", "exit status 1")
	assert.Contains(t, buf.String(), "boom")
}
