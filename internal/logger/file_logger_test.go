package logger

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerWritesSessionFile(t *testing.T) {
	dir := t.TempDir()

	l, err := NewLogger("engine", Options{Dir: dir})
	require.NoError(t, err)

	l.Info("tracking %d assets", 3)
	l.LogError("refresh", errors.New("quote timeout"))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(l.GetLogPath())
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "ADAPTIVE DIP SESSION STARTED")
	assert.Contains(t, content, "tracking 3 assets")
	assert.Contains(t, content, "refresh: quote timeout")
	assert.Contains(t, content, "SESSION ENDED")

	// closing twice is harmless
	assert.NoError(t, l.Close())
}

func TestTradeEntriesCarryKind(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := FromZap(zap.New(core))

	l.Trade("bought %s", "WLD")
	l.LogTradeExecution("buy", "WLD", "0xtx", 10, 0.1, 1, 0.1)
	l.LogWarning("engine", "asset %s stale", "WLD")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "bought WLD", entries[0].Message)
	assert.Equal(t, "TRADE", entries[0].ContextMap()["kind"])
	assert.Equal(t, "0xtx", entries[1].ContextMap()["tx"])
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, "engine: asset WLD stale", entries[2].Message)
}

func TestDebugToggle(t *testing.T) {
	l := NewNop()
	assert.False(t, l.IsDebug())
	l.SetDebug(true)
	assert.True(t, l.IsDebug())
	l.Debug("visible only with debug %d", 1)
	l.SetDebug(false)
	assert.False(t, l.IsDebug())
	assert.Equal(t, "", l.GetLogPath())
}
