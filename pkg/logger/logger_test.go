package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestNewAppliesLevel(t *testing.T) {
	l, err := New(Options{Level: "warn", Encoding: "json"})
	require.NoError(t, err)

	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))
}

func TestGetBeforeInitIsNop(t *testing.T) {
	mu.Lock()
	saved := globalLogger
	globalLogger = nil
	mu.Unlock()
	t.Cleanup(func() {
		mu.Lock()
		globalLogger = saved
		mu.Unlock()
	})

	assert.NotNil(t, Get())
	assert.NoError(t, Sync())
}
