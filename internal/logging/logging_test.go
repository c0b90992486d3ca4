package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_Level(t *testing.T) {
	logger, err := New(Options{Level: "WARN"})
	require.NoError(t, err)

	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}

func TestNew_DefaultLevel(t *testing.T) {
	logger, err := New(Options{})
	require.NoError(t, err)

	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestNew_File(t *testing.T) {
	dir := t.TempDir()

	logger, err := New(Options{Name: "pingpong", Dir: dir, JSON: true})
	require.NoError(t, err)

	logger.Info("server listening")
	_ = logger.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "pingpong.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"server listening"`)
}
