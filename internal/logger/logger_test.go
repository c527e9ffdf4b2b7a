package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/life2you_mini/bridgesync/internal/config"
)

func TestNewLoggerWritesFiles(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLogger(config.LogConfig{Level: "debug", Dir: dir, Name: "test"})
	require.NoError(t, err)

	l.With(zap.String("bridge_id", "mex")).Info("同步完成")
	l.Named("agent").Error("同步失败")
	_ = l.Sync()

	all, err := os.ReadFile(filepath.Join(dir, "test.log"))
	require.NoError(t, err)
	assert.Contains(t, string(all), `"bridge_id":"mex"`)
	assert.Equal(t, 2, strings.Count(string(all), "\n"))

	errs, err := os.ReadFile(filepath.Join(dir, "test_error.log"))
	require.NoError(t, err)
	assert.Contains(t, string(errs), "同步失败")
	assert.NotContains(t, string(errs), "同步完成")
}

func TestNewLoggerDefaults(t *testing.T) {
	dir := t.TempDir()
	_, err := NewLogger(config.LogConfig{Level: "nonsense", Dir: dir})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, defaultName+".log"))
}
