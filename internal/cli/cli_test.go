package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/life2you_mini/bridgesync/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := NewRootCmd()
	names := make([]string, 0)
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "check")
	assert.Contains(t, names, "config")

	flag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, defaultConfigPath, flag.DefValue)
}

func TestConfigInitThenValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := execute(t, "config", "init", "--output", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	out, err = execute(t, "config", "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration valid")
	assert.Contains(t, out, "mt5-example")
	assert.Contains(t, out, "expected accounts: 2")
}

func TestConfigValidate_MissingFile(t *testing.T) {
	_, err := execute(t, "config", "validate", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "配置无效")
}

func TestCheck_EmptyStoreIsUnhealthy(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	cfg := config.GetDefaultConfig()
	cfg.Store.Driver = "redis"
	cfg.Store.Redis.Host = mr.Host()
	cfg.Store.Redis.Port = port
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, config.SaveConfigToFile(cfg, path))

	out, err := execute(t, "check", "--config", path, "--timeout", "5s")
	require.ErrorIs(t, err, errUnhealthy)

	var report struct {
		Healthy       bool `json:"healthy"`
		TotalAccounts int  `json:"total_accounts"`
		ExpectedTotal int  `json:"expected_total"`
		Bridges       []struct {
			BridgeID string `json:"bridge_id"`
			Status   string `json:"status"`
		} `json:"bridges"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.False(t, report.Healthy)
	assert.Equal(t, 0, report.TotalAccounts)
	assert.Equal(t, 2, report.ExpectedTotal)
	require.Len(t, report.Bridges, 1)
	assert.Equal(t, "mt5-example", report.Bridges[0].BridgeID)
	assert.NotEqual(t, "healthy", report.Bridges[0].Status)
}
