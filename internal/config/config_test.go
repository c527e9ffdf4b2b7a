package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
store:
  driver: redis
  redis:
    host: 127.0.0.1
    port: 6379
monitor:
  check_interval: 30s
  staleness_threshold: 5m
bridges:
  - id: mexatlantic
    broker: MEXAtlantic
    platform: MT5
    server: MEXAtlantic-Real
    terminal:
      type: mt5
      base_url: http://10.0.0.5:8001
    accounts:
      - number: 1001
      - number: 1002
  - id: lucrum
    broker: Lucrum
    platform: MT5
    server: Lucrum-Live
    poll_interval: 45s
    terminal:
      type: mt5
      base_url: http://10.0.0.6:8001
    accounts:
      - number: 2001
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, 30*time.Second, cfg.Monitor.CheckInterval)
	assert.Equal(t, 5*time.Minute, cfg.Monitor.StalenessThreshold)
	require.Len(t, cfg.Bridges, 2)

	// 缺省值补全
	assert.Equal(t, 30*time.Second, cfg.Bridges[0].PollInterval)
	assert.Equal(t, 45*time.Second, cfg.Bridges[1].PollInterval)
	assert.Equal(t, 3, cfg.Bridges[0].Retry.MaxAttempts)
	assert.Equal(t, 3, cfg.Recovery.MaxAttempts)
	assert.Equal(t, "bridgesync:", cfg.Store.Redis.KeyPrefix)

	assert.Equal(t, 3, cfg.ExpectedTotal())
	registry := cfg.Registry()
	require.Len(t, registry, 2)
	assert.Equal(t, "mexatlantic", registry[0].ID)
	assert.Equal(t, 2, registry[0].ExpectedAccounts)
}

func TestLoadConfigAccountSecretsFromEnv(t *testing.T) {
	t.Setenv("BRIDGESYNC_ACCOUNT_1001_API_KEY", "key-1001")
	t.Setenv("BRIDGESYNC_BRIDGE_LUCRUM_TOKEN", "lucrum-token")

	cfg, err := LoadConfig(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "key-1001", cfg.Bridges[0].Accounts[0].APIKey)
	assert.Empty(t, cfg.Bridges[0].Accounts[1].APIKey)
	assert.Equal(t, "lucrum-token", cfg.Bridges[1].Terminal.Token)
}

func TestLoadConfigFromYAML(t *testing.T) {
	cfg, err := LoadConfigFromYAML(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, 45*time.Second, cfg.Bridges[1].PollInterval)
}

func TestValidatePartition(t *testing.T) {
	tests := []struct {
		name    string
		bridges []BridgeConfig
		wantErr string
	}{
		{
			name: "互斥归属",
			bridges: []BridgeConfig{
				{ID: "a", Accounts: []AccountConfig{{Number: 1}, {Number: 2}}},
				{ID: "b", Accounts: []AccountConfig{{Number: 3}}},
			},
		},
		{
			name: "跨桥接重复",
			bridges: []BridgeConfig{
				{ID: "a", Accounts: []AccountConfig{{Number: 1}, {Number: 2}}},
				{ID: "b", Accounts: []AccountConfig{{Number: 2}}},
			},
			wantErr: "账号 2 同时属于桥接 a 和 b",
		},
		{
			name: "桥接内重复",
			bridges: []BridgeConfig{
				{ID: "a", Accounts: []AccountConfig{{Number: 1}, {Number: 1}}},
			},
			wantErr: "账号 1 在桥接 a 中重复配置",
		},
		{
			name: "无效账号",
			bridges: []BridgeConfig{
				{ID: "a", Accounts: []AccountConfig{{Number: 0}}},
			},
			wantErr: "无效账号",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePartition(tt.bridges)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfigFailsFastOnOverlap(t *testing.T) {
	overlap := sampleYAML + `
  - id: duplicate
    platform: MT5
    terminal:
      type: mt5
      base_url: http://10.0.0.7:8001
    accounts:
      - number: 1002
`
	_, err := LoadConfig(writeConfig(t, overlap))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "账号 1002 同时属于桥接 mexatlantic 和 duplicate")
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"未知存储驱动", func(c *Config) { c.Store.Driver = "sqlite" }},
		{"缺少Mongo URI", func(c *Config) { c.Store.Mongo.URI = "" }},
		{"无桥接", func(c *Config) { c.Bridges = nil }},
		{"未知终端类型", func(c *Config) { c.Bridges[0].Terminal.Type = "fix" }},
		{"ccxt缺少交易所", func(c *Config) { c.Bridges[0].Terminal = TerminalConfig{Type: "ccxt"} }},
		{"桥接ID重复", func(c *Config) { c.Bridges = append(c.Bridges, BridgeConfig{ID: c.Bridges[0].ID}) }},
		{"HTTP重启器缺少地址", func(c *Config) { c.Recovery.Restarter = "http" }},
		{"元数据缺少DSN", func(c *Config) { c.Metadata.Enabled = true }},
	}

	assert.NoError(t, validateConfig(GetDefaultConfig()))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, validateConfig(cfg))
		})
	}
}

func TestSaveConfigToFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, SaveConfigToFile(GetDefaultConfig(), path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig().Bridges[0].ID, cfg.Bridges[0].ID)
	assert.Equal(t, 5*time.Minute, cfg.Monitor.StalenessThreshold)
	assert.Equal(t, "0 30 3 * * *", cfg.Maintenance.PruneSchedule)
}
