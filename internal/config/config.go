package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/life2you_mini/bridgesync/internal/model"
)

// Config 应用配置结构
type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	Store       StoreConfig       `mapstructure:"store" yaml:"store"`
	Monitor     MonitorConfig     `mapstructure:"monitor" yaml:"monitor"`
	Recovery    RecoveryConfig    `mapstructure:"recovery" yaml:"recovery"`
	Metadata    MetadataConfig    `mapstructure:"metadata" yaml:"metadata"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance" yaml:"maintenance"`
	Bridges     []BridgeConfig    `mapstructure:"bridges" yaml:"bridges"`
}

// ServerConfig HTTP服务配置
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	Mode            string        `mapstructure:"mode" yaml:"mode"` // debug / release / test
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	Dir   string `mapstructure:"dir" yaml:"dir"`
	Name  string `mapstructure:"name" yaml:"name"`
}

// StoreConfig 同步存储配置
type StoreConfig struct {
	Driver    string        `mapstructure:"driver" yaml:"driver"` // mongo / redis
	OpTimeout time.Duration `mapstructure:"op_timeout" yaml:"op_timeout"`
	Mongo     MongoConfig   `mapstructure:"mongo" yaml:"mongo"`
	Redis     RedisConfig   `mapstructure:"redis" yaml:"redis"`
}

// MongoConfig MongoDB配置
type MongoConfig struct {
	URI            string        `mapstructure:"uri" yaml:"uri"` // 从配置文件或环境变量中读取
	Database       string        `mapstructure:"database" yaml:"database"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host      string `mapstructure:"host" yaml:"host"`
	Port      int    `mapstructure:"port" yaml:"port"`
	Password  string `mapstructure:"password" yaml:"password"`
	DB        int    `mapstructure:"db" yaml:"db"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// MonitorConfig 健康监控配置
type MonitorConfig struct {
	CheckInterval      time.Duration `mapstructure:"check_interval" yaml:"check_interval"`
	StalenessThreshold time.Duration `mapstructure:"staleness_threshold" yaml:"staleness_threshold"`
}

// RecoveryConfig 自动恢复配置
type RecoveryConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseBackoff    time.Duration `mapstructure:"base_backoff" yaml:"base_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	GracePeriod    time.Duration `mapstructure:"grace_period" yaml:"grace_period"`
	Restarter      string        `mapstructure:"restarter" yaml:"restarter"` // http / noop
	Endpoint       string        `mapstructure:"endpoint" yaml:"endpoint"`
	Token          string        `mapstructure:"token" yaml:"token"` // 从配置文件或环境变量中读取
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// MetadataConfig 外部元数据（基金经理目录、投资义务）配置
type MetadataConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Driver  string `mapstructure:"driver" yaml:"driver"` // postgres / sqlite
	DSN     string `mapstructure:"dsn" yaml:"dsn"`       // 从配置文件或环境变量中读取
}

// MaintenanceConfig 维护任务配置
type MaintenanceConfig struct {
	AlertRetention time.Duration `mapstructure:"alert_retention" yaml:"alert_retention"`
	PruneSchedule  string        `mapstructure:"prune_schedule" yaml:"prune_schedule"` // 6段cron表达式，含秒
}

// BridgeConfig 单个桥接的静态配置
type BridgeConfig struct {
	ID             string          `mapstructure:"id" yaml:"id"`
	Broker         string          `mapstructure:"broker" yaml:"broker"`
	Platform       string          `mapstructure:"platform" yaml:"platform"`
	Server         string          `mapstructure:"server" yaml:"server"`
	PollInterval   time.Duration   `mapstructure:"poll_interval" yaml:"poll_interval"`
	AccountTimeout time.Duration   `mapstructure:"account_timeout" yaml:"account_timeout"`
	HistoryDays    int             `mapstructure:"history_days" yaml:"history_days"`
	Retry          RetryConfig     `mapstructure:"retry" yaml:"retry"`
	Terminal       TerminalConfig  `mapstructure:"terminal" yaml:"terminal"`
	Accounts       []AccountConfig `mapstructure:"accounts" yaml:"accounts"`
}

// RetryConfig 瞬时错误重试策略
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
}

// TerminalConfig 终端连接配置
type TerminalConfig struct {
	Type          string        `mapstructure:"type" yaml:"type"` // mt5 / ccxt
	BaseURL       string        `mapstructure:"base_url" yaml:"base_url"`
	Token         string        `mapstructure:"token" yaml:"token"` // 从配置文件或环境变量中读取
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	Burst         int           `mapstructure:"burst" yaml:"burst"`
	Exchange      string        `mapstructure:"exchange" yaml:"exchange"` // ccxt 交易所ID
	QuoteCurrency string        `mapstructure:"quote_currency" yaml:"quote_currency"`
	Symbols       []string      `mapstructure:"symbols" yaml:"symbols"`
}

// AccountConfig 账号配置，ccxt 终端需要API密钥
type AccountConfig struct {
	Number     int64  `mapstructure:"number" yaml:"number"`
	APIKey     string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	APISecret  string `mapstructure:"api_secret" yaml:"api_secret,omitempty"`
	Passphrase string `mapstructure:"passphrase" yaml:"passphrase,omitempty"`
}

// AccountNumbers 返回桥接负责的账号列表
func (b BridgeConfig) AccountNumbers() []int64 {
	out := make([]int64, 0, len(b.Accounts))
	for _, a := range b.Accounts {
		out = append(out, a.Number)
	}
	return out
}

// Info 转换为注册信息
func (b BridgeConfig) Info() model.BridgeInfo {
	return model.BridgeInfo{
		ID:               b.ID,
		Broker:           b.Broker,
		Platform:         b.Platform,
		Server:           b.Server,
		ExpectedAccounts: len(b.Accounts),
	}
}

// Registry 桥接注册表，注入到监控和视图中
func (c *Config) Registry() []model.BridgeInfo {
	out := make([]model.BridgeInfo, 0, len(c.Bridges))
	for _, b := range c.Bridges {
		out = append(out, b.Info())
	}
	return out
}

// ExpectedTotal 所有桥接的期望账号数
func (c *Config) ExpectedTotal() int {
	total := 0
	for _, b := range c.Bridges {
		total += len(b.Accounts)
	}
	return total
}

// LoadConfig 从文件加载配置
func LoadConfig(filePath string) (*Config, error) {
	// 使用Viper读取配置
	v := viper.New()
	v.SetConfigFile(filePath)
	setDefaults(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 绑定环境变量，如 BRIDGESYNC_STORE_DRIVER
	v.SetEnvPrefix("BRIDGESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 特定环境变量映射，如果存在这些环境变量则优先使用
	if uri := os.Getenv("MONGO_URI"); uri != "" {
		v.Set("store.mongo.uri", uri)
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		v.Set("store.redis.password", password)
	}
	if dsn := os.Getenv("METADATA_DSN"); dsn != "" {
		v.Set("metadata.dsn", dsn)
	}
	if token := os.Getenv("RESTART_TOKEN"); token != "" {
		v.Set("recovery.token", token)
	}

	// 解析配置到结构体
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applySecretsFromEnv(&config)

	// 验证配置有效性
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &config, nil
}

// LoadConfigFromYAML 不经过viper直接解析yaml，缺省值来自 GetDefaultConfig
func LoadConfigFromYAML(filePath string) (*Config, error) {
	yamlFile, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := GetDefaultConfig()
	if err := yaml.Unmarshal(yamlFile, config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	applySecretsFromEnv(config)

	// 验证配置有效性
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return config, nil
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	d := GetDefaultConfig()
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.dir", d.Log.Dir)
	v.SetDefault("log.name", d.Log.Name)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.op_timeout", d.Store.OpTimeout)
	v.SetDefault("store.mongo.uri", d.Store.Mongo.URI)
	v.SetDefault("store.mongo.database", d.Store.Mongo.Database)
	v.SetDefault("store.mongo.connect_timeout", d.Store.Mongo.ConnectTimeout)
	v.SetDefault("store.redis.host", d.Store.Redis.Host)
	v.SetDefault("store.redis.port", d.Store.Redis.Port)
	v.SetDefault("store.redis.key_prefix", d.Store.Redis.KeyPrefix)
	v.SetDefault("monitor.check_interval", d.Monitor.CheckInterval)
	v.SetDefault("monitor.staleness_threshold", d.Monitor.StalenessThreshold)
	v.SetDefault("recovery.enabled", d.Recovery.Enabled)
	v.SetDefault("recovery.max_attempts", d.Recovery.MaxAttempts)
	v.SetDefault("recovery.base_backoff", d.Recovery.BaseBackoff)
	v.SetDefault("recovery.max_backoff", d.Recovery.MaxBackoff)
	v.SetDefault("recovery.grace_period", d.Recovery.GracePeriod)
	v.SetDefault("recovery.restarter", d.Recovery.Restarter)
	v.SetDefault("recovery.request_timeout", d.Recovery.RequestTimeout)
	v.SetDefault("metadata.driver", d.Metadata.Driver)
	v.SetDefault("maintenance.alert_retention", d.Maintenance.AlertRetention)
	v.SetDefault("maintenance.prune_schedule", d.Maintenance.PruneSchedule)
}

// applySecretsFromEnv 账号级密钥只从环境变量注入，如 BRIDGESYNC_ACCOUNT_7001_API_KEY
func applySecretsFromEnv(config *Config) {
	for i := range config.Bridges {
		b := &config.Bridges[i]
		if token := os.Getenv(envKey("BRIDGE", b.ID, "TOKEN")); token != "" {
			b.Terminal.Token = token
		}
		for j := range b.Accounts {
			a := &b.Accounts[j]
			id := fmt.Sprintf("%d", a.Number)
			if key := os.Getenv(envKey("ACCOUNT", id, "API_KEY")); key != "" {
				a.APIKey = key
			}
			if secret := os.Getenv(envKey("ACCOUNT", id, "API_SECRET")); secret != "" {
				a.APISecret = secret
			}
			if pass := os.Getenv(envKey("ACCOUNT", id, "PASSPHRASE")); pass != "" {
				a.Passphrase = pass
			}
		}
	}
}

func envKey(kind, id, suffix string) string {
	id = strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(id))
	return "BRIDGESYNC_" + kind + "_" + id + "_" + suffix
}

// applyBridgeDefaults 补全桥接缺省参数
func applyBridgeDefaults(b *BridgeConfig) {
	if b.PollInterval <= 0 {
		b.PollInterval = 30 * time.Second
	}
	if b.AccountTimeout <= 0 {
		b.AccountTimeout = 20 * time.Second
	}
	if b.HistoryDays <= 0 {
		b.HistoryDays = 90
	}
	if b.Retry.MaxAttempts <= 0 {
		b.Retry.MaxAttempts = 3
	}
	if b.Retry.BaseDelay <= 0 {
		b.Retry.BaseDelay = 500 * time.Millisecond
	}
	if b.Retry.MaxDelay <= 0 {
		b.Retry.MaxDelay = 10 * time.Second
	}
	if b.Terminal.Timeout <= 0 {
		b.Terminal.Timeout = 15 * time.Second
	}
	if b.Terminal.RatePerSecond <= 0 {
		b.Terminal.RatePerSecond = 5
	}
	if b.Terminal.Burst <= 0 {
		b.Terminal.Burst = 1
	}
	if b.Terminal.QuoteCurrency == "" {
		b.Terminal.QuoteCurrency = "USDT"
	}
}

// validateConfig 验证配置有效性
func validateConfig(config *Config) error {
	switch config.Store.Driver {
	case "mongo":
		if config.Store.Mongo.URI == "" {
			return fmt.Errorf("MongoDB URI不能为空")
		}
		if config.Store.Mongo.Database == "" {
			return fmt.Errorf("MongoDB数据库名不能为空")
		}
	case "redis":
		if config.Store.Redis.Host == "" {
			return fmt.Errorf("Redis主机不能为空")
		}
		if config.Store.Redis.Port <= 0 || config.Store.Redis.Port > 65535 {
			return fmt.Errorf("无效的Redis端口")
		}
	default:
		return fmt.Errorf("不支持的存储驱动: %q", config.Store.Driver)
	}

	if config.Monitor.CheckInterval <= 0 {
		return fmt.Errorf("健康检查间隔必须大于0")
	}
	if config.Monitor.StalenessThreshold <= 0 {
		return fmt.Errorf("数据过期阈值必须大于0")
	}
	if config.Recovery.MaxAttempts <= 0 {
		return fmt.Errorf("恢复最大重试次数必须大于0")
	}
	if config.Recovery.Enabled && config.Recovery.Restarter == "http" && config.Recovery.Endpoint == "" {
		return fmt.Errorf("HTTP重启器已启用，但未配置endpoint")
	}
	if config.Metadata.Enabled && config.Metadata.DSN == "" {
		return fmt.Errorf("元数据库已启用，但DSN未配置")
	}

	if len(config.Bridges) == 0 {
		return fmt.Errorf("至少需要配置一个桥接")
	}

	seenBridges := make(map[string]bool, len(config.Bridges))
	for i := range config.Bridges {
		b := &config.Bridges[i]
		if b.ID == "" {
			return fmt.Errorf("第%d个桥接缺少id", i+1)
		}
		if seenBridges[b.ID] {
			return fmt.Errorf("桥接ID重复: %s", b.ID)
		}
		seenBridges[b.ID] = true

		applyBridgeDefaults(b)

		switch b.Terminal.Type {
		case "mt5":
			if b.Terminal.BaseURL == "" {
				return fmt.Errorf("桥接 %s 未配置终端base_url", b.ID)
			}
		case "ccxt":
			if b.Terminal.Exchange == "" {
				return fmt.Errorf("桥接 %s 未配置ccxt交易所", b.ID)
			}
		default:
			return fmt.Errorf("桥接 %s 的终端类型不受支持: %q", b.ID, b.Terminal.Type)
		}
	}

	return ValidatePartition(config.Bridges)
}

// ValidatePartition 校验账号归属互斥，同一账号只能属于一个桥接
func ValidatePartition(bridges []BridgeConfig) error {
	owner := make(map[int64]string)
	for _, b := range bridges {
		for _, a := range b.Accounts {
			if a.Number <= 0 {
				return fmt.Errorf("桥接 %s 包含无效账号: %d", b.ID, a.Number)
			}
			if prev, ok := owner[a.Number]; ok {
				if prev == b.ID {
					return fmt.Errorf("账号 %d 在桥接 %s 中重复配置", a.Number, b.ID)
				}
				return fmt.Errorf("账号 %d 同时属于桥接 %s 和 %s", a.Number, prev, b.ID)
			}
			owner[a.Number] = b.ID
		}
	}
	return nil
}

// GetDefaultConfig 获取默认配置（用于生成示例配置）
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			Mode:            "release",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
			Dir:   "./logs",
			Name:  "bridgesync",
		},
		Store: StoreConfig{
			Driver:    "mongo",
			OpTimeout: 5 * time.Second,
			Mongo: MongoConfig{
				URI:            "mongodb://localhost:27017",
				Database:       "bridgesync",
				ConnectTimeout: 10 * time.Second,
			},
			Redis: RedisConfig{
				Host:      "localhost",
				Port:      6379,
				DB:        0,
				KeyPrefix: "bridgesync:",
			},
		},
		Monitor: MonitorConfig{
			CheckInterval:      60 * time.Second,
			StalenessThreshold: 5 * time.Minute,
		},
		Recovery: RecoveryConfig{
			Enabled:        true,
			MaxAttempts:    3,
			BaseBackoff:    30 * time.Second,
			MaxBackoff:     5 * time.Minute,
			GracePeriod:    90 * time.Second,
			Restarter:      "noop",
			RequestTimeout: 10 * time.Second,
		},
		Metadata: MetadataConfig{
			Enabled: false,
			Driver:  "postgres",
		},
		Maintenance: MaintenanceConfig{
			AlertRetention: 30 * 24 * time.Hour,
			PruneSchedule:  "0 30 3 * * *",
		},
		Bridges: []BridgeConfig{
			{
				ID:           "mt5-example",
				Broker:       "ExampleBroker",
				Platform:     "MT5",
				Server:       "ExampleBroker-Live",
				PollInterval: 30 * time.Second,
				HistoryDays:  90,
				Terminal: TerminalConfig{
					Type:    "mt5",
					BaseURL: "http://127.0.0.1:8001",
				},
				Accounts: []AccountConfig{{Number: 1001}, {Number: 1002}},
			},
		},
	}
}

// SaveConfigToFile 将配置保存到文件
// 注意：这里不包含敏感信息
func SaveConfigToFile(config *Config, filePath string) error {
	v := viper.New()
	v.SetConfigFile(filePath)

	bridges := make([]map[string]interface{}, 0, len(config.Bridges))
	for _, b := range config.Bridges {
		accounts := make([]map[string]interface{}, 0, len(b.Accounts))
		for _, a := range b.Accounts {
			accounts = append(accounts, map[string]interface{}{"number": a.Number})
		}
		bridges = append(bridges, map[string]interface{}{
			"id":              b.ID,
			"broker":          b.Broker,
			"platform":        b.Platform,
			"server":          b.Server,
			"poll_interval":   b.PollInterval.String(),
			"account_timeout": b.AccountTimeout.String(),
			"history_days":    b.HistoryDays,
			"terminal": map[string]interface{}{
				"type":            b.Terminal.Type,
				"base_url":        b.Terminal.BaseURL,
				"timeout":         b.Terminal.Timeout.String(),
				"rate_per_second": b.Terminal.RatePerSecond,
				"burst":           b.Terminal.Burst,
				"exchange":        b.Terminal.Exchange,
				"quote_currency":  b.Terminal.QuoteCurrency,
				"symbols":         b.Terminal.Symbols,
			},
			"accounts": accounts,
		})
	}

	configMap := map[string]interface{}{
		"server": map[string]interface{}{
			"addr":             config.Server.Addr,
			"mode":             config.Server.Mode,
			"shutdown_timeout": config.Server.ShutdownTimeout.String(),
		},
		"log": map[string]interface{}{
			"level": config.Log.Level,
			"dir":   config.Log.Dir,
			"name":  config.Log.Name,
		},
		"store": map[string]interface{}{
			"driver":     config.Store.Driver,
			"op_timeout": config.Store.OpTimeout.String(),
			"mongo": map[string]interface{}{
				"database":        config.Store.Mongo.Database,
				"connect_timeout": config.Store.Mongo.ConnectTimeout.String(),
			},
			"redis": map[string]interface{}{
				"host":       config.Store.Redis.Host,
				"port":       config.Store.Redis.Port,
				"db":         config.Store.Redis.DB,
				"key_prefix": config.Store.Redis.KeyPrefix,
			},
		},
		"monitor": map[string]interface{}{
			"check_interval":      config.Monitor.CheckInterval.String(),
			"staleness_threshold": config.Monitor.StalenessThreshold.String(),
		},
		"recovery": map[string]interface{}{
			"enabled":         config.Recovery.Enabled,
			"max_attempts":    config.Recovery.MaxAttempts,
			"base_backoff":    config.Recovery.BaseBackoff.String(),
			"max_backoff":     config.Recovery.MaxBackoff.String(),
			"grace_period":    config.Recovery.GracePeriod.String(),
			"restarter":       config.Recovery.Restarter,
			"endpoint":        config.Recovery.Endpoint,
			"request_timeout": config.Recovery.RequestTimeout.String(),
		},
		"metadata": map[string]interface{}{
			"enabled": config.Metadata.Enabled,
			"driver":  config.Metadata.Driver,
		},
		"maintenance": map[string]interface{}{
			"alert_retention": config.Maintenance.AlertRetention.String(),
			"prune_schedule":  config.Maintenance.PruneSchedule,
		},
		"bridges": bridges,
	}

	// 将配置设置到viper
	for k, val := range configMap {
		v.Set(k, val)
	}

	// 写入文件
	return v.WriteConfigAs(filePath)
}
