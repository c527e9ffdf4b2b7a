package terminal

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/life2you_mini/bridgesync/internal/config"
)

// 终端类型
const (
	TypeMT5  = "mt5"
	TypeCCXT = "ccxt"
)

// New 按桥接配置创建终端
func New(b config.BridgeConfig, logger *zap.Logger) (Terminal, error) {
	switch b.Terminal.Type {
	case TypeMT5:
		return NewMT5Client(MT5Options{
			Name:          b.ID,
			BaseURL:       b.Terminal.BaseURL,
			Token:         b.Terminal.Token,
			Timeout:       b.Terminal.Timeout,
			RatePerSecond: b.Terminal.RatePerSecond,
			Burst:         b.Terminal.Burst,
		}, logger), nil
	case TypeCCXT:
		creds := make(map[int64]CCXTCredentials, len(b.Accounts))
		for _, a := range b.Accounts {
			creds[a.Number] = CCXTCredentials{
				APIKey:     a.APIKey,
				APISecret:  a.APISecret,
				Passphrase: a.Passphrase,
			}
		}
		return NewCCXTClient(CCXTOptions{
			Name:          b.ID,
			Exchange:      b.Terminal.Exchange,
			QuoteCurrency: b.Terminal.QuoteCurrency,
			Symbols:       b.Terminal.Symbols,
			Timeout:       b.Terminal.Timeout,
			RatePerSecond: b.Terminal.RatePerSecond,
			Burst:         b.Terminal.Burst,
			Accounts:      creds,
		}, logger)
	default:
		return nil, fmt.Errorf("不支持的终端类型: %s", b.Terminal.Type)
	}
}

// CreateRegistry 为所有桥接创建终端并注册
func CreateRegistry(bridges []config.BridgeConfig, logger *zap.Logger) (*Registry, error) {
	registry := NewRegistry()
	for _, b := range bridges {
		t, err := New(b, logger)
		if err != nil {
			return nil, fmt.Errorf("创建桥接 %s 的终端失败: %w", b.ID, err)
		}
		registry.Register(b.ID, t)
		logger.Info("终端已注册",
			zap.String("bridge_id", b.ID),
			zap.String("type", b.Terminal.Type))
	}
	return registry, nil
}
