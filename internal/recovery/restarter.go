package recovery

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/life2you_mini/bridgesync/internal/config"
)

// 重启方式
const (
	RestarterHTTP = "http"
	RestarterNoop = "noop"
)

// Restarter 重启桥接进程，同一次重启尝试使用同一个幂等键
type Restarter interface {
	Restart(ctx context.Context, bridgeID, idempotencyKey string) error
}

// NewIdempotencyKey 为一次重启尝试生成幂等键
func NewIdempotencyKey() string {
	return uuid.NewString()
}

// HTTPRestarter 通过进程管理端点重启桥接
type HTTPRestarter struct {
	client *resty.Client
	logger *zap.Logger
}

// NewHTTPRestarter 创建HTTP重启器
func NewHTTPRestarter(endpoint, token string, timeout time.Duration, logger *zap.Logger) *HTTPRestarter {
	client := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &HTTPRestarter{
		client: client,
		logger: logger.With(zap.String("component", "http_restarter")),
	}
}

// Restart 请求重启，传输层重试沿用同一个幂等键
func (r *HTTPRestarter) Restart(ctx context.Context, bridgeID, key string) error {
	if key == "" {
		key = NewIdempotencyKey()
	}
	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", key).
		SetPathParam("id", bridgeID).
		Post("/bridges/{id}/restart")
	if err != nil {
		return fmt.Errorf("请求重启桥接 %s 失败: %w", bridgeID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("重启桥接 %s 失败: HTTP %d: %s", bridgeID, resp.StatusCode(), resp.String())
	}

	r.logger.Info("已请求重启桥接",
		zap.String("bridge_id", bridgeID),
		zap.String("idempotency_key", key),
		zap.Int("status", resp.StatusCode()))
	return nil
}

// NoopRestarter 只记录日志，不执行重启
type NoopRestarter struct {
	logger *zap.Logger
}

// NewNoopRestarter 创建空重启器
func NewNoopRestarter(logger *zap.Logger) *NoopRestarter {
	return &NoopRestarter{logger: logger.With(zap.String("component", "noop_restarter"))}
}

// Restart 记录重启请求
func (r *NoopRestarter) Restart(ctx context.Context, bridgeID, key string) error {
	r.logger.Warn("未配置重启方式，跳过重启", zap.String("bridge_id", bridgeID), zap.String("idempotency_key", key))
	return nil
}

// NewRestarter 根据配置创建重启器
func NewRestarter(cfg config.RecoveryConfig, logger *zap.Logger) (Restarter, error) {
	switch cfg.Restarter {
	case RestarterHTTP:
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("http 重启方式需要配置 endpoint")
		}
		return NewHTTPRestarter(cfg.Endpoint, cfg.Token, cfg.RequestTimeout, logger), nil
	case RestarterNoop, "":
		return NewNoopRestarter(logger), nil
	default:
		return nil, fmt.Errorf("不支持的重启方式: %s", cfg.Restarter)
	}
}
