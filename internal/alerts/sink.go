package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/life2you_mini/bridgesync/internal/model"
	"github.com/life2you_mini/bridgesync/internal/storage"
)

// 默认参数
const (
	DefaultHistoryHours = 24
	MaxHistoryHours     = 24 * 90
)

// ErrAlertNotFound 告警不存在
var ErrAlertNotFound = errors.New("告警不存在")

// Sink 告警日志，持久化告警并提供查询
type Sink struct {
	store  storage.AlertStore
	logger *zap.Logger
	now    func() time.Time
}

// NewSink 创建告警日志
func NewSink(store storage.AlertStore, logger *zap.Logger) *Sink {
	return &Sink{
		store:  store,
		logger: logger.With(zap.String("component", "alert_sink")),
		now:    time.Now,
	}
}

// Record 写入一条告警，ID 与时间为空时自动补齐
func (s *Sink) Record(ctx context.Context, alert *model.Alert) error {
	if alert == nil {
		return fmt.Errorf("告警为空")
	}
	if alert.BridgeID == "" {
		return fmt.Errorf("告警缺少 bridge_id")
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = s.now()
	}
	alert.Timestamp = alert.Timestamp.UTC()
	if alert.ID == "" {
		alert.ID = NewID(alert.Timestamp)
	}
	if alert.Severity == "" {
		alert.Severity = alert.Health.Severity()
	}
	if alert.Issues == nil {
		alert.Issues = []string{}
	}

	if err := s.store.AppendAlert(ctx, alert); err != nil {
		return fmt.Errorf("写入告警失败: %w", err)
	}

	s.logger.Warn("新告警",
		zap.String("alert_id", alert.ID),
		zap.String("bridge_id", alert.BridgeID),
		zap.String("severity", string(alert.Severity)),
		zap.String("health", string(alert.Health)),
		zap.Strings("issues", alert.Issues))
	return nil
}

// History 查询最近 hours 小时的告警，bridgeID 为空时不过滤
func (s *Sink) History(ctx context.Context, hours int, bridgeID string) ([]*model.Alert, error) {
	if hours <= 0 {
		hours = DefaultHistoryHours
	}
	if hours > MaxHistoryHours {
		hours = MaxHistoryHours
	}

	alerts, err := s.store.ListAlerts(ctx, storage.AlertQuery{
		Since:    s.now().Add(-time.Duration(hours) * time.Hour),
		BridgeID: bridgeID,
	})
	if err != nil {
		return nil, fmt.Errorf("查询告警历史失败: %w", err)
	}
	if alerts == nil {
		alerts = []*model.Alert{}
	}
	return alerts, nil
}

// Acknowledge 确认告警，这是告警日志唯一的修改操作
func (s *Sink) Acknowledge(ctx context.Context, id string) error {
	err := s.store.AcknowledgeAlert(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrAlertNotFound
	}
	if err != nil {
		return fmt.Errorf("确认告警 %s 失败: %w", id, err)
	}
	s.logger.Info("告警已确认", zap.String("alert_id", id))
	return nil
}

// Prune 删除早于保留期的告警
func (s *Sink) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("无效的保留期: %s", retention)
	}
	removed, err := s.store.PruneAlerts(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("清理告警失败: %w", err)
	}
	if removed > 0 {
		s.logger.Info("已清理过期告警", zap.Int64("removed", removed), zap.Duration("retention", retention))
	}
	return removed, nil
}

// Current 根据最近一次健康检查结果计算当前告警，不读告警日志
func Current(statuses []model.BridgeStatus) []model.Alert {
	out := make([]model.Alert, 0)
	for _, st := range statuses {
		if st.Healthy() {
			continue
		}
		out = append(out, model.Alert{
			BridgeID:  st.BridgeID,
			Severity:  st.Health.Severity(),
			Health:    st.Health,
			Issues:    append([]string{}, st.Issues...),
			Timestamp: st.CheckedAt,
		})
	}
	return out
}
