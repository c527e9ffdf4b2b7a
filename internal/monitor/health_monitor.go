package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/life2you_mini/bridgesync/internal/model"
)

// 默认参数
const (
	DefaultCheckInterval      = 60 * time.Second
	DefaultStalenessThreshold = 5 * time.Minute
)

// StatusReader 监控读取同步存储所需的操作
type StatusReader interface {
	CountAccountsByBridge(ctx context.Context, bridgeID string) (int, error)
	LastSyncByBridge(ctx context.Context, bridgeID string) (time.Time, error)
}

// AlertRecorder 告警记录
type AlertRecorder interface {
	Record(ctx context.Context, alert *model.Alert) error
}

// TransitionListener 状态变化订阅方
type TransitionListener interface {
	// BridgeUnhealthy 进入不健康状态（或在不健康状态间切换）
	BridgeUnhealthy(status model.BridgeStatus)
	// BridgeRecovered 恢复健康
	BridgeRecovered(bridgeID string)
}

// HealthMonitor 桥接健康监控组件
type HealthMonitor struct {
	bridges       []model.BridgeInfo
	store         StatusReader
	alerts        AlertRecorder
	listener      TransitionListener
	logger        *zap.Logger
	checkInterval time.Duration // 检查间隔
	staleness     time.Duration // 数据过期阈值
	now           func() time.Time

	mu        sync.RWMutex
	states    map[string]model.HealthState  // key: bridge_id
	latest    map[string]model.BridgeStatus // key: bridge_id
	lastCheck time.Time

	running atomic.Bool
}

// NewHealthMonitor 创建健康监控组件
func NewHealthMonitor(
	bridges []model.BridgeInfo,
	store StatusReader,
	alerts AlertRecorder,
	logger *zap.Logger,
	staleness time.Duration,
) *HealthMonitor {
	if staleness <= 0 {
		staleness = DefaultStalenessThreshold
	}

	return &HealthMonitor{
		bridges:       bridges,
		store:         store,
		alerts:        alerts,
		logger:        logger.With(zap.String("component", "health_monitor")),
		checkInterval: DefaultCheckInterval,
		staleness:     staleness,
		now:           time.Now,
		states:        make(map[string]model.HealthState),
		latest:        make(map[string]model.BridgeStatus),
	}
}

// SetCheckInterval 设置检查间隔
func (m *HealthMonitor) SetCheckInterval(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCheckInterval // 使用默认值
	}
	m.checkInterval = interval
}

// SetListener 设置状态变化订阅方
func (m *HealthMonitor) SetListener(l TransitionListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = l
}

// CheckInterval 检查间隔
func (m *HealthMonitor) CheckInterval() time.Duration {
	return m.checkInterval
}

// StalenessThreshold 数据过期阈值
func (m *HealthMonitor) StalenessThreshold() time.Duration {
	return m.staleness
}

// Bridges 监控的桥接列表
func (m *HealthMonitor) Bridges() []model.BridgeInfo {
	out := make([]model.BridgeInfo, len(m.bridges))
	copy(out, m.bridges)
	return out
}

// IsRunning 监控循环是否在运行
func (m *HealthMonitor) IsRunning() bool {
	return m.running.Load()
}

// Start 启动监控
func (m *HealthMonitor) Start(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return fmt.Errorf("健康监控已在运行")
	}
	defer m.running.Store(false)

	m.logger.Info("启动桥接健康监控",
		zap.Int("bridges", len(m.bridges)),
		zap.Duration("check_interval", m.checkInterval),
		zap.Duration("staleness_threshold", m.staleness))

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	// 立即执行一次检查
	m.CheckAll(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("健康监控已停止")
			return nil
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// CheckAll 检查所有桥接并处理状态变化
func (m *HealthMonitor) CheckAll(ctx context.Context) []model.BridgeStatus {
	now := m.now()
	statuses := make([]model.BridgeStatus, 0, len(m.bridges))
	for _, info := range m.bridges {
		status := m.evaluate(ctx, info, now)
		m.observe(ctx, status)
		statuses = append(statuses, status)
	}

	m.mu.Lock()
	m.lastCheck = now
	m.mu.Unlock()

	unhealthy := 0
	for _, s := range statuses {
		if !s.Healthy() {
			unhealthy++
		}
	}
	m.logger.Debug("健康检查完成", zap.Int("bridges", len(statuses)), zap.Int("unhealthy", unhealthy))
	return statuses
}

// Recheck 按需重新评估单个桥接
func (m *HealthMonitor) Recheck(ctx context.Context, bridgeID string) (model.BridgeStatus, error) {
	info, ok := m.bridgeInfo(bridgeID)
	if !ok {
		return model.BridgeStatus{}, fmt.Errorf("未知桥接: %s", bridgeID)
	}
	status := m.evaluate(ctx, info, m.now())
	m.observe(ctx, status)
	return status, nil
}

// EvaluateAll 只计算状态，不记录告警也不改变状态机
func (m *HealthMonitor) EvaluateAll(ctx context.Context) []model.BridgeStatus {
	now := m.now()
	statuses := make([]model.BridgeStatus, 0, len(m.bridges))
	for _, info := range m.bridges {
		statuses = append(statuses, m.evaluate(ctx, info, now))
	}
	return statuses
}

// Snapshot 最近一次检查的结果，按注册顺序排列
func (m *HealthMonitor) Snapshot() ([]model.BridgeStatus, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.BridgeStatus, 0, len(m.latest))
	for _, info := range m.bridges {
		if s, ok := m.latest[info.ID]; ok {
			out = append(out, s)
		}
	}
	return out, m.lastCheck
}

func (m *HealthMonitor) bridgeInfo(bridgeID string) (model.BridgeInfo, bool) {
	for _, info := range m.bridges {
		if info.ID == bridgeID {
			return info, true
		}
	}
	return model.BridgeInfo{}, false
}

// evaluate 读取存储并分类
func (m *HealthMonitor) evaluate(ctx context.Context, info model.BridgeInfo, now time.Time) model.BridgeStatus {
	status := model.BridgeStatus{
		BridgeID:         info.ID,
		Broker:           info.Broker,
		Platform:         info.Platform,
		Server:           info.Server,
		ExpectedAccounts: info.ExpectedAccounts,
		CheckedAt:        now,
	}

	found, err := m.store.CountAccountsByBridge(ctx, info.ID)
	if err != nil {
		m.logger.Error("读取桥接账户数失败", zap.String("bridge_id", info.ID), zap.Error(err))
		status.Health = model.HealthError
		status.Issues = []string{fmt.Sprintf("Store unavailable: %v", err)}
		return status
	}
	status.ActualAccounts = found

	lastSync, err := m.store.LastSyncByBridge(ctx, info.ID)
	if err != nil {
		m.logger.Error("读取桥接同步时间失败", zap.String("bridge_id", info.ID), zap.Error(err))
		status.Health = model.HealthError
		status.Issues = []string{fmt.Sprintf("Store unavailable: %v", err)}
		return status
	}
	if !lastSync.IsZero() {
		ls := lastSync
		status.LastSyncTimestamp = &ls
		status.Age = now.Sub(lastSync)
	}

	status.Health, status.Issues = Classify(info.ExpectedAccounts, found, lastSync, now, m.staleness)
	return status
}

// Classify 根据账户数与同步时间判定健康状态
func Classify(expected, found int, lastSync, now time.Time, threshold time.Duration) (model.HealthState, []string) {
	if found == 0 {
		issues := []string{"No accounts found for bridge"}
		if expected > 0 {
			issues = append(issues, fmt.Sprintf("expected %d accounts, found 0", expected))
		}
		return model.HealthNoAccounts, issues
	}

	var issues []string
	switch {
	case lastSync.IsZero():
		issues = append(issues, "No sync recorded")
	case now.Sub(lastSync) > threshold:
		issues = append(issues, fmt.Sprintf("Data not synced in >%s", humanDuration(threshold)))
	}
	if found < expected {
		issues = append(issues, fmt.Sprintf("expected %d accounts, found %d", expected, found))
	}

	if len(issues) > 0 {
		return model.HealthStaleData, issues
	}
	return model.HealthHealthy, []string{}
}

func humanDuration(d time.Duration) string {
	if d%time.Minute == 0 {
		minutes := int(d / time.Minute)
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	return d.String()
}

// observe 处理状态变化：进入不健康状态写一条告警，同状态重复检查不写
func (m *HealthMonitor) observe(ctx context.Context, status model.BridgeStatus) {
	m.mu.Lock()
	prev, seen := m.states[status.BridgeID]
	if !seen {
		prev = model.HealthHealthy
	}
	m.states[status.BridgeID] = status.Health
	m.latest[status.BridgeID] = status
	listener := m.listener
	m.mu.Unlock()

	if status.Health == prev {
		return
	}

	logger := m.logger.With(
		zap.String("bridge_id", status.BridgeID),
		zap.String("from", string(prev)),
		zap.String("to", string(status.Health)))

	if status.Healthy() {
		logger.Info("桥接已恢复健康")
		if listener != nil {
			listener.BridgeRecovered(status.BridgeID)
		}
		return
	}

	logger.Warn("桥接状态异常", zap.Strings("issues", status.Issues))

	alert := &model.Alert{
		BridgeID:  status.BridgeID,
		Severity:  status.Health.Severity(),
		Health:    status.Health,
		Issues:    append([]string(nil), status.Issues...),
		Timestamp: status.CheckedAt,
	}
	if err := m.alerts.Record(ctx, alert); err != nil {
		// 回退状态，下次检查重新写入
		logger.Error("写入告警失败", zap.Error(err))
		m.mu.Lock()
		m.states[status.BridgeID] = prev
		m.mu.Unlock()
	}

	if listener != nil {
		listener.BridgeUnhealthy(status)
	}
}
