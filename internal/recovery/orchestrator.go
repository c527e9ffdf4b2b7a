package recovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/life2you_mini/bridgesync/internal/backoff"
	"github.com/life2you_mini/bridgesync/internal/config"
	"github.com/life2you_mini/bridgesync/internal/model"
)

// State 恢复状态
type State string

const (
	StateIdle       State = "idle"
	StateRestarting State = "restarting"
	StateWaiting    State = "waiting"
	StateRecovered  State = "recovered"
	StateExhausted  State = "exhausted"
)

// InProgress 是否处于恢复流程中
func (s State) InProgress() bool {
	return s == StateRestarting || s == StateWaiting
}

var (
	// ErrRecoveryExhausted 重启次数已用尽，需要人工处理
	ErrRecoveryExhausted = errors.New("恢复次数已用尽，需要人工处理")
	// ErrUnknownBridge 未配置的桥接
	ErrUnknownBridge = errors.New("未知桥接")
	// ErrRecoveryInProgress 恢复流程进行中
	ErrRecoveryInProgress = errors.New("恢复流程进行中")
)

// 默认参数
const (
	DefaultMaxAttempts = 3
	DefaultGracePeriod = 60 * time.Second
	stopTimeout        = 5 * time.Second
	queueSize          = 64
)

// Rechecker 重启后重新评估桥接健康
type Rechecker interface {
	Recheck(ctx context.Context, bridgeID string) (model.BridgeStatus, error)
}

// Options 恢复参数
type Options struct {
	Enabled     bool
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	GracePeriod time.Duration
}

// OptionsFromConfig 从配置生成恢复参数
func OptionsFromConfig(cfg config.RecoveryConfig) Options {
	return Options{
		Enabled:     cfg.Enabled,
		MaxAttempts: cfg.MaxAttempts,
		BaseBackoff: cfg.BaseBackoff,
		MaxBackoff:  cfg.MaxBackoff,
		GracePeriod: cfg.GracePeriod,
	}
}

// BridgeRecovery 单个桥接的恢复状态
type BridgeRecovery struct {
	BridgeID    string     `json:"bridge_id"`
	State       State      `json:"state"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	LastAttempt *time.Time `json:"last_attempt,omitempty"`
	RestartKey  string     `json:"restart_key,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Orchestrator 桥接自动恢复编排，单个工作协程串行处理
type Orchestrator struct {
	opts      Options
	restarter Restarter
	rechecker Rechecker
	logger    *zap.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	states map[string]*BridgeRecovery
	queue  chan string
	cancel context.CancelFunc
	done   chan struct{}
}

// NewOrchestrator 创建恢复编排器
func NewOrchestrator(bridgeIDs []string, restarter Restarter, rechecker Rechecker, opts Options, logger *zap.Logger) *Orchestrator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}

	o := &Orchestrator{
		opts:      opts,
		restarter: restarter,
		rechecker: rechecker,
		logger:    logger.With(zap.String("component", "recovery")),
		now:       time.Now,
		sleep:     backoff.Sleep,
		states:    make(map[string]*BridgeRecovery, len(bridgeIDs)),
		queue:     make(chan string, queueSize),
	}
	for _, id := range bridgeIDs {
		o.states[id] = &BridgeRecovery{BridgeID: id, State: StateIdle}
	}
	return o
}

// Enabled 是否启用自动恢复
func (o *Orchestrator) Enabled() bool {
	return o.opts.Enabled
}

// Start 启动工作协程
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		return fmt.Errorf("恢复编排器已在运行")
	}

	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})

	go o.run(ctx, o.done)

	o.logger.Info("恢复编排器已启动",
		zap.Bool("enabled", o.opts.Enabled),
		zap.Int("max_attempts", o.opts.MaxAttempts),
		zap.Duration("grace_period", o.opts.GracePeriod))
	return nil
}

// Stop 停止工作协程，最多等待5秒
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.cancel = nil
	o.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	timer := time.NewTimer(stopTimeout)
	defer timer.Stop()

	select {
	case <-done:
		o.logger.Info("恢复编排器已停止")
		return nil
	case <-timer.C:
		return fmt.Errorf("等待恢复编排器停止超时")
	}
}

func (o *Orchestrator) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-o.queue:
			o.process(ctx, id)
		}
	}
}

// TriggerRestart 开始恢复流程，已在恢复中的桥接不会重复入队
func (o *Orchestrator) TriggerRestart(bridgeID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	st, ok := o.states[bridgeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBridge, bridgeID)
	}
	if st.State.InProgress() {
		return nil
	}
	if st.State == StateExhausted {
		return ErrRecoveryExhausted
	}

	select {
	case o.queue <- bridgeID:
	default:
		return fmt.Errorf("恢复队列已满，桥接 %s 未入队", bridgeID)
	}

	st.State = StateRestarting
	st.Attempts = 0
	st.LastError = ""
	st.UpdatedAt = o.now()
	o.logger.Info("桥接进入恢复流程", zap.String("bridge_id", bridgeID))
	return nil
}

// BridgeUnhealthy 健康监控通知桥接异常
func (o *Orchestrator) BridgeUnhealthy(status model.BridgeStatus) {
	if !o.opts.Enabled {
		return
	}
	err := o.TriggerRestart(status.BridgeID)
	switch {
	case err == nil:
	case errors.Is(err, ErrRecoveryExhausted):
		o.logger.Debug("恢复次数已用尽，等待人工处理", zap.String("bridge_id", status.BridgeID))
	default:
		o.logger.Error("触发恢复失败", zap.String("bridge_id", status.BridgeID), zap.Error(err))
	}
}

// BridgeRecovered 健康监控通知桥接恢复，用尽状态随之清除
func (o *Orchestrator) BridgeRecovered(bridgeID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	st, ok := o.states[bridgeID]
	if !ok || st.State.InProgress() {
		return
	}
	if st.State == StateExhausted {
		o.logger.Info("桥接已恢复健康，清除用尽状态", zap.String("bridge_id", bridgeID))
		st.State = StateRecovered
		st.UpdatedAt = o.now()
	}
}

// Reset 人工重置恢复状态
func (o *Orchestrator) Reset(bridgeID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	st, ok := o.states[bridgeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBridge, bridgeID)
	}
	if st.State.InProgress() {
		return ErrRecoveryInProgress
	}

	*st = BridgeRecovery{BridgeID: bridgeID, State: StateIdle, UpdatedAt: o.now()}
	o.logger.Info("恢复状态已重置", zap.String("bridge_id", bridgeID))
	return nil
}

// Status 单个桥接的恢复状态
func (o *Orchestrator) Status(bridgeID string) (BridgeRecovery, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	st, ok := o.states[bridgeID]
	if !ok {
		return BridgeRecovery{}, false
	}
	return *st, true
}

// Statuses 所有桥接的恢复状态，按 bridge_id 排序
func (o *Orchestrator) Statuses() []BridgeRecovery {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]BridgeRecovery, 0, len(o.states))
	for _, st := range o.states {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BridgeID < out[j].BridgeID })
	return out
}

// process 执行一次完整的恢复流程
func (o *Orchestrator) process(ctx context.Context, bridgeID string) {
	logger := o.logger.With(zap.String("bridge_id", bridgeID))

	for attempt := 1; attempt <= o.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := backoff.Delay(o.opts.BaseBackoff, o.opts.MaxBackoff, attempt-1)
			if err := o.sleep(ctx, delay); err != nil {
				o.abort(bridgeID, err)
				return
			}
		}

		key := NewIdempotencyKey()
		o.update(bridgeID, func(st *BridgeRecovery) {
			now := o.now()
			st.State = StateRestarting
			st.Attempts = attempt
			st.LastAttempt = &now
			st.RestartKey = key
		})

		logger.Warn("重启桥接", zap.Int("attempt", attempt), zap.Int("max_attempts", o.opts.MaxAttempts), zap.String("idempotency_key", key))
		if err := o.restarter.Restart(ctx, bridgeID, key); err != nil {
			if ctx.Err() != nil {
				o.abort(bridgeID, ctx.Err())
				return
			}
			logger.Error("重启桥接失败", zap.Int("attempt", attempt), zap.Error(err))
			o.update(bridgeID, func(st *BridgeRecovery) { st.LastError = err.Error() })
			continue
		}

		o.update(bridgeID, func(st *BridgeRecovery) { st.State = StateWaiting })
		if err := o.sleep(ctx, o.opts.GracePeriod); err != nil {
			o.abort(bridgeID, err)
			return
		}

		status, err := o.rechecker.Recheck(ctx, bridgeID)
		if err != nil {
			logger.Error("重新检查桥接失败", zap.Error(err))
			o.update(bridgeID, func(st *BridgeRecovery) { st.LastError = err.Error() })
			continue
		}
		if status.Healthy() {
			logger.Info("桥接已通过重启恢复", zap.Int("attempts", attempt))
			o.update(bridgeID, func(st *BridgeRecovery) {
				st.State = StateRecovered
				st.LastError = ""
			})
			return
		}

		issues := strings.Join(status.Issues, "; ")
		logger.Warn("重启后桥接仍异常", zap.String("health", string(status.Health)), zap.String("issues", issues))
		o.update(bridgeID, func(st *BridgeRecovery) { st.LastError = issues })
	}

	o.update(bridgeID, func(st *BridgeRecovery) { st.State = StateExhausted })
	logger.Error("桥接自动恢复失败", zap.Int("attempts", o.opts.MaxAttempts), zap.Error(ErrRecoveryExhausted))
}

// abort 停止时中断的恢复流程回到空闲状态
func (o *Orchestrator) abort(bridgeID string, err error) {
	o.logger.Info("恢复流程被中断", zap.String("bridge_id", bridgeID), zap.Error(err))
	o.update(bridgeID, func(st *BridgeRecovery) { st.State = StateIdle })
}

func (o *Orchestrator) update(bridgeID string, fn func(st *BridgeRecovery)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if st, ok := o.states[bridgeID]; ok {
		fn(st)
		st.UpdatedAt = o.now()
	}
}
