// Package maintenance 定时维护任务
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner 定时任务调度，表达式含秒
type Runner struct {
	cron    *cron.Cron
	logger  *zap.Logger
	baseCtx context.Context
}

// NewRunner 创建调度器
func NewRunner(baseCtx context.Context, logger *zap.Logger) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Runner{
		cron:    cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:  logger.With(zap.String("component", "maintenance")),
		baseCtx: baseCtx,
	}
}

// Add 注册任务，panic 会被恢复并记录
func (r *Runner) Add(name, spec string, job func(ctx context.Context) error) (cron.EntryID, error) {
	id, err := r.cron.AddFunc(spec, func() {
		r.run(name, job)
	})
	if err != nil {
		return 0, fmt.Errorf("注册任务 %s 失败: %w", name, err)
	}
	r.logger.Info("已注册维护任务", zap.String("job", name), zap.String("schedule", spec))
	return id, nil
}

func (r *Runner) run(name string, job func(ctx context.Context) error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("维护任务异常", zap.String("job", name), zap.Any("panic", p))
		}
	}()

	started := time.Now()
	if err := job(r.baseCtx); err != nil {
		r.logger.Error("维护任务失败", zap.String("job", name), zap.Error(err))
		return
	}
	r.logger.Debug("维护任务完成", zap.String("job", name), zap.Duration("elapsed", time.Since(started)))
}

// Entries 已注册任务数
func (r *Runner) Entries() int {
	return len(r.cron.Entries())
}

// Start 启动调度
func (r *Runner) Start() {
	r.cron.Start()
	r.logger.Info("维护任务调度已启动")
}

// Stop 停止调度并等待正在执行的任务结束
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("维护任务调度已停止")
}

// Pruner 告警清理
type Pruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// AlertPruneJob 按保留期清理告警日志
func AlertPruneJob(p Pruner, retention time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := p.Prune(ctx, retention)
		return err
	}
}
