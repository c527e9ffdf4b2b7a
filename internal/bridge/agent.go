package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/life2you_mini/bridgesync/internal/backoff"
	"github.com/life2you_mini/bridgesync/internal/config"
	"github.com/life2you_mini/bridgesync/internal/model"
	"github.com/life2you_mini/bridgesync/internal/terminal"
)

// Store 代理写入同步存储所需的操作
type Store interface {
	UpsertAccount(ctx context.Context, snapshot *model.AccountSnapshot) error
	InsertDeals(ctx context.Context, deals []*model.Deal) (int, error)
	LatestDealTime(ctx context.Context, account int64) (time.Time, error)
}

// AccountResult 单个账号一次同步的结果
type AccountResult struct {
	Account       int64
	DealsFetched  int
	DealsInserted int
	DealsRejected int
	DealErr       error
	Err           error
}

// CycleResult 一次轮询周期的结果
type CycleResult struct {
	BridgeID string
	Started  time.Time
	Finished time.Time
	Synced   int
	Failed   int
	Skipped  int
	Accounts []AccountResult
}

// Agent 桥接代理，轮询一个终端上归属本桥接的账号并写入存储
type Agent struct {
	cfg      config.BridgeConfig
	terminal terminal.Terminal
	store    Store
	logger   *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	drain time.Duration

	mu        sync.Mutex
	isRunning bool
	lastCycle *CycleResult
}

// NewAgent 创建桥接代理
func NewAgent(cfg config.BridgeConfig, term terminal.Terminal, store Store, logger *zap.Logger) *Agent {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.AccountTimeout <= 0 {
		cfg.AccountTimeout = 20 * time.Second
	}
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = 90
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}

	return &Agent{
		cfg:      cfg,
		terminal: term,
		store:    store,
		logger:   logger.With(zap.String("component", "bridge_agent"), zap.String("bridge_id", cfg.ID)),
		now:      time.Now,
		sleep:    backoff.Sleep,
	}
}

// ID 桥接ID
func (a *Agent) ID() string {
	return a.cfg.ID
}

// SetDrainTimeout 设置停止后当前周期最多还能运行的时间，0 表示等周期自然结束
func (a *Agent) SetDrainTimeout(d time.Duration) {
	a.drain = d
}

// IsRunning 是否在运行
func (a *Agent) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isRunning
}

// LastCycle 最近一次周期结果
func (a *Agent) LastCycle() *CycleResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastCycle
}

// Run 启动轮询，ctx 取消后等当前周期结束再返回
func (a *Agent) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.isRunning {
		a.mu.Unlock()
		return fmt.Errorf("桥接代理 %s 已在运行", a.cfg.ID)
	}
	a.isRunning = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.isRunning = false
		a.mu.Unlock()
	}()

	a.logger.Info("启动桥接代理",
		zap.Int("accounts", len(a.cfg.Accounts)),
		zap.Duration("poll_interval", a.cfg.PollInterval),
		zap.String("terminal", a.terminal.Name()))

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	// 立即执行一次同步
	a.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("桥接代理已停止")
			return nil
		case <-ticker.C:
			a.RunCycle(ctx)
		}
	}
}

// RunCycle 执行一次轮询周期，单个账号失败不影响其他账号
func (a *Agent) RunCycle(ctx context.Context) CycleResult {
	// 周期一旦开始就执行完，停止后受 drain 期限约束
	cycleCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	if a.drain > 0 {
		stop := context.AfterFunc(ctx, func() {
			timer := time.NewTimer(a.drain)
			defer timer.Stop()
			select {
			case <-timer.C:
				a.logger.Warn("停止期限已到，中断同步周期", zap.Duration("drain", a.drain))
				cancel()
			case <-cycleCtx.Done():
			}
		})
		defer stop()
	}

	result := CycleResult{
		BridgeID: a.cfg.ID,
		Started:  a.now(),
		Accounts: make([]AccountResult, 0, len(a.cfg.Accounts)),
	}

	for i, acc := range a.cfg.Accounts {
		if cycleCtx.Err() != nil {
			result.Skipped = len(a.cfg.Accounts) - i
			a.logger.Warn("同步周期被中断，跳过剩余账号", zap.Int("skipped", result.Skipped))
			break
		}
		r := a.syncAccountSafe(cycleCtx, acc.Number)
		if r.Err != nil {
			result.Failed++
			a.logger.Warn("账号同步失败", zap.Int64("account", acc.Number), zap.Error(r.Err))
		} else {
			result.Synced++
		}
		result.Accounts = append(result.Accounts, r)
	}

	result.Finished = a.now()
	a.logger.Info("同步周期完成",
		zap.Int("synced", result.Synced),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
		zap.Duration("elapsed", result.Finished.Sub(result.Started)))

	a.mu.Lock()
	a.lastCycle = &result
	a.mu.Unlock()

	return result
}

// syncAccountSafe 捕获单个账号同步中的panic
func (a *Agent) syncAccountSafe(ctx context.Context, login int64) (result AccountResult) {
	result.Account = login
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("账号同步发生panic", zap.Int64("account", login), zap.Any("panic", r))
			result.Err = fmt.Errorf("账号 %d 同步panic: %v", login, r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, a.cfg.AccountTimeout)
	defer cancel()

	return a.syncAccount(ctx, login)
}

// syncAccount 拉取账户与成交并写入存储
func (a *Agent) syncAccount(ctx context.Context, login int64) AccountResult {
	result := AccountResult{Account: login}
	logger := a.logger.With(zap.Int64("account", login))

	var raw terminal.RawRecord
	err := a.withRetry(ctx, "FetchAccount", func(ctx context.Context) error {
		var ferr error
		raw, ferr = a.terminal.FetchAccount(ctx, login)
		return ferr
	})
	if err != nil {
		result.Err = fmt.Errorf("获取账户状态失败: %w", err)
		return result
	}

	syncedAt := a.now()
	snapshot, err := normalizeAccount(raw, login, a.identity(), syncedAt)
	if err != nil {
		result.Err = fmt.Errorf("账户记录被拒绝: %w", err)
		return result
	}

	checkpoint, err := a.store.LatestDealTime(ctx, login)
	if err != nil {
		result.Err = fmt.Errorf("读取成交检查点失败: %w", err)
		return result
	}
	since := checkpoint
	if since.IsZero() {
		since = syncedAt.AddDate(0, 0, -a.cfg.HistoryDays)
	}

	var rawDeals []terminal.RawRecord
	dealErr := a.withRetry(ctx, "FetchDeals", func(ctx context.Context) error {
		var ferr error
		rawDeals, ferr = a.terminal.FetchDeals(ctx, login, since)
		return ferr
	})

	if dealErr == nil {
		result.DealsFetched = len(rawDeals)
		deals := make([]*model.Deal, 0, len(rawDeals))
		for _, r := range rawDeals {
			d, err := normalizeDeal(r, login, syncedAt)
			if err != nil {
				result.DealsRejected++
				logger.Warn("成交记录被拒绝", zap.Error(err))
				continue
			}
			deals = append(deals, d)
		}

		inserted, err := a.store.InsertDeals(ctx, deals)
		if err != nil {
			dealErr = fmt.Errorf("写入成交失败: %w", err)
		}
		result.DealsInserted = inserted
	} else {
		dealErr = fmt.Errorf("获取成交失败: %w", dealErr)
	}

	// 账户数据与同步时间同一次写入
	if err := a.store.UpsertAccount(ctx, snapshot); err != nil {
		result.Err = fmt.Errorf("写入账户失败: %w", err)
		return result
	}

	if dealErr != nil {
		result.DealErr = dealErr
		logger.Warn("成交同步失败，下个周期从检查点继续", zap.Error(dealErr))
	} else if result.DealsInserted > 0 {
		logger.Debug("新增成交", zap.Int("inserted", result.DealsInserted))
	}
	return result
}

// withRetry 只重试临时错误，指数退避
func (a *Agent) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	policy := a.cfg.Retry
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || !terminal.IsTransient(err) || attempt >= policy.MaxAttempts {
			return err
		}

		delay := backoff.Delay(policy.BaseDelay, policy.MaxDelay, attempt)
		a.logger.Debug("临时错误，稍后重试",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		if serr := a.sleep(ctx, delay); serr != nil {
			return err
		}
	}
}

func (a *Agent) identity() identity {
	return identity{
		BridgeID: a.cfg.ID,
		Broker:   a.cfg.Broker,
		Platform: a.cfg.Platform,
		Server:   a.cfg.Server,
	}
}
