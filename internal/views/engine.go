// Package views 在读取时计算的派生视图，不持久化任何结果
package views

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/life2you_mini/bridgesync/internal/model"
)

// AccountReader 账户读取
type AccountReader interface {
	ListAccounts(ctx context.Context) ([]*model.AccountSnapshot, error)
}

// DealReader 成交读取
type DealReader interface {
	ListDeals(ctx context.Context, account int64, since time.Time) ([]*model.Deal, error)
}

// HealthSnapshot 最近一次健康检查结果
type HealthSnapshot interface {
	Snapshot() ([]model.BridgeStatus, time.Time)
}

// ObligationSource 各基金对客户的投资义务，按 fund_type 索引
type ObligationSource interface {
	ClientObligations(ctx context.Context) (map[string]decimal.Decimal, error)
}

// ManagerDirectory 基金经理展示信息，按 manager_name 索引
type ManagerDirectory interface {
	Managers(ctx context.Context) (map[string]model.ManagerProfile, error)
}

// Meta 每个视图都带的新鲜度信息
type Meta struct {
	Stale        bool      `json:"stale"`
	StaleBridges []string  `json:"stale_bridges"`
	GeneratedAt  time.Time `json:"generated_at"`
	Warnings     []string  `json:"warnings"`
}

func (m *Meta) warn(format string, args ...interface{}) {
	m.Warnings = append(m.Warnings, fmt.Sprintf(format, args...))
}

// Engine 派生视图计算
type Engine struct {
	accounts    AccountReader
	deals       DealReader
	health      HealthSnapshot
	obligations ObligationSource
	managers    ManagerDirectory
	logger      *zap.Logger
	now         func() time.Time
}

// NewEngine 创建视图引擎，元数据来源可选
func NewEngine(accounts AccountReader, deals DealReader, health HealthSnapshot, logger *zap.Logger) *Engine {
	return &Engine{
		accounts: accounts,
		deals:    deals,
		health:   health,
		logger:   logger.With(zap.String("component", "views")),
		now:      time.Now,
	}
}

// SetObligationSource 设置投资义务来源
func (e *Engine) SetObligationSource(src ObligationSource) {
	e.obligations = src
}

// SetManagerDirectory 设置基金经理目录
func (e *Engine) SetManagerDirectory(dir ManagerDirectory) {
	e.managers = dir
}

// meta 根据健康快照生成新鲜度信息，单个桥接异常只标记不失败
func (e *Engine) meta() Meta {
	m := Meta{
		StaleBridges: []string{},
		GeneratedAt:  e.now().UTC(),
		Warnings:     []string{},
	}
	if e.health == nil {
		return m
	}

	statuses, checkedAt := e.health.Snapshot()
	if checkedAt.IsZero() {
		m.warn("bridge health has not been evaluated yet")
		return m
	}
	for _, st := range statuses {
		if !st.Healthy() {
			m.StaleBridges = append(m.StaleBridges, st.BridgeID)
		}
	}
	sort.Strings(m.StaleBridges)
	m.Stale = len(m.StaleBridges) > 0
	return m
}

func (e *Engine) listAccounts(ctx context.Context) ([]*model.AccountSnapshot, error) {
	accounts, err := e.accounts.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取账户失败: %w", err)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Account < accounts[j].Account })
	return accounts, nil
}

// accountDeals 读取账户全部成交，失败时记录警告并返回空
func (e *Engine) accountDeals(ctx context.Context, account int64, m *Meta) []*model.Deal {
	deals, err := e.deals.ListDeals(ctx, account, time.Time{})
	if err != nil {
		e.logger.Warn("读取成交失败", zap.Int64("account", account), zap.Error(err))
		m.warn("deals unavailable for account %d", account)
		return nil
	}
	return deals
}

func dec(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func decPtr(v *float64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromFloat(*v)
	return &d
}
