package views

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/life2you_mini/bridgesync/internal/model"
)

// FundRow 单个基金汇总
type FundRow struct {
	FundType         string           `json:"fund_type"`
	AccountCount     int              `json:"account_count"`
	TotalBalance     decimal.Decimal  `json:"total_balance"`
	TotalEquity      decimal.Decimal  `json:"total_equity"`
	ClientObligation *decimal.Decimal `json:"client_obligation"`
	PnL              *decimal.Decimal `json:"pnl"`
	Accounts         []int64          `json:"accounts"`
}

// FundPortfolio 按 fund_type 分组的基金组合视图
type FundPortfolio struct {
	Meta
	Funds []FundRow `json:"funds"`
}

// FundPortfolio 计算基金组合视图，P&L = 权益合计 - 客户投资义务
func (e *Engine) FundPortfolio(ctx context.Context) (*FundPortfolio, error) {
	accounts, err := e.listAccounts(ctx)
	if err != nil {
		return nil, err
	}

	view := &FundPortfolio{Meta: e.meta(), Funds: []FundRow{}}

	groups := make(map[string]*FundRow)
	unassigned := 0
	for _, a := range accounts {
		if a.FundType == "" {
			unassigned++
			continue
		}
		row, ok := groups[a.FundType]
		if !ok {
			row = &FundRow{FundType: a.FundType, Accounts: []int64{}}
			groups[a.FundType] = row
		}
		row.AccountCount++
		row.TotalBalance = row.TotalBalance.Add(dec(a.Balance))
		row.TotalEquity = row.TotalEquity.Add(dec(a.Equity))
		row.Accounts = append(row.Accounts, a.Account)
	}
	if unassigned > 0 {
		view.warn("%d accounts have no fund_type", unassigned)
	}

	obligations := e.clientObligations(ctx, &view.Meta)
	for _, row := range groups {
		if ob, ok := obligations[row.FundType]; ok {
			pnl := row.TotalEquity.Sub(ob)
			row.ClientObligation = &ob
			row.PnL = &pnl
		} else if obligations != nil {
			view.warn("no client obligation for fund %s", row.FundType)
		}
		view.Funds = append(view.Funds, *row)
	}
	sort.Slice(view.Funds, func(i, j int) bool { return view.Funds[i].FundType < view.Funds[j].FundType })
	return view, nil
}

func (e *Engine) clientObligations(ctx context.Context, m *Meta) map[string]decimal.Decimal {
	if e.obligations == nil {
		m.warn("client obligations source not configured")
		return nil
	}
	obligations, err := e.obligations.ClientObligations(ctx)
	if err != nil {
		e.logger.Warn("读取客户投资义务失败", zap.Error(err))
		m.warn("client obligations unavailable")
		return nil
	}
	return obligations
}

// ManagerRow 单个基金经理汇总
type ManagerRow struct {
	ManagerName  string           `json:"manager_name"`
	ProfileURL   string           `json:"profile_url,omitempty"`
	FeeRate      *decimal.Decimal `json:"fee_rate,omitempty"`
	AccountCount int              `json:"account_count"`
	TotalBalance decimal.Decimal  `json:"total_balance"`
	TotalEquity  decimal.Decimal  `json:"total_equity"`
	Accounts     []int64          `json:"accounts"`
}

// ManagerView 按 manager_name 分组的基金经理视图
type ManagerView struct {
	Meta
	Managers []ManagerRow `json:"managers"`
}

// Managers 计算基金经理视图，账户归属只来自 accounts 的 manager_name 字段
func (e *Engine) Managers(ctx context.Context) (*ManagerView, error) {
	accounts, err := e.listAccounts(ctx)
	if err != nil {
		return nil, err
	}

	view := &ManagerView{Meta: e.meta(), Managers: []ManagerRow{}}
	profiles := e.managerProfiles(ctx, &view.Meta)

	groups := make(map[string]*ManagerRow)
	unassigned := 0
	for _, a := range accounts {
		if a.ManagerName == "" {
			unassigned++
			continue
		}
		row, ok := groups[a.ManagerName]
		if !ok {
			row = &ManagerRow{ManagerName: a.ManagerName, Accounts: []int64{}}
			if p, found := profiles[a.ManagerName]; found {
				fee := decimal.NewFromFloat(p.FeeRate)
				row.ProfileURL = p.ProfileURL
				row.FeeRate = &fee
			}
			groups[a.ManagerName] = row
		}
		row.AccountCount++
		row.TotalBalance = row.TotalBalance.Add(dec(a.Balance))
		row.TotalEquity = row.TotalEquity.Add(dec(a.Equity))
		row.Accounts = append(row.Accounts, a.Account)
	}
	if unassigned > 0 {
		view.warn("%d accounts have no manager_name", unassigned)
	}

	for _, row := range groups {
		view.Managers = append(view.Managers, *row)
	}
	sort.Slice(view.Managers, func(i, j int) bool {
		return view.Managers[i].ManagerName < view.Managers[j].ManagerName
	})
	return view, nil
}

func (e *Engine) managerProfiles(ctx context.Context, m *Meta) map[string]model.ManagerProfile {
	if e.managers == nil {
		return nil
	}
	profiles, err := e.managers.Managers(ctx)
	if err != nil {
		e.logger.Warn("读取基金经理目录失败", zap.Error(err))
		m.warn("manager directory unavailable")
		return nil
	}
	return profiles
}
