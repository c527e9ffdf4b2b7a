package views

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/life2you_mini/bridgesync/internal/model"
)

// CashFlowRow 单个账户的出入金与真实盈亏
//
// Withdrawals 保留 BALANCE 成交的负号，NetWithdrawals = Deposits + Withdrawals，
// TruePnL = Balance - InitialAllocation - NetWithdrawals
type CashFlowRow struct {
	Account           int64            `json:"account"`
	BridgeID          string           `json:"bridge_id"`
	FundType          string           `json:"fund_type,omitempty"`
	ManagerName       string           `json:"manager_name,omitempty"`
	Balance           decimal.Decimal  `json:"balance"`
	InitialAllocation *decimal.Decimal `json:"initial_allocation"`
	Deposits          decimal.Decimal  `json:"deposits"`
	Withdrawals       decimal.Decimal  `json:"withdrawals"`
	NetWithdrawals    decimal.Decimal  `json:"net_withdrawals"`
	TruePnL           *decimal.Decimal `json:"true_pnl"`
}

// CashFlowTotals 全部账户合计，TruePnL 只统计有初始分配的账户
type CashFlowTotals struct {
	Deposits       decimal.Decimal `json:"deposits"`
	Withdrawals    decimal.Decimal `json:"withdrawals"`
	NetWithdrawals decimal.Decimal `json:"net_withdrawals"`
	TruePnL        decimal.Decimal `json:"true_pnl"`
}

// CashFlow 出入金视图
type CashFlow struct {
	Meta
	Accounts []CashFlowRow `json:"accounts"`
	Totals   CashFlowTotals `json:"totals"`
}

// CashFlow 计算出入金视图，出入金只来自 BALANCE 类型成交
func (e *Engine) CashFlow(ctx context.Context) (*CashFlow, error) {
	accounts, err := e.listAccounts(ctx)
	if err != nil {
		return nil, err
	}

	view := &CashFlow{Meta: e.meta(), Accounts: make([]CashFlowRow, 0, len(accounts))}
	for _, a := range accounts {
		deals := e.accountDeals(ctx, a.Account, &view.Meta)
		row := cashFlowRow(a, deals)
		if row.TruePnL == nil {
			view.warn("account %d has no initial_allocation", a.Account)
		} else {
			view.Totals.TruePnL = view.Totals.TruePnL.Add(*row.TruePnL)
		}
		view.Totals.Deposits = view.Totals.Deposits.Add(row.Deposits)
		view.Totals.Withdrawals = view.Totals.Withdrawals.Add(row.Withdrawals)
		view.Totals.NetWithdrawals = view.Totals.NetWithdrawals.Add(row.NetWithdrawals)
		view.Accounts = append(view.Accounts, row)
	}
	return view, nil
}

func cashFlowRow(a *model.AccountSnapshot, deals []*model.Deal) CashFlowRow {
	row := CashFlowRow{
		Account:           a.Account,
		BridgeID:          a.BridgeID,
		FundType:          a.FundType,
		ManagerName:       a.ManagerName,
		Balance:           dec(a.Balance),
		InitialAllocation: decPtr(a.InitialAllocation),
	}

	for _, d := range deals {
		if d.Type != model.DealTypeBalance {
			continue
		}
		amount := dec(d.Profit)
		if amount.IsPositive() {
			row.Deposits = row.Deposits.Add(amount)
		} else {
			row.Withdrawals = row.Withdrawals.Add(amount)
		}
	}
	row.NetWithdrawals = row.Deposits.Add(row.Withdrawals)

	if row.InitialAllocation != nil {
		pnl := row.Balance.Sub(*row.InitialAllocation).Sub(row.NetWithdrawals)
		row.TruePnL = &pnl
	}
	return row
}
