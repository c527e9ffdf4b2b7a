package views

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/life2you_mini/bridgesync/internal/model"
)

// TradingStats 交易统计
type TradingStats struct {
	TradeCount     int                        `json:"trade_count"`
	Wins           int                        `json:"wins"`
	Losses         int                        `json:"losses"`
	WinRate        decimal.Decimal            `json:"win_rate"`
	GrossProfit    decimal.Decimal            `json:"gross_profit"`
	GrossLoss      decimal.Decimal            `json:"gross_loss"`
	Commission     decimal.Decimal            `json:"commission"`
	Swap           decimal.Decimal            `json:"swap"`
	Fee            decimal.Decimal            `json:"fee"`
	NetProfit      decimal.Decimal            `json:"net_profit"`
	VolumeBySymbol map[string]decimal.Decimal `json:"volume_by_symbol"`
}

// AccountTrading 单个账户的交易统计
type AccountTrading struct {
	Account     int64  `json:"account"`
	BridgeID    string `json:"bridge_id"`
	ManagerName string `json:"manager_name,omitempty"`
	TradingStats
}

// TradingAnalytics 交易分析视图
type TradingAnalytics struct {
	Meta
	Accounts []AccountTrading `json:"accounts"`
	Totals   TradingStats     `json:"totals"`
}

// TradingAnalytics 计算交易分析视图，只统计 BUY/SELL 成交
func (e *Engine) TradingAnalytics(ctx context.Context) (*TradingAnalytics, error) {
	accounts, err := e.listAccounts(ctx)
	if err != nil {
		return nil, err
	}

	view := &TradingAnalytics{
		Meta:     e.meta(),
		Accounts: make([]AccountTrading, 0, len(accounts)),
		Totals:   newStats(),
	}
	for _, a := range accounts {
		deals := e.accountDeals(ctx, a.Account, &view.Meta)
		stats := newStats()
		for _, d := range deals {
			stats.add(d)
			view.Totals.add(d)
		}
		stats.finish()
		view.Accounts = append(view.Accounts, AccountTrading{
			Account:      a.Account,
			BridgeID:     a.BridgeID,
			ManagerName:  a.ManagerName,
			TradingStats: stats,
		})
	}
	view.Totals.finish()
	return view, nil
}

func newStats() TradingStats {
	return TradingStats{VolumeBySymbol: map[string]decimal.Decimal{}}
}

// add 累加一条成交，缺失的佣金、隔夜利息、手续费按0计
func (s *TradingStats) add(d *model.Deal) {
	if d.Type != model.DealTypeBuy && d.Type != model.DealTypeSell {
		return
	}

	s.Commission = s.Commission.Add(dec(d.CommissionOrZero()))
	s.Swap = s.Swap.Add(dec(d.SwapOrZero()))
	s.Fee = s.Fee.Add(dec(d.FeeOrZero()))
	if d.Symbol != "" {
		s.VolumeBySymbol[d.Symbol] = s.VolumeBySymbol[d.Symbol].Add(dec(d.Volume))
	}

	if !d.IsClosingTrade() {
		return
	}
	s.TradeCount++
	profit := dec(d.Profit)
	switch {
	case profit.IsPositive():
		s.Wins++
		s.GrossProfit = s.GrossProfit.Add(profit)
	case profit.IsNegative():
		s.Losses++
		s.GrossLoss = s.GrossLoss.Add(profit)
	}
}

func (s *TradingStats) finish() {
	s.NetProfit = s.GrossProfit.Add(s.GrossLoss).Add(s.Commission).Add(s.Swap).Add(s.Fee)
	if s.TradeCount > 0 {
		s.WinRate = decimal.NewFromInt(int64(s.Wins)).
			Div(decimal.NewFromInt(int64(s.TradeCount))).
			Round(4)
	} else {
		s.WinRate = decimal.Zero
	}
}
