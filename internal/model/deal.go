package model

import (
	"fmt"
	"time"
)

// DealType 成交类型
type DealType int

// 成交类型取值，BALANCE 是出入金的唯一来源
const (
	DealTypeBuy     DealType = 0
	DealTypeSell    DealType = 1
	DealTypeBalance DealType = 2
)

// String 返回成交类型名称
func (t DealType) String() string {
	switch t {
	case DealTypeBuy:
		return "BUY"
	case DealTypeSell:
		return "SELL"
	case DealTypeBalance:
		return "BALANCE"
	default:
		return fmt.Sprintf("DealType(%d)", int(t))
	}
}

// Valid 是否为已知类型
func (t DealType) Valid() bool {
	return t == DealTypeBuy || t == DealTypeSell || t == DealTypeBalance
}

// DealEntry 开平方向
type DealEntry int

// 开仓/平仓
const (
	EntryIn  DealEntry = 0
	EntryOut DealEntry = 1
)

// Deal 成交记录，按 (account, ticket) 唯一，写入后不可变
type Deal struct {
	Ticket     int64     `json:"ticket" bson:"ticket"`
	Account    int64     `json:"account" bson:"account"`
	Time       time.Time `json:"time" bson:"time"`
	Type       DealType  `json:"type" bson:"type"`
	Entry      DealEntry `json:"entry" bson:"entry"`
	Symbol     string    `json:"symbol" bson:"symbol"`
	Volume     float64   `json:"volume" bson:"volume"`
	Price      float64   `json:"price" bson:"price"`
	Profit     float64   `json:"profit" bson:"profit"`
	Commission *float64  `json:"commission,omitempty" bson:"commission,omitempty"`
	Swap       *float64  `json:"swap,omitempty" bson:"swap,omitempty"`
	Fee        *float64  `json:"fee,omitempty" bson:"fee,omitempty"`
	PositionID *int64    `json:"position_id,omitempty" bson:"position_id,omitempty"`
	TimeMsc    *int64    `json:"time_msc,omitempty" bson:"time_msc,omitempty"`
	SyncedAt   time.Time `json:"synced_at" bson:"synced_at"`
}

// Key 成交唯一键
func (d *Deal) Key() string {
	return fmt.Sprintf("%d:%d", d.Account, d.Ticket)
}

// CommissionOrZero 佣金，缺失按0计
func (d *Deal) CommissionOrZero() float64 { return orZero(d.Commission) }

// SwapOrZero 隔夜利息，缺失按0计
func (d *Deal) SwapOrZero() float64 { return orZero(d.Swap) }

// FeeOrZero 手续费，缺失按0计
func (d *Deal) FeeOrZero() float64 { return orZero(d.Fee) }

// IsClosingTrade 是否为平仓交易
func (d *Deal) IsClosingTrade() bool {
	return (d.Type == DealTypeBuy || d.Type == DealTypeSell) && d.Entry == EntryOut
}

func orZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// Float64 返回指针
func Float64(v float64) *float64 { return &v }

// Int64 返回指针
func Int64(v int64) *int64 { return &v }
