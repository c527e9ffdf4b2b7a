package model

import "time"

// AccountSnapshot 账户快照，每个账号在 accounts 集合中只有一份文档
type AccountSnapshot struct {
	Account        int64   `json:"account" bson:"account"`
	BridgeID       string  `json:"bridge_id" bson:"bridge_id"`
	Broker         string  `json:"broker" bson:"broker"`
	Platform       string  `json:"platform" bson:"platform"`
	Server         string  `json:"server" bson:"server"`
	Currency       string  `json:"currency" bson:"currency"`
	Balance        float64 `json:"balance" bson:"balance"`
	Equity         float64 `json:"equity" bson:"equity"`
	Margin         float64 `json:"margin" bson:"margin"`
	FreeMargin     float64 `json:"free_margin" bson:"free_margin"`
	PositionsCount int     `json:"positions_count" bson:"positions_count"`

	// 以下分类字段由账户管理方维护，桥接程序从不写入
	Status            string   `json:"status,omitempty" bson:"status,omitempty"`
	FundType          string   `json:"fund_type,omitempty" bson:"fund_type,omitempty"`
	ManagerName       string   `json:"manager_name,omitempty" bson:"manager_name,omitempty"`
	InitialAllocation *float64 `json:"initial_allocation,omitempty" bson:"initial_allocation,omitempty"`

	LastSyncTimestamp time.Time `json:"last_sync_timestamp" bson:"last_sync_timestamp"`
}

// 账户文档字段名
const (
	FieldAccount           = "account"
	FieldBridgeID          = "bridge_id"
	FieldBroker            = "broker"
	FieldPlatform          = "platform"
	FieldServer            = "server"
	FieldCurrency          = "currency"
	FieldBalance           = "balance"
	FieldEquity            = "equity"
	FieldMargin            = "margin"
	FieldFreeMargin        = "free_margin"
	FieldPositionsCount    = "positions_count"
	FieldStatus            = "status"
	FieldFundType          = "fund_type"
	FieldManagerName       = "manager_name"
	FieldInitialAllocation = "initial_allocation"
	FieldLastSyncTimestamp = "last_sync_timestamp"
)

// ClassificationFields 归属账户管理方的字段，任何同步写入都不得包含
var ClassificationFields = []string{
	FieldStatus,
	FieldFundType,
	FieldManagerName,
	FieldInitialAllocation,
}

// IsClassificationField 判断字段是否为分类字段
func IsClassificationField(name string) bool {
	for _, f := range ClassificationFields {
		if f == name {
			return true
		}
	}
	return false
}

// OperationalFields 返回桥接程序负责写入的字段
// last_sync_timestamp 与运营数据同属一次写入
func (a *AccountSnapshot) OperationalFields() map[string]interface{} {
	return map[string]interface{}{
		FieldBridgeID:          a.BridgeID,
		FieldBroker:            a.Broker,
		FieldPlatform:          a.Platform,
		FieldServer:            a.Server,
		FieldCurrency:          a.Currency,
		FieldBalance:           a.Balance,
		FieldEquity:            a.Equity,
		FieldMargin:            a.Margin,
		FieldFreeMargin:        a.FreeMargin,
		FieldPositionsCount:    a.PositionsCount,
		FieldLastSyncTimestamp: a.LastSyncTimestamp,
	}
}

// BridgeInfo 桥接注册信息，来自静态配置
type BridgeInfo struct {
	ID               string `json:"bridge_id"`
	Broker           string `json:"broker"`
	Platform         string `json:"platform"`
	Server           string `json:"server"`
	ExpectedAccounts int    `json:"expected_accounts"`
}

// ManagerProfile 基金经理展示信息（不含账户列表）
type ManagerProfile struct {
	Name       string  `json:"manager_name"`
	ProfileURL string  `json:"profile_url,omitempty"`
	FeeRate    float64 `json:"fee_rate"`
}
