package metadata

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ManagerProfile 基金经理展示信息
//
// Accounts 是历史遗留列，账户归属只能来自 accounts 集合的 manager_name，
// 该列必须为空，由 VerifySSOT 检查
type ManagerProfile struct {
	ID         uint64          `gorm:"primaryKey;autoIncrement"`
	Name       string          `gorm:"type:varchar(100);not null;uniqueIndex"`
	ProfileURL string          `gorm:"type:varchar(500)"`
	FeeRate    decimal.Decimal `gorm:"type:numeric(10,6);not null;default:0"`
	Accounts   datatypes.JSON
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

// TableName 表名
func (ManagerProfile) TableName() string {
	return "money_managers"
}

// FundObligation 基金对客户的投资义务
type FundObligation struct {
	ID               uint64          `gorm:"primaryKey;autoIncrement"`
	FundType         string          `gorm:"type:varchar(50);not null;uniqueIndex"`
	ClientObligation decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime"`
}

// TableName 表名
func (FundObligation) TableName() string {
	return "fund_obligations"
}
