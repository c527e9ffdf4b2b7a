package storage

import (
	"context"
	"errors"
	"time"

	"github.com/life2you_mini/bridgesync/internal/model"
)

// 存储类型常量
const (
	StorageTypeRedis = "redis"
	StorageTypeMongo = "mongo"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("记录不存在")

// AccountStore 账户快照存储
type AccountStore interface {
	// UpsertAccount 按账号幂等写入，只覆盖运营字段
	UpsertAccount(ctx context.Context, snapshot *model.AccountSnapshot) error
	GetAccount(ctx context.Context, account int64) (*model.AccountSnapshot, error)
	ListAccounts(ctx context.Context) ([]*model.AccountSnapshot, error)
	ListAccountsByBridge(ctx context.Context, bridgeID string) ([]*model.AccountSnapshot, error)
	CountAccountsByBridge(ctx context.Context, bridgeID string) (int, error)
	// LastSyncByBridge 桥接下最近一次同步时间，没有记录时返回零值
	LastSyncByBridge(ctx context.Context, bridgeID string) (time.Time, error)
}

// DealStore 成交记录存储
type DealStore interface {
	// InsertDeals 不存在才写入，返回新增条数
	InsertDeals(ctx context.Context, deals []*model.Deal) (int, error)
	// LatestDealTime 账号最新成交时间，没有成交时返回零值
	LatestDealTime(ctx context.Context, account int64) (time.Time, error)
	// ListDeals 按时间升序返回 since 之后（含）的成交
	ListDeals(ctx context.Context, account int64, since time.Time) ([]*model.Deal, error)
}

// AlertQuery 告警历史查询条件
type AlertQuery struct {
	Since    time.Time
	BridgeID string
}

// AlertStore 告警日志存储，只追加
type AlertStore interface {
	AppendAlert(ctx context.Context, alert *model.Alert) error
	// ListAlerts 按时间倒序返回
	ListAlerts(ctx context.Context, query AlertQuery) ([]*model.Alert, error)
	AcknowledgeAlert(ctx context.Context, id string) error
	PruneAlerts(ctx context.Context, before time.Time) (int64, error)
}

// Storage 同步存储，可以有多种实现（MongoDB、Redis）
type Storage interface {
	// 基础操作
	Initialize(ctx context.Context) error
	Close(ctx context.Context) error
	Health(ctx context.Context) error

	AccountStore
	DealStore
	AlertStore
}
