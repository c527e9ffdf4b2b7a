// Package metadata 外部维护的元数据只读访问：基金经理目录与基金投资义务
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/life2you_mini/bridgesync/internal/config"
	"github.com/life2you_mini/bridgesync/internal/model"
)

// 数据库驱动
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ErrSSOTViolation 基金经理目录中存在账户列表
var ErrSSOTViolation = errors.New("基金经理目录包含账户列表，账户归属只能来自 accounts")

// Store 元数据存储
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open 打开元数据库
func Open(cfg config.MetadataConfig, log *zap.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case DriverSQLite:
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("不支持的元数据库驱动: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("连接元数据库失败: %w", err)
	}

	return &Store{
		db:     db,
		logger: log.With(zap.String("component", "metadata")),
	}, nil
}

// Migrate 建表，只用于本地开发与测试
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&ManagerProfile{}, &FundObligation{})
}

// Ping 检查连接
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateManager 写入基金经理，用于本地开发数据准备
func (s *Store) CreateManager(ctx context.Context, m *ManagerProfile) error {
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("写入基金经理 %s 失败: %w", m.Name, err)
	}
	return nil
}

// SaveObligation 写入或更新基金投资义务
func (s *Store) SaveObligation(ctx context.Context, fundType string, amount decimal.Decimal) error {
	row := FundObligation{FundType: fundType, ClientObligation: amount}
	err := s.db.WithContext(ctx).
		Where(FundObligation{FundType: fundType}).
		Assign(FundObligation{ClientObligation: amount}).
		FirstOrCreate(&row).Error
	if err != nil {
		return fmt.Errorf("写入基金 %s 投资义务失败: %w", fundType, err)
	}
	return nil
}

// Managers 基金经理展示信息，按名称索引
func (s *Store) Managers(ctx context.Context) (map[string]model.ManagerProfile, error) {
	var rows []ManagerProfile
	if err := s.db.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询基金经理失败: %w", err)
	}

	out := make(map[string]model.ManagerProfile, len(rows))
	for _, r := range rows {
		out[r.Name] = model.ManagerProfile{
			Name:       r.Name,
			ProfileURL: r.ProfileURL,
			FeeRate:    r.FeeRate.InexactFloat64(),
		}
	}
	return out, nil
}

// ClientObligations 各基金的客户投资义务，按 fund_type 索引
func (s *Store) ClientObligations(ctx context.Context) (map[string]decimal.Decimal, error) {
	var rows []FundObligation
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询投资义务失败: %w", err)
	}

	out := make(map[string]decimal.Decimal, len(rows))
	for _, r := range rows {
		out[r.FundType] = r.ClientObligation
	}
	return out, nil
}

// VerifySSOT 检查基金经理目录不含账户列表
func (s *Store) VerifySSOT(ctx context.Context) error {
	var rows []ManagerProfile
	if err := s.db.WithContext(ctx).Select("name", "accounts").Find(&rows).Error; err != nil {
		return fmt.Errorf("查询基金经理失败: %w", err)
	}

	var offenders []string
	for _, r := range rows {
		if hasAccounts(r.Accounts) {
			offenders = append(offenders, r.Name)
		}
	}
	if len(offenders) == 0 {
		return nil
	}

	sort.Strings(offenders)
	s.logger.Error("基金经理目录违反单一数据源约束", zap.Strings("managers", offenders))
	return fmt.Errorf("%w: %s", ErrSSOTViolation, strings.Join(offenders, ", "))
}

// hasAccounts 列为空、null 或空数组时视为没有账户
func hasAccounts(raw []byte) bool {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return false
	}
	var list []interface{}
	if err := json.Unmarshal([]byte(trimmed), &list); err != nil {
		// 非数组内容同样视为违规
		return true
	}
	return len(list) > 0
}
