package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/life2you_mini/bridgesync/internal/model"
	"github.com/life2you_mini/bridgesync/internal/storage"
)

// MockAlertStore 告警存储的模拟实现
type MockAlertStore struct {
	mock.Mock
}

// AppendAlert 追加告警的模拟实现
func (m *MockAlertStore) AppendAlert(ctx context.Context, alert *model.Alert) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

// ListAlerts 查询告警的模拟实现
func (m *MockAlertStore) ListAlerts(ctx context.Context, query storage.AlertQuery) ([]*model.Alert, error) {
	args := m.Called(ctx, query)
	if alerts := args.Get(0); alerts != nil {
		return alerts.([]*model.Alert), args.Error(1)
	}
	return nil, args.Error(1)
}

// AcknowledgeAlert 确认告警的模拟实现
func (m *MockAlertStore) AcknowledgeAlert(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// PruneAlerts 清理告警的模拟实现
func (m *MockAlertStore) PruneAlerts(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}
