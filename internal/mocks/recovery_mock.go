package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/life2you_mini/bridgesync/internal/model"
)

// MockRestarter 重启器的模拟实现
type MockRestarter struct {
	mock.Mock
}

// Restart 重启桥接的模拟实现
func (m *MockRestarter) Restart(ctx context.Context, bridgeID, idempotencyKey string) error {
	args := m.Called(ctx, bridgeID, idempotencyKey)
	return args.Error(0)
}

// MockRechecker 健康重检的模拟实现
type MockRechecker struct {
	mock.Mock
}

// Recheck 重新评估桥接的模拟实现
func (m *MockRechecker) Recheck(ctx context.Context, bridgeID string) (model.BridgeStatus, error) {
	args := m.Called(ctx, bridgeID)
	return args.Get(0).(model.BridgeStatus), args.Error(1)
}
