package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/life2you_mini/bridgesync/internal/terminal"
)

// MockTerminal 终端接口的模拟实现
type MockTerminal struct {
	mock.Mock
}

// Name 终端名称的模拟实现
func (m *MockTerminal) Name() string {
	args := m.Called()
	return args.String(0)
}

// FetchAccount 获取账户状态的模拟实现
func (m *MockTerminal) FetchAccount(ctx context.Context, login int64) (terminal.RawRecord, error) {
	args := m.Called(ctx, login)
	if rec := args.Get(0); rec != nil {
		return rec.(terminal.RawRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

// FetchDeals 获取成交的模拟实现
func (m *MockTerminal) FetchDeals(ctx context.Context, login int64, since time.Time) ([]terminal.RawRecord, error) {
	args := m.Called(ctx, login, since)
	if recs := args.Get(0); recs != nil {
		return recs.([]terminal.RawRecord), args.Error(1)
	}
	return nil, args.Error(1)
}
