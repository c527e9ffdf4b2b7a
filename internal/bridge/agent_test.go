package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/life2you_mini/bridgesync/internal/config"
	"github.com/life2you_mini/bridgesync/internal/mocks"
	"github.com/life2you_mini/bridgesync/internal/storage"
	"github.com/life2you_mini/bridgesync/internal/terminal"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *storage.RedisStorage {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := storage.NewRedisStorage(client, "", time.Second, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func testBridgeConfig(accounts ...int64) config.BridgeConfig {
	cfg := config.BridgeConfig{
		ID:             "mex",
		Broker:         "MEXAtlantic",
		Platform:       "MT5",
		Server:         "MEXAtlantic-Real",
		PollInterval:   time.Hour,
		AccountTimeout: time.Second,
		HistoryDays:    30,
		Retry:          config.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}
	for _, a := range accounts {
		cfg.Accounts = append(cfg.Accounts, config.AccountConfig{Number: a})
	}
	return cfg
}

func newTestAgent(t *testing.T, cfg config.BridgeConfig, term terminal.Terminal, store Store) (*Agent, *[]time.Duration) {
	t.Helper()
	agent := NewAgent(cfg, term, store, zaptest.NewLogger(t))
	agent.now = func() time.Time { return fixedNow }
	var delays []time.Duration
	agent.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return agent, &delays
}

func accountRecord(login int64, balance float64) terminal.RawRecord {
	return terminal.RawRecord{"login": login, "balance": balance, "equity": balance, "currency": "USD"}
}

func TestAgentCycleIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	term := new(mocks.MockTerminal)
	term.On("Name").Return("mt5").Maybe()
	term.On("FetchAccount", mock.Anything, int64(1001)).Return(accountRecord(1001, 10000), nil)
	term.On("FetchAccount", mock.Anything, int64(1002)).Return(accountRecord(1002, 5000), nil)
	term.On("FetchDeals", mock.Anything, int64(1001), mock.Anything).Return([]terminal.RawRecord{
		{"ticket": 1, "time": fixedNow.Add(-2 * time.Hour).Unix(), "type": 2, "profit": 10000},
		{"ticket": 2, "time": fixedNow.Add(-time.Hour).Unix(), "type": 0, "symbol": "EURUSD", "volume": 1},
	}, nil)
	term.On("FetchDeals", mock.Anything, int64(1002), mock.Anything).Return([]terminal.RawRecord{}, nil)

	agent, _ := newTestAgent(t, testBridgeConfig(1001, 1002), term, store)
	ctx := context.Background()

	first := agent.RunCycle(ctx)
	assert.Equal(t, 2, first.Synced)
	assert.Equal(t, 0, first.Failed)
	assert.Equal(t, 2, first.Accounts[0].DealsInserted)

	// 重放同一批数据
	second := agent.RunCycle(ctx)
	assert.Equal(t, 2, second.Synced)
	assert.Equal(t, 0, second.Accounts[0].DealsInserted)

	accounts, err := store.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, 10000.0, accounts[0].Balance)
	assert.Equal(t, "mex", accounts[0].BridgeID)
	assert.True(t, fixedNow.Equal(accounts[0].LastSyncTimestamp))

	deals, err := store.ListDeals(ctx, 1001, time.Time{})
	require.NoError(t, err)
	assert.Len(t, deals, 2)

	require.NotNil(t, agent.LastCycle())
	assert.Equal(t, second.Synced, agent.LastCycle().Synced)
}

func TestAgentUsesDealCheckpoint(t *testing.T) {
	store := newTestStore(t)
	lastDeal := fixedNow.Add(-time.Hour).Truncate(time.Second)

	term := new(mocks.MockTerminal)
	term.On("FetchAccount", mock.Anything, int64(1001)).Return(accountRecord(1001, 1), nil)
	// 首次同步从历史窗口开始
	term.On("FetchDeals", mock.Anything, int64(1001), fixedNow.AddDate(0, 0, -30)).Return([]terminal.RawRecord{
		{"ticket": 1, "time": lastDeal.Unix(), "type": 2, "profit": 100},
	}, nil).Once()
	// 之后从最新成交时间开始
	term.On("FetchDeals", mock.Anything, int64(1001), lastDeal).Return([]terminal.RawRecord{}, nil).Once()

	agent, _ := newTestAgent(t, testBridgeConfig(1001), term, store)
	agent.RunCycle(context.Background())
	agent.RunCycle(context.Background())

	term.AssertExpectations(t)
}

func TestAgentIsolatesAccountFailures(t *testing.T) {
	store := newTestStore(t)
	term := new(mocks.MockTerminal)
	term.On("FetchAccount", mock.Anything, int64(1001)).Return(nil, errors.New("account disabled"))
	term.On("FetchAccount", mock.Anything, int64(1002)).Return(accountRecord(1002, 5000), nil)
	term.On("FetchDeals", mock.Anything, int64(1002), mock.Anything).Return([]terminal.RawRecord{}, nil)

	agent, delays := newTestAgent(t, testBridgeConfig(1001, 1002), term, store)
	result := agent.RunCycle(context.Background())

	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 1, result.Failed)
	assert.Error(t, result.Accounts[0].Err)
	assert.NoError(t, result.Accounts[1].Err)
	// 非临时错误不重试
	assert.Empty(t, *delays)
	term.AssertNumberOfCalls(t, "FetchAccount", 2)

	_, err := store.GetAccount(context.Background(), 1001)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	acc, err := store.GetAccount(context.Background(), 1002)
	require.NoError(t, err)
	assert.Equal(t, 5000.0, acc.Balance)
}

func TestAgentRetriesTransientErrors(t *testing.T) {
	store := newTestStore(t)
	term := new(mocks.MockTerminal)
	transient := terminal.Transient("获取账户", errors.New("connection reset"))
	term.On("FetchAccount", mock.Anything, int64(1001)).Return(nil, transient).Twice()
	term.On("FetchAccount", mock.Anything, int64(1001)).Return(accountRecord(1001, 1), nil).Once()
	term.On("FetchDeals", mock.Anything, int64(1001), mock.Anything).Return([]terminal.RawRecord{}, nil)

	agent, delays := newTestAgent(t, testBridgeConfig(1001), term, store)
	result := agent.RunCycle(context.Background())

	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, *delays)
}

func TestAgentGivesUpAfterMaxAttempts(t *testing.T) {
	store := newTestStore(t)
	term := new(mocks.MockTerminal)
	term.On("FetchAccount", mock.Anything, int64(1001)).Return(nil, terminal.Transient("获取账户", errors.New("timeout")))

	agent, _ := newTestAgent(t, testBridgeConfig(1001), term, store)
	result := agent.RunCycle(context.Background())

	assert.Equal(t, 1, result.Failed)
	assert.True(t, terminal.IsTransient(result.Accounts[0].Err))
	term.AssertNumberOfCalls(t, "FetchAccount", 3)
}

func TestAgentRejectsOnlyMalformedDeals(t *testing.T) {
	store := newTestStore(t)
	term := new(mocks.MockTerminal)
	term.On("FetchAccount", mock.Anything, int64(1001)).Return(accountRecord(1001, 1), nil)
	term.On("FetchDeals", mock.Anything, int64(1001), mock.Anything).Return([]terminal.RawRecord{
		{"ticket": 1, "time": fixedNow.Unix(), "type": 2, "profit": 100},
		{"ticket": "bogus", "time": fixedNow.Unix(), "type": 2},
		{"ticket": 3, "time": fixedNow.Unix(), "type": 99},
	}, nil)

	agent, _ := newTestAgent(t, testBridgeConfig(1001), term, store)
	result := agent.RunCycle(context.Background())

	require.Len(t, result.Accounts, 1)
	r := result.Accounts[0]
	assert.NoError(t, r.Err)
	assert.Equal(t, 3, r.DealsFetched)
	assert.Equal(t, 1, r.DealsInserted)
	assert.Equal(t, 2, r.DealsRejected)
}

func TestAgentDealFailureStillUpdatesAccount(t *testing.T) {
	store := newTestStore(t)
	term := new(mocks.MockTerminal)
	term.On("FetchAccount", mock.Anything, int64(1001)).Return(accountRecord(1001, 42), nil)
	term.On("FetchDeals", mock.Anything, int64(1001), mock.Anything).Return(nil, errors.New("history unavailable"))

	agent, _ := newTestAgent(t, testBridgeConfig(1001), term, store)
	result := agent.RunCycle(context.Background())

	assert.Equal(t, 1, result.Synced)
	assert.Error(t, result.Accounts[0].DealErr)

	acc, err := store.GetAccount(context.Background(), 1001)
	require.NoError(t, err)
	assert.Equal(t, 42.0, acc.Balance)
}

func TestAgentRecoversFromPanic(t *testing.T) {
	store := newTestStore(t)
	term := new(mocks.MockTerminal)
	term.On("FetchAccount", mock.Anything, int64(1001)).Run(func(args mock.Arguments) {
		panic("terminal driver crashed")
	}).Return(nil, nil)
	term.On("FetchAccount", mock.Anything, int64(1002)).Return(accountRecord(1002, 1), nil)
	term.On("FetchDeals", mock.Anything, int64(1002), mock.Anything).Return([]terminal.RawRecord{}, nil)

	agent, _ := newTestAgent(t, testBridgeConfig(1001, 1002), term, store)
	result := agent.RunCycle(context.Background())

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Synced)
	assert.Contains(t, result.Accounts[0].Err.Error(), "panic")
}

func TestAgentRunStopsOnCancel(t *testing.T) {
	store := newTestStore(t)
	term := new(mocks.MockTerminal)
	term.On("Name").Return("mt5")
	term.On("FetchAccount", mock.Anything, int64(1001)).Return(accountRecord(1001, 1), nil)
	term.On("FetchDeals", mock.Anything, int64(1001), mock.Anything).Return([]terminal.RawRecord{}, nil)

	agent, _ := newTestAgent(t, testBridgeConfig(1001), term, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agent.Run(ctx) }()

	require.Eventually(t, func() bool { return agent.LastCycle() != nil }, time.Second, 5*time.Millisecond)
	assert.True(t, agent.IsRunning())
	assert.Error(t, agent.Run(ctx), "重复启动应报错")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("代理未在取消后退出")
	}
	assert.False(t, agent.IsRunning())
}

func TestAgentCycleBoundedByDrainTimeout(t *testing.T) {
	store := newTestStore(t)
	term := new(mocks.MockTerminal)
	term.On("Name").Return("mt5").Maybe()
	term.On("FetchAccount", mock.Anything, int64(1001)).
		Run(func(args mock.Arguments) { <-args.Get(0).(context.Context).Done() }).
		Return(nil, context.Canceled)

	cfg := testBridgeConfig(1001, 1002)
	cfg.AccountTimeout = time.Minute
	agent, _ := newTestAgent(t, cfg, term, store)
	agent.SetDrainTimeout(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan CycleResult, 1)
	go func() { done <- agent.RunCycle(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case result := <-done:
		assert.Equal(t, 1, result.Failed)
		assert.Equal(t, 1, result.Skipped)
		assert.Equal(t, 0, result.Synced)
	case <-time.After(5 * time.Second):
		t.Fatal("停止后同步周期未在期限内结束")
	}
	term.AssertNotCalled(t, "FetchAccount", mock.Anything, int64(1002))
}

func TestAgentCycleFinishesWithoutDrainTimeout(t *testing.T) {
	store := newTestStore(t)
	term := new(mocks.MockTerminal)
	term.On("Name").Return("mt5").Maybe()
	term.On("FetchAccount", mock.Anything, mock.Anything).Return(accountRecord(1001, 1), nil)
	term.On("FetchDeals", mock.Anything, mock.Anything, mock.Anything).Return([]terminal.RawRecord{}, nil)

	agent, _ := newTestAgent(t, testBridgeConfig(1001), term, store)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := agent.RunCycle(ctx)
	assert.Equal(t, 1, result.Synced)
	assert.Zero(t, result.Skipped)
}
