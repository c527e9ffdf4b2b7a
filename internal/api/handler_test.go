package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/life2you_mini/bridgesync/internal/alerts"
	"github.com/life2you_mini/bridgesync/internal/mocks"
	"github.com/life2you_mini/bridgesync/internal/model"
	"github.com/life2you_mini/bridgesync/internal/monitor"
	"github.com/life2you_mini/bridgesync/internal/recovery"
	"github.com/life2you_mini/bridgesync/internal/storage"
	"github.com/life2you_mini/bridgesync/internal/views"
)

type testEnv struct {
	router  *gin.Engine
	client  *redis.Client
	store   *storage.RedisStorage
	mr      *miniredis.Miniredis
	monitor *monitor.HealthMonitor
	sink    *alerts.Sink
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := storage.NewRedisStorage(client, "test:", time.Second, logger)

	bridges := []model.BridgeInfo{
		{ID: "mex", Broker: "MEX Atlantic", Platform: "MT5", Server: "MEXAtlantic-Real", ExpectedAccounts: 2},
		{ID: "lucrum", Broker: "Lucrum", Platform: "MT5", Server: "Lucrum-Live", ExpectedAccounts: 1},
	}
	sink := alerts.NewSink(store, logger)
	mon := monitor.NewHealthMonitor(bridges, store, sink, logger, 5*time.Minute)
	orch := recovery.NewOrchestrator([]string{"mex", "lucrum"}, recovery.NewNoopRestarter(logger), new(mocks.MockRechecker), recovery.Options{}, logger)

	engine := views.NewEngine(store, store, mon, logger)

	h := &Handler{
		Store:    store,
		Monitor:  mon,
		Alerts:   sink,
		Recovery: orch,
		Views:    engine,
		Logger:   logger,
	}
	r := gin.New()
	h.Register(r)

	return &testEnv{router: r, client: client, store: store, mr: mr, monitor: mon, sink: sink}
}

func (e *testEnv) seedAccount(t *testing.T, n int64, bridgeID string, balance float64, syncedAt time.Time) {
	t.Helper()
	require.NoError(t, e.store.UpsertAccount(context.Background(), &model.AccountSnapshot{
		Account:           n,
		BridgeID:          bridgeID,
		Broker:            "MEX Atlantic",
		Platform:          "MT5",
		Balance:           balance,
		Equity:            balance,
		LastSyncTimestamp: syncedAt,
	}))
}

func (e *testEnv) do(t *testing.T, method, path string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return w.Code, body
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	env.seedAccount(t, 1001, "mex", 10000, now)
	env.seedAccount(t, 1002, "mex", 5000, now)

	code, body := env.do(t, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["total_accounts"])
	assert.EqualValues(t, 3, body["expected_total"])
	assert.Equal(t, false, body["healthy"])
	assert.Equal(t, "ok", body["store"])

	bridges := body["bridges"].(map[string]interface{})
	mex := bridges["mex"].(map[string]interface{})
	assert.Equal(t, "healthy", mex["status"])
	assert.Equal(t, true, mex["healthy"])
	assert.EqualValues(t, 2, mex["accounts"])
	assert.Equal(t, "MEX Atlantic", mex["broker"])
	assert.NotNil(t, mex["last_sync"])

	lucrum := bridges["lucrum"].(map[string]interface{})
	assert.Equal(t, "no_accounts", lucrum["status"])
	assert.Nil(t, lucrum["last_sync"])
	recoveryState := lucrum["recovery"].(map[string]interface{})
	assert.Equal(t, "idle", recoveryState["state"])

	// 未运行监控时 /health 不写告警
	history, err := env.sink.History(context.Background(), 1, "")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestAccountsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	env.seedAccount(t, 1001, "mex", 10000, now)
	env.seedAccount(t, 2001, "lucrum", 3000, now)

	code, body := env.do(t, http.MethodGet, "/accounts")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["total_accounts"])
	assert.Equal(t, map[string]interface{}{"mex": float64(1), "lucrum": float64(1)}, body["by_bridge"])

	rows := body["accounts"].([]interface{})
	first := rows[0].(map[string]interface{})
	assert.Contains(t, first, "last_sync")
	assert.Contains(t, first, "positions_count")
	assert.NotContains(t, first, "fund_type")
}

func TestDealsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	_, err := env.store.InsertDeals(context.Background(), []*model.Deal{
		{Ticket: 1, Account: 1001, Time: at, Type: model.DealTypeBalance, Profit: 10000},
		{Ticket: 2, Account: 1001, Time: at.Add(time.Hour), Type: model.DealTypeBuy, Symbol: "EURUSD", Volume: 1, PositionID: model.Int64(77)},
	})
	require.NoError(t, err)

	code, body := env.do(t, http.MethodGet, "/accounts/1001/deals?since=2024-03-01T10:30:00Z")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1001, body["accountNumber"])
	deals := body["deals"].([]interface{})
	require.Len(t, deals, 1)
	deal := deals[0].(map[string]interface{})
	assert.EqualValues(t, 77, deal["positionId"])
	assert.NotContains(t, deal, "position_id")
	assert.NotContains(t, deal, "timeMsc")

	code, _ = env.do(t, http.MethodGet, "/accounts/abc/deals")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = env.do(t, http.MethodGet, "/accounts/1001/deals?since=yesterday")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestDealsEndpointKeepsLargeTickets(t *testing.T) {
	env := newTestEnv(t)
	const ticket int64 = 7946432906538263431
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	_, err := env.store.InsertDeals(context.Background(), []*model.Deal{
		{Ticket: ticket, Account: 7001, Time: at, Type: model.DealTypeSell, Entry: model.EntryOut, Symbol: "BTC/USDT", Volume: 0.1},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/accounts/7001/deals", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ticket":7946432906538263431`)

	var body struct {
		Deals []struct {
			Ticket int64 `json:"ticket"`
		} `json:"deals"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Deals, 1)
	assert.Equal(t, ticket, body.Deals[0].Ticket)
}

func TestAlertsEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, 1001, "mex", 10000, time.Now())
	env.monitor.CheckAll(context.Background())

	code, body := env.do(t, http.MethodGet, "/alerts")
	require.Equal(t, http.StatusOK, code)
	// mex 账户不足，lucrum 无账户
	assert.EqualValues(t, 2, body["count"])

	code, body = env.do(t, http.MethodGet, "/alerts/history?hours=1&bridge_id=lucrum")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["count"])
	history := body["alerts"].([]interface{})
	alert := history[0].(map[string]interface{})
	assert.Equal(t, "critical", alert["severity"])
	assert.Equal(t, false, alert["acknowledged"])

	id := alert["id"].(string)
	code, body = env.do(t, http.MethodPost, "/alerts/history/"+id+"/ack")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["acknowledged"])

	_, body = env.do(t, http.MethodGet, "/alerts/history?hours=1&bridge_id=lucrum")
	alert = body["alerts"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, true, alert["acknowledged"])

	code, _ = env.do(t, http.MethodPost, "/alerts/history/missing/ack")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = env.do(t, http.MethodGet, "/alerts/history?hours=-3")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMonitoringEndpoints(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodGet, "/monitoring/status")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["service_running"])
	assert.EqualValues(t, 60, body["check_interval_seconds"])
	assert.EqualValues(t, 5, body["alert_threshold_minutes"])
	assert.EqualValues(t, 2, body["bridges_monitored"])
	assert.Equal(t, []interface{}{"mex", "lucrum"}, body["bridge_list"])
	assert.Len(t, body["recovery"], 2)

	code, body = env.do(t, http.MethodPost, "/monitoring/recovery/mex/reset")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "idle", body["state"])

	code, _ = env.do(t, http.MethodPost, "/monitoring/recovery/unknown/reset")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestViewEndpointsUseExternalNames(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, 1001, "mex", 9500, time.Now())
	env.mr.HSet("test:accounts:1001", "fund_type", "growth", "manager_name", "alice", "initial_allocation", "10000")
	_, err := env.store.InsertDeals(context.Background(), []*model.Deal{
		{Ticket: 1, Account: 1001, Time: time.Now().Add(-time.Hour), Type: model.DealTypeBalance, Profit: -2000},
	})
	require.NoError(t, err)
	env.monitor.CheckAll(context.Background())

	code, body := env.do(t, http.MethodGet, "/views/cash-flow")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["stale"])
	assert.ElementsMatch(t, []interface{}{"mex", "lucrum"}, body["staleBridges"])
	row := body["accounts"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "1500", row["truePnl"])
	assert.Equal(t, "-2000", row["netWithdrawals"])
	assert.EqualValues(t, 1001, row["accountNumber"])

	code, body = env.do(t, http.MethodGet, "/views/fund-portfolio")
	require.Equal(t, http.StatusOK, code)
	fund := body["funds"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "growth", fund["fundType"])
	assert.Equal(t, "9500", fund["totalEquity"])

	for _, path := range []string{"/views/money-managers", "/views/trading-analytics"} {
		code, body = env.do(t, http.MethodGet, path)
		assert.Equal(t, http.StatusOK, code, path)
		assert.Contains(t, body, "generatedAt", path)
	}
}

func TestViewUnavailableWhenStoreDown(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.client.Close())

	code, body := env.do(t, http.MethodGet, "/views/fund-portfolio")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "view unavailable", body["message"])

	code, body = env.do(t, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "unavailable", body["store"])
}
