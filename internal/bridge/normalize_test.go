package bridge

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/life2you_mini/bridgesync/internal/model"
	"github.com/life2you_mini/bridgesync/internal/terminal"
)

var testIdentity = identity{BridgeID: "mex", Broker: "MEXAtlantic", Platform: "MT5", Server: "MEXAtlantic-Real"}

func TestNormalizeAccount(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	snap, err := normalizeAccount(terminal.RawRecord{
		"login":       json.Number("1001"),
		"balance":     json.Number("10000.50"),
		"equity":      10100.0,
		"margin":      "250",
		"margin_free": 9850,
		"currency":    "USD",
		"positions":   3,
	}, 1001, testIdentity, now)
	require.NoError(t, err)

	assert.Equal(t, int64(1001), snap.Account)
	assert.Equal(t, "mex", snap.BridgeID)
	assert.Equal(t, 10000.50, snap.Balance)
	assert.Equal(t, 250.0, snap.Margin)
	assert.Equal(t, 9850.0, snap.FreeMargin)
	assert.Equal(t, 3, snap.PositionsCount)
	assert.Equal(t, now, snap.LastSyncTimestamp)
	assert.Empty(t, snap.FundType)
}

func TestNormalizeAccountDerivesFreeMargin(t *testing.T) {
	snap, err := normalizeAccount(terminal.RawRecord{"balance": 100, "equity": 120, "margin": 20}, 7, testIdentity, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 100.0, snap.FreeMargin)
}

func TestNormalizeAccountMismatch(t *testing.T) {
	tests := []struct {
		name  string
		raw   terminal.RawRecord
		field string
	}{
		{"空记录", nil, "account"},
		{"缺少余额", terminal.RawRecord{"equity": 1}, "balance"},
		{"余额不是数值", terminal.RawRecord{"balance": "abc", "equity": 1}, "balance"},
		{"账号不一致", terminal.RawRecord{"login": 2002, "balance": 1, "equity": 1}, "login"},
		{"币种类型错误", terminal.RawRecord{"balance": 1, "equity": 1, "currency": 840}, "currency"},
		{"持仓数为负", terminal.RawRecord{"balance": 1, "equity": 1, "positions_count": -1}, "positions_count"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := normalizeAccount(tt.raw, 1001, testIdentity, time.Now())
			var sme *SchemaMismatchError
			require.True(t, errors.As(err, &sme), "应返回 SchemaMismatchError: %v", err)
			assert.Equal(t, tt.field, sme.Field)
		})
	}
}

func TestNormalizeDeal(t *testing.T) {
	synced := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	d, err := normalizeDeal(terminal.RawRecord{
		"ticket":      json.Number("555"),
		"time":        json.Number("1709280000"),
		"time_msc":    json.Number("1709280000123"),
		"type":        json.Number("1"),
		"entry":       json.Number("1"),
		"symbol":      "EURUSD",
		"volume":      0.5,
		"price":       1.0845,
		"profit":      -12.5,
		"commission":  -3.5,
		"position_id": 777,
	}, 1001, synced)
	require.NoError(t, err)

	assert.Equal(t, int64(555), d.Ticket)
	assert.Equal(t, model.DealTypeSell, d.Type)
	assert.Equal(t, model.EntryOut, d.Entry)
	assert.Equal(t, time.UnixMilli(1709280000123).UTC(), d.Time)
	require.NotNil(t, d.Commission)
	assert.Equal(t, -3.5, *d.Commission)
	assert.Nil(t, d.Swap)
	assert.Nil(t, d.Fee)
	require.NotNil(t, d.PositionID)
	assert.Equal(t, int64(777), *d.PositionID)
	assert.Equal(t, synced, d.SyncedAt)
}

func TestNormalizeBalanceDealWithoutSymbol(t *testing.T) {
	d, err := normalizeDeal(terminal.RawRecord{
		"ticket": 1,
		"time":   "2024-03-01T10:00:00Z",
		"type":   2,
		"profit": -2000,
	}, 1001, time.Now())
	require.NoError(t, err)

	assert.Equal(t, model.DealTypeBalance, d.Type)
	assert.Equal(t, -2000.0, d.Profit)
	assert.Nil(t, d.TimeMsc)
	assert.Nil(t, d.PositionID)
	assert.Equal(t, 0.0, d.CommissionOrZero())
}

func TestNormalizeDealTimeFromMsc(t *testing.T) {
	d, err := normalizeDeal(terminal.RawRecord{"ticket": 1, "time_msc": int64(1700000000123), "type": 0, "symbol": "BTC/USDT"}, 1, time.Now())
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1700000000123).UTC(), d.Time)
}

func TestNormalizeDealInOutTreatedAsClose(t *testing.T) {
	d, err := normalizeDeal(terminal.RawRecord{"ticket": 1, "time": 1, "type": 0, "entry": 2, "symbol": "X"}, 1, time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.EntryOut, d.Entry)
}

func TestNormalizeDealMismatch(t *testing.T) {
	base := func() terminal.RawRecord {
		return terminal.RawRecord{"ticket": 1, "time": 1709280000, "type": 0, "symbol": "EURUSD"}
	}

	tests := []struct {
		name   string
		mutate func(r terminal.RawRecord)
		field  string
	}{
		{"缺少票据", func(r terminal.RawRecord) { delete(r, "ticket") }, "ticket"},
		{"票据非正", func(r terminal.RawRecord) { r["ticket"] = -5 }, "ticket"},
		{"票据是小数", func(r terminal.RawRecord) { r["ticket"] = 1.5 }, "ticket"},
		{"缺少时间", func(r terminal.RawRecord) { delete(r, "time") }, "time"},
		{"时间格式错误", func(r terminal.RawRecord) { r["time"] = "yesterday" }, "time"},
		{"未知类型", func(r terminal.RawRecord) { r["type"] = 6 }, "type"},
		{"缺少类型", func(r terminal.RawRecord) { delete(r, "type") }, "type"},
		{"开平方向无效", func(r terminal.RawRecord) { r["entry"] = 9 }, "entry"},
		{"交易缺少品种", func(r terminal.RawRecord) { delete(r, "symbol") }, "symbol"},
		{"佣金类型错误", func(r terminal.RawRecord) { r["commission"] = true }, "commission"},
		{"持仓ID类型错误", func(r terminal.RawRecord) { r["position_id"] = "p-1" }, "position_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := base()
			tt.mutate(raw)
			_, err := normalizeDeal(raw, 1001, time.Now())
			var sme *SchemaMismatchError
			require.True(t, errors.As(err, &sme), "应返回 SchemaMismatchError: %v", err)
			assert.Equal(t, tt.field, sme.Field)
		})
	}
}
