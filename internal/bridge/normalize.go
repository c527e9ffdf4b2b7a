package bridge

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/life2you_mini/bridgesync/internal/model"
	"github.com/life2you_mini/bridgesync/internal/terminal"
)

// SchemaMismatchError 终端记录不符合规范结构，只拒绝该条记录
type SchemaMismatchError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("字段 %s 不符合规范(%v): %s", e.Field, e.Value, e.Reason)
}

func mismatch(field string, value interface{}, reason string) error {
	return &SchemaMismatchError{Field: field, Value: value, Reason: reason}
}

// identity 桥接写入账户时携带的身份字段
type identity struct {
	BridgeID string
	Broker   string
	Platform string
	Server   string
}

// normalizeAccount 校验并转换账户记录
func normalizeAccount(raw terminal.RawRecord, login int64, id identity, syncedAt time.Time) (*model.AccountSnapshot, error) {
	if raw == nil {
		return nil, mismatch("account", nil, "空记录")
	}

	if v, ok := raw["login"]; ok && v != nil {
		got, ok := toInt64(v)
		if !ok {
			return nil, mismatch("login", v, "不是整数")
		}
		if got != login {
			return nil, mismatch("login", v, fmt.Sprintf("与请求账号 %d 不一致", login))
		}
	}

	balance, err := requiredFloat(raw, "balance")
	if err != nil {
		return nil, err
	}
	equity, err := requiredFloat(raw, "equity")
	if err != nil {
		return nil, err
	}
	margin, err := optionalFloat(raw, "margin")
	if err != nil {
		return nil, err
	}
	freeMargin, err := optionalFloat(raw, "free_margin", "margin_free")
	if err != nil {
		return nil, err
	}

	positions := 0
	for _, key := range []string{"positions_count", "positions"} {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		n, ok := toInt64(v)
		if !ok || n < 0 {
			return nil, mismatch(key, v, "不是非负整数")
		}
		positions = int(n)
		break
	}

	currency, err := optionalString(raw, "currency")
	if err != nil {
		return nil, err
	}

	snap := &model.AccountSnapshot{
		Account:           login,
		BridgeID:          id.BridgeID,
		Broker:            id.Broker,
		Platform:          id.Platform,
		Server:            id.Server,
		Currency:          currency,
		Balance:           deref(balance),
		Equity:            deref(equity),
		Margin:            deref(margin),
		FreeMargin:        deref(freeMargin),
		PositionsCount:    positions,
		LastSyncTimestamp: syncedAt.UTC(),
	}
	if freeMargin == nil {
		snap.FreeMargin = snap.Equity - snap.Margin
	}
	return snap, nil
}

// normalizeDeal 校验并转换成交记录
func normalizeDeal(raw terminal.RawRecord, account int64, syncedAt time.Time) (*model.Deal, error) {
	if raw == nil {
		return nil, mismatch("deal", nil, "空记录")
	}

	ticketRaw, ok := raw["ticket"]
	if !ok || ticketRaw == nil {
		return nil, mismatch("ticket", nil, "缺失")
	}
	ticket, ok := toInt64(ticketRaw)
	if !ok || ticket <= 0 {
		return nil, mismatch("ticket", ticketRaw, "不是正整数")
	}

	d := &model.Deal{
		Ticket:   ticket,
		Account:  account,
		SyncedAt: syncedAt.UTC(),
	}

	if v, ok := raw["time_msc"]; ok && v != nil {
		msc, ok := toInt64(v)
		if !ok || msc < 0 {
			return nil, mismatch("time_msc", v, "不是毫秒时间戳")
		}
		d.TimeMsc = &msc
	}

	switch v := raw["time"].(type) {
	case nil:
		if d.TimeMsc == nil {
			return nil, mismatch("time", nil, "缺失")
		}
		d.Time = time.UnixMilli(*d.TimeMsc).UTC()
	case string:
		if n, ok := toInt64(v); ok {
			d.Time = time.Unix(n, 0).UTC()
			break
		}
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, mismatch("time", v, "无法解析时间")
		}
		d.Time = t.UTC()
	default:
		n, ok := toInt64(v)
		if !ok || n < 0 {
			return nil, mismatch("time", v, "不是秒级时间戳")
		}
		d.Time = time.Unix(n, 0).UTC()
		if d.TimeMsc != nil {
			d.Time = time.UnixMilli(*d.TimeMsc).UTC()
		}
	}

	typeRaw, ok := raw["type"]
	if !ok || typeRaw == nil {
		return nil, mismatch("type", nil, "缺失")
	}
	typ, ok := toInt64(typeRaw)
	if !ok || !model.DealType(typ).Valid() {
		return nil, mismatch("type", typeRaw, "未知成交类型")
	}
	d.Type = model.DealType(typ)

	if v, ok := raw["entry"]; ok && v != nil {
		entry, ok := toInt64(v)
		if !ok || entry < 0 || entry > 3 {
			return nil, mismatch("entry", v, "未知开平方向")
		}
		// 反手(2)与对冲平仓(3)按平仓处理
		if entry > 0 {
			d.Entry = model.EntryOut
		}
	}

	var err error
	if d.Symbol, err = optionalString(raw, "symbol"); err != nil {
		return nil, err
	}
	if d.Type != model.DealTypeBalance && d.Symbol == "" {
		return nil, mismatch("symbol", nil, "交易类成交缺少品种")
	}

	volume, err := optionalFloat(raw, "volume")
	if err != nil {
		return nil, err
	}
	price, err := optionalFloat(raw, "price")
	if err != nil {
		return nil, err
	}
	profit, err := optionalFloat(raw, "profit")
	if err != nil {
		return nil, err
	}
	d.Volume, d.Price, d.Profit = deref(volume), deref(price), deref(profit)

	if d.Commission, err = optionalFloat(raw, "commission"); err != nil {
		return nil, err
	}
	if d.Swap, err = optionalFloat(raw, "swap"); err != nil {
		return nil, err
	}
	if d.Fee, err = optionalFloat(raw, "fee"); err != nil {
		return nil, err
	}

	if v, ok := raw["position_id"]; ok && v != nil {
		pid, ok := toInt64(v)
		if !ok {
			return nil, mismatch("position_id", v, "不是整数")
		}
		d.PositionID = &pid
	}

	return d, nil
}

func requiredFloat(raw terminal.RawRecord, key string) (*float64, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil, mismatch(key, nil, "缺失")
	}
	f, ok := toFloat(v)
	if !ok {
		return nil, mismatch(key, v, "不是数值")
	}
	return &f, nil
}

// optionalFloat 依次查找候选字段，全部缺失时返回 nil
func optionalFloat(raw terminal.RawRecord, keys ...string) (*float64, error) {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		f, ok := toFloat(v)
		if !ok {
			return nil, mismatch(key, v, "不是数值")
		}
		return &f, nil
	}
	return nil, nil
}

func optionalString(raw terminal.RawRecord, key string) (string, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", mismatch(key, v, "不是字符串")
	}
	return strings.TrimSpace(s), nil
}

func toFloat(v interface{}) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int32:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toInt64(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		if t != math.Trunc(t) || math.Abs(t) > 1<<53 {
			return 0, false
		}
		return int64(t), true
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// deref 解引用，nil 为0
func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
